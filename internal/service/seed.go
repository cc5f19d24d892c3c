package service

import (
	"context"
	"fmt"

	"warungpos/backend/internal/codec"
	"warungpos/backend/internal/domain"
	"warungpos/backend/internal/schema"
	"warungpos/backend/internal/store"
)

type seedUser struct {
	username string
	password string
	role     domain.Role
}

var defaultUsers = []seedUser{
	{username: "admin123", password: "admin123", role: domain.RoleAdmin},
	{username: "kasir123", password: "kasir123", role: domain.RoleCashier},
}

var defaultProducts = []struct {
	code, name                         string
	retail, wholesale, cost, stockQty int64
}{
	{"P001", "Kopi Hitam", 5000, 4000, 2000, 100},
	{"P002", "Es Teh Manis", 4000, 3000, 1500, 150},
	{"P003", "Indomie Goreng", 8000, 7000, 4000, 80},
	{"P004", "Nasi Goreng Spesial", 15000, 13000, 8000, 50},
	{"P005", "Air Mineral 600ml", 3000, 2500, 1000, 200},
	{"P006", "Gorengan (Bakwan)", 1000, 800, 400, 300},
	{"P007", "Roti Bakar Coklat", 10000, 8500, 5000, 40},
	{"P008", "Teh Botol Sosro", 5000, 4000, 2500, 120},
}

var defaultSuppliers = []domain.Supplier{
	{Name: "Supplier Sembako Jaya", BankName: "BCA", BankAccountNumber: "1234567890"},
	{Name: "Grosir Minuman Segar", BankName: "Mandiri", BankAccountNumber: "0987654321"},
	{Name: "Pasar Induk Kramat Jati", BankName: "BRI", BankAccountNumber: "1122334455"},
}

var defaultCustomers = []domain.Customer{
	{MemberNo: "C001", Name: "Budi Santoso", Phone: "081234567890", Address: "Jl. Merdeka No. 1"},
	{MemberNo: "C002", Name: "Siti Aminah", Phone: "081345678901", Address: "Jl. Pahlawan No. 10"},
	{MemberNo: "C003", Name: "Agus Wijaya", Phone: "081456789012", Address: "Jl. Sudirman No. 5A"},
	{MemberNo: "C004", Name: "Dewi Lestari", Phone: "081567890123", Address: "Jl. Gatot Subroto No. 22"},
	{MemberNo: "C005", Name: "Eko Prasetyo", Phone: "081678901234", Address: "Jl. Diponegoro No. 8"},
}

var defaultSettings = domain.Settings{
	BusinessName: "Warung Kita",
	Address:      "Jl. Raya Bogor KM 20, Jakarta Timur",
	Theme:        "dark",
	Currency:     "IDR",
}

// SeedIfEmpty installs the default users, catalog, suppliers, customers and
// settings. Every part is checked on its own, so running it again adds
// nothing.
func (s *Service) SeedIfEmpty(ctx context.Context) error {
	for _, u := range defaultUsers {
		existing, err := s.FindUserByUsername(ctx, u.username)
		if err != nil {
			return fmt.Errorf("seed users: %w", err)
		}
		if existing != nil {
			continue
		}
		if _, err := s.createUser(ctx, u.username, u.password, u.role); err != nil {
			return fmt.Errorf("seed user %s: %w", u.username, err)
		}
		s.logger.Infow("seeded user", "username", u.username, "role", u.role)
	}

	now := s.now().UTC()

	products := make([]schema.Record, 0, len(defaultProducts))
	for _, p := range defaultProducts {
		wholesale := p.wholesale
		products = append(products, codec.ProductToRecord(domain.Product{
			Code:           p.code,
			CodeNorm:       schema.NormalizeCode(p.code),
			Name:           p.name,
			RetailPrice:    p.retail,
			WholesalePrice: &wholesale,
			CostPrice:      p.cost,
			StockQty:       p.stockQty,
			CreatedAt:      now,
			UpdatedAt:      now,
		}))
	}
	if err := s.seedCollection(ctx, schema.Products, products); err != nil {
		return err
	}

	suppliers := make([]schema.Record, 0, len(defaultSuppliers))
	for _, sup := range defaultSuppliers {
		sup.CreatedAt, sup.UpdatedAt = now, now
		suppliers = append(suppliers, codec.SupplierToRecord(sup))
	}
	if err := s.seedCollection(ctx, schema.Suppliers, suppliers); err != nil {
		return err
	}

	customers := make([]schema.Record, 0, len(defaultCustomers))
	for _, c := range defaultCustomers {
		c.CreatedAt, c.UpdatedAt = now, now
		customers = append(customers, codec.CustomerToRecord(c))
	}
	if err := s.seedCollection(ctx, schema.Customers, customers); err != nil {
		return err
	}

	_, err := s.store.Get(ctx, schema.Settings, domain.SettingsKey)
	switch {
	case isNotFound(err):
		if _, err := s.store.Insert(ctx, schema.Settings, codec.SettingsToRecord(defaultSettings)); err != nil {
			return fmt.Errorf("seed settings: %w", err)
		}
		s.logger.Infow("seeded settings", "business_name", defaultSettings.BusinessName)
	case err != nil:
		return fmt.Errorf("seed settings: %w", err)
	}
	return nil
}

// seedCollection bulk inserts recs when collection holds no records yet.
func (s *Service) seedCollection(ctx context.Context, collection string, recs []schema.Record) error {
	existing, err := s.store.Find(ctx, collection, store.Query{Limit: 1})
	if err != nil {
		return fmt.Errorf("seed %s: %w", collection, err)
	}
	if len(existing) > 0 {
		return nil
	}
	if _, err := s.store.BulkInsert(ctx, collection, recs); err != nil {
		return fmt.Errorf("seed %s: %w", collection, err)
	}
	s.logger.Infow("seeded collection", "collection", collection, "count", len(recs))
	return nil
}
