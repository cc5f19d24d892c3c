package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"warungpos/backend/internal/codec"
	"warungpos/backend/internal/domain"
	"warungpos/backend/internal/schema"
	"warungpos/backend/internal/store"
)

func requireAdmin(sess domain.Session) error {
	if !sess.IsAdmin() {
		return ErrForbidden
	}
	return nil
}

func containsFold(haystack string, lowerNeedle string) bool {
	return strings.Contains(strings.ToLower(haystack), lowerNeedle)
}

// ListProducts returns products matching filter ordered by id. A nil
// Archived includes both archived and active products.
func (s *Service) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	q := store.Query{}
	if filter.Archived != nil {
		q.Field, q.Value = "archived", *filter.Archived
	}
	term := strings.ToLower(strings.TrimSpace(filter.SearchTerm))
	q.Filter = func(rec schema.Record) bool {
		p := codec.ProductFromRecord(rec)
		if filter.InStockOnly && p.StockQty <= 0 {
			return false
		}
		if term != "" && !containsFold(p.Name, term) && !containsFold(p.Code, term) {
			return false
		}
		return true
	}

	recs, err := s.store.Find(ctx, schema.Products, q)
	if err != nil {
		return nil, err
	}
	products := make([]domain.Product, 0, len(recs))
	for _, rec := range recs {
		products = append(products, codec.ProductFromRecord(rec))
	}
	return products, nil
}

// SaleableProducts is the product list offered at the till: active, in
// stock and matching term.
func (s *Service) SaleableProducts(ctx context.Context, term string) ([]domain.Product, error) {
	archived := false
	return s.ListProducts(ctx, domain.ProductFilter{Archived: &archived, InStockOnly: true, SearchTerm: term})
}

func (s *Service) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	rec, err := s.store.Get(ctx, schema.Products, id)
	if err != nil {
		return domain.Product{}, err
	}
	return codec.ProductFromRecord(rec), nil
}

// FindProductByCode looks a product up by code, ignoring case and
// surrounding spaces.
func (s *Service) FindProductByCode(ctx context.Context, code string) (domain.Product, error) {
	norm := schema.NormalizeCode(code)
	if norm == "" {
		return domain.Product{}, store.ErrInvalidTransaction
	}
	rec, err := s.store.GetBy(ctx, schema.Products, "codeNorm", norm)
	if err != nil {
		return domain.Product{}, err
	}
	return codec.ProductFromRecord(rec), nil
}

func (s *Service) CreateProduct(ctx context.Context, sess domain.Session, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := requireAdmin(sess); err != nil {
		return domain.Product{}, err
	}
	req.Code = strings.TrimSpace(req.Code)
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validateRequest(req); err != nil {
		return domain.Product{}, err
	}

	now := s.now().UTC()
	wholesale := req.RetailPrice
	if req.WholesalePrice != nil {
		wholesale = *req.WholesalePrice
	}
	product := domain.Product{
		Code:           req.Code,
		CodeNorm:       schema.NormalizeCode(req.Code),
		Name:           req.Name,
		RetailPrice:    req.RetailPrice,
		WholesalePrice: &wholesale,
		CostPrice:      req.CostPrice,
		StockQty:       req.StockQty,
		ImageFileID:    req.ImageFileID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	key, err := s.store.Insert(ctx, schema.Products, codec.ProductToRecord(product))
	if err != nil {
		return domain.Product{}, fmt.Errorf("create product %s: %w", product.Code, err)
	}
	s.logger.Infow("product created", "product_id", key, "code", product.Code, "by", sess.Username)
	return s.GetProduct(ctx, mustInt(key))
}

func (s *Service) UpdateProduct(ctx context.Context, sess domain.Session, id int64, req domain.ProductUpdateRequest) (domain.Product, error) {
	if err := requireAdmin(sess); err != nil {
		return domain.Product{}, err
	}
	if err := s.validateRequest(req); err != nil {
		return domain.Product{}, err
	}

	patch := schema.Record{"updatedAt": s.now().UTC().Format(timeLayout)}
	if req.Code != nil {
		code := strings.TrimSpace(*req.Code)
		if code == "" {
			return domain.Product{}, store.ErrInvalidTransaction
		}
		patch["code"] = code
		patch["codeNorm"] = schema.NormalizeCode(code)
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrInvalidTransaction
		}
		patch["name"] = name
	}
	if req.RetailPrice != nil {
		patch["retailPrice"] = *req.RetailPrice
	}
	if req.WholesalePrice != nil {
		patch["wholesalePrice"] = *req.WholesalePrice
	}
	if req.CostPrice != nil {
		patch["costPrice"] = *req.CostPrice
	}
	if req.StockQty != nil {
		patch["stockQty"] = *req.StockQty
	}
	if req.ImageFileID != nil {
		patch["imageFileId"] = *req.ImageFileID
	}

	rec, err := s.store.Update(ctx, schema.Products, id, patch)
	if err != nil {
		return domain.Product{}, fmt.Errorf("update product %d: %w", id, err)
	}
	return codec.ProductFromRecord(rec), nil
}

func (s *Service) CreateSupplier(ctx context.Context, sess domain.Session, req domain.SupplierRequest) (domain.Supplier, error) {
	if err := requireAdmin(sess); err != nil {
		return domain.Supplier{}, err
	}
	if err := s.validateRequest(req); err != nil {
		return domain.Supplier{}, err
	}
	if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
		return domain.Supplier{}, fmt.Errorf("%w: supplier name is required", store.ErrInvalidTransaction)
	}

	now := s.now().UTC()
	supplier := domain.Supplier{
		Name:              strings.TrimSpace(*req.Name),
		BankName:          deref(req.BankName),
		BankAccountNumber: deref(req.BankAccountNumber),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	key, err := s.store.Insert(ctx, schema.Suppliers, codec.SupplierToRecord(supplier))
	if err != nil {
		return domain.Supplier{}, fmt.Errorf("create supplier: %w", err)
	}
	supplier.ID = mustInt(key)
	return supplier, nil
}

func (s *Service) UpdateSupplier(ctx context.Context, sess domain.Session, id int64, req domain.SupplierRequest) (domain.Supplier, error) {
	if err := requireAdmin(sess); err != nil {
		return domain.Supplier{}, err
	}
	if err := s.validateRequest(req); err != nil {
		return domain.Supplier{}, err
	}
	patch := schema.Record{"updatedAt": s.now().UTC().Format(timeLayout)}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Supplier{}, store.ErrInvalidTransaction
		}
		patch["name"] = name
	}
	if req.BankName != nil {
		patch["bankName"] = *req.BankName
	}
	if req.BankAccountNumber != nil {
		patch["bankAccountNumber"] = *req.BankAccountNumber
	}
	rec, err := s.store.Update(ctx, schema.Suppliers, id, patch)
	if err != nil {
		return domain.Supplier{}, fmt.Errorf("update supplier %d: %w", id, err)
	}
	return codec.SupplierFromRecord(rec), nil
}

func (s *Service) GetSupplier(ctx context.Context, id int64) (domain.Supplier, error) {
	rec, err := s.store.Get(ctx, schema.Suppliers, id)
	if err != nil {
		return domain.Supplier{}, err
	}
	return codec.SupplierFromRecord(rec), nil
}

func (s *Service) ListSuppliers(ctx context.Context, includeArchived bool) ([]domain.Supplier, error) {
	q := store.Query{}
	if !includeArchived {
		q.Field, q.Value = "archived", false
	}
	recs, err := s.store.Find(ctx, schema.Suppliers, q)
	if err != nil {
		return nil, err
	}
	suppliers := make([]domain.Supplier, 0, len(recs))
	for _, rec := range recs {
		suppliers = append(suppliers, codec.SupplierFromRecord(rec))
	}
	return suppliers, nil
}

func (s *Service) CreateCustomer(ctx context.Context, sess domain.Session, req domain.CustomerRequest) (domain.Customer, error) {
	if err := requireAdmin(sess); err != nil {
		return domain.Customer{}, err
	}
	if err := s.validateRequest(req); err != nil {
		return domain.Customer{}, err
	}
	memberNo, name := strings.TrimSpace(deref(req.MemberNo)), strings.TrimSpace(deref(req.Name))
	if memberNo == "" || name == "" {
		return domain.Customer{}, fmt.Errorf("%w: member number and name are required", store.ErrInvalidTransaction)
	}

	now := s.now().UTC()
	customer := domain.Customer{
		MemberNo:    memberNo,
		Name:        name,
		Phone:       strings.TrimSpace(deref(req.Phone)),
		Address:     strings.TrimSpace(deref(req.Address)),
		PhotoFileID: deref(req.PhotoFileID),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	key, err := s.store.Insert(ctx, schema.Customers, codec.CustomerToRecord(customer))
	if err != nil {
		return domain.Customer{}, fmt.Errorf("create customer %s: %w", memberNo, err)
	}
	customer.ID = mustInt(key)
	return customer, nil
}

// UpdateCustomer edits the roster entry. Snapshots already copied into
// transactions are not touched.
func (s *Service) UpdateCustomer(ctx context.Context, sess domain.Session, id int64, req domain.CustomerRequest) (domain.Customer, error) {
	if err := requireAdmin(sess); err != nil {
		return domain.Customer{}, err
	}
	if err := s.validateRequest(req); err != nil {
		return domain.Customer{}, err
	}
	patch := schema.Record{"updatedAt": s.now().UTC().Format(timeLayout)}
	if req.MemberNo != nil {
		memberNo := strings.TrimSpace(*req.MemberNo)
		if memberNo == "" {
			return domain.Customer{}, store.ErrInvalidTransaction
		}
		patch["memberNo"] = memberNo
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Customer{}, store.ErrInvalidTransaction
		}
		patch["name"] = name
	}
	if req.Phone != nil {
		patch["phone"] = strings.TrimSpace(*req.Phone)
	}
	if req.Address != nil {
		patch["address"] = strings.TrimSpace(*req.Address)
	}
	if req.PhotoFileID != nil {
		patch["photoFileId"] = *req.PhotoFileID
	}
	rec, err := s.store.Update(ctx, schema.Customers, id, patch)
	if err != nil {
		return domain.Customer{}, fmt.Errorf("update customer %d: %w", id, err)
	}
	return codec.CustomerFromRecord(rec), nil
}

func (s *Service) GetCustomer(ctx context.Context, id int64) (domain.Customer, error) {
	rec, err := s.store.Get(ctx, schema.Customers, id)
	if err != nil {
		return domain.Customer{}, err
	}
	return codec.CustomerFromRecord(rec), nil
}

// ListCustomers searches name, member number and phone. Archived customers
// are hidden unless filter.IncludeArchived is set.
func (s *Service) ListCustomers(ctx context.Context, filter domain.CustomerFilter) ([]domain.Customer, error) {
	q := store.Query{}
	if !filter.IncludeArchived {
		q.Field, q.Value = "archived", false
	}
	term := strings.ToLower(strings.TrimSpace(filter.SearchTerm))
	if term != "" {
		q.Filter = func(rec schema.Record) bool {
			c := codec.CustomerFromRecord(rec)
			return containsFold(c.Name, term) || containsFold(c.MemberNo, term) || containsFold(c.Phone, term)
		}
	}
	recs, err := s.store.Find(ctx, schema.Customers, q)
	if err != nil {
		return nil, err
	}
	customers := make([]domain.Customer, 0, len(recs))
	for _, rec := range recs {
		customers = append(customers, codec.CustomerFromRecord(rec))
	}
	return customers, nil
}

var archivable = map[string]bool{
	schema.Products:  true,
	schema.Suppliers: true,
	schema.Customers: true,
}

// ArchiveEntity sets the archived flag on a product, supplier or customer.
// Records are never deleted.
func (s *Service) ArchiveEntity(ctx context.Context, sess domain.Session, collection string, id int64) error {
	if err := requireAdmin(sess); err != nil {
		return err
	}
	if !archivable[collection] {
		return fmt.Errorf("%w: %s cannot be archived", store.ErrInvalidTransaction, collection)
	}
	_, err := s.store.Update(ctx, collection, id, schema.Record{
		"archived":  true,
		"updatedAt": s.now().UTC().Format(timeLayout),
	})
	if err != nil {
		return fmt.Errorf("archive %s %d: %w", collection, id, err)
	}
	s.logger.Infow("entity archived", "collection", collection, "id", id, "by", sess.Username)
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func mustInt(key any) int64 {
	id, err := store.IntKey(key)
	if err != nil {
		panic(fmt.Sprintf("store returned a non integer key %v", key))
	}
	return id
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
