package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"warungpos/backend/internal/auth"
	"warungpos/backend/internal/cache"
	"warungpos/backend/internal/domain"
	"warungpos/backend/internal/metrics"
	"warungpos/backend/internal/schema"
	"warungpos/backend/internal/store"
	"warungpos/backend/internal/store/memory"
)

var (
	wib      = time.FixedZone("WIB", 7*60*60)
	saleTime = time.Date(2024, 5, 1, 10, 30, 0, 0, wib)
	admin    = domain.Session{UserID: 1, Username: "admin123", Role: domain.RoleAdmin}
	cashier  = domain.Session{UserID: 2, Username: "kasir123", Role: domain.RoleCashier}
)

type fixture struct {
	svc     *Service
	backend *memory.Store
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, mutate ...func(*Options)) fixture {
	t.Helper()
	backend, err := memory.New()
	require.NoError(t, err)
	m := metrics.New(prometheus.NewRegistry())
	opts := Options{
		Metrics:        m,
		ReportLocation: wib,
		Now:            func() time.Time { return saleTime },
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	svc, err := Open(context.Background(), backend, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return fixture{svc: svc, backend: backend, metrics: m}
}

func (f fixture) product(t *testing.T, code string, retail int64, wholesale *int64, stock int64) domain.Product {
	t.Helper()
	p, err := f.svc.CreateProduct(context.Background(), admin, domain.ProductCreateRequest{
		Code:           code,
		Name:           "Produk " + code,
		RetailPrice:    retail,
		WholesalePrice: wholesale,
		StockQty:       stock,
	})
	require.NoError(t, err)
	return p
}

func (f fixture) stockOf(t *testing.T, id int64) int64 {
	t.Helper()
	p, err := f.svc.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.StockQty
}

func ptr[T any](v T) *T { return &v }

func TestOpenMigratesToLatestVersion(t *testing.T) {
	f := newFixture(t)
	v, err := f.backend.SchemaVersion(context.Background())
	require.NoError(t, err)
	require.Equal(t, schema.Latest().Number, v)
	require.Equal(t, float64(schema.Latest().Number), testutil.ToFloat64(f.metrics.SchemaVersion))
	require.NoError(t, f.svc.Ping(context.Background()))
}

func TestRetailSaleScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.product(t, "P001", 5000, ptr[int64](4000), 10)

	tx, err := f.svc.CreateSale(ctx, cashier, domain.SaleRequest{
		Type:         domain.TxRetail,
		Items:        []domain.SaleLine{{ProductID: p.ID, Qty: 2}},
		CashReceived: 10000,
	})
	require.NoError(t, err)
	require.Len(t, tx.Items, 1)
	require.Equal(t, int64(5000), tx.Items[0].UnitPrice)
	require.Equal(t, int64(10000), tx.Items[0].LineTotal)
	require.Equal(t, int64(10000), tx.Subtotal)
	require.Equal(t, int64(10000), tx.Total)
	require.Equal(t, int64(0), tx.ChangeDue)
	require.Equal(t, domain.PaymentCash, tx.PaymentType)
	require.Equal(t, "kasir123", tx.Cashier)
	require.Equal(t, "TX-1714534200000", tx.ReceiptNo)
	require.Equal(t, int64(8), f.stockOf(t, p.ID))

	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SalesTotal.WithLabelValues("RETAIL")))
	require.Equal(t, 10000.0, testutil.ToFloat64(f.metrics.SalesRevenue.WithLabelValues("RETAIL")))
}

func TestWholesaleFallsBackToRetailPrice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	key, err := f.backend.Insert(ctx, schema.Products, schema.Record{
		"code": "P001", "codeNorm": "P001", "name": "Kopi Hitam",
		"retailPrice": int64(5000), "wholesalePrice": "abc",
		"stockQty": int64(10), "archived": false,
	})
	require.NoError(t, err)
	id, err := store.IntKey(key)
	require.NoError(t, err)

	tx, err := f.svc.CreateSale(ctx, cashier, domain.SaleRequest{
		Type:         domain.TxWholesale,
		Items:        []domain.SaleLine{{ProductID: id, Qty: 3}},
		CashReceived: 20000,
	})
	require.NoError(t, err)
	require.Equal(t, int64(5000), tx.Items[0].UnitPrice)
	require.Equal(t, int64(15000), tx.Items[0].LineTotal)
	require.Equal(t, domain.NoteFallbackRetail, tx.Items[0].Note)
	require.Equal(t, int64(5000), tx.ChangeDue)
}

func TestWholesaleUsesWholesalePrice(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "P002", 4000, ptr[int64](3000), 20)

	tx, err := f.svc.CreateSale(context.Background(), cashier, domain.SaleRequest{
		Type:         domain.TxWholesale,
		Items:        []domain.SaleLine{{ProductID: p.ID, Qty: 4}},
		CashReceived: 12000,
	})
	require.NoError(t, err)
	require.Equal(t, int64(3000), tx.Items[0].UnitPrice)
	require.Empty(t, tx.Items[0].Note)
	require.Equal(t, int64(12000), tx.Total)
}

// insertRawProduct writes a product record as legacy data would have it,
// bypassing request validation.
func (f fixture) insertRawProduct(t *testing.T, code string, fields schema.Record) int64 {
	t.Helper()
	rec := schema.Record{"code": code, "codeNorm": code, "name": "Produk " + code, "archived": false}
	for k, v := range fields {
		rec[k] = v
	}
	key, err := f.backend.Insert(context.Background(), schema.Products, rec)
	require.NoError(t, err)
	id, err := store.IntKey(key)
	require.NoError(t, err)
	return id
}

func TestWholesaleDoesNotNeedRetailPrice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.insertRawProduct(t, "P009", schema.Record{
		"retailPrice": "abc", "wholesalePrice": int64(3000), "stockQty": int64(10),
	})

	tx, err := f.svc.CreateSale(ctx, cashier, domain.SaleRequest{
		Type:         domain.TxWholesale,
		Items:        []domain.SaleLine{{ProductID: id, Qty: 2}},
		CashReceived: 6000,
	})
	require.NoError(t, err)
	require.Equal(t, int64(3000), tx.Items[0].UnitPrice)
	require.Empty(t, tx.Items[0].Note)

	_, err = f.svc.CreateSale(ctx, cashier, domain.SaleRequest{
		Type:         domain.TxRetail,
		Items:        []domain.SaleLine{{ProductID: id, Qty: 1}},
		CashReceived: 6000,
	})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
	require.Equal(t, int64(8), f.stockOf(t, id))
}

func TestSaleTotalsThatOverflowAreRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	huge := f.insertRawProduct(t, "PX1", schema.Record{"retailPrice": int64(5_000_000_000_000_000_000), "stockQty": int64(10)})
	huger := f.insertRawProduct(t, "PX2", schema.Record{"retailPrice": int64(9_000_000_000_000_000_000), "stockQty": int64(10)})

	cases := map[string][]domain.SaleLine{
		"line wraps":     {{ProductID: huge, Qty: 2}},
		"subtotal wraps": {{ProductID: huge, Qty: 1}, {ProductID: huger, Qty: 1}},
		"wrap and back":  {{ProductID: huge, Qty: 2}, {ProductID: huger, Qty: 1}},
	}
	for name, items := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.CreateSale(ctx, cashier, domain.SaleRequest{
				Type:         domain.TxRetail,
				Items:        items,
				CashReceived: 1_000_000_000_000_000_000,
			})
			require.ErrorIs(t, err, store.ErrInvalidTransaction)
		})
	}

	require.Equal(t, int64(10), f.stockOf(t, huge))
	require.Equal(t, int64(10), f.stockOf(t, huger))
	txs, err := f.svc.ListTransactions(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Empty(t, txs)

	_, err = f.svc.CreateProduct(ctx, admin, domain.ProductCreateRequest{Code: "PX3", Name: "Mahal", RetailPrice: 5_000_000_000_000_000_000})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
	_, err = f.svc.UpdateProduct(ctx, admin, huge, domain.ProductUpdateRequest{StockQty: ptr[int64](2_000_000_000)})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestInsufficientStockRejectsWholeSale(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	plenty := f.product(t, "P001", 5000, nil, 10)
	scarce := f.product(t, "P002", 4000, nil, 1)
	customer, err := f.svc.CreateCustomer(ctx, admin, domain.CustomerRequest{MemberNo: ptr("C001"), Name: ptr("Budi Santoso")})
	require.NoError(t, err)

	_, err = f.svc.CreateSale(ctx, cashier, domain.SaleRequest{
		Type:       domain.TxRetail,
		CustomerID: &customer.ID,
		Items: []domain.SaleLine{
			{ProductID: plenty.ID, Qty: 2},
			{ProductID: scarce.ID, Qty: 2},
		},
		CashReceived: 100000,
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	require.Equal(t, int64(10), f.stockOf(t, plenty.ID))
	require.Equal(t, int64(1), f.stockOf(t, scarce.ID))
	c, err := f.svc.GetCustomer(ctx, customer.ID)
	require.NoError(t, err)
	require.Zero(t, c.TotalTransactions)
	txs, err := f.svc.ListTransactions(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Empty(t, txs)
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SaleFailures.WithLabelValues("insufficient_stock")))
}

func TestInsufficientPaymentPersistsNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.product(t, "P001", 5000, nil, 10)
	customer, err := f.svc.CreateCustomer(ctx, admin, domain.CustomerRequest{MemberNo: ptr("C001"), Name: ptr("Budi Santoso")})
	require.NoError(t, err)

	_, err = f.svc.CreateSale(ctx, cashier, domain.SaleRequest{
		Type:         domain.TxRetail,
		CustomerID:   &customer.ID,
		Items:        []domain.SaleLine{{ProductID: p.ID, Qty: 2}},
		CashReceived: 9999,
	})
	require.ErrorIs(t, err, store.ErrInsufficientPayment)

	require.Equal(t, int64(10), f.stockOf(t, p.ID))
	c, err := f.svc.GetCustomer(ctx, customer.ID)
	require.NoError(t, err)
	require.Zero(t, c.TotalTransactions)
	txs, err := f.svc.ListTransactions(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Empty(t, txs)
}

func TestSaleRejectsMalformedRequests(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.product(t, "P001", 5000, nil, 10)

	cases := map[string]domain.SaleRequest{
		"no items":          {Type: domain.TxRetail, CashReceived: 1000},
		"zero qty":          {Type: domain.TxRetail, Items: []domain.SaleLine{{ProductID: p.ID}}},
		"unknown type":      {Type: "BARTER", Items: []domain.SaleLine{{ProductID: p.ID, Qty: 1}}},
		"non cash":          {Type: domain.TxRetail, PaymentType: "CARD", Items: []domain.SaleLine{{ProductID: p.ID, Qty: 1}}},
		"discount too high": {Type: domain.TxRetail, Discount: 6000, CashReceived: 0, Items: []domain.SaleLine{{ProductID: p.ID, Qty: 1}}},
		"qty above limit":   {Type: domain.TxRetail, CashReceived: 1000, Items: []domain.SaleLine{{ProductID: p.ID, Qty: 1_000_000_001}}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.CreateSale(ctx, cashier, req)
			require.ErrorIs(t, err, store.ErrInvalidTransaction)
		})
	}

	_, err := f.svc.CreateSale(ctx, cashier, domain.SaleRequest{
		Type:  domain.TxRetail,
		Items: []domain.SaleLine{{ProductID: 999, Qty: 1}},
	})
	require.ErrorIs(t, err, store.ErrNotFound)
	require.Equal(t, int64(10), f.stockOf(t, p.ID))
}

func TestSaleRoundTripKeepsTotals(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.product(t, "P001", 5000, nil, 10)
	b := f.product(t, "P002", 4000, nil, 10)

	created, err := f.svc.CreateSale(ctx, cashier, domain.SaleRequest{
		Type: domain.TxRetail,
		Items: []domain.SaleLine{
			{ProductID: a.ID, Qty: 1},
			{ProductID: b.ID, Qty: 2},
			{ProductID: a.ID, Qty: 1},
		},
		Discount:     1500,
		CashReceived: 20000,
	})
	require.NoError(t, err)

	read, err := f.svc.GetTransaction(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, *created, read)
	require.Equal(t, read.Subtotal-read.Discount, read.Total)
	require.Equal(t, read.CashReceived-read.Total, read.ChangeDue)
	require.Len(t, read.Items, 2)
	require.Equal(t, int64(2), read.Items[0].Qty)
	require.Equal(t, int64(8), f.stockOf(t, a.ID))
	require.Equal(t, int64(8), f.stockOf(t, b.ID))
}

func TestCustomerSnapshotIsImmutable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.product(t, "P001", 5000, nil, 10)
	customer, err := f.svc.CreateCustomer(ctx, admin, domain.CustomerRequest{
		MemberNo: ptr("C003"), Name: ptr("Agus Wijaya"), Phone: ptr("081456789012"), Address: ptr("Jl. Sudirman No. 5A"),
	})
	require.NoError(t, err)

	tx, err := f.svc.CreateSale(ctx, cashier, domain.SaleRequest{
		Type: domain.TxRetail, CustomerID: &customer.ID,
		Items: []domain.SaleLine{{ProductID: p.ID, Qty: 1}}, CashReceived: 5000,
	})
	require.NoError(t, err)

	_, err = f.svc.UpdateCustomer(ctx, admin, customer.ID, domain.CustomerRequest{Name: ptr("Agus W."), Phone: ptr("0800")})
	require.NoError(t, err)
	require.NoError(t, f.svc.ArchiveEntity(ctx, admin, schema.Customers, customer.ID))

	read, err := f.svc.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	require.Equal(t, &domain.CustomerSnapshot{
		MemberNo: "C003", Name: "Agus Wijaya", Phone: "081456789012", Address: "Jl. Sudirman No. 5A",
	}, read.CustomerSnapshot)

	c, err := f.svc.GetCustomer(ctx, customer.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), c.TotalTransactions)
	require.True(t, c.Archived)

	_, err = f.svc.CreateSale(ctx, cashier, domain.SaleRequest{
		Type: domain.TxRetail, CustomerID: &customer.ID,
		Items: []domain.SaleLine{{ProductID: p.ID, Qty: 1}}, CashReceived: 5000,
	})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestArchivedProductsAreNotSold(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	kopi := f.product(t, "P001", 5000, nil, 10)
	teh := f.product(t, "P002", 4000, nil, 10)
	f.product(t, "P003", 8000, nil, 0)
	require.NoError(t, f.svc.ArchiveEntity(ctx, admin, schema.Products, teh.ID))

	saleable, err := f.svc.SaleableProducts(ctx, "")
	require.NoError(t, err)
	require.Len(t, saleable, 1)
	require.Equal(t, kopi.ID, saleable[0].ID)

	all, err := f.svc.ListProducts(ctx, domain.ProductFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	_, err = f.svc.CreateSale(ctx, cashier, domain.SaleRequest{
		Type: domain.TxRetail, Items: []domain.SaleLine{{ProductID: teh.ID, Qty: 1}}, CashReceived: 4000,
	})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
	require.Equal(t, int64(10), f.stockOf(t, teh.ID))

	err = f.svc.ArchiveEntity(ctx, admin, schema.Transactions, 1)
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
	err = f.svc.ArchiveEntity(ctx, cashier, schema.Products, kopi.ID)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestReceiptNumbersAreUnique(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.product(t, "P001", 1000, nil, 10)

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		tx, err := f.svc.CreateSale(ctx, cashier, domain.SaleRequest{
			Type: domain.TxRetail, Items: []domain.SaleLine{{ProductID: p.ID, Qty: 1}}, CashReceived: 1000,
		})
		require.NoError(t, err)
		require.False(t, seen[tx.ReceiptNo], tx.ReceiptNo)
		seen[tx.ReceiptNo] = true
	}
	require.True(t, seen["TX-1714534200000"])
	require.True(t, seen["TX-1714534200000-2"])
	require.True(t, seen["TX-1714534200000-3"])
}

// racingBackend fails atomic scopes with queued errors, running an optional
// side effect first, before handing them to the memory store.
type racingBackend struct {
	*memory.Store
	mu       sync.Mutex
	failures []func() error
	calls    int
}

func (b *racingBackend) Atomic(ctx context.Context, fn func(tx store.Tx) error) error {
	b.mu.Lock()
	b.calls++
	var fail func() error
	if len(b.failures) > 0 {
		fail, b.failures = b.failures[0], b.failures[1:]
	}
	b.mu.Unlock()
	if fail != nil {
		return fail()
	}
	return b.Store.Atomic(ctx, fn)
}

func newRacingFixture(t *testing.T) (*Service, *racingBackend) {
	t.Helper()
	mem, err := memory.New()
	require.NoError(t, err)
	backend := &racingBackend{Store: mem}
	svc, err := Open(context.Background(), backend, Options{
		Metrics:        metrics.New(prometheus.NewRegistry()),
		ReportLocation: wib,
		Now:            func() time.Time { return saleTime },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc, backend
}

func TestSaleRetriesWhenReceiptIsTakenConcurrently(t *testing.T) {
	ctx := context.Background()
	svc, backend := newRacingFixture(t)
	p, err := svc.CreateProduct(ctx, admin, domain.ProductCreateRequest{Code: "P001", Name: "Kopi", RetailPrice: 5000, StockQty: 10})
	require.NoError(t, err)

	backend.mu.Lock()
	backend.calls = 0
	backend.failures = []func() error{func() error {
		// Another sale commits the same receipt number first.
		_, err := backend.Store.Insert(ctx, schema.Transactions, schema.Record{
			"receiptNo": "TX-1714534200000", "type": "RETAIL", "date": saleTime.UTC().Format(time.RFC3339Nano), "items": []any{},
		})
		require.NoError(t, err)
		return fmt.Errorf("insert transactions: %w", store.ErrConstraintViolation)
	}}
	backend.mu.Unlock()

	tx, err := svc.CreateSale(ctx, cashier, domain.SaleRequest{
		Type:         domain.TxRetail,
		Items:        []domain.SaleLine{{ProductID: p.ID, Qty: 1}},
		CashReceived: 5000,
	})
	require.NoError(t, err)
	require.Equal(t, "TX-1714534200000-2", tx.ReceiptNo)
	require.Equal(t, 2, backend.calls)

	got, err := svc.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, int64(9), got.StockQty)
}

func TestSaleGivesUpAfterRepeatedWriteConflicts(t *testing.T) {
	ctx := context.Background()
	svc, backend := newRacingFixture(t)
	p, err := svc.CreateProduct(ctx, admin, domain.ProductCreateRequest{Code: "P001", Name: "Kopi", RetailPrice: 5000, StockQty: 10})
	require.NoError(t, err)

	conflict := func() error { return fmt.Errorf("commit: %w", store.ErrWriteConflict) }
	backend.mu.Lock()
	backend.calls = 0
	backend.failures = []func() error{conflict, conflict, conflict, conflict}
	backend.mu.Unlock()

	_, err = svc.CreateSale(ctx, cashier, domain.SaleRequest{
		Type:         domain.TxRetail,
		Items:        []domain.SaleLine{{ProductID: p.ID, Qty: 1}},
		CashReceived: 5000,
	})
	require.ErrorIs(t, err, store.ErrStoreBusy)
	require.Equal(t, maxSaleAttempts, backend.calls)

	got, err := svc.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, int64(10), got.StockQty)
}

func TestConcurrentSalesNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(o *Options) { o.Now = time.Now })
	p := f.product(t, "P001", 1000, nil, 5)

	const buyers = 12
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateSale(ctx, cashier, domain.SaleRequest{
				Type: domain.TxRetail, Items: []domain.SaleLine{{ProductID: p.ID, Qty: 1}}, CashReceived: 1000,
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if !errors.Is(err, store.ErrInsufficientStock) && !errors.Is(err, store.ErrStoreBusy) {
				t.Errorf("unexpected sale error: %v", err)
			}
		}()
	}
	wg.Wait()

	stock := f.stockOf(t, p.ID)
	require.GreaterOrEqual(t, stock, int64(0))
	require.Equal(t, int64(5)-int64(succeeded), stock)
	txs, err := f.svc.ListTransactions(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, txs, succeeded)
}

func TestSeedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.svc.SeedIfEmpty(ctx))
	require.NoError(t, f.svc.SeedIfEmpty(ctx))

	users, err := f.svc.ListUsers(ctx, admin, "")
	require.NoError(t, err)
	require.Len(t, users, 2)
	cashiers, err := f.svc.ListUsers(ctx, admin, domain.RoleCashier)
	require.NoError(t, err)
	require.Len(t, cashiers, 1)
	require.Equal(t, "kasir123", cashiers[0].Username)

	products, err := f.svc.ListProducts(ctx, domain.ProductFilter{})
	require.NoError(t, err)
	require.Len(t, products, len(defaultProducts))
	suppliers, err := f.svc.ListSuppliers(ctx, true)
	require.NoError(t, err)
	require.Len(t, suppliers, len(defaultSuppliers))
	customers, err := f.svc.ListCustomers(ctx, domain.CustomerFilter{IncludeArchived: true})
	require.NoError(t, err)
	require.Len(t, customers, len(defaultCustomers))

	settings, err := f.svc.GetSettings(ctx)
	require.NoError(t, err)
	require.Equal(t, "Warung Kita", settings.BusinessName)
	require.Equal(t, "IDR", settings.Currency)

	kopi, err := f.svc.FindProductByCode(ctx, " p001 ")
	require.NoError(t, err)
	require.Equal(t, "Kopi Hitam", kopi.Name)
}

func TestLoginAndPasswordRehash(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.svc.SeedIfEmpty(ctx))

	sess, err := f.svc.Login(ctx, "  ADMIN123 ", "admin123")
	require.NoError(t, err)
	require.Equal(t, domain.RoleAdmin, sess.Role)
	_, err = f.svc.Login(ctx, "admin123", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.svc.Login(ctx, "nobody", "admin123")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	hashing, err := Open(ctx, f.backend, Options{Verifier: auth.Bcrypt{Cost: bcrypt.MinCost}})
	require.NoError(t, err)
	_, err = hashing.Login(ctx, "kasir123", "kasir123")
	require.NoError(t, err)

	user, err := hashing.FindUserByUsername(ctx, "kasir123")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(user.Password, "$2"))
	_, err = hashing.Login(ctx, "kasir123", "kasir123")
	require.NoError(t, err)
}

func TestUserManagement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.svc.SeedIfEmpty(ctx))

	_, err := f.svc.CreateUser(ctx, cashier, domain.UserCreateRequest{Username: "kasir2", Password: "secret1", Role: domain.RoleCashier})
	require.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.CreateUser(ctx, admin, domain.UserCreateRequest{Username: "Kasir123", Password: "secret1", Role: domain.RoleCashier})
	require.ErrorIs(t, err, store.ErrConstraintViolation)
	_, err = f.svc.CreateUser(ctx, admin, domain.UserCreateRequest{Username: "kasir2", Password: "123", Role: domain.RoleCashier})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)

	created, err := f.svc.CreateUser(ctx, admin, domain.UserCreateRequest{Username: "Kasir2", Password: "secret1", Role: domain.RoleCashier})
	require.NoError(t, err)
	require.Equal(t, "kasir2", created.UsernameNorm)

	sess, err := f.svc.Login(ctx, "kasir2", "secret1")
	require.NoError(t, err)
	updated, err := f.svc.UpdateProfile(ctx, sess, domain.ProfileUpdateRequest{Password: ptr("secret2"), PhotoFileID: ptr("photo-1")})
	require.NoError(t, err)
	require.Equal(t, "photo-1", updated.PhotoFileID)
	_, err = f.svc.Login(ctx, "kasir2", "secret2")
	require.NoError(t, err)
}

func TestCatalogMaintenance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	p := f.product(t, " p010 ", 7000, nil, 3)
	require.Equal(t, "p010", p.Code)
	require.Equal(t, "P010", p.CodeNorm)
	require.NotNil(t, p.WholesalePrice)
	require.Equal(t, int64(7000), *p.WholesalePrice)

	_, err := f.svc.CreateProduct(ctx, admin, domain.ProductCreateRequest{Code: "P010", Name: "Duplikat", RetailPrice: 1})
	require.ErrorIs(t, err, store.ErrConstraintViolation)
	_, err = f.svc.CreateProduct(ctx, cashier, domain.ProductCreateRequest{Code: "P011", Name: "Baru", RetailPrice: 1})
	require.ErrorIs(t, err, ErrForbidden)

	updated, err := f.svc.UpdateProduct(ctx, admin, p.ID, domain.ProductUpdateRequest{Code: ptr("x-1"), StockQty: ptr[int64](9)})
	require.NoError(t, err)
	require.Equal(t, "X-1", updated.CodeNorm)
	require.Equal(t, int64(9), updated.StockQty)
	_, err = f.svc.UpdateProduct(ctx, admin, 404, domain.ProductUpdateRequest{Name: ptr("x")})
	require.ErrorIs(t, err, store.ErrNotFound)

	found, err := f.svc.ListProducts(ctx, domain.ProductFilter{SearchTerm: "x-"})
	require.NoError(t, err)
	require.Len(t, found, 1)

	sup, err := f.svc.CreateSupplier(ctx, admin, domain.SupplierRequest{Name: ptr("Supplier Sembako Jaya"), BankName: ptr("BCA")})
	require.NoError(t, err)
	sup, err = f.svc.UpdateSupplier(ctx, admin, sup.ID, domain.SupplierRequest{BankAccountNumber: ptr("1234567890")})
	require.NoError(t, err)
	require.Equal(t, "BCA", sup.BankName)
	require.NoError(t, f.svc.ArchiveEntity(ctx, admin, schema.Suppliers, sup.ID))
	active, err := f.svc.ListSuppliers(ctx, false)
	require.NoError(t, err)
	require.Empty(t, active)

	_, err = f.svc.CreateCustomer(ctx, admin, domain.CustomerRequest{MemberNo: ptr("C001"), Name: ptr("Budi Santoso"), Phone: ptr("081234567890")})
	require.NoError(t, err)
	_, err = f.svc.CreateCustomer(ctx, admin, domain.CustomerRequest{MemberNo: ptr("C001"), Name: ptr("Lain")})
	require.ErrorIs(t, err, store.ErrConstraintViolation)
	byPhone, err := f.svc.ListCustomers(ctx, domain.CustomerFilter{SearchTerm: "0812345"})
	require.NoError(t, err)
	require.Len(t, byPhone, 1)
}

func TestIncomingGoodsIncrementsStock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.product(t, "P001", 5000, nil, 10)
	b := f.product(t, "P002", 4000, nil, 0)
	sup, err := f.svc.CreateSupplier(ctx, admin, domain.SupplierRequest{Name: ptr("Grosir Minuman Segar")})
	require.NoError(t, err)

	doc, err := f.svc.RecordIncomingGoods(ctx, admin, domain.IncomingGoodsRequest{
		InvoiceNo:  "INV-001",
		SupplierID: sup.ID,
		Items: []domain.IncomingGoodsLine{
			{ProductID: a.ID, Qty: 5, CostPrice: 2000},
			{ProductID: b.ID, Qty: 12, CostPrice: 1500},
			{ProductID: a.ID, Qty: 1, CostPrice: 2000},
		},
	})
	require.NoError(t, err)
	require.Equal(t, int64(5*2000+12*1500+2000), doc.GrandTotal)
	require.Equal(t, int64(16), f.stockOf(t, a.ID))
	require.Equal(t, int64(12), f.stockOf(t, b.ID))
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.IncomingGoods))

	_, err = f.svc.RecordIncomingGoods(ctx, admin, domain.IncomingGoodsRequest{
		InvoiceNo:  "INV-002",
		SupplierID: sup.ID,
		Items: []domain.IncomingGoodsLine{
			{ProductID: a.ID, Qty: 5, CostPrice: 2000},
			{ProductID: 999, Qty: 1, CostPrice: 1},
		},
	})
	require.ErrorIs(t, err, store.ErrNotFound)
	require.Equal(t, int64(16), f.stockOf(t, a.ID))

	docs, err := f.svc.ListIncomingGoods(ctx, saleTime.Add(-time.Hour), saleTime.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "INV-001", docs[0].InvoiceNo)
}

func TestDailyReportAndCSV(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	kopi := f.product(t, "P001", 5000, ptr[int64](4000), 100)
	teh := f.product(t, "P002", 4000, ptr[int64](3000), 100)

	sales := []domain.SaleRequest{
		{Type: domain.TxRetail, Items: []domain.SaleLine{{ProductID: kopi.ID, Qty: 2}}, CashReceived: 10000},
		{Type: domain.TxWholesale, Items: []domain.SaleLine{{ProductID: teh.ID, Qty: 5}}, CashReceived: 15000},
		{Type: domain.TxRetail, Items: []domain.SaleLine{{ProductID: kopi.ID, Qty: 1}, {ProductID: teh.ID, Qty: 1}}, Discount: 1000, CashReceived: 8000},
	}
	for _, req := range sales {
		_, err := f.svc.CreateSale(ctx, cashier, req)
		require.NoError(t, err)
	}

	report, err := f.svc.DailyReport(ctx, "2024-05-01")
	require.NoError(t, err)
	require.Equal(t, 3, report.Transactions)
	require.Equal(t, 2, report.RetailCount)
	require.Equal(t, 1, report.WholesaleCount)
	require.Equal(t, int64(10000+15000+8000), report.Total)
	require.Equal(t, int64(15000), report.WholesaleTotal)
	require.Equal(t, int64(1000), report.Discount)
	require.Equal(t, int64(9), report.ItemsSold)
	require.Equal(t, teh.ID, report.TopProducts[0].ProductID)
	require.Equal(t, int64(6), report.TopProducts[0].Qty)

	empty, err := f.svc.DailyReport(ctx, "2024-05-02")
	require.NoError(t, err)
	require.Zero(t, empty.Transactions)

	_, err = f.svc.DailyReport(ctx, "01/05/2024")
	require.ErrorIs(t, err, store.ErrInvalidTransaction)

	var buf bytes.Buffer
	require.NoError(t, f.svc.WriteDailyReportCSV(ctx, &buf, "2024-05-01"))
	require.True(t, strings.HasPrefix(buf.String(), "metric,value\ndate,2024-05-01\ntransactions,3\n"))
	require.Contains(t, buf.String(), "average_ticket,11000.00\n")
	require.Contains(t, buf.String(), "1,P002,Produk P002,6,19000\n")

	top, err := f.svc.TopProducts(ctx, time.Time{}, time.Time{}, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	require.Equal(t, teh.ID, top[0].ProductID)
}

func TestSettingsAreCached(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(o *Options) { o.SettingsCache = cache.NewMemorySettingsCache(time.Minute) })
	require.NoError(t, f.svc.SeedIfEmpty(ctx))

	first, err := f.svc.GetSettings(ctx)
	require.NoError(t, err)

	_, err = f.backend.Update(ctx, schema.Settings, domain.SettingsKey, schema.Record{"businessName": "Diubah Langsung"})
	require.NoError(t, err)
	cached, err := f.svc.GetSettings(ctx)
	require.NoError(t, err)
	require.Equal(t, first, cached)

	_, err = f.svc.UpdateSettings(ctx, cashier, domain.SettingsUpdateRequest{Theme: ptr("light")})
	require.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.UpdateSettings(ctx, admin, domain.SettingsUpdateRequest{Theme: ptr("sepia")})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)

	updated, err := f.svc.UpdateSettings(ctx, admin, domain.SettingsUpdateRequest{Theme: ptr("light")})
	require.NoError(t, err)
	require.Equal(t, "light", updated.Theme)

	fresh, err := f.svc.GetSettings(ctx)
	require.NoError(t, err)
	require.Equal(t, "Diubah Langsung", fresh.BusinessName)
	require.Equal(t, "light", fresh.Theme)
}

// pngBytes is a PNG signature followed by the start of an IHDR chunk, enough
// for content detection.
var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01")

func TestFilesAreServedFromCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.svc.PutFile(ctx, pngBytes, "image/png", domain.FileLogo)
	require.NoError(t, err)
	require.Len(t, id, 36)

	file, err := f.svc.GetFile(ctx, id)
	require.NoError(t, err)
	require.Equal(t, pngBytes, file.Data)
	require.Equal(t, "image/png", file.MimeType)
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.FileCacheHits))

	missing, err := f.svc.GetFile(ctx, "does-not-exist")
	require.NoError(t, err)
	require.Nil(t, missing)
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.FileCacheMisses))

	_, err = f.svc.PutFile(ctx, nil, "image/png", domain.FileLogo)
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
	_, err = f.svc.PutFile(ctx, pngBytes, "image/png", "VIDEO")
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestFilesAcceptOnlyImageContent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	script := []byte("<html><script>alert(1)</script></html>")

	cases := map[string]struct {
		data     []byte
		declared string
	}{
		"html declared as html":  {script, "text/html"},
		"html declared as image": {script, "image/png"},
		"html with no type":      {script, ""},
		"png declared as html":   {pngBytes, "text/html; charset=utf-8"},
		"svg":                    {[]byte(`<svg xmlns="http://www.w3.org/2000/svg"><script>alert(1)</script></svg>`), "image/svg+xml"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.PutFile(ctx, tc.data, tc.declared, domain.FileAvatar)
			require.ErrorIs(t, err, store.ErrInvalidTransaction)
		})
	}

	id, err := f.svc.PutFile(ctx, []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00;"), "", domain.FileProduct)
	require.NoError(t, err)
	file, err := f.svc.GetFile(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "image/gif", file.MimeType)

	require.True(t, IsImageType("image/PNG"))
	require.False(t, IsImageType("text/html"))
	require.False(t, IsImageType("not a type"))
}
