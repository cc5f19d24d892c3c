package memory

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"warungpos/backend/internal/schema"
	"warungpos/backend/internal/store"
)

func migrated(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := New(opts...)
	require.NoError(t, err)
	ctx := context.Background()
	current, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	for _, v := range schema.Versions()[current:] {
		require.NoError(t, s.ApplyVersion(ctx, v))
	}
	return s
}

func TestInsertEnforcesUniqueFields(t *testing.T) {
	ctx := context.Background()
	s := migrated(t)

	id, err := s.Insert(ctx, schema.Users, schema.Record{"username": "admin123", "usernameNorm": "admin123"})
	require.NoError(t, err)
	require.Equal(t, int64(1), id)

	_, err = s.Insert(ctx, schema.Users, schema.Record{"username": "Admin123", "usernameNorm": "admin123"})
	require.ErrorIs(t, err, store.ErrConstraintViolation)

	// A failed insert must not burn a key.
	id, err = s.Insert(ctx, schema.Users, schema.Record{"username": "kasir123", "usernameNorm": "kasir123"})
	require.NoError(t, err)
	require.Equal(t, int64(2), id)
}

func TestMissingValuesAreNotIndexed(t *testing.T) {
	ctx := context.Background()
	s := migrated(t)
	for i := 0; i < 2; i++ {
		_, err := s.Insert(ctx, schema.Products, schema.Record{"name": "tanpa kode"})
		require.NoError(t, err)
	}
}

func TestUpdateMergesAndChecksUniques(t *testing.T) {
	ctx := context.Background()
	s := migrated(t)
	_, err := s.Insert(ctx, schema.Customers, schema.Record{"memberNo": "C001", "name": "Budi", "phone": "0812"})
	require.NoError(t, err)
	_, err = s.Insert(ctx, schema.Customers, schema.Record{"memberNo": "C002", "name": "Siti"})
	require.NoError(t, err)

	out, err := s.Update(ctx, schema.Customers, int64(1), schema.Record{"name": "Budi S", "id": int64(99)})
	require.NoError(t, err)
	require.Equal(t, "Budi S", out["name"])
	require.Equal(t, "0812", out["phone"])
	require.Equal(t, int64(1), out["id"])

	_, err = s.Update(ctx, schema.Customers, int64(2), schema.Record{"memberNo": "C001"})
	require.ErrorIs(t, err, store.ErrConstraintViolation)

	_, err = s.Update(ctx, schema.Customers, int64(42), schema.Record{"name": "x"})
	require.ErrorIs(t, err, store.ErrNotFound)

	got, err := s.GetBy(ctx, schema.Customers, "memberNo", "C002")
	require.NoError(t, err)
	require.Equal(t, "Siti", got["name"])
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := migrated(t)
	_, err := s.Insert(ctx, schema.Suppliers, schema.Record{"name": "Grosir"})
	require.NoError(t, err)

	rec, err := s.Get(ctx, schema.Suppliers, int64(1))
	require.NoError(t, err)
	rec["name"] = "mutated"

	again, err := s.Get(ctx, schema.Suppliers, int64(1))
	require.NoError(t, err)
	require.Equal(t, "Grosir", again["name"])
}

func TestAtomicRollsBackEveryWrite(t *testing.T) {
	ctx := context.Background()
	s := migrated(t)
	_, err := s.Insert(ctx, schema.Products, schema.Record{"code": "P001", "codeNorm": "P001", "stockQty": int64(10)})
	require.NoError(t, err)

	failure := errors.New("abort")
	err = s.Atomic(ctx, func(tx store.Tx) error {
		if _, err := tx.Update(ctx, schema.Products, int64(1), schema.Record{"stockQty": int64(8)}); err != nil {
			return err
		}
		if _, err := tx.Insert(ctx, schema.Transactions, schema.Record{"receiptNo": "TX-1"}); err != nil {
			return err
		}
		return failure
	})
	require.ErrorIs(t, err, failure)

	p, err := s.Get(ctx, schema.Products, int64(1))
	require.NoError(t, err)
	require.Equal(t, int64(10), p["stockQty"])

	txs, err := s.Find(ctx, schema.Transactions, store.Query{})
	require.NoError(t, err)
	require.Empty(t, txs)

	_, err = s.GetBy(ctx, schema.Transactions, "receiptNo", "TX-1")
	require.ErrorIs(t, err, store.ErrNotFound)

	id, err := s.Insert(ctx, schema.Transactions, schema.Record{"receiptNo": "TX-1"})
	require.NoError(t, err)
	require.Equal(t, int64(1), id)
}

func TestBulkInsertIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := migrated(t)
	_, err := s.BulkInsert(ctx, schema.Customers, []schema.Record{
		{"memberNo": "C001"},
		{"memberNo": "C002"},
		{"memberNo": "C001"},
	})
	require.ErrorIs(t, err, store.ErrConstraintViolation)

	all, err := s.Find(ctx, schema.Customers, store.Query{})
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestFindUsesIndexesAndFilters(t *testing.T) {
	ctx := context.Background()
	s := migrated(t)
	_, err := s.BulkInsert(ctx, schema.Products, []schema.Record{
		{"code": "P001", "name": "Kopi", "stockQty": int64(0), "archived": false},
		{"code": "P002", "name": "Teh", "stockQty": int64(5), "archived": false},
		{"code": "P003", "name": "Kopi Susu", "stockQty": int64(5), "archived": true},
	})
	require.NoError(t, err)

	active, err := s.Find(ctx, schema.Products, store.Query{Field: "archived", Value: false})
	require.NoError(t, err)
	require.Len(t, active, 2)
	require.Equal(t, "P001", active[0]["code"])

	inStock, err := s.Find(ctx, schema.Products, store.Query{Field: "stockQty", Value: 5})
	require.NoError(t, err)
	require.Len(t, inStock, 2)

	limited, err := s.Find(ctx, schema.Products, store.Query{Filter: func(r schema.Record) bool {
		return r["archived"] == false
	}, Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestStringKeyedCollections(t *testing.T) {
	ctx := context.Background()
	s := migrated(t)

	key, err := s.Insert(ctx, schema.Settings, schema.Record{"id": "app", "businessName": "Warung Kita"})
	require.NoError(t, err)
	require.Equal(t, "app", key)

	_, err = s.Insert(ctx, schema.Settings, schema.Record{"id": "app"})
	require.ErrorIs(t, err, store.ErrConstraintViolation)

	_, err = s.Insert(ctx, schema.Files, schema.Record{"kind": "LOGO"})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)

	_, err = s.Get(ctx, "ledger", int64(1))
	require.ErrorIs(t, err, store.ErrUnknownCollection)
}

func TestSnapshotSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "warungpos.json")

	s := migrated(t, WithSnapshotFile(path))
	_, err := s.Insert(ctx, schema.Products, schema.Record{
		"code": "P001", "codeNorm": "P001", "stockQty": int64(10),
		"price": 1.5,
	})
	require.NoError(t, err)
	_, err = s.Insert(ctx, schema.Transactions, schema.Record{
		"receiptNo": "TX-1",
		"items":     []any{map[string]any{"qty": int64(2)}},
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := New(WithSnapshotFile(path))
	require.NoError(t, err)
	v, err := reopened.SchemaVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, schema.Latest().Number, v)

	p, err := reopened.GetBy(ctx, schema.Products, "codeNorm", "P001")
	require.NoError(t, err)
	require.Equal(t, int64(10), p["stockQty"])
	require.Equal(t, 1.5, p["price"])

	tx, err := reopened.Get(ctx, schema.Transactions, int64(1))
	require.NoError(t, err)
	require.Equal(t, int64(2), tx["items"].([]any)[0].(map[string]any)["qty"])

	_, err = reopened.Insert(ctx, schema.Products, schema.Record{"code": "P001", "codeNorm": "P001"})
	require.ErrorIs(t, err, store.ErrConstraintViolation)

	id, err := reopened.Insert(ctx, schema.Products, schema.Record{"code": "P002"})
	require.NoError(t, err)
	require.Equal(t, int64(2), id)
}

func TestWriterFailsFastWhenLockIsHeld(t *testing.T) {
	ctx := context.Background()
	s := migrated(t, WithBusyTimeout(20*time.Millisecond))

	entered := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.Atomic(ctx, func(store.Tx) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	startedAt := time.Now()
	_, err := s.Insert(ctx, schema.Suppliers, schema.Record{"name": "Grosir"})
	require.ErrorIs(t, err, store.ErrStoreBusy)
	require.Less(t, time.Since(startedAt), time.Second)

	close(release)
	wg.Wait()

	_, err = s.Insert(ctx, schema.Suppliers, schema.Record{"name": "Grosir"})
	require.NoError(t, err)
}
