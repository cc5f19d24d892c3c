package store

import (
	"context"
	"errors"
	"fmt"

	"warungpos/backend/internal/schema"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrConstraintViolation = errors.New("constraint violation")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrInvalidTransaction  = errors.New("invalid transaction")
	ErrStoreBusy           = errors.New("store busy")
	ErrUnknownCollection   = errors.New("unknown collection")

	// ErrWriteConflict is a busy condition where the losing transaction was
	// aborted and may simply be run again.
	ErrWriteConflict = fmt.Errorf("%w: write conflict", ErrStoreBusy)
)

// Query selects records of one collection. Field/Value is an equality match,
// served from an index when the field is indexed. Filter, when set, is
// applied afterwards. Results are ordered by key.
type Query struct {
	Field  string
	Value  any
	Filter func(schema.Record) bool
	Limit  int
}

func (q Query) Match(rec schema.Record) bool {
	if q.Field != "" && !ValueEqual(rec[q.Field], q.Value) {
		return false
	}
	return q.Filter == nil || q.Filter(rec)
}

// Reader is the read half of the record store contract.
type Reader interface {
	Get(ctx context.Context, collection string, key any) (schema.Record, error)
	// GetBy returns the first record whose field equals value. It is meant for
	// unique fields.
	GetBy(ctx context.Context, collection string, field string, value any) (schema.Record, error)
	Find(ctx context.Context, collection string, q Query) ([]schema.Record, error)
}

// Tx is the view of the store handed to an Atomic callback. Writes made
// through it become visible together when the callback returns nil and are
// discarded otherwise.
type Tx interface {
	Reader
	// Insert stores rec and returns its key. Auto-increment collections
	// ignore any key in rec; the others require a string key.
	Insert(ctx context.Context, collection string, rec schema.Record) (any, error)
	// Update merges patch into the stored record and returns the result.
	Update(ctx context.Context, collection string, key any, patch schema.Record) (schema.Record, error)
}

// Backend is a persistence implementation of the record store. Single
// operations outside Atomic are applied atomically on their own.
type Backend interface {
	Tx
	BulkInsert(ctx context.Context, collection string, recs []schema.Record) ([]any, error)
	Atomic(ctx context.Context, fn func(tx Tx) error) error

	SchemaVersion(ctx context.Context) (int, error)
	// ApplyVersion moves the store to v in one atomic scope: collection and
	// index declarations, every transform of v and the version marker.
	ApplyVersion(ctx context.Context, v schema.Version) error
	Close() error
}
