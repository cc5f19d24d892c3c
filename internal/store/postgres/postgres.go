// Package postgres stores every collection as a table of JSONB documents.
//
// Each collection maps to a table (id, doc) where id is a BIGSERIAL for
// auto-increment collections and TEXT otherwise. Unique and indexed fields
// become expression indexes on doc->>'field'. The applied schema version is
// kept in schema_migrations.
package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"warungpos/backend/internal/schema"
	"warungpos/backend/internal/store"
)

const defaultLockTimeout = 2 * time.Second

type Store struct {
	db          *sql.DB
	lockTimeout time.Duration
	logger      *zap.SugaredLogger

	mu      sync.RWMutex
	version int
	specs   map[string]schema.Collection
}

type Option func(*Store)

// WithLockTimeout bounds how long a write waits for a row lock before it
// fails with store.ErrStoreBusy.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(ctx context.Context, databaseURL string, opts ...Option) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db:          db,
		lockTimeout: defaultLockTimeout,
		logger:      zap.NewNop().Sugar(),
		specs:       map[string]schema.Collection{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.bootstrap(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) bootstrap(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	version, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	s.setVersion(version)
	return nil
}

func (s *Store) setVersion(version int) {
	specs := map[string]schema.Collection{}
	if v, ok := schema.Lookup(version); ok {
		for _, c := range v.Collections {
			specs[c.Name] = c
		}
	}
	s.mu.Lock()
	s.version, s.specs = version, specs
	s.mu.Unlock()
}

func (s *Store) spec(name string) (schema.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.specs[name]
	if !ok {
		return schema.Collection{}, fmt.Errorf("%w: %s", store.ErrUnknownCollection, name)
	}
	return c, nil
}

func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

func (s *Store) Get(ctx context.Context, collection string, key any) (schema.Record, error) {
	return (&docTx{s: s, q: s.db}).Get(ctx, collection, key)
}

func (s *Store) GetBy(ctx context.Context, collection string, field string, value any) (schema.Record, error) {
	return (&docTx{s: s, q: s.db}).GetBy(ctx, collection, field, value)
}

func (s *Store) Find(ctx context.Context, collection string, q store.Query) ([]schema.Record, error) {
	return (&docTx{s: s, q: s.db}).Find(ctx, collection, q)
}

func (s *Store) Insert(ctx context.Context, collection string, rec schema.Record) (any, error) {
	var key any
	err := s.Atomic(ctx, func(tx store.Tx) error {
		var err error
		key, err = tx.Insert(ctx, collection, rec)
		return err
	})
	return key, err
}

func (s *Store) Update(ctx context.Context, collection string, key any, patch schema.Record) (schema.Record, error) {
	var out schema.Record
	err := s.Atomic(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.Update(ctx, collection, key, patch)
		return err
	})
	return out, err
}

func (s *Store) BulkInsert(ctx context.Context, collection string, recs []schema.Record) ([]any, error) {
	keys := make([]any, 0, len(recs))
	err := s.Atomic(ctx, func(tx store.Tx) error {
		for _, rec := range recs {
			key, err := tx.Insert(ctx, collection, rec)
			if err != nil {
				return err
			}
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// Atomic runs fn inside one serializable transaction. Records read with Get
// or GetBy are locked until commit; a lock that cannot be taken within the
// lock timeout aborts the transaction with store.ErrStoreBusy.
func (s *Store) Atomic(ctx context.Context, fn func(tx store.Tx) error) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = pgTx.Rollback() }()

	if _, err := pgTx.ExecContext(ctx, fmt.Sprintf(`SET LOCAL lock_timeout = '%dms'`, s.lockTimeout.Milliseconds())); err != nil {
		return err
	}
	if err := fn(&docTx{s: s, q: pgTx, forUpdate: true}); err != nil {
		return mapError(err)
	}
	if err := pgTx.Commit(); err != nil {
		return mapError(err)
	}
	return nil
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type docTx struct {
	s         *Store
	q         queryer
	forUpdate bool
}

func (t *docTx) lockClause() string {
	if t.forUpdate {
		return " FOR UPDATE"
	}
	return ""
}

func (t *docTx) Get(ctx context.Context, collection string, key any) (schema.Record, error) {
	spec, err := t.s.spec(collection)
	if err != nil {
		return nil, err
	}
	id, err := keyArg(spec, key)
	if err != nil {
		return nil, err
	}
	row := t.q.QueryRowContext(ctx, fmt.Sprintf(`SELECT id, doc FROM %s WHERE id = $1%s`, ident(collection), t.lockClause()), id)
	rec, err := scanRecord(spec, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%v", store.ErrNotFound, collection, key)
	}
	if err != nil {
		return nil, mapError(err)
	}
	return rec, nil
}

func (t *docTx) GetBy(ctx context.Context, collection string, field string, value any) (schema.Record, error) {
	spec, err := t.s.spec(collection)
	if err != nil {
		return nil, err
	}
	recs, err := t.find(ctx, spec, store.Query{Field: field, Value: value, Limit: 1}, t.lockClause())
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: %s where %s=%v", store.ErrNotFound, collection, field, value)
	}
	return recs[0], nil
}

func (t *docTx) Find(ctx context.Context, collection string, q store.Query) ([]schema.Record, error) {
	spec, err := t.s.spec(collection)
	if err != nil {
		return nil, err
	}
	return t.find(ctx, spec, q, "")
}

func (t *docTx) find(ctx context.Context, spec schema.Collection, q store.Query, lock string) ([]schema.Record, error) {
	var (
		query strings.Builder
		args  []any
	)
	fmt.Fprintf(&query, `SELECT id, doc FROM %s`, ident(spec.Name))
	if q.Field != "" {
		if q.Field == schema.KeyField {
			id, err := keyArg(spec, q.Value)
			if err != nil {
				return nil, nil
			}
			query.WriteString(` WHERE id = $1`)
			args = append(args, id)
		} else if v, ok := store.IndexKey(q.Value); ok {
			fmt.Fprintf(&query, ` WHERE %s = $1`, fieldExpr(q.Field))
			args = append(args, v)
		} else if spec.IsIndexed(q.Field) {
			return nil, nil
		}
	}
	query.WriteString(` ORDER BY id`)
	if q.Limit > 0 && q.Filter == nil {
		fmt.Fprintf(&query, ` LIMIT %d`, q.Limit)
	}
	query.WriteString(lock)

	rows, err := t.q.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := make([]schema.Record, 0, 16)
	for rows.Next() {
		rec, err := scanRecord(spec, rows)
		if err != nil {
			return nil, err
		}
		if !q.Match(rec) {
			continue
		}
		out = append(out, rec)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func (t *docTx) Insert(ctx context.Context, collection string, rec schema.Record) (any, error) {
	spec, err := t.s.spec(collection)
	if err != nil {
		return nil, err
	}
	doc, err := encodeDoc(rec)
	if err != nil {
		return nil, err
	}

	if spec.AutoIncrement {
		var id int64
		err := t.q.QueryRowContext(ctx, fmt.Sprintf(`INSERT INTO %s (doc) VALUES ($1::jsonb) RETURNING id`, ident(collection)), doc).Scan(&id)
		if err != nil {
			return nil, mapError(err)
		}
		return id, nil
	}

	id, err := keyArg(spec, rec[schema.KeyField])
	if err != nil {
		return nil, err
	}
	if _, err := t.q.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (id, doc) VALUES ($1, $2::jsonb)`, ident(collection)), id, doc); err != nil {
		return nil, mapError(err)
	}
	return id, nil
}

func (t *docTx) Update(ctx context.Context, collection string, key any, patch schema.Record) (schema.Record, error) {
	spec, err := t.s.spec(collection)
	if err != nil {
		return nil, err
	}
	id, err := keyArg(spec, key)
	if err != nil {
		return nil, err
	}
	doc, err := encodeDoc(patch)
	if err != nil {
		return nil, err
	}
	row := t.q.QueryRowContext(ctx, fmt.Sprintf(`UPDATE %s SET doc = doc || $2::jsonb WHERE id = $1 RETURNING id, doc`, ident(collection)), id, doc)
	rec, err := scanRecord(spec, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%v", store.ErrNotFound, collection, key)
	}
	if err != nil {
		return nil, mapError(err)
	}
	return rec, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(spec schema.Collection, row scanner) (schema.Record, error) {
	var (
		intID  int64
		textID string
		raw    []byte
		err    error
	)
	if spec.AutoIncrement {
		err = row.Scan(&intID, &raw)
	} else {
		err = row.Scan(&textID, &raw)
	}
	if err != nil {
		return nil, err
	}
	rec, err := decodeDoc(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s document: %w", spec.Name, err)
	}
	if spec.AutoIncrement {
		rec[schema.KeyField] = intID
	} else {
		rec[schema.KeyField] = textID
	}
	return rec, nil
}

// encodeDoc serializes rec without its key; the key lives in the id column.
func encodeDoc(rec schema.Record) ([]byte, error) {
	doc := make(schema.Record, len(rec))
	for k, v := range rec {
		if k == schema.KeyField {
			continue
		}
		doc[k] = v
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: encode document: %v", store.ErrInvalidTransaction, err)
	}
	return raw, nil
}

func decodeDoc(raw []byte) (schema.Record, error) {
	rec := schema.Record{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}
	return schema.Normalize(rec), nil
}

func keyArg(spec schema.Collection, key any) (any, error) {
	if spec.AutoIncrement {
		return store.IntKey(key)
	}
	s, ok := key.(string)
	if !ok || s == "" {
		return nil, fmt.Errorf("%w: %s requires a string key", store.ErrInvalidTransaction, spec.Name)
	}
	return s, nil
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func fieldExpr(field string) string {
	return "(doc->>'" + strings.ReplaceAll(field, "'", "''") + "')"
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		return fmt.Errorf("%w: %s", store.ErrConstraintViolation, pgErr.ConstraintName)
	case "40001", "40P01":
		return fmt.Errorf("%w: %s", store.ErrWriteConflict, pgErr.Message)
	case "55P03":
		return fmt.Errorf("%w: %s", store.ErrStoreBusy, pgErr.Message)
	}
	return err
}
