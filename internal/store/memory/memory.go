package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"warungpos/backend/internal/schema"
	"warungpos/backend/internal/store"
)

const defaultBusyTimeout = 2 * time.Second

// Store keeps every collection in process memory. When a snapshot path is
// configured the whole store is written to that file after each commit and
// read back on New.
type Store struct {
	mu          sync.RWMutex
	version     int
	collections map[string]*collection

	path        string
	busyTimeout time.Duration
	logger      *zap.SugaredLogger
}

type Option func(*Store)

func WithSnapshotFile(path string) Option {
	return func(s *Store) { s.path = path }
}

func WithBusyTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.busyTimeout = d
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

func New(opts ...Option) (*Store, error) {
	s := &Store{
		collections: make(map[string]*collection),
		busyTimeout: defaultBusyTimeout,
		logger:      zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.path != "" {
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) SchemaVersion(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version, nil
}

func (s *Store) ApplyVersion(ctx context.Context, v schema.Version) error {
	if err := s.lockWrite(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()

	next := make(map[string]*collection, len(v.Collections))
	for name, c := range s.collections {
		next[name] = c.clone()
	}
	for _, spec := range v.Collections {
		if _, ok := next[spec.Name]; !ok {
			next[spec.Name] = newCollection(spec)
		}
	}

	for _, t := range v.Upgrade {
		c := next[t.Collection]
		for _, k := range c.sortedKeys() {
			rec := c.records[k]
			out, err := t.Apply(rec.Clone())
			if err != nil {
				return fmt.Errorf("%s on %s/%s: %w", t.Name, t.Collection, k, err)
			}
			if out == nil {
				return fmt.Errorf("%s on %s/%s returned no record", t.Name, t.Collection, k)
			}
			out[schema.KeyField] = rec[schema.KeyField]
			c.records[k] = out
		}
	}

	for _, spec := range v.Collections {
		if err := next[spec.Name].rebuild(spec); err != nil {
			return err
		}
	}

	prevCollections, prevVersion := s.collections, s.version
	s.collections, s.version = next, v.Number
	if err := s.persist(); err != nil {
		s.collections, s.version = prevCollections, prevVersion
		return err
	}
	return nil
}

func (s *Store) Get(ctx context.Context, collection string, key any) (schema.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&memTx{s: s}).Get(ctx, collection, key)
}

func (s *Store) GetBy(ctx context.Context, collection string, field string, value any) (schema.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&memTx{s: s}).GetBy(ctx, collection, field, value)
}

func (s *Store) Find(ctx context.Context, collection string, q store.Query) ([]schema.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&memTx{s: s}).Find(ctx, collection, q)
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

// Atomic runs fn while holding the write lock. Readers are blocked for the
// duration, so they see the store either before or after fn. Every write is
// recorded in an undo log that is replayed backwards if fn fails.
func (s *Store) Atomic(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := s.lockWrite(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()

	tx := &memTx{s: s, writable: true}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	if len(tx.undo) == 0 {
		return nil
	}
	if err := s.persist(); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *Store) lockWrite(ctx context.Context) error {
	if s.mu.TryLock() {
		return nil
	}
	deadline := time.Now().Add(s.busyTimeout)
	wait := 50 * time.Microsecond
	for {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if s.mu.TryLock() {
			return nil
		}
		if time.Now().After(deadline) {
			s.logger.Warnw("write lock contention", "timeout", s.busyTimeout)
			return fmt.Errorf("%w: write lock not acquired within %s", store.ErrStoreBusy, s.busyTimeout)
		}
		if wait < 5*time.Millisecond {
			wait *= 2
		}
	}
}

func (s *Store) collection(name string) (*collection, error) {
	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownCollection, name)
	}
	return c, nil
}

// memTx operates on the live collections. The caller holds s.mu: a read lock
// for plain reads, the write lock when writable is set.
type memTx struct {
	s        *Store
	writable bool
	undo     []func()
}

func (t *memTx) Get(_ context.Context, collection string, key any) (schema.Record, error) {
	c, err := t.s.collection(collection)
	if err != nil {
		return nil, err
	}
	k, err := c.keyOf(key)
	if err != nil {
		return nil, err
	}
	rec, ok := c.records[k]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", store.ErrNotFound, collection, k)
	}
	return rec.Clone(), nil
}

func (t *memTx) GetBy(_ context.Context, collection string, field string, value any) (schema.Record, error) {
	c, err := t.s.collection(collection)
	if err != nil {
		return nil, err
	}
	found := c.find(store.Query{Field: field, Value: value, Limit: 1})
	if len(found) == 0 {
		return nil, fmt.Errorf("%w: %s where %s=%v", store.ErrNotFound, collection, field, value)
	}
	return found[0], nil
}

func (t *memTx) Find(_ context.Context, collection string, q store.Query) ([]schema.Record, error) {
	c, err := t.s.collection(collection)
	if err != nil {
		return nil, err
	}
	return c.find(q), nil
}

func (t *memTx) Insert(_ context.Context, collection string, rec schema.Record) (any, error) {
	if !t.writable {
		return nil, fmt.Errorf("insert outside a write scope")
	}
	c, err := t.s.collection(collection)
	if err != nil {
		return nil, err
	}

	doc := rec.Clone()
	if doc == nil {
		doc = schema.Record{}
	}
	prevSeq := c.seq
	var key any
	var k string
	if c.spec.AutoIncrement {
		id := c.seq + 1
		key, k = id, strconv.FormatInt(id, 10)
	} else {
		k, err = c.keyOf(doc[schema.KeyField])
		if err != nil {
			return nil, err
		}
		if _, exists := c.records[k]; exists {
			return nil, fmt.Errorf("%w: %s key %q already exists", store.ErrConstraintViolation, collection, k)
		}
		key = k
	}
	doc[schema.KeyField] = key
	if err := c.checkUnique(doc, k); err != nil {
		return nil, err
	}

	if c.spec.AutoIncrement {
		c.seq++
	}
	c.put(k, doc)
	t.undo = append(t.undo, func() {
		c.remove(k)
		c.seq = prevSeq
	})
	return key, nil
}

func (t *memTx) Update(_ context.Context, collection string, key any, patch schema.Record) (schema.Record, error) {
	if !t.writable {
		return nil, fmt.Errorf("update outside a write scope")
	}
	c, err := t.s.collection(collection)
	if err != nil {
		return nil, err
	}
	k, err := c.keyOf(key)
	if err != nil {
		return nil, err
	}
	old, ok := c.records[k]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", store.ErrNotFound, collection, k)
	}

	merged := old.Clone()
	for field, v := range patch.Clone() {
		if field == schema.KeyField {
			continue
		}
		merged[field] = v
	}
	if err := c.checkUnique(merged, k); err != nil {
		return nil, err
	}

	c.remove(k)
	c.put(k, merged)
	t.undo = append(t.undo, func() {
		c.remove(k)
		c.put(k, old)
	})
	return merged.Clone(), nil
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}
