// Package migrate brings a store from its persisted schema version to the
// latest declared one.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"warungpos/backend/internal/schema"
)

var ErrNewerSchema = errors.New("store was written by a newer schema")

// MigrationError reports the version that could not be applied. The store is
// left at the version before it.
type MigrationError struct {
	Version int
	Err     error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migrate to schema version %d: %v", e.Version, e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}

// Target is the part of a backend the runner drives.
type Target interface {
	SchemaVersion(ctx context.Context) (int, error)
	ApplyVersion(ctx context.Context, v schema.Version) error
}

// Locker serializes runners that share one database.
type Locker interface {
	Lock(ctx context.Context) (unlock func(context.Context) error, err error)
}

type NoopLocker struct{}

func (NoopLocker) Lock(context.Context) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}

type Runner struct {
	versions  []schema.Version
	locker    Locker
	logger    *zap.SugaredLogger
	onApplied func(version int)
}

type Option func(*Runner)

func WithLocker(l Locker) Option {
	return func(r *Runner) {
		if l != nil {
			r.locker = l
		}
	}
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// OnApplied registers a hook called after each version commits.
func OnApplied(fn func(version int)) Option {
	return func(r *Runner) { r.onApplied = fn }
}

func NewRunner(versions []schema.Version, opts ...Option) *Runner {
	r := &Runner{
		versions: versions,
		locker:   NoopLocker{},
		logger:   zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run applies every version after the persisted one, in order, and returns
// the version the store ends at.
func (r *Runner) Run(ctx context.Context, target Target) (int, error) {
	if err := schema.Validate(r.versions); err != nil {
		return 0, &MigrationError{Err: err}
	}
	latest := r.versions[len(r.versions)-1].Number

	unlock, err := r.locker.Lock(ctx)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			r.logger.Warnw("release migration lock", "error", err)
		}
	}()

	current, err := target.SchemaVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if current > latest {
		return current, &MigrationError{Version: current, Err: fmt.Errorf("%w: at %d, latest known %d", ErrNewerSchema, current, latest)}
	}
	if current == latest {
		r.logger.Debugw("schema up to date", "version", current)
		return current, nil
	}

	r.logger.Infow("migrating schema", "from", current, "to", latest)
	for _, v := range r.versions[current:] {
		startedAt := time.Now()
		if err := target.ApplyVersion(ctx, v); err != nil {
			r.logger.Errorw("schema migration failed", "version", v.Number, "error", err)
			return current, &MigrationError{Version: v.Number, Err: err}
		}
		current = v.Number
		r.logger.Infow("schema version applied", "version", v.Number, "transforms", len(v.Upgrade), "took", time.Since(startedAt))
		if r.onApplied != nil {
			r.onApplied(v.Number)
		}
	}
	return current, nil
}
