package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/EagleChen/mapmutex"
	"github.com/go-playground/validator/v10"
	lru "github.com/hashicorp/golang-lru"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"warungpos/backend/internal/auth"
	"warungpos/backend/internal/cache"
	"warungpos/backend/internal/metrics"
	"warungpos/backend/internal/migrate"
	"warungpos/backend/internal/schema"
	"warungpos/backend/internal/store"
)

// timeLayout is the stored form of every timestamp.
const timeLayout = time.RFC3339Nano

var (
	ErrForbidden          = errors.New("admin role required")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

type Options struct {
	Logger  *zap.SugaredLogger
	Metrics *metrics.Metrics
	// Locker serializes migrations across processes sharing one database.
	Locker           migrate.Locker
	Verifier         auth.PasswordVerifier
	SettingsCache    cache.SettingsCache
	SettingsCacheTTL time.Duration
	FileCacheSize    int
	// BusyTimeout bounds how long a sale waits for the per-product locks.
	BusyTimeout    time.Duration
	ReportLocation *time.Location
	Now            func() time.Time
}

type Service struct {
	store    store.Backend
	logger   *zap.SugaredLogger
	metrics  *metrics.Metrics
	verifier auth.PasswordVerifier
	validate *validator.Validate

	settings    cache.SettingsCache
	settingsTTL time.Duration
	files       *lru.ARCCache

	productLocks *mapmutex.Mutex
	location     *time.Location
	now          func() time.Time
}

// Open brings the backend to the latest schema version and returns a
// service bound to it. A failed migration is returned as a
// *migrate.MigrationError and no service is created.
func Open(ctx context.Context, backend store.Backend, opts Options) (*Service, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(prometheus.NewRegistry())
	}
	if opts.Verifier == nil {
		opts.Verifier = auth.Plaintext{}
	}
	if opts.SettingsCache == nil {
		opts.SettingsCache = cache.NoopSettingsCache{}
	}
	if opts.SettingsCacheTTL <= 0 {
		opts.SettingsCacheTTL = time.Minute
	}
	if opts.FileCacheSize <= 0 {
		opts.FileCacheSize = 128
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 2 * time.Second
	}
	if opts.ReportLocation == nil {
		loc, err := time.LoadLocation("Asia/Jakarta")
		if err != nil {
			loc = time.FixedZone("WIB", 7*60*60)
		}
		opts.ReportLocation = loc
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	runner := migrate.NewRunner(
		schema.Versions(),
		migrate.WithLocker(opts.Locker),
		migrate.WithLogger(opts.Logger.Named("migrate")),
		migrate.OnApplied(func(v int) { opts.Metrics.SchemaVersion.Set(float64(v)) }),
	)
	version, err := runner.Run(ctx, backend)
	if err != nil {
		return nil, err
	}
	opts.Metrics.SchemaVersion.Set(float64(version))

	files, err := lru.NewARC(opts.FileCacheSize)
	if err != nil {
		return nil, fmt.Errorf("file cache: %w", err)
	}

	if opts.Verifier.Name() == auth.SchemePlaintext {
		opts.Logger.Warnw("passwords are stored and compared in plaintext; set PASSWORD_HASHING=bcrypt to hash them")
	}

	return &Service{
		store:        backend,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		verifier:     opts.Verifier,
		validate:     validator.New(),
		settings:     opts.SettingsCache,
		settingsTTL:  opts.SettingsCacheTTL,
		files:        files,
		productLocks: newKeyedLocks(opts.BusyTimeout),
		location:     opts.ReportLocation,
		now:          opts.Now,
	}, nil
}

// newKeyedLocks sizes the mapmutex retry budget so TryLock gives up after
// roughly timeout.
func newKeyedLocks(timeout time.Duration) *mapmutex.Mutex {
	const maxDelay = 10 * time.Millisecond
	retries := int(timeout / maxDelay)
	if retries < 1 {
		retries = 1
	}
	return mapmutex.NewCustomizedMapMutex(retries, float64(maxDelay.Nanoseconds()), 1000, 1.5, 0.2)
}

// lockProducts takes the in-process lock of every id in ascending order and
// returns a function releasing them all.
func (s *Service) lockProducts(ids []int64) (func(), error) {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	held := make([]int64, 0, len(sorted))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			s.productLocks.Unlock(held[i])
		}
	}
	for _, id := range sorted {
		if !s.productLocks.TryLock(id) {
			release()
			return nil, fmt.Errorf("%w: product %d is locked by another sale", store.ErrStoreBusy, id)
		}
		held = append(held, id)
	}
	return release, nil
}

func (s *Service) validateRequest(req any) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidTransaction, err)
	}
	return nil
}

func (s *Service) observeBusy(err error) {
	if errors.Is(err, store.ErrStoreBusy) {
		s.metrics.StoreBusy.Inc()
	}
}

func (s *Service) Close() error {
	return s.store.Close()
}

// Ping reports whether the backend answers reads.
func (s *Service) Ping(ctx context.Context) error {
	_, err := s.store.SchemaVersion(ctx)
	return err
}
