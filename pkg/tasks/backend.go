package tasks

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/msgvis/msgvis/pkg/cache"
	"github.com/msgvis/msgvis/pkg/config"
	"github.com/msgvis/msgvis/pkg/database"
	"github.com/msgvis/msgvis/pkg/fixtures"
	"github.com/msgvis/msgvis/pkg/importer"
	"github.com/msgvis/msgvis/pkg/logging"
	"github.com/msgvis/msgvis/pkg/models"
	"github.com/msgvis/msgvis/pkg/remote"
	"github.com/msgvis/msgvis/pkg/repositories"
	"github.com/msgvis/msgvis/pkg/retry"
	"github.com/msgvis/msgvis/pkg/server"
	"github.com/msgvis/msgvis/pkg/services"
	"github.com/msgvis/msgvis/pkg/workerpool"
)

// Backend is the in-process side of the task runner: everything that talks
// to PostgreSQL or Redis.
type Backend interface {
	// Migrate applies pending migrations and returns the resulting schema version.
	Migrate(ctx context.Context) (uint, error)
	ResetDB(ctx context.Context) error
	CheckDatabase(ctx context.Context) error

	DumpFixtures(ctx context.Context, selected []*fixtures.Model) ([]fixtures.Object, error)
	LoadFixtures(ctx context.Context, objs []fixtures.Object, sync bool) (*fixtures.LoadResult, error)

	Import(ctx context.Context, datasetName, path string) (*models.ImportRun, error)
	RecomputeFlags(ctx context.Context, datasetID int64) (int64, error)
	FlushCache(ctx context.Context) (int64, error)

	// Serve runs the explorer API on addr until ctx is done.
	Serve(ctx context.Context, addr string) error
	Close()
}

// RemoteSession runs commands on the deployment host.
type RemoteSession interface {
	Run(ctx context.Context, cmd string) error
	Output(ctx context.Context, cmd string) (string, error)
	Close() error
}

// Dialer opens a RemoteSession.
type Dialer func(ctx context.Context, cfg remote.Config) (RemoteSession, error)

// SSHDialer dials real SSH connections.
func SSHDialer(logger *zap.Logger) Dialer {
	return func(ctx context.Context, cfg remote.Config) (RemoteSession, error) {
		return remote.Dial(ctx, cfg, logger)
	}
}

// AppBackend implements Backend against the configured database. The pool is
// opened on first use so tasks that never touch the database work without one.
type AppBackend struct {
	cfg    *config.Config
	logger *zap.Logger

	mu    sync.Mutex
	db    *database.DB
	cache *cache.RedisCache
}

// NewAppBackend creates a backend for cfg.
func NewAppBackend(cfg *config.Config, logger *zap.Logger) *AppBackend {
	return &AppBackend{cfg: cfg, logger: logger.Named("backend")}
}

var _ Backend = (*AppBackend)(nil)

// connect opens the pool once, retrying transient connection failures.
func (b *AppBackend) connect(ctx context.Context) (*database.DB, error) {
	return b.connectWith(ctx, retry.ConnectConfig())
}

func (b *AppBackend) connectWith(ctx context.Context, policy *retry.Config) (*database.DB, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db != nil {
		return b.db, nil
	}

	connStr := b.cfg.Database.ConnectionString()
	b.logger.Debug("Connecting to database", zap.String("dsn", logging.SanitizeConnectionString(connStr)))

	var db *database.DB
	err := retry.DoIfRetryable(ctx, policy, func() error {
		var err error
		db, err = database.NewConnection(ctx, &database.Config{
			URL:            connStr,
			MaxConnections: b.cfg.Database.MaxConnections,
		})
		if err != nil {
			b.logger.Debug("Database connection attempt failed", zap.String("error", logging.SanitizeError(err)))
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	b.db = db
	return db, nil
}

// cacheClient returns the explorer cache, or nil when Redis is not configured.
func (b *AppBackend) cacheClient(ctx context.Context) (*cache.RedisCache, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cache == nil {
		c, err := cache.Connect(ctx, &b.cfg.Redis)
		if err != nil || c == nil {
			return nil, err
		}
		b.cache = c
	}
	return b.cache, nil
}

func (b *AppBackend) Migrate(ctx context.Context) (uint, error) {
	sqlDB, err := database.OpenSQL(b.cfg.Database.ConnectionString())
	if err != nil {
		return 0, err
	}
	defer sqlDB.Close()

	path := b.cfg.Path(b.cfg.MigrationsPath)
	if err := database.RunMigrations(sqlDB, path, b.logger); err != nil {
		return 0, err
	}
	version, _, err := database.MigrationVersion(sqlDB, path, b.logger)
	return version, err
}

func (b *AppBackend) ResetDB(ctx context.Context) error {
	sqlDB, err := database.OpenSQL(b.cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to reach database: %w", err)
	}
	return database.DropAll(sqlDB, b.cfg.Path(b.cfg.MigrationsPath), b.logger)
}

// CheckDatabase makes a single connection attempt.
func (b *AppBackend) CheckDatabase(ctx context.Context) error {
	db, err := b.connectWith(ctx, retry.SingleAttempt())
	if err != nil {
		return err
	}
	return db.Ping(ctx)
}

func (b *AppBackend) fixtureStore(ctx context.Context) (*fixtures.Store, error) {
	db, err := b.connect(ctx)
	if err != nil {
		return nil, err
	}
	return fixtures.NewStore(db, fixtures.CorpusRegistry(), b.logger), nil
}

func (b *AppBackend) DumpFixtures(ctx context.Context, selected []*fixtures.Model) ([]fixtures.Object, error) {
	store, err := b.fixtureStore(ctx)
	if err != nil {
		return nil, err
	}
	return store.Dump(ctx, selected)
}

func (b *AppBackend) LoadFixtures(ctx context.Context, objs []fixtures.Object, sync bool) (*fixtures.LoadResult, error) {
	store, err := b.fixtureStore(ctx)
	if err != nil {
		return nil, err
	}
	if sync {
		return store.Sync(ctx, objs)
	}
	return store.Load(ctx, objs)
}

func (b *AppBackend) Import(ctx context.Context, datasetName, path string) (*models.ImportRun, error) {
	db, err := b.connect(ctx)
	if err != nil {
		return nil, err
	}

	pool := workerpool.New(workerpool.Config{
		MaxConcurrent: b.cfg.Importer.Workers,
		PerSecond:     b.cfg.Importer.MaxRowsPerSecond,
	}, b.logger)

	imp := importer.New(db,
		repositories.NewDatasetRepository(),
		repositories.NewPersonRepository(),
		repositories.NewMessageRepository(),
		repositories.NewLookupRepository(),
		pool, b.logger)

	return imp.ImportFile(ctx, path, importer.Options{
		DatasetName:  datasetName,
		MaxLineBytes: b.cfg.Importer.MaxLineBytes,
	})
}

func (b *AppBackend) RecomputeFlags(ctx context.Context, datasetID int64) (int64, error) {
	db, err := b.connect(ctx)
	if err != nil {
		return 0, err
	}

	var updated int64
	err = db.InTx(ctx, func(ctx context.Context) error {
		if _, err := repositories.NewDatasetRepository().GetByID(ctx, datasetID); err != nil {
			return err
		}
		n, err := repositories.NewMessageRepository().RefreshFlags(ctx, datasetID)
		updated = n
		return err
	})
	return updated, err
}

func (b *AppBackend) FlushCache(ctx context.Context) (int64, error) {
	c, err := b.cacheClient(ctx)
	if err != nil || c == nil {
		return 0, err
	}
	return c.Flush(ctx)
}

func (b *AppBackend) Serve(ctx context.Context, addr string) error {
	db, err := b.connect(ctx)
	if err != nil {
		return err
	}

	var explorerCache cache.Cache
	c, err := b.cacheClient(ctx)
	switch {
	case err != nil:
		b.logger.Warn("Explorer cache unavailable, serving without it", zap.Error(err))
	case c != nil:
		explorerCache = c
	}

	explorer := services.NewExplorerService(
		repositories.NewDatasetRepository(),
		repositories.NewPersonRepository(),
		repositories.NewMessageRepository(),
		explorerCache,
		b.logger)

	handler := server.NewHandler(server.Deps{
		Config:   b.cfg,
		DB:       db,
		Scope:    database.WithRequestScope(db, b.logger),
		Explorer: explorer,
		Logger:   b.logger,
	})
	return server.New(addr, handler, b.logger).Run(ctx)
}

// Close releases the pool and the Redis client.
func (b *AppBackend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db != nil {
		b.db.Close()
		b.db = nil
	}
	if b.cache != nil {
		if err := b.cache.Close(); err != nil {
			b.logger.Warn("Failed to close explorer cache", zap.Error(err))
		}
		b.cache = nil
	}
}
