package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/httplog/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/vadimbarashkov/shortly/internal/adapter/repository/cached"
	"github.com/vadimbarashkov/shortly/internal/adapter/repository/memory"
	"github.com/vadimbarashkov/shortly/internal/adapter/repository/sqlstore"
	"github.com/vadimbarashkov/shortly/internal/config"
	"github.com/vadimbarashkov/shortly/internal/entity"
	"github.com/vadimbarashkov/shortly/internal/metrics"
	"github.com/vadimbarashkov/shortly/internal/usecase"
	"github.com/vadimbarashkov/shortly/migrations"
	"github.com/vadimbarashkov/shortly/pkg/postgres"
	"github.com/vadimbarashkov/shortly/pkg/sqlite"

	delivery "github.com/vadimbarashkov/shortly/internal/adapter/delivery/http"
)

type urlRepository interface {
	Save(ctx context.Context, url *entity.URL) (*entity.URL, error)
	RetrieveByShortCode(ctx context.Context, shortCode string) (*entity.URL, error)
	RetrieveActiveByShortCode(ctx context.Context, shortCode string, now time.Time) (*entity.URL, error)
	IncrementClicks(ctx context.Context, shortCode string, id int64) (int64, error)
	RetrieveAll(ctx context.Context) ([]*entity.URL, error)
	Remove(ctx context.Context, shortCode string) (bool, error)
	AggregateStats(ctx context.Context, since time.Time) (*entity.Stats, error)
	RetrieveTop(ctx context.Context, since time.Time, limit int) ([]*entity.URL, error)
	ClicksOverTime(ctx context.Context, since time.Time, bucket entity.Bucket) ([]entity.ClicksPoint, error)
}

// NewLogger builds the service logger from the log section of cfg.
func NewLogger(cfg *config.Config, w io.Writer) *httplog.Logger {
	return httplog.NewLogger("shortly", httplog.Options{
		Writer:   w,
		JSON:     cfg.Log.JSON,
		Concise:  !cfg.Log.JSON,
		LogLevel: httplog.LevelByName(cfg.Log.Level),
		Tags: map[string]string{
			"env": cfg.Env,
		},
	})
}

func Run(ctx context.Context, cfg *config.Config) error {
	const op = "app.Run"

	logger := NewLogger(cfg, os.Stdout)
	m := metrics.New()

	urlRepo, closeRepo, err := newURLRepository(ctx, cfg, logger.Logger, m)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer closeRepo()

	codeGen := usecase.NewCodeGenerator(
		urlRepo,
		usecase.WithCodeLength(cfg.ShortCode.Length),
		usecase.WithMaxAttempts(cfg.ShortCode.MaxAttempts),
		usecase.WithAlphabet(cfg.ShortCode.Alphabet),
	)
	urlUseCase := usecase.New(urlRepo, codeGen)

	routerOpts := []delivery.RouterOption{delivery.WithMetrics(m)}
	if cfg.Env != config.EnvDev {
		routerOpts = append(routerOpts, delivery.WithShortDomain(cfg.ShortDomain))
	}

	server := &http.Server{
		Addr:           cfg.HTTPServer.Addr(),
		Handler:        delivery.NewRouter(logger, urlUseCase, routerOpts...),
		ReadTimeout:    cfg.HTTPServer.ReadTimeout,
		WriteTimeout:   cfg.HTTPServer.WriteTimeout,
		IdleTimeout:    cfg.HTTPServer.IdleTimeout,
		MaxHeaderBytes: cfg.HTTPServer.MaxHeaderBytes,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting server",
			slog.String("addr", server.Addr),
			slog.String("storage", cfg.Storage.Driver),
			slog.Bool("cache", cfg.Cache.Enabled),
		)

		var err error

		switch cfg.Env {
		case config.EnvProd:
			err = server.ListenAndServeTLS(cfg.HTTPServer.CertFile, cfg.HTTPServer.KeyFile)
		default:
			err = server.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s: server error occurred: %w", op, err)
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("%s: failed to shutdown server: %w", op, err)
		}

		return nil
	})

	return g.Wait()
}

// newURLRepository opens the configured store, applies migrations and wraps
// it with the cache when enabled. The returned func releases everything opened.
func newURLRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (urlRepository, func(), error) {
	var (
		repo    urlRepository
		closers []func()
	)

	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch cfg.Storage.Driver {
	case config.StorageMemory:
		repo = memory.NewURLRepository()

	case config.StoragePostgres:
		db, err := postgres.New(
			ctx,
			cfg.Postgres.DSN(),
			postgres.WithConnMaxIdleTime(cfg.Postgres.ConnMaxIdleTime),
			postgres.WithConnMaxLifetime(cfg.Postgres.ConnMaxLifetime),
			postgres.WithMaxIdleConns(cfg.Postgres.MaxIdleConns),
			postgres.WithMaxOpenConns(cfg.Postgres.MaxOpenConns),
			postgres.WithConnectRetry(cfg.Postgres.ConnectAttempts, 2*time.Second),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		closers = append(closers, func() { db.Close() })

		if err := migrations.Up(migrations.DialectPostgres, cfg.Postgres.DSN()); err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}

		repo = sqlstore.NewURLRepository(db)

	case config.StorageSQLite:
		db, err := sqlite.New(ctx, cfg.SQLite.Path, sqlite.WithBusyTimeout(cfg.SQLite.BusyTimeout))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		closers = append(closers, func() { db.Close() })

		if err := migrations.Up(migrations.DialectSQLite, sqlite.MigrateURL(cfg.SQLite.Path)); err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}

		repo = sqlstore.NewURLRepository(db)

	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	if !cfg.Cache.Enabled {
		return repo, closeAll, nil
	}

	cacheOpts := []cached.Option{
		cached.WithTTL(cfg.Cache.TTL),
		cached.WithMaxItems(cfg.Cache.MaxItems),
		cached.WithMetrics(m),
		cached.WithLogger(logger),
	}

	if cfg.Cache.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		closers = append(closers, func() { client.Close() })

		if err := client.Ping(ctx).Err(); err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}

		cacheOpts = append(cacheOpts, cached.WithRedis(client))
	}

	cachedRepo, err := cached.NewURLRepository(repo, cacheOpts...)
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("failed to create cache: %w", err)
	}
	closers = append(closers, cachedRepo.Close)

	return cachedRepo, closeAll, nil
}
