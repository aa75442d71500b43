// Package app wires the configured components together and runs them.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"listing_filter/internal/bulk"
	"listing_filter/internal/cachebus"
	"listing_filter/internal/config"
	"listing_filter/internal/detection"
	"listing_filter/internal/domain"
	"listing_filter/internal/filter"
	"listing_filter/internal/httpapi"
	"listing_filter/internal/keyword"
	"listing_filter/internal/store"
)

type App struct {
	cfg    *config.Config
	logger *slog.Logger

	db    *gorm.DB
	redis *redis.Client

	Store      *store.Store
	Cache      *keyword.Cache
	Notifier   filter.ChangeNotifier
	Counter    *detection.Counter
	Importer   *keyword.Importer
	Service    *filter.Service
	Bulk       *bulk.Coordinator
	Integrated *filter.Integrated
	Realtime   *filter.RealtimeChecker
	Server     *httpapi.Server

	bus *cachebus.Bus
}

// New opens the store and, when configured, Redis, then builds every
// component. It does not run migrations.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{cfg: cfg, logger: logger}

	db, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.db = db
	a.Store = store.New(db)

	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
	}

	a.Cache = keyword.NewCache(a.Store.Keywords(), cfg.Cache.TTL.Duration, logger.With("component", "keyword_cache"),
		keyword.WithLoadTimeout(cfg.Database.QueryTimeout.Duration))
	if a.redis != nil {
		a.bus = cachebus.New(a.redis, cfg.Redis.Channel, a.Cache, logger.With("component", "cache_bus"))
		a.Notifier = a.bus
	} else {
		a.Notifier = cachebus.Local{Cache: a.Cache}
	}

	var queue domain.DetectionQueue = a.Store.DetectionQueue()
	if cfg.Detection.Queue == "redis" {
		queue = detection.NewRedisQueue(a.redis, cfg.Redis.QueueKey, a.Store.KeywordRepository(), logger.With("component", "detection_queue"))
	}
	a.Counter = detection.NewCounter(queue, detection.Options{
		BufferSize:     cfg.Detection.BufferSize,
		AppendInterval: cfg.Detection.AppendInterval.Duration,
		FlushInterval:  cfg.Detection.FlushInterval.Duration,
		FlushBatchSize: cfg.Detection.FlushBatchSize,
	}, logger.With("component", "detection"))

	a.Importer = keyword.NewImporter(a.Store.KeywordRepository(), func() {
		if err := a.Notifier.Publish(context.Background(), "seed_import"); err != nil {
			logger.Warn("seed import notification failed", "error", err)
		}
	}, logger.With("component", "seed"))

	malls := filter.NewScopeList(cfg.Malls.Allowed, false)
	countries := filter.NewScopeList(cfg.Countries, true)
	evaluator := filter.NewEvaluator(a.Cache)
	timeout := cfg.Database.QueryTimeout.Duration

	a.Service = filter.NewService(filter.ServiceConfig{
		Store:        a.Store,
		Stats:        a.Store,
		Evaluator:    evaluator,
		Recorder:     a.Counter,
		Notifier:     a.Notifier,
		Malls:        malls,
		Countries:    countries,
		QueryTimeout: timeout,
		Logger:       logger.With("component", "filter"),
	})
	a.Bulk = bulk.NewCoordinator(bulk.Config{
		Store:        a.Store,
		Source:       a.Cache,
		Recorder:     a.Counter,
		Malls:        malls,
		DefaultMall:  cfg.Malls.Default,
		QueryTimeout: timeout,
		Logger:       logger.With("component", "bulk"),
	})
	a.Integrated = filter.NewIntegrated(evaluator, a.Counter, malls, countries)
	a.Realtime = filter.NewRealtimeChecker(a.Cache, a.Counter)

	a.Server = httpapi.New(cfg.Server, httpapi.Deps{
		Service:    a.Service,
		Bulk:       a.Bulk,
		Integrated: a.Integrated,
		Realtime:   a.Realtime,
		Cache:      a.Cache,
		Notifier:   a.Notifier,
		Store:      a.Store,
		Detections: a.Counter,
		Logger:     logger,
	})
	return a, nil
}

// Migrate applies the embedded schema migrations.
func (a *App) Migrate(ctx context.Context) error {
	return store.RunMigrations(ctx, a.db)
}

// Seed imports every keyword file in dir; an empty dir means the configured one.
func (a *App) Seed(ctx context.Context, dir string) (int, error) {
	if dir == "" {
		dir = a.cfg.Seed.Dir
	}
	return a.Importer.ImportDir(ctx, dir)
}

// Run serves HTTP and runs the background workers until ctx is done or one
// of them fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if dir := a.cfg.Seed.Dir; dir != "" {
		if _, err := os.Stat(dir); err == nil {
			if n, err := a.Seed(gctx, dir); err != nil {
				a.logger.Error("initial keyword seed failed", "dir", dir, "error", err)
			} else {
				a.logger.Info("keyword seed imported", "dir", dir, "keywords", n)
			}
			if a.cfg.Seed.Watch {
				w, err := keyword.NewWatcher(dir, a.Importer, a.logger.With("component", "seed_watcher"))
				if err != nil {
					return err
				}
				defer w.Close()
				g.Go(func() error { return w.Run(gctx) })
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("keyword seed dir: %w", err)
		}
	}

	g.Go(func() error { return a.Counter.Run(gctx) })
	if a.bus != nil {
		g.Go(func() error { return a.bus.Run(gctx) })
	}
	g.Go(func() error { return a.Server.Start(gctx, a.cfg.Server.Addr) })

	return g.Wait()
}

// Check runs one realtime check and persists its detection counts.
func (a *App) Check(ctx context.Context, title string) (filter.RealtimeResult, error) {
	res, err := a.Realtime.Check(ctx, title)
	if err != nil {
		return filter.RealtimeResult{}, err
	}
	if err := a.Counter.Persist(ctx); err != nil {
		a.logger.Warn("detection counts not queued", "error", err)
	}
	return res, nil
}

// Flush moves buffered and queued detections into keyword counts.
func (a *App) Flush(ctx context.Context) (int, error) {
	if err := a.Counter.Persist(ctx); err != nil {
		return 0, err
	}
	return a.Counter.Flush(ctx)
}

func (a *App) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}
