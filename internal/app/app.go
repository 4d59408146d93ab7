// Package app builds the long-lived pricewatch services from configuration and
// runs them until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/api"
	"github.com/JakeFAU/pricewatch/internal/archive"
	"github.com/JakeFAU/pricewatch/internal/catalog"
	"github.com/JakeFAU/pricewatch/internal/clock/system"
	"github.com/JakeFAU/pricewatch/internal/config"
	"github.com/JakeFAU/pricewatch/internal/engine"
	"github.com/JakeFAU/pricewatch/internal/evaluate"
	"github.com/JakeFAU/pricewatch/internal/extract"
	collyfetcher "github.com/JakeFAU/pricewatch/internal/fetcher/colly"
	"github.com/JakeFAU/pricewatch/internal/id/uuid"
	"github.com/JakeFAU/pricewatch/internal/maintenance"
	"github.com/JakeFAU/pricewatch/internal/metrics"
	"github.com/JakeFAU/pricewatch/internal/notify"
	pubsubnotify "github.com/JakeFAU/pricewatch/internal/notify/pubsub"
	"github.com/JakeFAU/pricewatch/internal/notify/telegram"
	"github.com/JakeFAU/pricewatch/internal/policy/ratelimit"
	"github.com/JakeFAU/pricewatch/internal/scheduler"
	gcsstorage "github.com/JakeFAU/pricewatch/internal/storage/gcs"
	localstorage "github.com/JakeFAU/pricewatch/internal/storage/local"
	memorystore "github.com/JakeFAU/pricewatch/internal/storage/memory"
	pgstore "github.com/JakeFAU/pricewatch/internal/storage/postgres"
	"github.com/JakeFAU/pricewatch/internal/tracker"
)

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	repo      tracker.Repository
	pgStore   *pgstore.ItemStore
	fetcher   *engine.Engine
	scheduler *scheduler.Scheduler
	catalog   *catalog.Service
	shards    *maintenance.Shards
	apiServer *api.Server

	publisher *pubsubnotify.Publisher
	gcsStore  *gcsstorage.BlobStore
}

// Build creates the application's dependencies. Nothing is started until Run.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	a := &App{cfg: cfg, logger: logger}
	a.logger.Info("building application dependencies",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("notify", cfg.Notify.Driver),
		zap.String("archive", cfg.Archive.Driver),
	)

	ok := false
	defer func() {
		if !ok {
			a.closeInfrastructure()
		}
	}()

	if err := a.setupRepository(ctx); err != nil {
		return nil, err
	}
	notifier, err := a.setupNotifier(ctx)
	if err != nil {
		return nil, err
	}
	archiver, err := a.setupArchive(ctx)
	if err != nil {
		return nil, err
	}

	clock := system.New()
	rnd := system.NewRand(0)
	a.fetcher = a.setupEngine(clock, rnd)

	jitterMin, jitterMax := cfg.JitterBounds()
	cooldownMin, cooldownMax := cfg.CooldownBounds()
	a.scheduler = scheduler.New(
		a.repo,
		a.fetcher,
		evaluate.New(evaluate.Config{CooldownMin: cooldownMin, CooldownMax: cooldownMax}, rnd),
		notifier,
		archiver,
		clock,
		system.Sleeper{},
		rnd,
		scheduler.Config{
			TargetRPS:   cfg.Scheduler.TargetRPS,
			JitterMin:   jitterMin,
			JitterMax:   jitterMax,
			MaxAttempts: cfg.Fetch.MaxRetries,
		},
		a.logger.Named("scheduler"),
	)

	a.catalog = catalog.New(
		a.repo,
		a.fetcher,
		ratelimit.New(ratelimit.Config{RPS: cfg.Fetch.AddRPS, Burst: cfg.Fetch.AddBurst}),
		uuid.New(),
		clock,
		catalog.Config{MaxAttempts: cfg.Fetch.MaxRetries},
		a.logger.Named("catalog"),
	)
	a.shards = maintenance.NewShards(a.repo, a.logger.Named("maintenance"))

	var ready api.ReadyFunc
	if a.pgStore != nil {
		ready = a.pgStore.Ping
	}
	a.apiServer = api.NewServer(a.catalog, ready, api.Options{
		AuthEnabled:    cfg.Auth.Enabled,
		APIKey:         cfg.Auth.APIKey,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		RequestTimeout: cfg.RequestTimeout(),
	}, a.logger.Named("api"))

	ok = true
	return a, nil
}

func (a *App) setupRepository(ctx context.Context) error {
	switch a.cfg.Storage.Driver {
	case "postgres":
		pg := a.cfg.Storage.Postgres
		store, err := pgstore.NewItemStore(ctx, pgstore.Config{
			DSN:             pg.DSN,
			Table:           pg.Table,
			MaxConns:        pg.MaxConns,
			MinConns:        pg.MinConns,
			MaxConnLifetime: time.Duration(pg.MaxConnLifetimeMinutes) * time.Minute,
		})
		if err != nil {
			return fmt.Errorf("item store init failed: %w", err)
		}
		a.pgStore = store
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("item store schema: %w", err)
		}
		a.repo = store
		a.logger.Info("postgres item store initialized", zap.String("table", pg.Table))
	default:
		a.repo = memorystore.NewItemStore()
		a.logger.Warn("using in-memory item store; items are lost on restart")
	}
	return nil
}

func (a *App) setupNotifier(ctx context.Context) (tracker.Notifier, error) {
	logNotifier := notify.NewLog(a.logger.Named("alerts"))
	switch a.cfg.Notify.Driver {
	case "telegram":
		bot, err := telegram.New(telegram.Config{
			Token:  a.cfg.Notify.Telegram.Token,
			ChatID: a.cfg.Notify.Telegram.ChatID,
		})
		if err != nil {
			return nil, fmt.Errorf("telegram notifier init failed: %w", err)
		}
		a.logger.Info("telegram notifier initialized", zap.Int64("chat_id", a.cfg.Notify.Telegram.ChatID))
		return notify.Multi{logNotifier, bot}, nil
	case "pubsub":
		pub, err := pubsubnotify.New(ctx, pubsubnotify.Config{
			ProjectID: a.cfg.Notify.PubSub.ProjectID,
			TopicID:   a.cfg.Notify.PubSub.Topic,
		})
		if err != nil {
			return nil, fmt.Errorf("pubsub notifier init failed: %w", err)
		}
		a.publisher = pub
		a.logger.Info("Pub/Sub notifier initialized",
			zap.String("project", a.cfg.Notify.PubSub.ProjectID),
			zap.String("topic", a.cfg.Notify.PubSub.Topic),
		)
		return notify.Multi{logNotifier, pub}, nil
	default:
		return logNotifier, nil
	}
}

func (a *App) setupArchive(ctx context.Context) (tracker.Archiver, error) {
	switch a.cfg.Archive.Driver {
	case "memory":
		a.logger.Info("archiving anti-bot pages in memory")
		return archive.New(memorystore.NewBlobStore(), a.cfg.Archive.Prefix), nil
	case "local":
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local archive init failed: %w", err)
		}
		a.logger.Info("archiving anti-bot pages locally", zap.String("path", a.cfg.Archive.Local.BaseDir))
		return archive.New(store, a.cfg.Archive.Prefix), nil
	case "gcs":
		store, err := gcsstorage.New(ctx, gcsstorage.Config{Bucket: a.cfg.Archive.GCS.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs archive init failed: %w", err)
		}
		a.gcsStore = store
		a.logger.Info("archiving anti-bot pages to GCS", zap.String("bucket", a.cfg.Archive.GCS.Bucket))
		return archive.New(store, a.cfg.Archive.Prefix), nil
	default:
		return nil, nil
	}
}

func (a *App) setupEngine(clock tracker.Clock, rnd tracker.Rand) *engine.Engine {
	transport := collyfetcher.New(collyfetcher.Config{
		UserAgent:      a.cfg.Fetch.UserAgent,
		AcceptLanguage: a.cfg.Fetch.AcceptLanguage,
		RespectRobots:  a.cfg.Fetch.RespectRobots,
		Timeout:        a.cfg.FetchTimeout(),
	})
	base, maxDelay, jitter := a.cfg.Backoff()
	a.logger.Info("fetch engine config",
		zap.Int("max_attempts", a.cfg.Fetch.MaxRetries),
		zap.Duration("backoff_base", base),
		zap.Duration("backoff_max", maxDelay),
		zap.Duration("timeout", a.cfg.FetchTimeout()),
	)
	return engine.New(
		transport,
		extract.NewAntiBotDetector(a.cfg.AntiBot.MinBodyBytes, a.cfg.AntiBot.ScanBytes, a.cfg.AntiBot.Phrases),
		extract.New(a.cfg.Extract.PriceSelectors),
		clock,
		system.Sleeper{},
		rnd,
		engine.Config{
			MaxAttempts:   a.cfg.Fetch.MaxRetries,
			BackoffBase:   base,
			BackoffMax:    maxDelay,
			RetryJitter:   jitter,
			RetryAfterMax: a.cfg.RetryAfterMax(),
		},
		a.logger.Named("engine"),
	)
}

// Config returns the configuration the app was built with.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Fetcher returns the fetch engine.
func (a *App) Fetcher() tracker.Fetcher { return a.fetcher }

// Scheduler returns the tick scheduler.
func (a *App) Scheduler() *scheduler.Scheduler { return a.scheduler }

// Catalog returns the item management service.
func (a *App) Catalog() *catalog.Service { return a.catalog }

// Shards returns the shard audit helper.
func (a *App) Shards() *maintenance.Shards { return a.shards }

// Handler returns the management API handler.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Run starts the scheduler and HTTP server and blocks until ctx is canceled or
// a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.cfg.Scheduler.Enabled {
		if err := a.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		a.logger.Info("scheduler started", zap.Float64("target_rps", a.cfg.Scheduler.TargetRPS))
	}

	var srv *http.Server
	if a.cfg.Server.Enabled {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http server error", zap.Error(err))
				stop()
			}
		}()
	}

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
	}
	if a.cfg.Scheduler.Enabled {
		if err := a.scheduler.Stop(shutdownCtx); err != nil {
			a.logger.Warn("scheduler stop timed out", zap.Error(err))
		}
	}

	return a.Close(shutdownCtx)
}

// Close releases clients and flushes the logger.
func (a *App) Close(_ context.Context) error {
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.publisher = nil
	}
	if a.gcsStore != nil {
		if err := a.gcsStore.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.gcsStore = nil
	}
	if a.pgStore != nil {
		a.pgStore.Close()
		a.pgStore = nil
	}
}
