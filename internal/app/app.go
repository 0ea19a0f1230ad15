package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/utafrali/storefront/internal/catalog"
	"github.com/utafrali/storefront/internal/config"
	"github.com/utafrali/storefront/internal/event"
	handler "github.com/utafrali/storefront/internal/handler/http"
	"github.com/utafrali/storefront/internal/loop"
	"github.com/utafrali/storefront/internal/page"
	"github.com/utafrali/storefront/internal/repository"
	"github.com/utafrali/storefront/internal/repository/memory"
	pgrepo "github.com/utafrali/storefront/internal/repository/postgres"
	redisrepo "github.com/utafrali/storefront/internal/repository/redis"
	"github.com/utafrali/storefront/internal/service"
	"github.com/utafrali/storefront/internal/view"
	"github.com/utafrali/storefront/pkg/breaker"
	"github.com/utafrali/storefront/pkg/database"
	"github.com/utafrali/storefront/pkg/health"
	pkgkafka "github.com/utafrali/storefront/pkg/kafka"
	"github.com/utafrali/storefront/pkg/middleware"
	"github.com/utafrali/storefront/pkg/tracing"
)

// Version is reported on spans.
var Version = "dev"

const purgeInterval = 10 * time.Minute

// App wires together all dependencies and runs the storefront.
type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	registry   *prometheus.Registry
	rdb        *redis.Client
	pool       *pgxpool.Pool
	pgSlots    *pgrepo.SlotStore
	producer   *pkgkafka.Producer
	activity   *event.ActivityPublisher
	limiter    *middleware.RateLimiter
	pages      *page.Registry
	tracing    tracing.ShutdownFunc
	httpServer *http.Server
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		ServiceName:    handler.ServiceName,
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		tracing:  shutdownTracing,
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	checks := health.NewRegistry(2 * time.Second)

	slots, err := a.openSlots(ctx, checks)
	if err != nil {
		a.closeStores()
		return nil, err
	}

	// Cart activity events.
	if cfg.KafkaEnabled {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger, pkgkafka.NewProducerMetrics(a.registry))
		br := breaker.New(breaker.DefaultConfig("kafka"), logger, breaker.NewMetrics(a.registry))
		a.activity = event.NewActivityPublisher(a.producer, br, a.registry, event.DefaultQueueSize, logger)
		checks.Register("kafka", a.producer.Ping)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	pageCfg := page.Config{
		NotificationTTL: cfg.NotificationTTL,
		FeaturedCount:   cfg.FeaturedCount,
		Consent: service.ConsentConfig{
			ShowDelay:     cfg.ConsentDelay,
			RetryAttempts: cfg.ConsentRetryAttempts,
			RetryInterval: cfg.ConsentRetryInterval,
		},
		Contact: service.ContactConfig{
			SendDelay:  cfg.ContactSendDelay,
			ResetDelay: cfg.ContactResetDelay,
		},
	}
	renderer, err := view.NewRenderer()
	if err != nil {
		a.closeStores()
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	cat := catalog.Default()
	a.pages = page.NewRegistry(page.Deps{
		Slots:    slots,
		Catalog:  cat,
		Renderer: renderer,
		Metrics:  service.NewMetrics(a.registry),
		Activity: a.activity,
		Clock:    loop.RealClock(),
		Logger:   logger,
		Config:   pageCfg,
	}, cfg.PageIdleTimeout, a.registry)

	a.limiter = middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, logger,
		middleware.WithTrustedProxyHeaders(cfg.TrustProxyHeaders),
	)

	cors := middleware.DefaultCORSConfig()
	cors.Environment = cfg.Environment
	cors.AllowedOrigins = cfg.CORSAllowedOrigins
	cors.AllowCredentials = len(cfg.CORSAllowedOrigins) > 0

	router := handler.NewRouter(handler.RouterDeps{
		Pages:             a.pages,
		Catalog:           cat,
		FeaturedCount:     cfg.FeaturedCount,
		Health:            checks,
		Metrics:           middleware.NewHTTPMetrics(a.registry, handler.ServiceName),
		Gatherer:          a.registry,
		RateLimiter:       a.limiter,
		SecureCookies:     cfg.SecureCookies,
		CORS:              cors,
		CatalogMaxAge:     cfg.CatalogCacheMaxAge,
		PprofAllowedCIDRs: cfg.PprofAllowedCIDRs,
		Logger:            logger,
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      35 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return a, nil
}

// openSlots connects the configured slot backend and registers its health
// check.
func (a *App) openSlots(ctx context.Context, checks *health.Registry) (repository.SlotStore, error) {
	cfg := a.cfg
	switch cfg.SlotBackend {
	case config.BackendRedis:
		rdb, err := database.NewRedisClient(ctx, cfg.Redis())
		if err != nil {
			return nil, err
		}
		a.rdb = rdb
		a.logger.Info("connected to Redis",
			slog.String("addr", cfg.RedisAddr),
			slog.Int("db", cfg.RedisDB),
		)
		store := redisrepo.NewSlotStore(rdb, cfg.SlotTTL)
		checks.Register("redis", store.Ping)
		return store, nil

	case config.BackendPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg.Postgres(), a.logger)
		if err != nil {
			return nil, err
		}
		a.pool = pool
		if err := database.RunMigrations(ctx, pool, pgrepo.Migrations(), a.logger); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		a.registry.MustRegister(database.NewPoolStatsCollector(pool))
		a.pgSlots = pgrepo.NewSlotStore(pool, cfg.SlotTTL, database.QueryTracer{
			System:        "postgresql",
			SlowThreshold: 200 * time.Millisecond,
			Logger:        a.logger,
		})
		checks.Register("postgres", a.pgSlots.Ping)
		return a.pgSlots, nil

	default:
		a.logger.Warn("using in-memory slot store; carts do not survive a restart")
		return memory.NewSlotStore(), nil
	}
}

// Handler is the HTTP handler of the storefront.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

// Run starts the HTTP server and the background workers, and blocks until
// the context is canceled.
func (a *App) Run(ctx context.Context) error {
	workers, stop := context.WithCancel(ctx)
	defer stop()

	var wg sync.WaitGroup
	a.start(&wg, "page sweeper", func() error { return a.pages.Run(workers) })
	a.start(&wg, "rate limiter sweeper", func() error { a.limiter.Run(workers); return nil })
	if a.activity != nil {
		a.start(&wg, "activity publisher", func() error { return a.activity.Run(workers) })
	}
	if a.pgSlots != nil && a.cfg.SlotTTL > 0 {
		a.start(&wg, "slot purger", func() error { return a.purge(workers) })
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
	}

	a.shutdownHTTP()
	stop()
	wg.Wait()
	a.closeStores()
	return runErr
}

func (a *App) start(wg *sync.WaitGroup, name string, run func() error) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := run(); err != nil {
			a.logger.Error("background worker stopped", slog.String("worker", name), slog.String("error", err.Error()))
		}
	}()
}

// purge deletes expired slots until ctx is canceled.
func (a *App) purge(ctx context.Context) error {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := a.pgSlots.PurgeExpired(ctx)
			if err != nil {
				a.logger.Warn("purge expired slots failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				a.logger.Info("purged expired slots", slog.Int64("count", n))
			}
		}
	}
}

func (a *App) shutdownHTTP() {
	a.logger.Info("shutting down application...")

	// Graceful HTTP server shutdown with a 10-second deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}
}

// closeStores releases every connection the app opened. It is safe to call
// on a partially constructed app.
func (a *App) closeStores() {
	if a.pages != nil {
		a.pages.Close()
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		}
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracing(ctx); err != nil {
			a.logger.Error("tracing shutdown error", slog.String("error", err.Error()))
		}
	}
	a.logger.Info("application shutdown complete")
}
