package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/utafrali/orderdesk/internal/backend"
	"github.com/utafrali/orderdesk/internal/config"
	"github.com/utafrali/orderdesk/internal/event"
	handler "github.com/utafrali/orderdesk/internal/handler/http"
	"github.com/utafrali/orderdesk/internal/notify"
	redisrepo "github.com/utafrali/orderdesk/internal/repository/redis"
	"github.com/utafrali/orderdesk/internal/service"
	"github.com/utafrali/orderdesk/pkg/database"
	"github.com/utafrali/orderdesk/pkg/health"
	"github.com/utafrali/orderdesk/pkg/httpclient"
	pkgkafka "github.com/utafrali/orderdesk/pkg/kafka"
	"github.com/utafrali/orderdesk/pkg/tracing"
)

// App wires together all dependencies and runs the order desk.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	rdb            *redis.Client
	producer       *pkgkafka.Producer
	desk           *service.Desk
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tcfg := tracing.DefaultConfig(handler.ServiceName)
	tcfg.Environment = cfg.Environment
	tcfg.OTLPEndpoint = cfg.OTELEndpoint
	tcfg.SampleRate = cfg.OTELSampleRate
	tcfg.Enabled = cfg.OTELEnabled
	tracerShutdown, err := tracing.InitTracer(ctx, tcfg)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// Initialize Redis client.
	rcfg := database.DefaultRedisConfig()
	rcfg.Addr = cfg.RedisAddr
	rcfg.Password = cfg.RedisPass
	rcfg.DB = cfg.RedisDB
	rdb, err := database.NewRedisClient(ctx, rcfg)
	if err != nil {
		_ = tracerShutdown(context.Background())
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("connected to Redis",
		slog.String("addr", cfg.RedisAddr),
		slog.Int("db", cfg.RedisDB),
		slog.String("key_prefix", cfg.CartKeyPrefix),
	)

	// Order-management API client. Reads retry; order creation never does.
	hcfg := httpclient.DefaultConfig()
	hcfg.Timeout = cfg.BackendTimeout
	hcfg.MaxRetries = cfg.BackendMaxRetries
	if cfg.BackendRetryWait > 0 {
		hcfg.RetryWaitMin = cfg.BackendRetryWait
		hcfg.RetryWaitMax = 8 * cfg.BackendRetryWait
	}
	breaker := httpclient.NewCircuitBreakerClient(
		httpclient.New(hcfg),
		httpclient.DefaultCircuitBreakerConfig(backend.ServiceName),
		logger,
	)
	api, err := backend.New(breaker, backend.Config{
		BaseURL:      cfg.BackendURL,
		ProductsPath: cfg.ProductsPath,
		OrdersPath:   cfg.OrdersPath,
	}, logger)
	if err != nil {
		_ = rdb.Close()
		_ = tracerShutdown(context.Background())
		return nil, err
	}

	// Domain events.
	var (
		producer *pkgkafka.Producer
		events   event.Publisher = event.NopPublisher{}
	)
	if cfg.EventsEnabled() {
		producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		events = event.NewProducer(producer, logger)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	} else {
		logger.Info("kafka disabled, domain events are not published")
	}

	// Build the dependency graph.
	store := redisrepo.NewCartStore(rdb, cfg.CartKeyPrefix, logger)
	gateway := service.NewGateway(api, store, events, logger)
	desk := service.NewDesk(service.DeskConfig{
		Store:          store,
		Products:       api,
		Gateway:        gateway,
		Events:         events,
		Inbox:          notify.NewInbox(notify.DefaultCapacity, logger),
		SubmitCooldown: cfg.SubmitCooldown,
		Logger:         logger,
	})
	board := service.NewOrderBoard(api, api, events, logger)

	// Health checks.
	healthHandler := health.NewHandler(handler.ServiceName)
	healthHandler.Register("redis", database.RedisPinger(rdb))
	healthHandler.Register(backend.ServiceName, api.Ping)
	if producer != nil {
		healthHandler.Register("kafka", producer.Ping)
	}
	healthHandler.SetTimeout(cfg.BackendTimeout)
	logger.Info("readiness checks registered", slog.Any("checks", healthHandler.Names()))

	// HTTP router.
	router := handler.NewRouter(desk, board, healthHandler, cfg.CORSOrigins, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		rdb:            rdb,
		producer:       producer,
		desk:           desk,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
	}, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components. Views are unmounted before the
// cart store goes away so no watcher outlives its Redis connection.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}

	a.desk.CloseAll(shutdownCtx)

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		}
	}

	if err := a.rdb.Close(); err != nil {
		a.logger.Error("redis close error", slog.String("error", err.Error()))
	}

	if err := a.tracerShutdown(shutdownCtx); err != nil {
		a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
	}

	a.logger.Info("application shutdown complete")
	return nil
}
