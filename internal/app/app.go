package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"tracked-mail-relay-go/internal/config"
	"tracked-mail-relay-go/internal/database"
	"tracked-mail-relay-go/internal/errs"
	"tracked-mail-relay-go/internal/handler"
	"tracked-mail-relay-go/internal/lock"
	"tracked-mail-relay-go/internal/metrics"
	"tracked-mail-relay-go/internal/provider"
	"tracked-mail-relay-go/internal/repository"
	"tracked-mail-relay-go/internal/router"
	"tracked-mail-relay-go/internal/scheduler"
	"tracked-mail-relay-go/internal/service/dispatch"
	"tracked-mail-relay-go/internal/service/eventsync"
	"tracked-mail-relay-go/internal/service/reconciler"
	"tracked-mail-relay-go/internal/transport"
)

// Components is the wired application
type Components struct {
	Config     *config.Config
	Store      repository.Store
	Metrics    *metrics.Metrics
	Dispatcher *dispatch.Dispatcher
	Engine     *eventsync.Engine
	Scheduler  *scheduler.Scheduler

	pingDB  func(ctx context.Context) error
	closers []func() error
}

// Close releases database and Redis connections
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			logrus.Errorf("Failed to close resource: %v", err)
		}
	}
}

// ConfigureLogging sets the JSON formatter and the configured level
func ConfigureLogging(level string) {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.Warnf("Unknown log level %q, using info", level)
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
}

// Load reads and validates the configuration
func Load() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Build wires every component from cfg. reg receives the metrics.
func Build(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*Components, error) {
	c := &Components{Config: cfg, Metrics: metrics.NewMetrics(reg)}

	if err := c.initStore(cfg.Database); err != nil {
		c.Close()
		return nil, err
	}

	client, err := provider.NewClient(cfg.Provider)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to create provider client: %w", err)
	}

	fallback, err := newFallback(ctx, cfg.Fallback)
	if err != nil {
		c.Close()
		return nil, err
	}
	logrus.Infof("Using %s as fallback transport", fallback.Name())

	c.Dispatcher, err = dispatch.New(transport.NewProviderTransport(client, cfg.Provider), fallback, cfg.Provider, c.Metrics)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}

	locker, err := c.newLocker(ctx, cfg.Redis)
	if err != nil {
		c.Close()
		return nil, err
	}

	c.Engine, err = eventsync.New(client, reconciler.New(c.Store, c.Metrics), c.Store, cfg.Sync, locker, c.Metrics)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to create event sync: %w", err)
	}

	c.Scheduler = scheduler.NewScheduler(&cfg.Scheduler, c.Engine)
	return c, nil
}

func (c *Components) initStore(cfg config.DatabaseConfig) error {
	switch cfg.Driver {
	case config.DriverMemory:
		logrus.Warn("Using in-memory record store; event records will not survive a restart")
		c.Store = repository.NewMemoryStore()
		return nil
	case config.DriverMySQL:
		db, err := database.InitDatabase(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("failed to get underlying SQL DB: %w", err)
		}
		c.Store = repository.New(db)
		c.pingDB = sqlDB.PingContext
		c.closers = append(c.closers, sqlDB.Close)
		return nil
	default:
		return &errs.ConfigurationError{Key: "database.driver", Reason: fmt.Sprintf("unsupported driver %q", cfg.Driver)}
	}
}

func newFallback(ctx context.Context, cfg config.FallbackConfig) (transport.Transport, error) {
	switch cfg.Kind {
	case config.FallbackSMTP:
		return transport.NewSMTPTransport(cfg), nil
	case config.FallbackGmail:
		t, err := transport.NewGmailTransport(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create Gmail transport: %w", err)
		}
		return t, nil
	case config.FallbackNone:
		return transport.Unavailable{}, nil
	default:
		return nil, &errs.ConfigurationError{Key: "fallback.kind", Reason: fmt.Sprintf("unsupported fallback %q", cfg.Kind)}
	}
}

func (c *Components) newLocker(ctx context.Context, cfg config.RedisConfig) (lock.Locker, error) {
	if cfg.Addr == "" {
		return lock.NewLocal(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	c.closers = append(c.closers, client.Close)

	logrus.Infof("Using Redis lock at %s for event sync", cfg.Addr)
	return lock.Redis{R: client}, nil
}

// Handler builds the HTTP handler for the admin API
func (c *Components) Handler(gatherer prometheus.Gatherer) http.Handler {
	h := handler.NewHandlers(c.Store, c.Dispatcher, c.Scheduler, c.pingDB, gatherer)
	return router.SetupRouter(h)
}

// Run initializes and starts the long-running service
func Run() error {
	ConfigureLogging("info")
	logrus.Info("Starting Tracked Mail Relay Service")

	cfg, err := Load()
	if err != nil {
		return err
	}
	ConfigureLogging(cfg.Log.Level)

	comps, err := Build(context.Background(), cfg, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer comps.Close()

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      comps.Handler(prometheus.DefaultGatherer),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if err := comps.Scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := comps.Scheduler.Stop(); err != nil {
		logrus.Errorf("Failed to stop scheduler: %v", err)
	}
	comps.Scheduler.Wait()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	logrus.Info("Server stopped gracefully")
	return nil
}

// SyncOnce runs a single event sync and exits; meant for cron or CI jobs
func SyncOnce(ctx context.Context) (*eventsync.Report, error) {
	ConfigureLogging("info")

	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	ConfigureLogging(cfg.Log.Level)

	comps, err := Build(ctx, cfg, prometheus.NewRegistry())
	if err != nil {
		return nil, err
	}
	defer comps.Close()

	return comps.Engine.Run(ctx)
}
