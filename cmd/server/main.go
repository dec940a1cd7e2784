// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"nori-bridge/internal/config"
	"nori-bridge/internal/database"
	serialdiscovery "nori-bridge/internal/discovery/serial"
	"nori-bridge/internal/handler"
	"nori-bridge/internal/metrics"
	transport "nori-bridge/internal/protocol/serial"
	"nori-bridge/internal/repository"
	"nori-bridge/internal/routes"
	"nori-bridge/internal/service"
	"nori-bridge/internal/utils"
)

// Application represents the main application
type Application struct {
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
	database *database.DB

	registry *prometheus.Registry
	metrics  *metrics.BridgeMetrics

	readingRepo repository.ReadingRepository
	scanner     *serialdiscovery.Scanner

	events *handler.EventBus
	store  *handler.RemoteStore
	host   *handler.HostHandler
	bridge *service.BridgeService
}

func main() {
	app, err := NewApplication()
	if err != nil {
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Start(); err != nil {
		app.logger.Fatal("Failed to start application", zap.Error(err))
	}
}

// NewApplication creates a new application instance
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	serviceLogger := utils.NewServiceLogger(logger, cfg.App.Name)
	serviceLogger.LogServiceStart(cfg.App.Version, cfg)

	app := &Application{
		config: cfg,
		logger: logger,
	}

	if err := app.initializeDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	app.initializeMetrics()
	app.initializeRepositories()

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initializeServer()

	return app, nil
}

// initializeDatabase connects to postgres and runs migrations when history is persisted
func (app *Application) initializeDatabase() error {
	if !app.config.Database.Enabled {
		app.logger.Info("Database disabled, readings kept in memory")
		return nil
	}

	db, err := database.NewConnection(&app.config.Database, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}
	app.database = db

	if app.config.Database.AutoMigrate {
		migrator := database.NewMigrator(db, app.logger, &app.config.Database)
		if err := migrator.Up(); err != nil {
			return fmt.Errorf("failed to run database migrations: %w", err)
		}

		version, dirty, err := migrator.Version()
		if err != nil {
			return fmt.Errorf("failed to read migration version: %w", err)
		}
		if dirty {
			return fmt.Errorf("database schema version %d is dirty", version)
		}
		app.logger.Info("Database schema ready", zap.Uint("version", version))

		if app.config.Database.RetentionDays > 0 {
			if deleted, err := migrator.RunCleanup(); err != nil {
				app.logger.Warn("Startup cleanup failed", zap.Error(err))
			} else {
				app.logger.Info("Startup cleanup completed", zap.Int64("deleted", deleted))
			}
		}
	}

	app.logger.Info("Database initialized successfully")
	return nil
}

func (app *Application) initializeMetrics() {
	if !app.config.Metrics.Enabled {
		return
	}
	app.registry = metrics.NewRegistry()
	app.metrics = metrics.NewBridgeMetrics(app.registry, app.config.Metrics.Namespace)
}

func (app *Application) initializeRepositories() {
	if app.database != nil {
		app.readingRepo = repository.NewReadingRepository(app.database, app.logger)
	} else {
		app.readingRepo = repository.NewMemoryRepository(app.config.Bridge.HistoryLimit)
	}
	app.logger.Info("Repositories initialized successfully")
}

func (app *Application) initializeServices() error {
	app.scanner = serialdiscovery.NewScanner(app.logger, &serialdiscovery.Config{
		PortPatterns: app.config.Serial.PortPatterns,
		ProbeTimeout: app.config.Serial.ProbeTimeout,
		CheckPhrase:  app.config.Bridge.CheckPhrase,
		Serial: transport.Config{
			BaudRate:       app.config.Serial.BaudRate,
			DataBits:       app.config.Serial.DataBits,
			StopBits:       app.config.Serial.StopBits,
			Parity:         app.config.Serial.Parity,
			ReadTimeout:    app.config.Serial.ReadTimeout,
			ReadBufferSize: app.config.Serial.ReadBufferSize,
		},
	})

	app.events = handler.NewEventBus(app.logger)
	app.store = handler.NewRemoteStore()

	opts := []service.BridgeOption{
		service.WithScanner(app.scanner),
		service.WithRepository(app.readingRepo),
		service.WithEvents(app.events),
	}
	if app.metrics != nil {
		opts = append(opts, service.WithMetrics(app.metrics))
	}
	app.bridge = service.NewBridgeService(app.config, app.store, app.logger, opts...)

	app.host = handler.NewHostHandler(app.store, app.bridge, app.events, app.config, app.metrics, app.logger)

	app.logger.Info("Services initialized successfully")
	return nil
}

func (app *Application) initializeServer() {
	var db handler.HealthChecker
	if app.database != nil {
		db = app.database
	}

	if app.config.IsProduction() && len(app.config.Security.AllowedOrigins) == 0 {
		app.logger.Warn("No allowed origins configured, accepting requests from any origin")
	}

	routerManager := routes.NewRouter(app.config, app.logger, db, app.bridge, app.host, app.registry)
	router := routerManager.SetupRouter()

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized",
		zap.String("address", app.config.GetServerAddr()),
		zap.Bool("tls_enabled", app.config.Server.TLS.Enabled),
	)
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown
func (app *Application) waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	app.shutdown()
}

// shutdown performs graceful shutdown
func (app *Application) shutdown() {
	serviceLogger := utils.NewServiceLogger(app.logger, app.config.App.Name)
	serviceLogger.LogServiceStop("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		app.logger.Info("HTTP server stopped")
	}

	app.bridge.Stop()
	app.host.Close()
	app.events.Close()

	if app.database != nil {
		if err := app.database.Close(); err != nil {
			app.logger.Error("Database close error", zap.Error(err))
		} else {
			app.logger.Info("Database connection closed")
		}
	}

	app.logger.Info("Application shutdown completed")

	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Printf("Logger close error: %v\n", err)
	}
}

// Start serves HTTP, starts the bridge and blocks until a shutdown signal
func (app *Application) Start() error {
	go app.events.Start()

	go func() {
		app.logger.Info("Starting HTTP server",
			zap.String("address", app.server.Addr),
		)

		var err error
		if app.config.Server.TLS.Enabled {
			err = app.server.ListenAndServeTLS(
				app.config.Server.TLS.CertFile,
				app.config.Server.TLS.KeyFile,
			)
		} else {
			err = app.server.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	app.bridge.Start(context.Background())
	if !app.config.Bridge.AutoConnect {
		app.logger.Info("Auto connect disabled, waiting for connect request",
			zap.Duration("poll_interval", app.config.Bridge.PollInterval),
		)
	}

	app.waitForShutdown()
	return nil
}
