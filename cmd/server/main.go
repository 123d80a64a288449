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
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	_ "winder-service/docs"
	"winder-service/internal/config"
	"winder-service/internal/database"
	"winder-service/internal/discovery"
	serialscanner "winder-service/internal/discovery/serial"
	"winder-service/internal/events"
	"winder-service/internal/handler"
	"winder-service/internal/protocol"
	"winder-service/internal/publisher"
	"winder-service/internal/repository"
	"winder-service/internal/routes"
	"winder-service/internal/service"
	"winder-service/internal/utils"
)

// Application represents the main application
type Application struct {
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
	database *database.DB
	bus      *events.EventBus

	// Services
	winderService *service.WinderService
	scanners      *discovery.ScannerManager

	// Repositories
	sessionRepo repository.SessionRepository

	// Event consumers, subscribed before the bus starts
	recorder  *service.HistoryRecorder
	mqtt      *publisher.MQTTPublisher
	wsHandler *handler.WebSocketHandler
}

// @title Winder Service API
// @version 1.0.0
// @description Serial control service for coil winding machines

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8086
// @BasePath /api/v1
func main() {
	app, err := NewApplication()
	if err != nil {
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		app.logger.Error("Application stopped with error", zap.Error(err))
		_ = utils.CloseLogger(app.logger)
		os.Exit(1)
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

	serviceLogger := utils.NewServiceLogger(logger, "winder-service")
	serviceLogger.LogServiceStart(cfg.App.Version, cfg)

	app := &Application{
		config: cfg,
		logger: logger,
		bus:    events.NewEventBus(logger),
	}

	if err := app.initializeDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	app.initializeRepositories()
	app.initializeServices()
	app.initializeConsumers()
	app.initializeServer()

	return app, nil
}

// initializeDatabase connects to the history database and runs migrations
func (app *Application) initializeDatabase() error {
	if !app.config.Database.Enabled {
		app.logger.Info("Session history disabled, skipping database")
		return nil
	}

	if app.config.Database.MigrateOnStart {
		migrator := database.NewMigrator(app.logger, &app.config.Database)
		if err := migrator.Up(); err != nil {
			return fmt.Errorf("failed to run database migrations: %w", err)
		}
	}

	db, err := database.NewConnection(&app.config.Database, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}
	app.database = db

	app.logger.Info("Database initialized successfully")
	return nil
}

func (app *Application) initializeRepositories() {
	if app.database == nil {
		return
	}
	app.sessionRepo = repository.NewSessionRepository(app.database, app.logger)
	app.logger.Info("Repositories initialized successfully")
}

func (app *Application) initializeServices() {
	app.scanners = discovery.NewScannerManager(app.logger)
	app.scanners.RegisterScanner(serialscanner.NewScanner(app.logger))

	app.winderService = service.NewWinderService(
		app.config,
		protocol.NewSerialOpener(&app.config.Serial, app.logger),
		app.bus,
		app.sessionRepo,
		app.logger,
	)

	app.logger.Info("Services initialized successfully")
}

func (app *Application) initializeConsumers() {
	if app.sessionRepo != nil {
		app.recorder = service.NewHistoryRecorder(
			app.sessionRepo,
			app.bus,
			app.config.Winding.HistoryQueue,
			app.config.Winding.CommandTimeout,
			app.logger,
		)
	}

	if app.config.MQTT.Enabled {
		app.mqtt = publisher.NewMQTTPublisher(&app.config.MQTT, app.bus, app.logger)
	}

	app.wsHandler = handler.NewWebSocketHandler(app.winderService, app.bus, app.config.Security.AllowedOrigins, app.logger)
}

func (app *Application) initializeServer() {
	var db handler.DatabaseChecker
	if app.database != nil {
		db = app.database
	}

	routerManager := routes.NewRouter(
		app.config,
		app.logger,
		db,
		app.winderService,
		app.scanners,
		app.wsHandler,
	)

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      routerManager.SetupRouter(),
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized",
		zap.String("address", app.config.GetServerAddr()),
		zap.Bool("tls_enabled", app.config.Server.TLS.Enabled),
	)
}

// Run serves until the context is cancelled or a component fails
func (app *Application) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.bus.Start(ctx)
		return nil
	})

	g.Go(func() error {
		return app.wsHandler.Run(ctx)
	})

	if app.recorder != nil {
		g.Go(func() error {
			return app.recorder.Run(ctx)
		})
		g.Go(func() error {
			app.runCleanup(ctx)
			return nil
		})
	}

	if app.mqtt != nil {
		g.Go(func() error {
			// the broker is optional; losing it must not stop the winder
			if err := app.mqtt.Run(ctx); err != nil {
				app.logger.Error("MQTT publisher stopped", zap.Error(err))
			}
			return nil
		})
	}

	g.Go(func() error {
		app.logger.Info("Starting HTTP server", zap.String("address", app.server.Addr))

		var err error
		if app.config.Server.TLS.Enabled {
			err = app.server.ListenAndServeTLS(app.config.Server.TLS.CertFile, app.config.Server.TLS.KeyFile)
		} else {
			err = app.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		app.shutdown()
		return nil
	})

	app.winderService.Start(ctx)

	return g.Wait()
}

// runCleanup deletes sessions older than the retention period every hour
func (app *Application) runCleanup(ctx context.Context) {
	retention := app.config.Winding.HistoryRetention
	if retention <= 0 {
		return
	}

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	app.logger.Info("Cleanup service started", zap.Duration("retention", retention))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cleanupCtx, cancel := context.WithTimeout(ctx, time.Minute)
			deleted, err := app.sessionRepo.DeleteOldSessions(cleanupCtx, time.Now().Add(-retention))
			cancel()

			if err != nil {
				app.logger.Error("Failed to cleanup old sessions", zap.Error(err))
			} else if deleted > 0 {
				app.logger.Info("Cleaned up old sessions", zap.Int64("deleted", deleted))
			}
		}
	}
}

// shutdown stops the HTTP server, closes the serial link and the database
func (app *Application) shutdown() {
	serviceLogger := utils.NewServiceLogger(app.logger, "winder-service")
	serviceLogger.LogServiceStop("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		app.logger.Info("HTTP server stopped")
	}

	if err := app.winderService.Close(); err != nil {
		app.logger.Warn("Serial link close error", zap.Error(err))
	}

	if app.database != nil {
		if err := app.database.Close(); err != nil {
			app.logger.Error("Database close error", zap.Error(err))
		} else {
			app.logger.Info("Database connection closed")
		}
	}

	app.logger.Info("Application shutdown completed")
	_ = utils.CloseLogger(app.logger)
}
