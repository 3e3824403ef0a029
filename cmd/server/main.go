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

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	_ "serial-debugger/docs"
	"serial-debugger/internal/config"
	"serial-debugger/internal/discovery"
	serialscanner "serial-debugger/internal/discovery/serial"
	"serial-debugger/internal/protocol"
	"serial-debugger/internal/routes"
	"serial-debugger/internal/service"
	"serial-debugger/internal/session"
	"serial-debugger/internal/utils"
)

// Application represents the main application
type Application struct {
	config *config.Config
	logger *zap.Logger
	server *http.Server

	manager       *session.Manager
	scanners      *discovery.ScannerManager
	serialService *service.SerialService

	stopBackground context.CancelFunc
}

// @title Serial Debugger API
// @version 1.0.0
// @description Open serial ports, exchange data in raw, hex, Modbus RTU or framed form, and watch traffic live

// @contact.name Serial Debugger

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8000
// @BasePath /api/v1
func main() {
	configFile := pflag.StringP("config", "c", "", "path to a config file")
	pflag.Parse()

	app, err := NewApplication(*configFile)
	if err != nil {
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Start(); err != nil {
		app.logger.Fatal("Failed to start application", zap.Error(err))
	}
}

// NewApplication creates a new application instance
func NewApplication(configFile string) (*Application, error) {
	cfg, err := config.LoadWith(viper.New(), configFile)
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

	if err := app.initializeDiscovery(); err != nil {
		return nil, fmt.Errorf("failed to initialize port discovery: %w", err)
	}

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := app.initializeServer(); err != nil {
		return nil, fmt.Errorf("failed to initialize server: %w", err)
	}

	return app, nil
}

// initializeDiscovery registers the port scanners
func (app *Application) initializeDiscovery() error {
	app.scanners = discovery.NewScannerManager(app.logger)
	app.scanners.RegisterScanner(serialscanner.NewScanner(app.logger, nil))

	available := app.scanners.GetAvailableScanners()
	if len(available) == 0 {
		app.logger.Warn("No port scanner is available on this platform")
	}

	app.logger.Info("Port discovery initialized", zap.Strings("scanners", available))
	return nil
}

// initializeServices creates the session manager and the serial service
func (app *Application) initializeServices() error {
	opts, err := service.SessionOptions(app.config)
	if err != nil {
		return err
	}

	pollInterval := app.config.Session.PollInterval
	factory := func() protocol.Transport {
		return protocol.NewSerialTransport(protocol.OpenSerial, pollInterval, app.logger)
	}
	app.manager = session.NewManager(factory, opts, app.logger)

	app.serialService, err = service.NewSerialService(app.manager, app.scanners, app.config, app.logger)
	if err != nil {
		return err
	}

	app.logger.Info("Services initialized successfully",
		zap.Duration("poll_interval", pollInterval),
		zap.Int("queue_size", opts.QueueSize),
	)
	return nil
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() error {
	routerManager := routes.NewRouter(app.config, app.logger, app.serialService)
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

	return nil
}

// startBackgroundServices starts background services
func (app *Application) startBackgroundServices() {
	ctx, cancel := context.WithCancel(context.Background())
	app.stopBackground = cancel

	go app.serialService.RunMonitor(ctx)

	app.logger.Info("Background services started",
		zap.Duration("monitor_interval", app.config.Session.MonitorInterval),
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

	if app.stopBackground != nil {
		app.stopBackground()
	}

	ctx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		app.logger.Info("HTTP server stopped")
	}

	// viewers get their final state event before the ports are released
	if err := app.serialService.CloseAll(); err != nil {
		app.logger.Error("Session shutdown error", zap.Error(err))
	} else {
		app.logger.Info("All sessions closed")
	}

	app.logger.Info("Application shutdown completed")

	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Printf("Logger close error: %v\n", err)
	}
}

// Start runs the HTTP server until a shutdown signal arrives
func (app *Application) Start() error {
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

	app.startBackgroundServices()
	app.waitForShutdown()

	return nil
}
