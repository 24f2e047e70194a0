// Package service holds the process plumbing shared by every binary:
// configuration bootstrap, the ops HTTP server and graceful shutdown.
package service

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/powrelay/internal/config"
	"github.com/cuongbtq/powrelay/shared/logger"
)

// Options describes one service binary
type Options struct {
	Name string
	// ConfigEnv names the variable that overrides DefaultConfigPath
	ConfigEnv         string
	DefaultConfigPath string
	Validate          func(*config.Config) error
}

// Bootstrap loads .env, parses flags, loads and validates the configuration
// and builds the logger. The caller closes the returned logger.
func Bootstrap(opts Options) (*config.Config, *logger.Logger, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv(opts.ConfigEnv)
	if defaultConfigPath == "" {
		defaultConfigPath = opts.DefaultConfigPath
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	if opts.Validate != nil {
		if err := opts.Validate(cfg); err != nil {
			return nil, nil, fmt.Errorf("invalid config: %w", err)
		}
	}

	appLogger, err := logger.New(cfg.LoggerConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting "+opts.Name,
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	return cfg, appLogger, nil
}

// SetGinMode picks the gin mode from the deployment environment
func SetGinMode(environment string) {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
}

// NewHTTPServer creates the server for the ops and websocket endpoints
func NewHTTPServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

// Serve runs srv until ctx is cancelled or the listener fails. On
// cancellation every hook runs first, then the server shuts down, all
// within cfg.ShutdownTimeout.
func Serve(ctx context.Context, srv *http.Server, cfg config.ServerConfig, logger *slog.Logger, hooks ...func(context.Context) error) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server",
			slog.String("address", srv.Addr),
			slog.Duration("read_timeout", cfg.ReadTimeout),
			slog.Duration("write_timeout", cfg.WriteTimeout),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
	case err, ok := <-errChan:
		if ok {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	}

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	for _, hook := range hooks {
		errs = append(errs, hook(shutdownCtx))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server forced to shutdown: %w", err))
	}

	return errors.Join(errs...)
}
