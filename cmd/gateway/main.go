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

	"github.com/joho/godotenv"

	"chatdesk/gateway/internal/app"
	"chatdesk/gateway/internal/config"
	"chatdesk/gateway/internal/logger"
)

const envFile = ".env"

var log = logger.Named("gateway")

type httpRuntimeConfig struct {
	readHeaderTimeout time.Duration
	readTimeout       time.Duration
	writeTimeout      time.Duration
	idleTimeout       time.Duration
	shutdownTimeout   time.Duration
}

func main() {
	if err := run(); err != nil {
		logger.Fatalf("gateway exited with error: %v", err)
	}
}

func run() error {
	envErr := loadEnvFile(envFile)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}
	logger.Configure(cfg.Log.Level, cfg.Log.Format)
	if cfg.Log.File != "" {
		closer, err := logger.SetupFile(cfg.Log.File)
		if err != nil {
			return fmt.Errorf("open log file failed: %w", err)
		}
		defer closer.Close()
	}
	if envErr != nil {
		log.WithError(envErr).Warn("load env file failed")
	}
	if cfg.Source != "" {
		log.WithField("path", cfg.Source).Info("loaded config file")
	}

	srv, err := app.NewServer(cfg)
	if err != nil {
		return fmt.Errorf("init server failed: %w", err)
	}
	defer srv.Close()

	addr := fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)
	runtimeCfg := httpRuntimeConfigFrom(cfg.HTTP)
	httpServer := newHTTPServer(addr, srv.Handler(), runtimeCfg)

	errCh := make(chan error, 1)
	go func() {
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			errCh <- listenErr
			return
		}
		errCh <- nil
	}()

	log.WithFields(logger.Fields{
		"addr":                addr,
		"read_header_timeout": runtimeCfg.readHeaderTimeout.String(),
		"read_timeout":        runtimeCfg.readTimeout.String(),
		"write_timeout":       runtimeCfg.writeTimeout.String(),
		"idle_timeout":        runtimeCfg.idleTimeout.String(),
		"shutdown_timeout":    runtimeCfg.shutdownTimeout.String(),
	}).Info("gateway listening")

	signalCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case listenErr := <-errCh:
		if listenErr != nil {
			return fmt.Errorf("listen failed: %w", listenErr)
		}
		return nil
	case <-signalCtx.Done():
		log.WithField("timeout", runtimeCfg.shutdownTimeout.String()).Info("shutdown signal received, draining in-flight requests")
	}

	timedOut, shutdownErr := shutdownHTTPServer(httpServer, runtimeCfg.shutdownTimeout)
	if shutdownErr != nil {
		return shutdownErr
	}
	if timedOut {
		log.WithField("timeout", runtimeCfg.shutdownTimeout.String()).Warn("gateway shutdown degraded: in-flight requests exceeded timeout, forced close")
	} else {
		log.Info("gateway shutdown complete")
	}

	if listenErr := <-errCh; listenErr != nil {
		return fmt.Errorf("listen failed during shutdown: %w", listenErr)
	}
	return nil
}

// loadEnvFile reads path into the process environment without overriding set variables. A missing file is not an error.
func loadEnvFile(path string) error {
	err := godotenv.Load(path)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func httpRuntimeConfigFrom(cfg config.HTTPConfig) httpRuntimeConfig {
	return httpRuntimeConfig{
		readHeaderTimeout: seconds(cfg.ReadHeaderTimeoutSeconds),
		readTimeout:       seconds(cfg.ReadTimeoutSeconds),
		writeTimeout:      seconds(cfg.WriteTimeoutSeconds),
		idleTimeout:       seconds(cfg.IdleTimeoutSeconds),
		shutdownTimeout:   seconds(cfg.ShutdownTimeoutSeconds),
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func newHTTPServer(addr string, handler http.Handler, runtimeCfg httpRuntimeConfig) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: runtimeCfg.readHeaderTimeout,
		ReadTimeout:       runtimeCfg.readTimeout,
		WriteTimeout:      runtimeCfg.writeTimeout,
		IdleTimeout:       runtimeCfg.idleTimeout,
	}
}

func shutdownHTTPServer(httpServer *http.Server, timeout time.Duration) (bool, error) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			if closeErr := httpServer.Close(); closeErr != nil {
				return true, fmt.Errorf("force close failed after shutdown timeout: %w", closeErr)
			}
			return true, nil
		}
		return false, fmt.Errorf("shutdown failed: %w", err)
	}
	return false, nil
}
