// Package main provides the docket engine entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/R3E-Network/docket_engine/infrastructure/config"
	"github.com/R3E-Network/docket_engine/infrastructure/logging"
	"github.com/R3E-Network/docket_engine/infrastructure/metrics"
	"github.com/R3E-Network/docket_engine/internal/engine"
)

// Exit codes: 0 normal shutdown, 1 configuration error, 2 unrecoverable
// I/O at startup.
const (
	exitOK     = 0
	exitConfig = 1
	exitIO     = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitConfig
	}

	logger := logging.New("engine", cfg.LogLevel, cfg.LogFormat)

	if err := cfg.EnsureRoots(); err != nil {
		logger.WithError(err).Error("Startup I/O check failed")
		return exitIO
	}

	var m *metrics.Metrics
	if metrics.Enabled() {
		m = metrics.Init("engine")
	}

	eng, err := engine.New(cfg, logger, m)
	if err != nil {
		logger.WithError(err).Error("Engine construction failed")
		return exitConfig
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErr, err := eng.Start(ctx)
	if err != nil {
		logger.WithError(err).Error("Engine startup failed")
		return exitIO
	}

	if m != nil {
		start := time.Now()
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					m.UpdateUptime(start)
				}
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.WithFields(map[string]interface{}{"signal": sig.String()}).Info("Shutting down")
	case err := <-serveErr:
		if err != nil {
			logger.WithError(err).Error("HTTP server failed")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := eng.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Shutdown incomplete")
	}
	return exitOK
}
