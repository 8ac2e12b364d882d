package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"solana-swap-watch/internal/app"
	"solana-swap-watch/internal/config"
	"solana-swap-watch/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	envFile := flag.String("env-file", ".env", "Path to dotenv file with secrets")
	metricsAddr := flag.String("metrics-addr", "", "Override metrics HTTP address (\"off\" to disable)")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	switch *metricsAddr {
	case "":
	case "off":
		cfg.Metrics.Addr = ""
	default:
		cfg.Metrics.Addr = *metricsAddr
	}

	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup logging: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Startup failed")
	}
	defer watcher.Close()

	// Handle shutdown signals with graceful timeout
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			logger.WithField("signal", sig).Info("Shutting down")
		case <-done:
			return
		}
		watcher.Stop()

		select {
		case sig := <-sigCh:
			logger.WithField("signal", sig).Warn("Second signal, forcing exit")
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Warn("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = watcher.Run(ctx)
	close(done)

	if err != nil {
		logger.WithError(err).Error("Watcher stopped")
		_ = watcher.Close()
		_ = closer.Close()
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}
