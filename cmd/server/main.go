package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/JAKOBGTAG/multi-email-sender/internal/api"
	"github.com/JAKOBGTAG/multi-email-sender/internal/bootstrap"
	"github.com/JAKOBGTAG/multi-email-sender/internal/config"
	"github.com/JAKOBGTAG/multi-email-sender/internal/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML configuration")
	flag.Parse()

	path := *configPath
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Warn("config file not found, using defaults", "path", path)
		path = ""
	}

	cfg, err := config.LoadFromEnv(path)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		logger.Error("failed to build runtime", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	server := api.NewServer(rt.Handlers(), cfg.Server.AllowedOrigins)
	server.SetBaseContext(ctx)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		addr := cfg.Server.Addr()
		logger.Info("starting server", "addr", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("shutting down")

	// In-flight batches stop and answer with their partial results.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	logger.Info("server stopped", "statistics_sent", rt.Service.Statistics().TotalSent)
}
