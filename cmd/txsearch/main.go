package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/txsearch/internal/server"
	"github.com/Adithya-Monish-Kumar-K/txsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/txsearch/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (TX_* env vars override it)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting txsearch",
		"port", cfg.Server.Port,
		"store_driver", cfg.Store.Driver,
		"db_path", cfg.Store.Path,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.Bootstrap(ctx, cfg)
	if err != nil {
		slog.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := srv.Close(); err != nil {
			slog.Error("closing resources", "error", err)
		}
	}()

	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "error", err)
		stop()
		_ = srv.Close()
		os.Exit(1)
	}
}
