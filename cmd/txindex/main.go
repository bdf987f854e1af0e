package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/txsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/txsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/txsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/txsearch/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (TX_* env vars override it)")
	source := flag.String("source", "", "directory of CSV/JSONL exports (defaults to indexer.sourceDir)")
	out := flag.String("out", "", "output index path (defaults to store.path)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	sourceDir := cfg.Indexer.SourceDir
	if *source != "" {
		sourceDir = *source
	}
	output := cfg.Store.Path
	if *out != "" {
		output = *out
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var publisher indexer.Publisher
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexBuilt)
		defer producer.Close()
		publisher = producer
	}

	slog.Info("building index",
		"source_dir", sourceDir,
		"output", output,
		"driver", cfg.Store.Driver,
		"workers", cfg.Indexer.Workers,
	)

	report, err := indexer.NewBuilder(cfg.Indexer, cfg.Store, publisher).Build(ctx, sourceDir, output)
	if err != nil {
		slog.Error("index build failed", "error", err)
		stop()
		os.Exit(1)
	}

	slog.Info("index build complete",
		"output", report.Output,
		"files", report.Files,
		"records", report.Records,
		"skipped", report.Skipped,
		"duration", report.Duration,
	)
}
