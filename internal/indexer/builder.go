// Package indexer builds the Index Store offline from a directory of CSV or
// JSON-lines exports, optionally compressed with gzip, zstd or lz4.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/txsearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/txsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/txsearch/pkg/kafka"
)

// ErrNoSources is returned when the source directory holds no supported file.
var ErrNoSources = errors.New("no source files found")

// Publisher receives the IndexBuilt event. *kafka.Producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Report summarises a finished build.
type Report struct {
	Output   string        `json:"output"`
	Files    int           `json:"files"`
	Records  int64         `json:"records"`
	Skipped  int64         `json:"skipped"`
	Duration time.Duration `json:"duration"`
}

// IndexBuiltEvent is published once a build has been committed.
type IndexBuiltEvent struct {
	Type       string    `json:"type"`
	Output     string    `json:"output"`
	SourceDir  string    `json:"source_dir"`
	Files      int       `json:"files"`
	Records    int64     `json:"records"`
	Skipped    int64     `json:"skipped"`
	DurationMs int64     `json:"duration_ms"`
	BuiltAt    time.Time `json:"built_at"`
}

// Builder turns source files into an Index Store.
type Builder struct {
	cfg       config.IndexerConfig
	storeCfg  config.StoreConfig
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewBuilder creates a Builder. publisher may be nil.
func NewBuilder(cfg config.IndexerConfig, storeCfg config.StoreConfig, publisher Publisher) *Builder {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1000
	}
	return &Builder{
		cfg:       cfg,
		storeCfg:  storeCfg,
		publisher: publisher,
		logger:    slog.Default().With("component", "indexer"),
		now:       time.Now,
	}
}

type parsedFile struct {
	entries []store.Entry
	skipped int64
}

// Build reads every supported file in sourceDir and writes a fresh store.
// For sqlite, out is the final database path; the build happens in
// out+".tmp" and is renamed into place only on success. For postgres, out
// is informational and the tables are reloaded in place.
func (b *Builder) Build(ctx context.Context, sourceDir, out string) (*Report, error) {
	start := b.now()
	files, err := listSources(sourceDir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoSources, sourceDir)
	}

	sqlite := b.storeCfg.Driver == config.DriverSQLite || b.storeCfg.Driver == ""
	target := out
	if sqlite {
		target = out + ".tmp"
		if dir := filepath.Dir(out); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating output directory: %w", err)
			}
		}
	}

	w, err := store.Create(ctx, b.storeCfg, target)
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = w.Close()
			if sqlite {
				_ = os.Remove(target)
			}
		}
	}()

	b.logger.Info("index build started",
		"source_dir", sourceDir,
		"files", len(files),
		"workers", b.cfg.Workers,
	)

	report := &Report{Output: out, Files: len(files)}
	var nextID int64
	for lo := 0; lo < len(files); lo += b.cfg.Workers {
		hi := min(lo+b.cfg.Workers, len(files))
		window, err := b.parseWindow(ctx, files[lo:hi])
		if err != nil {
			return nil, err
		}
		for i, pf := range window {
			report.Skipped += pf.skipped
			for j := range pf.entries {
				nextID++
				pf.entries[j].Record.TxID = nextID
			}
			if err := b.writeBatches(ctx, w, pf.entries); err != nil {
				return nil, fmt.Errorf("writing %s: %w", files[lo+i], err)
			}
			b.logger.Debug("source file indexed",
				"file", filepath.Base(files[lo+i]),
				"records", len(pf.entries),
				"skipped", pf.skipped,
			)
		}
	}
	report.Records = w.Records()

	builtAt := b.now().UTC()
	meta := w.CountMeta()
	meta[store.MetaBuiltAt] = builtAt.Format(time.RFC3339)
	meta[store.MetaSourceDir] = sourceDir
	meta[store.MetaFileCount] = strconv.Itoa(len(files))
	if err := w.SetMeta(ctx, meta); err != nil {
		return nil, err
	}
	if err := w.Commit(); err != nil {
		return nil, err
	}
	committed = true
	if err := w.Close(); err != nil {
		if sqlite {
			_ = os.Remove(target)
		}
		return nil, fmt.Errorf("closing store: %w", err)
	}
	if sqlite {
		if err := os.Rename(target, out); err != nil {
			_ = os.Remove(target)
			return nil, fmt.Errorf("publishing %s: %w", out, err)
		}
	}
	report.Duration = b.now().Sub(start)

	b.logger.Info("index build finished",
		"output", out,
		"files", report.Files,
		"records", report.Records,
		"skipped", report.Skipped,
		"duration_ms", report.Duration.Milliseconds(),
	)
	b.announce(ctx, sourceDir, report, builtAt)
	return report, nil
}

func (b *Builder) parseWindow(ctx context.Context, files []string) ([]parsedFile, error) {
	results := make([]parsedFile, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			pf, err := parseFile(gctx, path)
			if err != nil {
				return err
			}
			results[i] = pf
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func parseFile(ctx context.Context, path string) (parsedFile, error) {
	rc, f, err := openSource(path)
	if err != nil {
		return parsedFile{}, err
	}
	defer rc.Close()

	name := filepath.Base(path)
	var pf parsedFile
	skipped, err := readRows(rc, f, func(row map[string]any) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		entry, ok := deriveEntry(row, name)
		if !ok {
			pf.skipped++
			return nil
		}
		pf.entries = append(pf.entries, entry)
		return nil
	})
	if err != nil {
		return parsedFile{}, fmt.Errorf("parsing %s: %w", name, err)
	}
	pf.skipped += skipped
	return pf, nil
}

func (b *Builder) writeBatches(ctx context.Context, w *store.Writer, entries []store.Entry) error {
	for lo := 0; lo < len(entries); lo += b.cfg.BatchSize {
		hi := min(lo+b.cfg.BatchSize, len(entries))
		if err := w.Write(ctx, entries[lo:hi]); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) announce(ctx context.Context, sourceDir string, r *Report, builtAt time.Time) {
	if b.publisher == nil {
		return
	}
	event := IndexBuiltEvent{
		Type:       "index_built",
		Output:     r.Output,
		SourceDir:  sourceDir,
		Files:      r.Files,
		Records:    r.Records,
		Skipped:    r.Skipped,
		DurationMs: r.Duration.Milliseconds(),
		BuiltAt:    builtAt,
	}
	if err := b.publisher.Publish(ctx, kafka.Event{Key: r.Output, Value: event}); err != nil {
		b.logger.Warn("failed to publish index-built event", "error", err)
	}
}
