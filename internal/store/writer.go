package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/txsearch/internal/nlp"
	"github.com/Adithya-Monish-Kumar-K/txsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/txsearch/pkg/postgres"
)

// Keys written to index_meta by the builder.
const (
	MetaBuiltAt     = "built_at"
	MetaSourceDir   = "source_dir"
	MetaRecordCount = "record_count"
	MetaPANCount    = "pan_count"
	MetaNameCount   = "name_count"
	MetaFileCount   = "file_count"
)

// Entry is a record together with the link keys derived for it.
type Entry struct {
	Record Record
	PANs   []string
	Names  []string
}

// Writer bulk-loads an Index Store. It is not safe for concurrent use.
//
// The whole rebuild runs in a single transaction that Commit publishes, so
// postgres readers of the live tables keep seeing the previous index until
// then.
type Writer struct {
	db      *sql.DB
	tx      *sql.Tx
	dialect dialect
	pans    map[string]struct{}
	names   map[string]struct{}
	records int64
}

// Create prepares an empty, migrated store for writing. For sqlite any file
// at path is replaced; for postgres the existing tables are emptied inside
// the rebuild transaction.
func Create(ctx context.Context, cfg config.StoreConfig, path string) (*Writer, error) {
	var (
		db  *sql.DB
		err error
	)
	switch cfg.Driver {
	case config.DriverSQLite, "":
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("removing stale %s: %w", path, err)
		}
		if err := Migrate(cfg, path); err != nil {
			return nil, err
		}
		db, err = sql.Open("sqlite", "file:"+path+"?_pragma=synchronous(OFF)&_pragma=journal_mode(MEMORY)")
		if err != nil {
			return nil, fmt.Errorf("opening sqlite %s: %w", path, err)
		}
		db.SetMaxOpenConns(1)
	case config.DriverPostgres:
		if err := Migrate(cfg, ""); err != nil {
			return nil, err
		}
		if db, err = postgres.Open(ctx, cfg.Postgres); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("beginning rebuild transaction: %w", err)
	}

	driver := cfg.Driver
	if driver == "" {
		driver = config.DriverSQLite
	}
	w := &Writer{
		db:      db,
		tx:      tx,
		dialect: dialectFor(driver),
		pans:    make(map[string]struct{}),
		names:   make(map[string]struct{}),
	}
	if err := w.reset(ctx); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) reset(ctx context.Context) error {
	return w.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"transaction_pans", "transaction_names", "transactions", "index_meta"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clearing %s: %w", table, err)
			}
		}
		return nil
	})
}

// Write inserts entries and their links in one transaction.
func (w *Writer) Write(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return w.inTx(ctx, func(tx *sql.Tx) error {
		recStmt, err := tx.PrepareContext(ctx, w.dialect.rebind(`INSERT INTO transactions
			(tx_id, pan_numbers, buyer, seller, age, score, pan_upper, name_norm, source_file, extra)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
		if err != nil {
			return fmt.Errorf("preparing record insert: %w", err)
		}
		defer recStmt.Close()
		panStmt, err := tx.PrepareContext(ctx, w.dialect.rebind(
			"INSERT INTO transaction_pans (tx_id, pan) VALUES (?, ?)"))
		if err != nil {
			return fmt.Errorf("preparing pan insert: %w", err)
		}
		defer panStmt.Close()
		nameStmt, err := tx.PrepareContext(ctx, w.dialect.rebind(
			"INSERT INTO transaction_names (tx_id, name_norm, name_phonetic) VALUES (?, ?, ?)"))
		if err != nil {
			return fmt.Errorf("preparing name insert: %w", err)
		}
		defer nameStmt.Close()

		for _, e := range entries {
			r := e.Record
			extra, err := EncodeExtra(r.Extra)
			if err != nil {
				return fmt.Errorf("encoding extra for tx %d: %w", r.TxID, err)
			}
			if _, err := recStmt.ExecContext(ctx, r.TxID, r.PANNumbers, r.Buyer, r.Seller,
				nullInt(r.Age), nullInt(r.Score), r.PANUpper, r.NameNorm, r.SourceFile, extra); err != nil {
				return fmt.Errorf("inserting tx %d: %w", r.TxID, err)
			}
			for _, pan := range unique(e.PANs) {
				if _, err := panStmt.ExecContext(ctx, r.TxID, pan); err != nil {
					return fmt.Errorf("linking pan for tx %d: %w", r.TxID, err)
				}
				w.pans[pan] = struct{}{}
			}
			for _, name := range unique(e.Names) {
				if _, err := nameStmt.ExecContext(ctx, r.TxID, name, nlp.PhoneticKey(name)); err != nil {
					return fmt.Errorf("linking name for tx %d: %w", r.TxID, err)
				}
				w.names[name] = struct{}{}
			}
		}
		w.records += int64(len(entries))
		return nil
	})
}

// SetMeta upserts index_meta entries.
func (w *Writer) SetMeta(ctx context.Context, kv map[string]string) error {
	return w.inTx(ctx, func(tx *sql.Tx) error {
		for k, v := range kv {
			if _, err := tx.ExecContext(ctx, w.dialect.rebind("DELETE FROM index_meta WHERE key = ?"), k); err != nil {
				return fmt.Errorf("clearing meta %s: %w", k, err)
			}
			if _, err := tx.ExecContext(ctx, w.dialect.rebind("INSERT INTO index_meta (key, value) VALUES (?, ?)"), k, v); err != nil {
				return fmt.Errorf("writing meta %s: %w", k, err)
			}
		}
		return nil
	})
}

// CountMeta returns the record, distinct PAN and distinct name counters
// accumulated so far, keyed for SetMeta.
func (w *Writer) CountMeta() map[string]string {
	return map[string]string{
		MetaRecordCount: strconv.FormatInt(w.records, 10),
		MetaPANCount:    strconv.Itoa(len(w.pans)),
		MetaNameCount:   strconv.Itoa(len(w.names)),
	}
}

// Records returns how many records have been written.
func (w *Writer) Records() int64 {
	return w.records
}

// Commit publishes everything written so far. Later writes fail.
func (w *Writer) Commit() error {
	if w.tx == nil {
		return errors.New("rebuild already finished")
	}
	err := w.tx.Commit()
	w.tx = nil
	if err != nil {
		return fmt.Errorf("committing rebuild: %w", err)
	}
	return nil
}

// Close releases the underlying connection. An uncommitted rebuild is rolled
// back and the previous index stays in place.
func (w *Writer) Close() error {
	if w.tx != nil {
		_ = w.tx.Rollback()
		w.tx = nil
	}
	return w.db.Close()
}

func (w *Writer) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if w.tx == nil {
		return errors.New("rebuild already finished")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(w.tx)
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func unique(in []string) []string {
	if len(in) < 2 {
		return in
	}
	seen := make(map[string]struct{}, len(in))
	out := in[:0:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
