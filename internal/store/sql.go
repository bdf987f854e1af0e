package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/txsearch/pkg/config"
)

// dialect papers over placeholder syntax. Queries are written with '?' and
// rebound for drivers that number their parameters.
type dialect struct {
	driver   string
	numbered bool
}

func dialectFor(driver string) dialect {
	return dialect{driver: driver, numbered: driver == config.DriverPostgres}
}

func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func marks(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

const selectRecords = `SELECT t.tx_id, t.pan_numbers, t.buyer, t.seller, t.age, t.score,
	t.pan_upper, t.name_norm, t.source_file, t.extra
FROM transactions t`

func recordsQuery(f Filter, limit int) (string, []any) {
	var clauses []string
	args := make([]any, 0, len(f.PANs)+len(f.Names)+1)
	if len(f.PANs) > 0 {
		clauses = append(clauses,
			"t.tx_id IN (SELECT tx_id FROM transaction_pans WHERE pan IN ("+marks(len(f.PANs))+"))")
		for _, p := range f.PANs {
			args = append(args, p)
		}
	}
	if len(f.Names) > 0 {
		clauses = append(clauses,
			"t.tx_id IN (SELECT tx_id FROM transaction_names WHERE name_norm IN ("+marks(len(f.Names))+"))")
		for _, n := range f.Names {
			args = append(args, n)
		}
	}
	args = append(args, limit)
	return selectRecords + "\nWHERE " + strings.Join(clauses, " OR ") + "\nORDER BY t.tx_id\nLIMIT ?", args
}

const namesForPANQuery = `SELECT n.name_norm, COUNT(*) AS hits
FROM transaction_names n
JOIN transaction_pans p ON p.tx_id = n.tx_id
WHERE p.pan = ?
GROUP BY n.name_norm
ORDER BY hits DESC, n.name_norm
LIMIT ?`

const pansForNameQuery = `SELECT DISTINCT p.pan
FROM transaction_pans p
JOIN transaction_names n ON n.tx_id = p.tx_id
WHERE n.name_norm = ?
ORDER BY p.pan
LIMIT ?`

func namesByPhoneticQuery(keys []string, n int) (string, []any) {
	args := make([]any, 0, len(keys)+1)
	for _, k := range keys {
		args = append(args, k)
	}
	args = append(args, n)
	return `SELECT DISTINCT name_norm
FROM transaction_names
WHERE name_phonetic IN (` + marks(len(keys)) + `)
ORDER BY name_norm
LIMIT ?`, args
}

// SQLStore implements Store over database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	source  string
}

// Driver returns the configured store driver name.
func (s *SQLStore) Driver() string {
	return s.dialect.driver
}

// Source describes where the store lives, for logs.
func (s *SQLStore) Source() string {
	return s.source
}

func (s *SQLStore) Records(ctx context.Context, f Filter, limit int) ([]Record, error) {
	if f.Empty() || limit <= 0 {
		return []Record{}, nil
	}
	query, args := recordsQuery(f, limit)
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0, min(limit, 64))
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}
	return records, nil
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var (
		rec        Record
		age, score sql.NullInt64
		extra      string
	)
	if err := rows.Scan(&rec.TxID, &rec.PANNumbers, &rec.Buyer, &rec.Seller, &age, &score,
		&rec.PANUpper, &rec.NameNorm, &rec.SourceFile, &extra); err != nil {
		return Record{}, fmt.Errorf("scanning record: %w", err)
	}
	if age.Valid {
		rec.Age = &age.Int64
	}
	if score.Valid {
		rec.Score = &score.Int64
	}
	m, err := DecodeExtra(extra)
	if err != nil {
		return Record{}, fmt.Errorf("decoding extra for tx %d: %w", rec.TxID, err)
	}
	rec.Extra = m
	return rec, nil
}

func (s *SQLStore) NamesForPAN(ctx context.Context, pan string, n int) ([]string, error) {
	if pan == "" || n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(namesForPANQuery), pan, n)
	if err != nil {
		return nil, fmt.Errorf("querying names for pan: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var (
			name string
			hits int64
		)
		if err := rows.Scan(&name, &hits); err != nil {
			return nil, fmt.Errorf("scanning name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLStore) PANsForName(ctx context.Context, name string, n int) ([]string, error) {
	if name == "" || n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(pansForNameQuery), name, n)
	if err != nil {
		return nil, fmt.Errorf("querying pans for name: %w", err)
	}
	defer rows.Close()
	var pans []string
	for rows.Next() {
		var pan string
		if err := rows.Scan(&pan); err != nil {
			return nil, fmt.Errorf("scanning pan: %w", err)
		}
		pans = append(pans, pan)
	}
	return pans, rows.Err()
}

func (s *SQLStore) NamesByPhonetic(ctx context.Context, keys []string, n int) ([]string, error) {
	keys = nonEmpty(keys)
	if len(keys) == 0 || n <= 0 {
		return nil, nil
	}
	query, args := namesByPhoneticQuery(keys, n)
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying names by phonetic key: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func nonEmpty(in []string) []string {
	out := in[:0:0]
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Stats reads the counters recorded by the builder, falling back to a row
// count for stores built without them.
func (s *SQLStore) Stats(ctx context.Context) (Stats, error) {
	meta, err := s.meta(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{
		BuiltAt:   meta[MetaBuiltAt],
		SourceDir: meta[MetaSourceDir],
	}
	st.Records, _ = strconv.ParseInt(meta[MetaRecordCount], 10, 64)
	st.PANs, _ = strconv.ParseInt(meta[MetaPANCount], 10, 64)
	st.Names, _ = strconv.ParseInt(meta[MetaNameCount], 10, 64)
	st.Files, _ = strconv.ParseInt(meta[MetaFileCount], 10, 64)
	if _, ok := meta[MetaRecordCount]; !ok {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions").Scan(&st.Records); err != nil {
			return Stats{}, fmt.Errorf("counting records: %w", err)
		}
	}
	return st, nil
}

func (s *SQLStore) meta(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM index_meta")
	if err != nil {
		return nil, fmt.Errorf("reading index meta: %w", err)
	}
	defer rows.Close()
	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scanning index meta: %w", err)
		}
		meta[k] = v
	}
	return meta, rows.Err()
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
