package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/txsearch/internal/nlp"
	"github.com/Adithya-Monish-Kumar-K/txsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/txsearch/pkg/errors"
)

func i64(v int64) *int64 { return &v }

func sqliteConfig(path string) config.StoreConfig {
	return config.StoreConfig{Driver: config.DriverSQLite, Path: path}
}

// buildStore writes entries into a fresh sqlite file and reopens it
// read-only.
func buildStore(t *testing.T, entries []Entry) *SQLStore {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tx.db")
	cfg := sqliteConfig(path)

	w, err := Create(ctx, cfg, path)
	require.NoError(t, err)
	require.NoError(t, w.Write(ctx, entries))
	meta := w.CountMeta()
	meta[MetaFileCount] = "1"
	meta[MetaSourceDir] = "testdata"
	require.NoError(t, w.SetMeta(ctx, meta))
	require.NoError(t, w.Commit())
	require.NoError(t, w.Close())

	s, err := Open(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func fixture() []Entry {
	return []Entry{
		{
			Record: Record{TxID: 3, PANNumbers: "ABCDE1234F", Buyer: "John Doe", Seller: "Acme",
				Age: i64(40), Score: i64(7), PANUpper: "ABCDE1234F", NameNorm: "john doe",
				SourceFile: "a.csv", Extra: map[string]any{"village": "Pune"}},
			PANs:  []string{"ABCDE1234F"},
			Names: []string{"john doe", "acme"},
		},
		{
			Record: Record{TxID: 1, PANNumbers: "abcde1234f PQRSX9876Z", Buyer: "J Doe",
				PANUpper: "ABCDE1234F", NameNorm: "j doe", SourceFile: "a.csv"},
			PANs:  []string{"ABCDE1234F", "PQRSX9876Z", "ABCDE1234F"},
			Names: []string{"j doe", "john doe"},
		},
		{
			Record: Record{TxID: 2, PANNumbers: "LMNOP4321Q", Buyer: "Jane Roe",
				PANUpper: "LMNOP4321Q", NameNorm: "jane roe", SourceFile: "b.csv"},
			PANs:  []string{"LMNOP4321Q"},
			Names: []string{"jane roe"},
		},
	}
}

func txIDs(recs []Record) []int64 {
	ids := make([]int64, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.TxID)
	}
	return ids
}

func TestOpenMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.db")
	_, err := Open(context.Background(), sqliteConfig(path))
	require.Error(t, err)
	assert.Equal(t, "DB not found at "+path, err.Error())
	assert.True(t, IsNotFound(err))
	assert.True(t, errors.Is(err, apperrors.ErrStoreUnavailable))
}

func TestOpenRejectsFileWithoutSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.db")
	require.NoError(t, os.WriteFile(path, []byte("not a database"), 0o644))
	_, err := Open(context.Background(), sqliteConfig(path))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrStoreUnavailable))
	assert.False(t, IsNotFound(err))
}

func TestRecordsByPAN(t *testing.T) {
	s := buildStore(t, fixture())
	recs, err := s.Records(context.Background(), Filter{PANs: []string{"ABCDE1234F"}}, 100)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, txIDs(recs))

	assert.Equal(t, "Pune", recs[1].Extra["village"])
	assert.Equal(t, int64(40), *recs[1].Age)
	assert.Nil(t, recs[0].Age)
}

func TestRecordsLimitAndUnion(t *testing.T) {
	s := buildStore(t, fixture())
	ctx := context.Background()

	recs, err := s.Records(ctx, Filter{PANs: []string{"ABCDE1234F"}}, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, txIDs(recs))

	recs, err = s.Records(ctx, Filter{PANs: []string{"LMNOP4321Q"}, Names: []string{"john doe"}}, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, txIDs(recs))
}

func TestRecordsNoMatchIsEmptyNotNil(t *testing.T) {
	s := buildStore(t, fixture())
	recs, err := s.Records(context.Background(), Filter{Names: []string{"nobody"}}, 10)
	require.NoError(t, err)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)

	recs, err = s.Records(context.Background(), Filter{}, 10)
	require.NoError(t, err)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)
}

func TestNamesForPANAndPANsForName(t *testing.T) {
	s := buildStore(t, fixture())
	ctx := context.Background()

	names, err := s.NamesForPAN(ctx, "ABCDE1234F", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"john doe", "acme"}, names)

	pans, err := s.PANsForName(ctx, "john doe", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"ABCDE1234F", "PQRSX9876Z"}, pans)
}

func TestNamesByPhonetic(t *testing.T) {
	s := buildStore(t, fixture())
	ctx := context.Background()

	names, err := s.NamesByPhonetic(ctx, []string{nlp.PhoneticKey("john doe"), ""}, 10)
	require.NoError(t, err)
	assert.Contains(t, names, "john doe")
	assert.NotContains(t, names, "acme")

	names, err = s.NamesByPhonetic(ctx, []string{""}, 10)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestStatsAndCollector(t *testing.T) {
	s := buildStore(t, fixture())
	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Records: 3, PANs: 3, Names: 4, Files: 1, SourceDir: "testdata"}, st)

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewCollector(s)))
	n, err := testutil.GatherAndCount(reg, "txsearch_index_records")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReadOnlyHandle(t *testing.T) {
	s := buildStore(t, fixture())
	_, err := s.db.Exec("DELETE FROM transactions")
	assert.Error(t, err)
}

func TestRecordJSONOrderAndRoundTrip(t *testing.T) {
	rec := Record{
		TxID: 9, PANNumbers: "ABCDE1234F", Buyer: "b", Seller: "s", Score: i64(3),
		PANUpper: "ABCDE1234F", NameNorm: "b", SourceFile: "f.csv",
		Extra: map[string]any{"zeta": json.Number("1.50"), "alpha": "x", "buyer": "shadowed"},
	}
	b, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Equal(t,
		`{"tx_id":9,"pan_numbers":"ABCDE1234F","buyer":"b","seller":"s","age":null,"score":3,`+
			`"pan_upper":"ABCDE1234F","name_norm":"b","source_file":"f.csv","alpha":"x","zeta":1.50}`,
		string(b))

	var back Record
	require.NoError(t, json.Unmarshal(b, &back))
	delete(rec.Extra, "buyer")
	assert.Equal(t, rec, back)
}

func TestRebind(t *testing.T) {
	pg := dialectFor(config.DriverPostgres)
	assert.Equal(t, "a = $1 AND b IN ($2,$3)", pg.rebind("a = ? AND b IN (?,?)"))
	lite := dialectFor(config.DriverSQLite)
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
	assert.Equal(t, "?,?,?", marks(3))
	assert.Equal(t, "", marks(0))
}

func TestUncommittedRebuildLeavesNothing(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tx.db")
	cfg := sqliteConfig(path)

	w, err := Create(ctx, cfg, path)
	require.NoError(t, err)
	require.NoError(t, w.Write(ctx, fixture()))
	require.NoError(t, w.Close())

	s, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer s.Close()
	recs, err := s.Records(ctx, Filter{PANs: []string{"ABCDE1234F"}}, 10)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestWriterRejectsWritesAfterCommit(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tx.db")
	w, err := Create(ctx, sqliteConfig(path), path)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Commit())
	assert.Error(t, w.Commit())
	assert.Error(t, w.Write(ctx, fixture()))
}

func TestPostgresRebuildInvisibleUntilCommit(t *testing.T) {
	host := os.Getenv("TX_TEST_POSTGRES_HOST")
	if host == "" {
		t.Skip("TX_TEST_POSTGRES_HOST not set")
	}
	ctx := context.Background()
	cfg := config.Default().Store
	cfg.Driver = config.DriverPostgres
	cfg.Postgres.Host = host

	w, err := Create(ctx, cfg, "")
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	require.NoError(t, w.Write(ctx, fixture()))
	require.NoError(t, w.Commit())
	require.NoError(t, w.Close())

	s, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer s.Close()

	rebuild, err := Create(ctx, cfg, "")
	require.NoError(t, err)
	defer rebuild.Close()
	require.NoError(t, rebuild.Write(ctx, []Entry{{
		Record: Record{TxID: 99, PANNumbers: "QQQQQ1111Q", PANUpper: "QQQQQ1111Q"},
		PANs:   []string{"QQQQQ1111Q"},
	}}))

	recs, err := s.Records(ctx, Filter{PANs: []string{"ABCDE1234F"}}, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, txIDs(recs), "old index visible during rebuild")

	require.NoError(t, rebuild.Commit())
	recs, err = s.Records(ctx, Filter{PANs: []string{"ABCDE1234F"}}, 10)
	require.NoError(t, err)
	assert.Empty(t, recs)
	recs, err = s.Records(ctx, Filter{PANs: []string{"QQQQQ1111Q"}}, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{99}, txIDs(recs))
}
