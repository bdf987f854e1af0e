package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/txsearch/internal/nlp"
	"github.com/Adithya-Monish-Kumar-K/txsearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/txsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/txsearch/pkg/errors"
)

func buildIndex(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tx.db")
	cfg := config.StoreConfig{Driver: config.DriverSQLite, Path: path}

	w, err := store.Create(ctx, cfg, path)
	require.NoError(t, err)
	entries := []store.Entry{
		{Record: store.Record{TxID: 1, PANNumbers: "ABCDE1234F", Buyer: "Ravi Kumar", PANUpper: "ABCDE1234F", NameNorm: "ravi kumar"},
			PANs: []string{"ABCDE1234F"}, Names: []string{"ravi kumar"}},
		{Record: store.Record{TxID: 2, PANNumbers: "ABCDE1234F", Seller: "Sita Devi", PANUpper: "ABCDE1234F", NameNorm: "sita devi"},
			PANs: []string{"ABCDE1234F"}, Names: []string{"sita devi"}},
		{Record: store.Record{TxID: 3, PANNumbers: "abcde1234f", Buyer: "Ravi Kumar", PANUpper: "ABCDE1234F", NameNorm: "ravi kumar"},
			PANs: []string{"ABCDE1234F"}, Names: []string{"ravi kumar"}},
		{Record: store.Record{TxID: 4, PANNumbers: "ZZZZZ9999Z", Buyer: "Other", PANUpper: "ZZZZZ9999Z", NameNorm: "other"},
			PANs: []string{"ZZZZZ9999Z"}, Names: []string{"other"}},
		{Record: store.Record{TxID: 5, PANNumbers: "PQRSX9876Z, zzzzz9999z", Buyer: "Other", PANUpper: "PQRSX9876Z", NameNorm: "other"},
			PANs: []string{"PQRSX9876Z", "ZZZZZ9999Z"}, Names: []string{"other"}},
		{Record: store.Record{TxID: 6, PANNumbers: "KLMNO5555K", Buyer: "Ravi Kumaar", PANUpper: "KLMNO5555K", NameNorm: "ravi kumaar"},
			PANs: []string{"KLMNO5555K"}, Names: []string{"ravi kumaar"}},
	}
	require.NoError(t, w.Write(ctx, entries))
	require.NoError(t, w.SetMeta(ctx, w.CountMeta()))
	require.NoError(t, w.Commit())
	require.NoError(t, w.Close())
	return path
}

func testConfig(t *testing.T, dbPath string) *config.Config {
	t.Helper()
	t.Setenv("TX_DB_PATH", dbPath)
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Metrics.Enabled = false
	cfg.Redis.Enabled = false
	cfg.Kafka.Enabled = false
	cfg.Server.Port = 0
	return cfg
}

func bootstrap(t *testing.T) *Server {
	t.Helper()
	srv, err := Bootstrap(context.Background(), testConfig(t, buildIndex(t)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func do(t *testing.T, srv *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealth(t *testing.T) {
	srv := bootstrap(t)
	assert.Equal(t, StateStarting, srv.State())

	rec := do(t, srv, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHealthReady(t *testing.T) {
	srv := bootstrap(t)
	rec := do(t, srv, http.MethodGet, "/health/ready")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "index_store")
}

func TestSearchMissingParams(t *testing.T) {
	srv := bootstrap(t)
	rec := do(t, srv, http.MethodGet, "/search")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"detail":"Provide either pan or seed_name"}`, rec.Body.String())
}

func TestSearchByPAN(t *testing.T) {
	srv := bootstrap(t)
	rec := do(t, srv, http.MethodGet, "/search?pan=ABCDE1234F&limit=50")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count int              `json:"count"`
		Data  []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Count)
	require.Len(t, body.Data, 3)
	for _, row := range body.Data {
		assert.Contains(t, nlp.CanonicalizePAN(row["pan_numbers"].(string)), "ABCDE1234F")
	}
}

// Every row returned for a PAN carries that PAN in pan_numbers, compared
// case- and whitespace-insensitively.
func TestSearchByPANRowsContainPAN(t *testing.T) {
	srv := bootstrap(t)
	for _, tt := range []struct {
		query string
		want  int
	}{
		{"ABCDE1234F", 3},
		{"abcde 1234f", 3},
		{"ZZZZZ9999Z", 2},
		{"PQRSX9876Z", 1},
	} {
		rec := do(t, srv, http.MethodGet, "/search?pan="+url.QueryEscape(tt.query))
		require.Equal(t, http.StatusOK, rec.Code, tt.query)

		var body struct {
			Count int `json:"count"`
			Data  []struct {
				PANNumbers string `json:"pan_numbers"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, tt.want, body.Count, tt.query)
		assert.Len(t, body.Data, body.Count, tt.query)
		assert.LessOrEqual(t, body.Count, 100)

		canonical := nlp.CanonicalizePAN(tt.query)
		for _, row := range body.Data {
			assert.True(t, strings.Contains(nlp.CanonicalizePAN(row.PANNumbers), canonical),
				"%q does not contain %q", row.PANNumbers, canonical)
		}
	}
}

func TestSearchNoMatches(t *testing.T) {
	srv := bootstrap(t)
	rec := do(t, srv, http.MethodGet, "/search?seed_name=John%20Doe")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":0,"data":[]}`, rec.Body.String())
}

func TestSearchIsRepeatable(t *testing.T) {
	srv := bootstrap(t)
	first := do(t, srv, http.MethodGet, "/search?seed_name=Ravi%20Kumar")
	second := do(t, srv, http.MethodGet, "/search?seed_name=Ravi%20Kumar")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
}

func TestSearchExpandFindsSpellingVariant(t *testing.T) {
	srv := bootstrap(t)
	var body struct {
		Count int              `json:"count"`
		Data  []map[string]any `json:"data"`
	}

	rec := do(t, srv, http.MethodGet, "/search?seed_name=Ravi%20Kumar")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)

	rec = do(t, srv, http.MethodGet, "/search?seed_name=Ravi%20Kumar&expand=true")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	ids := make([]float64, 0, len(body.Data))
	for _, row := range body.Data {
		ids = append(ids, row["tx_id"].(float64))
	}
	assert.Contains(t, ids, 6.0)
	assert.NotContains(t, ids, 4.0)
}

func TestCORSPreflight(t *testing.T) {
	srv := bootstrap(t)
	req := httptest.NewRequest(http.MethodOptions, "/search", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestBootstrapMissingStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.db")
	_, err := Bootstrap(context.Background(), testConfig(t, path))
	require.Error(t, err)
	assert.Equal(t, "DB not found at "+path, err.Error())
	assert.True(t, store.IsNotFound(err))
}

func TestRunServesAndStops(t *testing.T) {
	srv := bootstrap(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	require.Eventually(t, func() bool {
		return srv.State() == StateServing && srv.Addr() != ""
	}, 2*time.Second, 10*time.Millisecond)

	_, port, err := net.SplitHostPort(srv.Addr())
	require.NoError(t, err)
	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%s/health", port))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, StateStopped, srv.State())
}

func TestRunPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()

	srv := bootstrap(t)
	srv.cfg.Server.Port = ln.Addr().(*net.TCPAddr).Port

	err = srv.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrPortInUse))
	assert.Equal(t, StateStarting, srv.State())
}
