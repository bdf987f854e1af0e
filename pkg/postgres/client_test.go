package postgres

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/txsearch/pkg/config"
)

func TestOpenUnreachable(t *testing.T) {
	cfg := config.Default().Store.Postgres
	cfg.Host = "127.0.0.1"
	cfg.Port = 1

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := Open(ctx, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pinging postgres 127.0.0.1:1/txsearch")
}

func TestOpenLive(t *testing.T) {
	host := os.Getenv("TX_TEST_POSTGRES_HOST")
	if host == "" {
		t.Skip("TX_TEST_POSTGRES_HOST not set")
	}
	cfg := config.Default().Store.Postgres
	cfg.Host = host
	if p, err := strconv.Atoi(os.Getenv("TX_TEST_POSTGRES_PORT")); err == nil {
		cfg.Port = p
	}

	db, err := Open(context.Background(), cfg)
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	defer db.Close()

	var one int
	require.NoError(t, db.QueryRow("SELECT 1").Scan(&one))
	assert.Equal(t, 1, one)
}
