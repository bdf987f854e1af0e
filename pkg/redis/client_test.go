package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/txsearch/pkg/config"
)

// newTestClient connects to TX_TEST_REDIS_ADDR, skipping when unset or
// unreachable.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("TX_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TX_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := NewClient(ctx, config.RedisConfig{Addr: addr, PoolSize: 2})
	if err != nil {
		t.Skipf("redis unavailable at %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestIsNilError(t *testing.T) {
	assert.True(t, IsNilError(fmt.Errorf("wrapped: %w", goredis.Nil)))
	assert.False(t, IsNilError(fmt.Errorf("other")))
}

func TestSetGetFlush(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	prefix := fmt.Sprintf("txsearch-test:%d:", time.Now().UnixNano())

	require.NoError(t, c.Set(ctx, prefix+"a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, prefix+"b", []byte("2"), time.Minute))

	v, err := c.Get(ctx, prefix+"a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	n, err := c.CountByPattern(ctx, prefix+"*")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	deleted, err := c.FlushByPattern(ctx, prefix+"*")
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)

	_, err = c.Get(ctx, prefix+"a")
	assert.True(t, IsNilError(err))
}
