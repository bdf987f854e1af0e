package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowBurstThenReject(t *testing.T) {
	l := New(1, 3)
	fixed := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return fixed }

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("10.0.0.1"), "request %d within burst", i)
	}
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"), "keys are independent")
}

func TestAllowRefills(t *testing.T) {
	l := New(2, 1)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("k"))
	assert.False(t, l.Allow("k"))

	now = now.Add(600 * time.Millisecond)
	assert.True(t, l.Allow("k"))
}

func TestEvictIdle(t *testing.T) {
	l := New(5, 5)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	l.Allow("old")
	now = now.Add(11 * time.Minute)
	l.Allow("fresh")

	l.evictIdle()
	assert.Equal(t, 1, l.Len())

	l.Reset("fresh")
	assert.Equal(t, 0, l.Len())
}
