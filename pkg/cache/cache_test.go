package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTTLRejectsInvalidTTL(t *testing.T) {
	_, err := NewTTL[int](0, time.Second)
	assert.ErrorIs(t, err, ErrInvalidTTL)
}

func TestSetGet(t *testing.T) {
	c, err := NewTTL[string](time.Minute, time.Minute)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	c.Set("a", "value")
	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "value", got)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestExpiry(t *testing.T) {
	c, err := NewTTL[int](10*time.Millisecond, time.Hour)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	c.Set("k", 1)
	_, ok := c.Get("k")
	require.True(t, ok)

	time.Sleep(25 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok, "expired entry must not be readable")
}

func TestDelete(t *testing.T) {
	c, err := NewTTL[int](time.Minute, time.Minute)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	c.Set("k", 7)
	assert.True(t, c.Delete("k"))
	assert.False(t, c.Delete("k"))
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestStats(t *testing.T) {
	c, err := NewTTL[int](time.Minute, time.Minute)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	c.Set("k", 1)
	c.Get("k")
	c.Get("k")
	c.Get("absent")

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestBackgroundCleanup(t *testing.T) {
	c, err := NewTTL[int](5*time.Millisecond, 10*time.Millisecond)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	c.Set("k", 1)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 0, c.Size())
}

func TestCloseIsIdempotent(t *testing.T) {
	c, err := NewTTL[int](time.Minute, time.Minute)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}
