package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalCacheRoundTrip(t *testing.T) {
	c := NewLocalCache(0)
	defer c.Close()

	entry := RenderEntry{
		HTML:    "<p>Hi</p>",
		Status:  200,
		Headers: map[string]string{"K": "V"},
	}
	c.Set("/home|en|ocean", entry)

	got, ok := c.Get("/home|en|ocean")
	require.True(t, ok)
	assert.Equal(t, entry, got)

	_, ok = c.Get("/other|en|ocean")
	assert.False(t, ok)
}

func TestLocalCacheTTLExpiry(t *testing.T) {
	c := NewLocalCache(20 * time.Millisecond)
	defer c.Close()

	c.Set("key", RenderEntry{HTML: "x", Status: 200})
	_, ok := c.Get("key")
	require.True(t, ok)

	time.Sleep(40 * time.Millisecond)
	_, ok = c.Get("key")
	assert.False(t, ok)
}

func TestLocalCacheClear(t *testing.T) {
	c := NewLocalCache(0)
	defer c.Close()

	c.Set("a", RenderEntry{HTML: "1"})
	c.Set("b", RenderEntry{HTML: "2"})
	c.Clear()

	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestNewDefaultsToLocal(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)
	defer c.Close()
	_, isLocal := c.(*LocalCache)
	assert.True(t, isLocal)
}
