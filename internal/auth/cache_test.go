package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xdg-go/scram"
)

func TestCacheMissThenHit(t *testing.T) {
	c := NewCache()
	key := clientCacheKey{username: "u", password: "p", mechanism: "SCRAM-SHA-256"}

	_, ok := c.getClient(key)
	assert.False(t, ok)

	client, err := scram.SHA256.NewClientUnprepped("u", "p", "")
	require.NoError(t, err)
	c.putClient(key, client)

	got, ok := c.getClient(key)
	assert.True(t, ok)
	assert.Same(t, client, got)
}

func TestCacheMissOnDifferentMechanism(t *testing.T) {
	c := NewCache()
	key := clientCacheKey{username: "u", password: "p", mechanism: "SCRAM-SHA-256"}
	client, err := scram.SHA256.NewClientUnprepped("u", "p", "")
	require.NoError(t, err)
	c.putClient(key, client)

	other := key
	other.mechanism = "SCRAM-SHA-1"
	_, ok := c.getClient(other)
	assert.False(t, ok)
}

func TestCacheOverwritesSingleSlot(t *testing.T) {
	c := NewCache()
	first := clientCacheKey{username: "u1", password: "p", mechanism: "SCRAM-SHA-256"}
	second := clientCacheKey{username: "u2", password: "p", mechanism: "SCRAM-SHA-256"}

	c1, err := scram.SHA256.NewClientUnprepped("u1", "p", "")
	require.NoError(t, err)
	c2, err := scram.SHA256.NewClientUnprepped("u2", "p", "")
	require.NoError(t, err)

	c.putClient(first, c1)
	c.putClient(second, c2)

	_, ok := c.getClient(first)
	assert.False(t, ok, "single-slot cache must evict the prior entry")

	got, ok := c.getClient(second)
	assert.True(t, ok)
	assert.Same(t, c2, got)
}
