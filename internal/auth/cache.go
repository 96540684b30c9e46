package auth

import (
	"sync"

	"github.com/xdg-go/scram"
)

// clientCacheKey carries every parameter that invalidates a cached
// scram.Client: username, password and mechanism all have to match for
// the cached value to be valid.
type clientCacheKey struct {
	username  string
	password  string
	mechanism string
}

// Cache is the single-slot, mutex-guarded memo described in spec §3/§9:
// one (key, value) pair, shared across re-authentications of the same
// Credential so the password-preparation step feeding scram.Client
// (legacy MD5 hashing for SCRAM-SHA-1, SASLprep normalization for
// SCRAM-SHA-256) is paid at most once per (username, password,
// mechanism) tuple. It is intentionally a single slot, not an LRU: a
// Credential authenticates under one mechanism at a time, so one slot
// is the whole working set in the common case.
type Cache struct {
	mu    sync.Mutex
	key   clientCacheKey
	value *scram.Client
	valid bool
}

// NewCache constructs an empty Cache. A Cache is meant to be created once
// per Credential and reused across every connection authenticating that
// credential.
func NewCache() *Cache { return &Cache{} }

func (c *Cache) getClient(key clientCacheKey) (*scram.Client, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.valid && c.key == key {
		return c.value, true
	}
	return nil, false
}

func (c *Cache) putClient(key clientCacheKey, value *scram.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.key = key
	c.value = value
	c.valid = true
}
