package auth

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// PermissionCache is an expiring LRU of resolved permissions keyed by user id.
// A nil cache is valid and never hits.
type PermissionCache struct {
	lru *lru.LRU[string, []Permission]
}

// NewPermissionCache returns nil when ttl or size disable caching.
func NewPermissionCache(size int, ttl time.Duration) *PermissionCache {
	if size <= 0 || ttl <= 0 {
		return nil
	}
	return &PermissionCache{lru: lru.NewLRU[string, []Permission](size, nil, ttl)}
}

func (c *PermissionCache) Get(userID string) ([]Permission, bool) {
	if c == nil {
		return nil, false
	}
	perms, ok := c.lru.Get(userID)
	if !ok {
		return nil, false
	}
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out, true
}

func (c *PermissionCache) Add(userID string, perms []Permission) {
	if c == nil {
		return
	}
	stored := make([]Permission, len(perms))
	copy(stored, perms)
	c.lru.Add(userID, stored)
}

func (c *PermissionCache) Remove(userID string) {
	if c == nil {
		return
	}
	c.lru.Remove(userID)
}

func (c *PermissionCache) Purge() {
	if c == nil {
		return
	}
	c.lru.Purge()
}

// Len reports the number of cached users.
func (c *PermissionCache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
