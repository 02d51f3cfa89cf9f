package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryCache is a bounded in-process cache. Entries are evicted by age and
// by least-recent use once size is reached.
type MemoryCache struct {
	lru *expirable.LRU[string, string]
}

func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = 1024
	}
	return &MemoryCache{lru: expirable.NewLRU[string, string](size, nil, ttl)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := c.lru.Get(key)
	return v, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, key, value string) error {
	c.lru.Add(key, value)
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.lru.Remove(key)
	return nil
}

func (c *MemoryCache) Len() int {
	return c.lru.Len()
}
