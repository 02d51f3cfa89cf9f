package cache

import (
	"context"

	"github.com/goccy/go-json"
)

// Cache is a string key/value store whose entries expire after a TTL fixed
// at construction.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// GetJSON decodes a cached JSON value into dest.
func GetJSON(ctx context.Context, c Cache, key string, dest interface{}) (bool, error) {
	data, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON stores value encoded as JSON.
func SetJSON(ctx context.Context, c Cache, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, string(data))
}
