package policy

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	// keyWords holds the last successfully fetched forbidden-word list,
	// newline-joined.
	keyWords = "policy:forbidden_words"

	// keyMode holds the last successfully fetched raw ban-mode value.
	keyMode = "policy:ban_mode"
)

// Cache persists the last good policy data in Redis so the engine can
// warm-start after a restart without waiting for the remote source.
// All methods are best-effort from the refresher's point of view: a cache
// failure never prevents the in-memory snapshot from being updated.
type Cache struct {
	client *redis.Client
}

// NewCache creates a policy cache using the provided Redis client.
func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// SaveWords stores the forbidden-word list.
func (c *Cache) SaveWords(ctx context.Context, words []string) error {
	return c.client.Set(ctx, keyWords, strings.Join(words, "\n"), 0).Err()
}

// LoadWords returns the cached word list, or (nil, nil) if none is cached.
func (c *Cache) LoadWords(ctx context.Context) ([]string, error) {
	raw, err := c.client.Get(ctx, keyWords).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	return strings.Split(raw, "\n"), nil
}

// SaveMode stores the raw ban-mode value.
func (c *Cache) SaveMode(ctx context.Context, raw string) error {
	return c.client.Set(ctx, keyMode, raw, 0).Err()
}

// LoadMode returns the cached raw ban-mode value, or ("", nil) if none is
// cached.
func (c *Cache) LoadMode(ctx context.Context) (string, error) {
	raw, err := c.client.Get(ctx, keyMode).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return raw, nil
}
