// Package eventcache remembers processed webhook event ids in redis so redeliveries skip the database.
// The event receipt table stays authoritative; a cache miss or outage only costs a database round trip.
package eventcache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix    = "charterpay:webhook_event:"
	processedVal = "1"
	defaultTTL   = 72 * time.Hour
)

// ErrInvalidEventID reports an empty event id.
var ErrInvalidEventID = errors.New("invalid event id")

// Cache records processed event ids with a TTL.
type Cache struct {
	client redis.Cmdable
	ttl    time.Duration
	closer func() error
}

// New wraps an existing redis client.
func New(client redis.Cmdable, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{client: client, ttl: ttl, closer: func() error { return nil }}
}

// Open parses a redis:// URL and returns a Cache that owns its client.
func Open(ctx context.Context, rawURL string, ttl time.Duration) (*Cache, error) {
	options, err := redis.ParseURL(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	cache := New(client, ttl)
	cache.closer = client.Close
	return cache, nil
}

// Seen reports whether eventID was marked processed.
func (cache *Cache) Seen(ctx context.Context, eventID string) (bool, error) {
	key, err := eventKey(eventID)
	if err != nil {
		return false, err
	}
	count, err := cache.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("event cache lookup: %w", err)
	}
	return count > 0, nil
}

// Mark records eventID as processed. It reports false when the id was already marked.
func (cache *Cache) Mark(ctx context.Context, eventID string) (bool, error) {
	key, err := eventKey(eventID)
	if err != nil {
		return false, err
	}
	stored, err := cache.client.SetNX(ctx, key, processedVal, cache.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("event cache mark: %w", err)
	}
	return stored, nil
}

// Close releases the client when the Cache opened it.
func (cache *Cache) Close() error {
	return cache.closer()
}

func eventKey(eventID string) (string, error) {
	trimmed := strings.TrimSpace(eventID)
	if trimmed == "" {
		return "", ErrInvalidEventID
	}
	return keyPrefix + trimmed, nil
}
