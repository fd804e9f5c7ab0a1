package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RecentCache remembers which targets were scraped recently so reruns can
// skip them inside the freshness window. Purely an optimization: the
// pipeline behaves identically, just lazier, when the cache is absent.
type RecentCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRecentCache(addr string, ttl time.Duration) *RecentCache {
	return &RecentCache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
	}
}

func (c *RecentCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// MarkScraped records a successful scrape of the slug for the TTL window.
func (c *RecentCache) MarkScraped(ctx context.Context, slug string) error {
	return c.client.Set(ctx, key(slug), "1", c.ttl).Err()
}

// RecentlyScraped reports whether the slug was scraped inside the window.
func (c *RecentCache) RecentlyScraped(ctx context.Context, slug string) (bool, error) {
	n, err := c.client.Exists(ctx, key(slug)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *RecentCache) Close() error { return c.client.Close() }

func key(slug string) string {
	return fmt.Sprintf("scraped:%s", slug)
}
