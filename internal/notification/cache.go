package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// UnreadCache is a best-effort Redis cache in front of the unread count
// query. Every write path invalidates; a cache error is treated as a
// miss and never surfaces to callers.
type UnreadCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewUnreadCache(rdb *redis.Client) *UnreadCache {
	return &UnreadCache{rdb: rdb, ttl: 5 * time.Minute}
}

func (c *UnreadCache) key(userID string) string {
	return fmt.Sprintf("notif:unread:%s", userID)
}

// Get returns the cached count and whether it was present.
func (c *UnreadCache) Get(ctx context.Context, userID string) (int64, bool) {
	if c == nil || c.rdb == nil {
		return 0, false
	}
	count, err := c.rdb.Get(ctx, c.key(userID)).Int64()
	if err != nil {
		return 0, false
	}
	return count, true
}

func (c *UnreadCache) Set(ctx context.Context, userID string, count int64) {
	if c == nil || c.rdb == nil {
		return
	}
	c.rdb.Set(ctx, c.key(userID), count, c.ttl)
}

func (c *UnreadCache) Invalidate(ctx context.Context, userID string) {
	if c == nil || c.rdb == nil {
		return
	}
	c.rdb.Del(ctx, c.key(userID))
}
