package cache

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/consultly/mobile-core/internal/models"
)

// RedisCache stores each session's message list as one JSON value under
// session:<id>:messages with a TTL.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func messagesKey(sessionID string) string {
	return "session:" + sessionID + ":messages"
}

func (c *RedisCache) LoadMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	s, err := c.rdb.Get(ctx, messagesKey(sessionID)).Result()
	if err == redis.Nil {
		c.misses.Add(1)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var msgs []models.Message
	if err := json.Unmarshal([]byte(s), &msgs); err != nil {
		// data corrupt: treat as miss by deleting
		_ = c.rdb.Del(ctx, messagesKey(sessionID)).Err()
		c.misses.Add(1)
		return nil, nil
	}
	c.hits.Add(1)
	return msgs, nil
}

func (c *RedisCache) SaveMessages(ctx context.Context, sessionID string, msgs []models.Message) error {
	b, err := json.Marshal(msgs)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, messagesKey(sessionID), b, c.ttl).Err()
}

func (c *RedisCache) AddMessage(ctx context.Context, sessionID string, msg models.Message) ([]models.Message, error) {
	msgs, err := c.LoadMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	merged := MergeLists(msgs, []models.Message{msg})
	if err := c.SaveMessages(ctx, sessionID, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

func (c *RedisCache) MergeMessages(ctx context.Context, sessionID string, incoming []models.Message) ([]models.Message, error) {
	msgs, err := c.LoadMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	merged := MergeLists(msgs, incoming)
	if err := c.SaveMessages(ctx, sessionID, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

func (c *RedisCache) ClearMessages(ctx context.Context, sessionID string) error {
	return c.rdb.Del(ctx, messagesKey(sessionID)).Err()
}

func (c *RedisCache) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
	iter := c.rdb.Scan(ctx, 0, "session:*:messages", 0).Iterator()
	for iter.Next(ctx) {
		st.Sessions++
	}
	if err := iter.Err(); err != nil {
		return st, err
	}
	return st, nil
}
