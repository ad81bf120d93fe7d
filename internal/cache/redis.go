// Package cache stores resolved conversation ids in Redis.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/civic-reports/chat-gateway/internal/model"
)

// ChatIDCache maps (role, caller scope, report id) to a conversation id.
type ChatIDCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewChatIDCache connects to redisURL and verifies the connection.
func NewChatIDCache(redisURL string, ttl time.Duration) (*ChatIDCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewChatIDCacheWithClient(client, ttl), nil
}

// NewChatIDCacheWithClient creates a cache from an existing client.
func NewChatIDCacheWithClient(client *redis.Client, ttl time.Duration) *ChatIDCache {
	return &ChatIDCache{
		client: client,
		prefix: "chat-id:",
		ttl:    ttl,
	}
}

func (c *ChatIDCache) key(role model.Role, scope, reportID string) string {
	return c.prefix + string(role) + ":" + scope + ":" + reportID
}

// Get returns the cached id. A miss is ok=false with a nil error.
func (c *ChatIDCache) Get(ctx context.Context, role model.Role, scope, reportID string) (string, bool, error) {
	chatID, err := c.client.Get(ctx, c.key(role, scope, reportID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get chat id: %w", err)
	}
	return chatID, true, nil
}

// Set stores an id. A zero ttl keeps it until evicted.
func (c *ChatIDCache) Set(ctx context.Context, role model.Role, scope, reportID, chatID string) error {
	if err := c.client.Set(ctx, c.key(role, scope, reportID), chatID, c.ttl).Err(); err != nil {
		return fmt.Errorf("set chat id: %w", err)
	}
	return nil
}

// Forget drops a cached id, for example after the backend reports the
// conversation missing.
func (c *ChatIDCache) Forget(ctx context.Context, role model.Role, scope, reportID string) error {
	if err := c.client.Del(ctx, c.key(role, scope, reportID)).Err(); err != nil {
		return fmt.Errorf("forget chat id: %w", err)
	}
	return nil
}

// Ping checks if Redis is reachable.
func (c *ChatIDCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *ChatIDCache) Close() error {
	return c.client.Close()
}
