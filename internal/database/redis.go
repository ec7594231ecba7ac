package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/inspectly/report-scheduler/internal/config"
)

// RedisClient wraps redis.Client for caching operations
type RedisClient struct {
	*redis.Client
}

// NewRedisClient creates a new Redis client
func NewRedisClient(cfg config.RedisConfig) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisClient{Client: rdb}, nil
}

// CacheRecipients caches the resolved recipient list for a notification
func (r *RedisClient) CacheRecipients(ctx context.Context, notificationID string, recipients interface{}) error {
	data, err := json.Marshal(recipients)
	if err != nil {
		return fmt.Errorf("failed to marshal recipients: %w", err)
	}
	key := fmt.Sprintf("recipients:%s", notificationID)
	return r.Set(ctx, key, data, 10*time.Minute).Err()
}

// GetCachedRecipients retrieves a cached recipient list for a notification
func (r *RedisClient) GetCachedRecipients(ctx context.Context, notificationID string, dest interface{}) (bool, error) {
	key := fmt.Sprintf("recipients:%s", notificationID)
	data, err := r.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached recipients: %w", err)
	}
	return true, nil
}

// InvalidateRecipients drops the cached recipient list for a notification
func (r *RedisClient) InvalidateRecipients(ctx context.Context, notificationID string) error {
	key := fmt.Sprintf("recipients:%s", notificationID)
	return r.Del(ctx, key).Err()
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	return r.Client.Close()
}
