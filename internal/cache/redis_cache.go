package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const keyPrefix = "channelhub:pincode:"

type assignmentEntry struct {
	SupervisorID string    `json:"supervisor_id"`
	CachedAt     time.Time `json:"cached_at"`
}

type RedisAssignmentCache struct {
	client *redis.Client
}

func NewRedisAssignmentCache(addr string, password string, db int) *RedisAssignmentCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisAssignmentCache{client: client}
}

func (c *RedisAssignmentCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisAssignmentCache) Close() error {
	return c.client.Close()
}

func (c *RedisAssignmentCache) Get(ctx context.Context, pincode string) (string, bool, error) {
	val, err := c.client.Get(ctx, keyPrefix+pincode).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	var entry assignmentEntry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return "", false, err
	}
	if entry.SupervisorID == "" {
		return "", false, nil
	}
	return entry.SupervisorID, true, nil
}

func (c *RedisAssignmentCache) Set(ctx context.Context, pincode string, supervisorID string, ttl time.Duration) error {
	if supervisorID == "" {
		return nil
	}
	payload, err := json.Marshal(assignmentEntry{SupervisorID: supervisorID, CachedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, keyPrefix+pincode, payload, ttl).Err()
}

func (c *RedisAssignmentCache) Delete(ctx context.Context, pincode string) error {
	return c.client.Del(ctx, keyPrefix+pincode).Err()
}
