package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "session:"

// RedisStore keeps session payloads in Redis with per-key TTL.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps the provided Redis client.
func NewRedisStore(client *redis.Client) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("session: redis client required")
	}
	return &RedisStore{client: client}, nil
}

func redisKey(sessionID string) string {
	return redisKeyPrefix + sessionID
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (Payload, error) {
	raw, err := s.client.Get(ctx, redisKey(sessionID)).Result()
	if err == redis.Nil {
		return Payload{}, ErrNoSession
	}
	if err != nil {
		return Payload{}, err
	}
	var payload Payload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return Payload{}, fmt.Errorf("session: failed to unmarshal payload: %w", err)
	}
	return payload, nil
}

func (s *RedisStore) Set(ctx context.Context, sessionID string, payload Payload, ttl time.Duration) error {
	if sessionID == "" {
		return fmt.Errorf("session: session id required")
	}
	if ttl <= 0 {
		return fmt.Errorf("session: ttl must be positive")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("session: failed to marshal payload: %w", err)
	}
	return s.client.Set(ctx, redisKey(sessionID), data, ttl).Err()
}

func (s *RedisStore) Destroy(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, redisKey(sessionID)).Err()
}
