package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the key RedisStore uses when none is given.
const DefaultRedisKey = "amplify:session"

// RedisStore persists the session in Redis, for fleets of short-lived
// processes that share one signed-in principal (CI runners, serverless
// workers).
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := session.NewRedisStore(client, "worker:session", 30*24*time.Hour)
type RedisStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisStore creates a store writing to the given key. The ttl bounds how
// long a saved session survives without a new Save; it should match the
// refresh token validity. A non-positive ttl disables expiry.
func NewRedisStore(client *redis.Client, key string, ttl time.Duration) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	if ttl < 0 {
		ttl = 0
	}
	return &RedisStore{client: client, key: key, ttl: ttl}
}

// Load reads the session value. A missing key means no session.
func (r *RedisStore) Load(ctx context.Context) (*Session, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session from redis: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing session value at %s: %w", r.key, err)
	}
	return &s, nil
}

// Save writes the session value with the configured TTL.
func (r *RedisStore) Save(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := r.client.Set(ctx, r.key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("writing session to redis: %w", err)
	}
	return nil
}

// Clear deletes the session key.
func (r *RedisStore) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("removing session from redis: %w", err)
	}
	return nil
}
