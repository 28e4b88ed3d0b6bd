// Package session maps local dashboard session ids to backend credentials.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Abhijagtp/ThinkThank/internal/auth"
	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("session not found or expired")

// Record holds the data stored for each dashboard session
type Record struct {
	Credential auth.Credential `json:"credential"`
	UserID     string          `json:"user_id,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

type Store interface {
	Save(ctx context.Context, sessionID string, record Record, ttl time.Duration) error
	Lookup(ctx context.Context, sessionID string) (Record, error)
	UpdateCredential(ctx context.Context, sessionID string, cred auth.Credential) error
	Revoke(ctx context.Context, sessionID string) error
}

// RedisStore implements session storage using Redis
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis-backed session store
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "thinkthank:session:",
	}
}

// key hashes the session id so a Redis dump does not expose usable ids.
func (s *RedisStore) key(sessionID string) string {
	return s.prefix + auth.HashToken(sessionID)
}

func (s *RedisStore) Save(ctx context.Context, sessionID string, record Record, ttl time.Duration) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if err := s.client.Set(ctx, s.key(sessionID), data, ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *RedisStore) Lookup(ctx context.Context, sessionID string) (Record, error) {
	data, err := s.client.Get(ctx, s.key(sessionID)).Result()
	if err == redis.Nil {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("lookup session: %w", err)
	}
	var record Record
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return Record{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return record, nil
}

// UpdateCredential swaps in a refreshed credential without extending the
// session's lifetime.
func (s *RedisStore) UpdateCredential(ctx context.Context, sessionID string, cred auth.Credential) error {
	record, err := s.Lookup(ctx, sessionID)
	if err != nil {
		return err
	}
	record.Credential = cred
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, s.key(sessionID), data, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

func (s *RedisStore) Revoke(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
