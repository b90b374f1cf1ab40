// Package session provides the Redis-backed refresh token store. When Redis
// is not configured the API falls back to keeping refresh sessions in
// PostgreSQL instead.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"devflow/api/internal/store"
)

// ErrSessionNotFound is returned when a refresh token is unknown, revoked,
// or already expired out of Redis.
var ErrSessionNotFound = errors.New("refresh session not found")

// fallbackTTL guards against storing a key without expiry when the caller
// hands us a deadline already in the past.
const fallbackTTL = 30 * 24 * time.Hour

// sessionRecord is the value stored per refresh token. Only the user id is
// kept; profile fields are re-read from PostgreSQL on refresh so a renamed
// user does not resurrect their old name.
type sessionRecord struct {
	UserID   string    `json:"user_id"`
	IssuedAt time.Time `json:"issued_at"`
}

// RedisStore keeps refresh sessions in Redis with per-key TTLs, so expiry
// needs no sweeper.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis at the given URL and verifies the
// connection before returning.
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

// NewRedisStoreWithClient wraps an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "refresh:"}
}

func (s *RedisStore) key(tokenHash string) string {
	return s.prefix + tokenHash
}

// SaveRefreshSession stores a refresh token hash until expiresAt.
func (s *RedisStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	raw, err := json.Marshal(sessionRecord{UserID: userID, IssuedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("marshal refresh session: %w", err)
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = fallbackTTL
	}
	if err := s.client.Set(ctx, s.key(tokenHash), raw, ttl).Err(); err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

// LookupRefreshSession resolves a refresh token hash to the owning user.
// Only the user id is populated; see sessionRecord.
func (s *RedisStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	raw, err := s.client.Get(ctx, s.key(tokenHash)).Result()
	if errors.Is(err, redis.Nil) {
		return store.User{}, ErrSessionNotFound
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup refresh session: %w", err)
	}
	var rec sessionRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return store.User{}, fmt.Errorf("decode refresh session: %w", err)
	}
	return store.User{ID: rec.UserID}, nil
}

// RevokeRefreshSession deletes a refresh token hash. Deleting an unknown
// hash is not an error.
func (s *RedisStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, s.key(tokenHash)).Err(); err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks that Redis is reachable, for the readiness probe.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
