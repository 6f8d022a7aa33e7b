package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the session record in Redis, for headless deployments
// where the client runs server-side (bots, schedulers) and local disk is
// ephemeral. The token and user live under separate keys in one namespace
// and are always written and deleted in a single pipeline.
type RedisStore struct {
	client   *redis.Client
	tokenKey string
	userKey  string
}

// NewRedisStore connects to the Redis at url and namespaces all keys with
// prefix.
func NewRedisStore(ctx context.Context, url, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisStore{
		client:   client,
		tokenKey: prefix + ":token",
		userKey:  prefix + ":user",
	}, nil
}

func (s *RedisStore) Load(ctx context.Context) (*Record, error) {
	vals, err := s.client.MGet(ctx, s.tokenKey, s.userKey).Result()
	if err != nil {
		return nil, fmt.Errorf("load session keys: %w", err)
	}

	token, tokenOK := vals[0].(string)
	userJSON, userOK := vals[1].(string)
	if !tokenOK && !userOK {
		return nil, ErrNotFound
	}
	if !tokenOK || !userOK || token == "" {
		// One key without the other violates the cleared-together invariant.
		return nil, fmt.Errorf("%w: partial session keys", ErrCorrupt)
	}

	rec := &Record{Token: token}
	if err := json.Unmarshal([]byte(userJSON), &rec.User); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return rec, nil
}

func (s *RedisStore) Save(ctx context.Context, rec *Record) error {
	userJSON, err := json.Marshal(rec.User)
	if err != nil {
		return fmt.Errorf("marshal session user: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.tokenKey, rec.Token, 0)
	pipe.Set(ctx, s.userKey, string(userJSON), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save session keys: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.tokenKey, s.userKey).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("clear session keys: %w", err)
	}
	return nil
}

// Close closes the underlying Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
