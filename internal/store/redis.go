package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"sdlcboard/api/internal/workflow"
)

// RedisStore keeps the board under a single Redis key.
type RedisStore struct {
	client *redis.Client
	key    string
}

var (
	_ Store  = (*RedisStore)(nil)
	_ Pinger = (*RedisStore)(nil)
)

// NewRedisStore connects to redisURL and checks the connection.
func NewRedisStore(redisURL, name string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, name), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client, name string) *RedisStore {
	if name == "" {
		name = "sdlc-workflow"
	}
	return &RedisStore{
		client: client,
		key:    "workflow:" + name,
	}
}

// Key returns the Redis key holding the board.
func (s *RedisStore) Key() string {
	return s.key
}

func (s *RedisStore) Load(ctx context.Context) (*workflow.Document, error) {
	payload, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, persistenceError("redis", "get", err)
	}
	doc, err := workflow.Decode(payload)
	if err != nil {
		return nil, persistenceError("redis", "decode", err)
	}
	return doc, nil
}

func (s *RedisStore) Save(ctx context.Context, doc *workflow.Document) error {
	payload, err := workflow.Encode(doc)
	if err != nil {
		return persistenceError("redis", "encode", err)
	}
	if err := s.client.Set(ctx, s.key, payload, 0).Err(); err != nil {
		return persistenceError("redis", "set", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
