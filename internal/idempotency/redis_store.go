package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps records in Redis, with expiry enforced by key TTL
// instead of lazy deletes.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis addr is empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &RedisStore{client: client, prefix: "paygram:idem:"}, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	// TTL should have removed it, but clocks can disagree.
	if time.Now().After(rec.ExpiresAt) {
		return nil, nil
	}
	return &rec, nil
}

func (r *RedisStore) Save(ctx context.Context, key string, record Record) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	ttl := time.Until(record.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, r.prefix+key, raw, ttl).Err()
}
