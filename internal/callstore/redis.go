package callstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"letta-telephony-agent/internal/config"
)

const (
	keyPrefix   = "letta-telephony:call:"
	pingTimeout = 2 * time.Second
)

// RedisStore keeps records as JSON values that expire after ttl.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

// Open returns a Redis store when cfg.Addr is set and a memory store
// otherwise. The Redis connection is validated with PING.
func Open(ctx context.Context, cfg config.RedisConfig) (Store, error) {
	if cfg.Addr == "" {
		return NewMemoryStore(), nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = config.DefaultCallRecordTTL
	}
	return NewRedisStore(rdb, ttl), nil
}

func (s *RedisStore) Save(ctx context.Context, rec Record) error {
	if rec.Room == "" {
		return errors.New("call record requires a room")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode call record: %w", err)
	}
	return s.rdb.Set(ctx, keyPrefix+rec.Room, data, s.ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, room string) (Record, error) {
	data, err := s.rdb.Get(ctx, keyPrefix+room).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decode call record: %w", err)
	}
	return rec, nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
