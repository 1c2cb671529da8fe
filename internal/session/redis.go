package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"relaybot/internal/domain"
)

// RedisConfig configures the shared session backend.
type RedisConfig struct {
	Addr      string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStore shares sessions between relay instances. Expiry is left to
// redis (SET ... EX).
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore connects and pings the server before returning.
func NewRedisStore(cfg RedisConfig, opts Options) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return &RedisStore{client: client, prefix: cfg.KeyPrefix, ttl: opts.TTL, now: opts.clock()}, nil
}

func (s *RedisStore) key(conversationID string) string {
	return s.prefix + conversationID
}

func (s *RedisStore) Put(ctx context.Context, conversationID string, turn domain.Turn) error {
	data, err := json.Marshal(domain.Session{ConversationID: conversationID, Turn: turn, UpdatedAt: s.now()})
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return s.client.Set(ctx, s.key(conversationID), data, s.ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, conversationID string) (*domain.Session, bool, error) {
	raw, err := s.client.Get(ctx, s.key(conversationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var sess domain.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, false, fmt.Errorf("decode session: %w", err)
	}
	return &sess, true, nil
}

func (s *RedisStore) Clear(ctx context.Context, conversationID string) error {
	return s.client.Del(ctx, s.key(conversationID)).Err()
}

// Count scans the key prefix. It is O(keys) and meant for the metrics gauge.
func (s *RedisStore) Count(ctx context.Context) (int, error) {
	n := 0
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	return n, iter.Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
