package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/promptforge/promptforge-chat/internal/domain/chat"
)

// RedisOptions configure the remote state mirror.
type RedisOptions struct {
	Addr        string
	KeyPrefix   string
	DialTimeout time.Duration
}

// RedisStore mirrors state into redis, for deployments where the same
// user's sessions roam between clients.
type RedisStore struct {
	rdb    *goredis.Client
	prefix string
}

func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redis store: addr required")
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: opts.DialTimeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis store: ping: %w", err)
	}
	prefix := strings.TrimSpace(opts.KeyPrefix)
	if prefix == "" {
		prefix = "promptforge"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}, nil
}

func (s *RedisStore) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func (s *RedisStore) key(name string) string {
	return s.prefix + ":" + name
}

func (s *RedisStore) LoadState(ctx context.Context) (*State, error) {
	raw, err := s.rdb.Get(ctx, s.key(keySessions)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis store: load sessions: %w", err)
	}
	var sessions []chat.Session
	if err := json.Unmarshal([]byte(raw), &sessions); err != nil {
		return nil, fmt.Errorf("redis store: decode sessions: %w", err)
	}
	currentID, err := s.rdb.Get(ctx, s.key(keyCurrentID)).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("redis store: load current session: %w", err)
	}
	return &State{Sessions: sessions, CurrentSessionID: currentID}, nil
}

func (s *RedisStore) SaveState(ctx context.Context, state *State) error {
	raw, err := json.Marshal(state.Sessions)
	if err != nil {
		return fmt.Errorf("redis store: encode sessions: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.key(keySessions), raw, 0)
	pipe.Set(ctx, s.key(keyCurrentID), state.CurrentSessionID, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis store: save: %w", err)
	}
	return nil
}
