package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"sigep.org/internal/obs"
)

const defaultPrefix = "sigep:session"

// RedisStore keeps each session as a single JSON value so a write swaps every field at once.
type RedisStore struct {
	client *red.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client *red.Client, prefix string, ttl time.Duration) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if ttl <= 0 {
		return nil, errors.New("session ttl must be positive")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}, nil
}

func (r *RedisStore) Load(ctx context.Context, sid string) (State, bool, error) {
	raw, err := r.client.Get(ctx, r.key(sid)).Bytes()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return State{}, false, nil
		}
		return State{}, false, fmt.Errorf("redis get session: %w", err)
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil || !st.Valid() {
		// A damaged entry is treated as logged out.
		obs.WithRequest(ctx).Warn("discarding unreadable session", zap.String("sid", sid))
		_ = r.client.Del(ctx, r.key(sid)).Err()
		return State{}, false, nil
	}
	return st.clone(), true, nil
}

func (r *RedisStore) Save(ctx context.Context, sid string, state State) error {
	if err := checkSave(sid, state); err != nil {
		return err
	}
	payload, err := json.Marshal(state.clone())
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := r.client.Set(ctx, r.key(sid), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

func (r *RedisStore) Clear(ctx context.Context, sid string) error {
	if err := r.client.Del(ctx, r.key(sid)).Err(); err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}
	return nil
}

func (r *RedisStore) key(sid string) string {
	return r.prefix + ":" + sid
}
