package prefs

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	lgerrors "github.com/mirkobrombin/go-lockguard/v1/errors"
)

const (
	defaultRedisOpTimeout = 5 * time.Second
	// DefaultRedisKey is the key holding the JSON encoded preferences.
	DefaultRedisKey = "lockguard:prefs"
)

// RedisStore implements Store using a Redis backend.
type RedisStore struct {
	client  *redis.Client
	key     string
	timeout time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTimeout sets the operation timeout for Redis calls.
func WithTimeout(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.timeout = d }
}

// WithKey overrides the Redis key.
func WithKey(key string) RedisOption {
	return func(s *RedisStore) { s.key = key }
}

// NewRedisStore returns a new RedisStore using the provided Redis client.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, key: DefaultRedisKey, timeout: defaultRedisOpTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context) (Preferences, bool, error) {
	if err := ctx.Err(); err != nil {
		return Preferences{}, false, mapRedisErr(err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	data, err := s.client.Get(cctx, s.key).Bytes()
	if err == redis.Nil {
		return Preferences{}, false, nil
	}
	if err != nil {
		return Preferences{}, false, mapRedisErr(err)
	}
	var p Preferences
	if err := json.Unmarshal(data, &p); err != nil {
		return Preferences{}, false, err
	}
	return p, true, nil
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, p Preferences) error {
	if err := ctx.Err(); err != nil {
		return mapRedisErr(err)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Set(cctx, s.key, data, 0).Err(); err != nil {
		return mapRedisErr(err)
	}
	return mapRedisErr(s.client.Publish(cctx, s.channel(), data).Err())
}

// Changes implements Feed by subscribing to the channel Save publishes on.
func (s *RedisStore) Changes(ctx context.Context) (<-chan struct{}, error) {
	ps := s.client.Subscribe(ctx, s.channel())
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, mapRedisErr(err)
	}
	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		defer ps.Close()
		for {
			if _, err := ps.ReceiveMessage(ctx); err != nil {
				if ctx.Err() != nil || stdErrors.Is(err, redis.ErrClosed) {
					return
				}
				continue
			}
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}()
	return ch, nil
}

func (s *RedisStore) channel() string {
	return s.key + ":changed"
}

func mapRedisErr(err error) error {
	switch {
	case err == nil:
		return nil
	case stdErrors.Is(err, context.DeadlineExceeded):
		return lgerrors.ErrTimeout
	case stdErrors.Is(err, redis.ErrClosed):
		return lgerrors.ErrConnectionClosed
	}
	return err
}
