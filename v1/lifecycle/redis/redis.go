// Package redis delivers lifecycle transitions through a Redis stream, so
// a host process and the guard can live in different processes.
package redis

import (
	"context"
	stdErrors "errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	lgerrors "github.com/mirkobrombin/go-lockguard/v1/errors"
	"github.com/mirkobrombin/go-lockguard/v1/lifecycle"
)

// DefaultStream is the stream key used when none is configured.
const DefaultStream = "lockguard:lifecycle"

// Source implements lifecycle.Source and lifecycle.Publisher on top of
// Redis Streams. Each subscriber reads the stream from the moment it
// subscribed.
type Source struct {
	client  *redis.Client
	stream  string
	backoff time.Duration
	block   time.Duration
}

// Option configures a Source.
type Option func(*Source)

// WithStream overrides the stream key.
func WithStream(key string) Option {
	return func(s *Source) { s.stream = key }
}

// WithBackoff sets the delay between failed reads.
func WithBackoff(d time.Duration) Option {
	return func(s *Source) { s.backoff = d }
}

// WithBlock bounds each blocking read so cancellation is observed.
func WithBlock(d time.Duration) Option {
	return func(s *Source) { s.block = d }
}

// New returns a Source reading and writing the configured stream.
func New(client *redis.Client, opts ...Option) *Source {
	s := &Source{client: client, stream: DefaultStream, backoff: time.Second, block: time.Second}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Publish appends t to the stream.
func (s *Source) Publish(ctx context.Context, t lifecycle.Transition) error {
	name, err := t.MarshalText()
	if err != nil {
		return err
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{"transition": string(name)},
	}).Err()
	return mapErr(err)
}

// Subscribe implements lifecycle.Source.
func (s *Source) Subscribe(ctx context.Context) (*lifecycle.Subscription, error) {
	// Resolve the current tail first so entries added after Subscribe
	// returns are never missed.
	lastID, err := s.tail(ctx)
	if err != nil {
		return nil, err
	}
	readCtx, cancel := context.WithCancel(context.Background())
	sub, err := lifecycle.NewSubscription(ctx, func(*lifecycle.Subscription) error {
		cancel()
		return nil
	})
	if err != nil {
		cancel()
		return nil, err
	}
	go s.read(readCtx, sub, lastID)
	return sub, nil
}

func (s *Source) tail(ctx context.Context) (string, error) {
	msgs, err := s.client.XRevRangeN(ctx, s.stream, "+", "-", 1).Result()
	if err != nil {
		return "", mapErr(err)
	}
	if len(msgs) == 0 {
		return "0-0", nil
	}
	return msgs[0].ID, nil
}

func (s *Source) read(ctx context.Context, sub *lifecycle.Subscription, lastID string) {
	for ctx.Err() == nil {
		res, err := s.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{s.stream, lastID},
			Block:   s.block,
			Count:   16,
		}).Result()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if stdErrors.Is(err, redis.Nil) {
				continue
			}
			select {
			case <-time.After(s.backoff):
				continue
			case <-ctx.Done():
				return
			}
		}
		for _, stream := range res {
			for _, msg := range stream.Messages {
				lastID = msg.ID
				raw, ok := msg.Values["transition"].(string)
				if !ok {
					continue
				}
				t, err := lifecycle.ParseTransition(raw)
				if err != nil {
					continue
				}
				if err := sub.Deliver(ctx, t); err != nil {
					return
				}
			}
		}
	}
}

func mapErr(err error) error {
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
