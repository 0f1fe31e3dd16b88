package lifecycle

import (
	"context"
	"errors"
	"sync"

	lgerrors "github.com/mirkobrombin/go-lockguard/v1/errors"
)

// InMemory is a Source and Publisher for hosts that forward their
// lifecycle callbacks directly.
type InMemory struct {
	mu   sync.Mutex
	subs map[string]*Subscription
}

// NewInMemory returns an empty in-memory source.
func NewInMemory() *InMemory {
	return &InMemory{subs: make(map[string]*Subscription)}
}

// Subscribe implements Source.
func (m *InMemory) Subscribe(ctx context.Context) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub, err := NewSubscription(ctx, func(s *Subscription) error {
		m.mu.Lock()
		delete(m.subs, s.ID())
		m.mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	select {
	case <-sub.Done():
		// ctx ended before registration; release already ran.
	default:
		m.subs[sub.ID()] = sub
	}
	m.mu.Unlock()
	return sub, nil
}

// Publish delivers t to every current subscriber in subscription order
// per subscriber. Closed subscriptions are skipped.
func (m *InMemory) Publish(ctx context.Context, t Transition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	subs := make([]*Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.Unlock()
	for _, s := range subs {
		if err := s.Deliver(ctx, t); err != nil {
			if errors.Is(err, lgerrors.ErrSubscriptionClosed) {
				continue
			}
			return err
		}
	}
	return nil
}

// Subscribers returns the number of open subscriptions.
func (m *InMemory) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}
