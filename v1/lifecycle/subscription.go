package lifecycle

import (
	"context"
	"sync"

	uuid "github.com/hashicorp/go-uuid"

	lgerrors "github.com/mirkobrombin/go-lockguard/v1/errors"
)

const defaultBuffer = 16

// Subscription is a scoped handle on a Source. Events arrive in FIFO
// order on Events until Close is called or the subscribing context ends,
// after which the channel is closed.
type Subscription struct {
	id      string
	ch      chan Transition
	done    chan struct{}
	release func(*Subscription) error

	mu     sync.RWMutex
	closed bool
	once   sync.Once
	err    error
}

// NewSubscription builds a subscription for a Source implementation.
// release is invoked exactly once on Close and should stop the backend
// delivery feeding the subscription. The subscription closes itself
// when ctx is done.
func NewSubscription(ctx context.Context, release func(*Subscription) error) (*Subscription, error) {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return nil, err
	}
	s := &Subscription{
		id:      id,
		ch:      make(chan Transition, defaultBuffer),
		done:    make(chan struct{}),
		release: release,
	}
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

// ID returns the unique subscription identifier.
func (s *Subscription) ID() string { return s.id }

// Events returns the delivery channel.
func (s *Subscription) Events() <-chan Transition { return s.ch }

// Done is closed once the subscription is closed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Deliver enqueues t, blocking while the subscriber's buffer is full.
// It never drops: it returns only once t is queued, the subscription is
// closed, or ctx ends.
func (s *Subscription) Deliver(ctx context.Context, t Transition) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return lgerrors.ErrSubscriptionClosed
	}
	select {
	case s.ch <- t:
		return nil
	case <-s.done:
		return lgerrors.ErrSubscriptionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops delivery and releases backend resources. It is safe to
// call more than once; later calls return the first result.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		if s.release != nil {
			s.err = s.release(s)
		}
	})
	return s.err
}
