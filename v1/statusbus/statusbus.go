// Package statusbus broadcasts the lock guard's status to the
// presentation layer. Watchers always converge on the latest status:
// a slow watcher skips intermediate values instead of queueing them.
package statusbus

import (
	"context"
	"sync"

	"github.com/mirkobrombin/go-lockguard/v1/session"
)

// Bus distributes status updates.
type Bus interface {
	// Publish records s as the latest status and forwards it to watchers.
	Publish(ctx context.Context, s session.Status) error
	// Watch returns a channel receiving the latest status and every
	// later one until ctx is cancelled or Unwatch is called.
	Watch(ctx context.Context) (chan session.Status, error)
	// Unwatch stops delivery to ch and closes it.
	Unwatch(ctx context.Context, ch chan session.Status) error
}

// InMemory is a process-local Bus.
type InMemory struct {
	mu     sync.Mutex
	subs   []chan session.Status
	latest session.Status
	has    bool
}

// NewInMemory creates a new InMemory bus.
func NewInMemory() *InMemory {
	return &InMemory{}
}

// Latest returns the last published status.
func (b *InMemory) Latest() (session.Status, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest, b.has
}

// Publish implements Bus.
func (b *InMemory) Publish(ctx context.Context, s session.Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latest = s
	b.has = true
	for _, ch := range b.subs {
		offer(ch, s)
	}
	return nil
}

// offer replaces any undelivered value in the one-slot channel with s.
func offer(ch chan session.Status, s session.Status) {
	for {
		select {
		case ch <- s:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Watch implements Bus.
func (b *InMemory) Watch(ctx context.Context) (chan session.Status, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := make(chan session.Status, 1)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	if b.has {
		ch <- b.latest
	}
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		_ = b.Unwatch(context.Background(), ch)
	}()
	return ch, nil
}

// Unwatch implements Bus.
func (b *InMemory) Unwatch(ctx context.Context, ch chan session.Status) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, c := range b.subs {
		if c == ch {
			b.subs[i] = b.subs[len(b.subs)-1]
			b.subs = b.subs[:len(b.subs)-1]
			close(c)
			break
		}
	}
	return nil
}

// Watchers returns the number of registered watchers.
func (b *InMemory) Watchers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
