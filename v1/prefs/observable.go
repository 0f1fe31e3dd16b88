package prefs

import (
	"context"
	"errors"
	"sync"
)

// ErrNotHydrated is returned when changing a preference before it was loaded.
var ErrNotHydrated = errors.New("prefs: not hydrated")

// Snapshot is the observable view of the preference.
type Snapshot struct {
	Hydrated    bool
	LockEnabled bool
}

// Observable wraps a Store with hydration tracking and change
// notification. Hydrated flips from false to true at most once.
type Observable struct {
	store Store

	// notifyMu serializes notifications so every watcher sees changes
	// in the same order.
	notifyMu sync.Mutex

	mu       sync.Mutex
	snap     Snapshot
	watchers map[*Watch]struct{}
}

// NewObservable returns an unhydrated Observable over store.
func NewObservable(store Store) *Observable {
	return &Observable{store: store, watchers: make(map[*Watch]struct{})}
}

// Snapshot returns the current value.
func (o *Observable) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snap
}

// Hydrate loads the stored preference and notifies watchers. A missing
// record resolves to disabled. Calling Hydrate again is a no-op. On
// error the observable stays unhydrated and Hydrate may be retried.
func (o *Observable) Hydrate(ctx context.Context) error {
	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()
	if o.Snapshot().Hydrated {
		return nil
	}
	p, _, err := o.store.Load(ctx)
	if err != nil {
		return err
	}
	o.publish(Snapshot{Hydrated: true, LockEnabled: p.LockEnabled})
	return nil
}

// SetLockEnabled persists the preference and notifies watchers when the
// value changed.
func (o *Observable) SetLockEnabled(ctx context.Context, enabled bool) error {
	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()
	cur := o.Snapshot()
	if !cur.Hydrated {
		return ErrNotHydrated
	}
	if err := o.store.Save(ctx, Preferences{LockEnabled: enabled}); err != nil {
		return err
	}
	if cur.LockEnabled == enabled {
		return nil
	}
	o.publish(Snapshot{Hydrated: true, LockEnabled: enabled})
	return nil
}

// Watch subscribes to snapshots. If the observable is already hydrated
// the current snapshot is delivered first.
func (o *Observable) Watch(ctx context.Context) (*Watch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()

	w := newWatch(o)
	o.mu.Lock()
	o.watchers[w] = struct{}{}
	snap := o.snap
	o.mu.Unlock()
	if snap.Hydrated {
		w.ch <- snap
	}
	go func() {
		select {
		case <-ctx.Done():
			w.Close()
		case <-w.done:
		}
	}()
	return w, nil
}

// Follow reloads the preference whenever the store reports a change
// written by another process, until ctx ends. Stores that do not
// implement Feed are not followed.
func (o *Observable) Follow(ctx context.Context) error {
	feed, ok := o.store.(Feed)
	if !ok {
		return nil
	}
	changes, err := feed.Changes(ctx)
	if err != nil {
		return err
	}
	go func() {
		for range changes {
			_ = o.reload(ctx)
		}
	}()
	return nil
}

// reload publishes the stored value if it differs from the current one.
// It is a no-op before hydration.
func (o *Observable) reload(ctx context.Context) error {
	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()
	cur := o.Snapshot()
	if !cur.Hydrated {
		return nil
	}
	p, _, err := o.store.Load(ctx)
	if err != nil {
		return err
	}
	if p.LockEnabled == cur.LockEnabled {
		return nil
	}
	o.publish(Snapshot{Hydrated: true, LockEnabled: p.LockEnabled})
	return nil
}

// publish must be called with notifyMu held. Delivery does not depend on
// the caller's context: once the value changed every watcher sees it.
func (o *Observable) publish(snap Snapshot) {
	o.mu.Lock()
	o.snap = snap
	watchers := make([]*Watch, 0, len(o.watchers))
	for w := range o.watchers {
		watchers = append(watchers, w)
	}
	o.mu.Unlock()
	for _, w := range watchers {
		w.deliver(snap)
	}
}

func (o *Observable) remove(w *Watch) {
	o.mu.Lock()
	delete(o.watchers, w)
	o.mu.Unlock()
}

// Watch is a scoped subscription to an Observable.
type Watch struct {
	o    *Observable
	ch   chan Snapshot
	done chan struct{}

	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

func newWatch(o *Observable) *Watch {
	return &Watch{o: o, ch: make(chan Snapshot, 16), done: make(chan struct{})}
}

// C returns the snapshot channel. It is closed by Close.
func (w *Watch) C() <-chan Snapshot { return w.ch }

func (w *Watch) deliver(snap Snapshot) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}
	select {
	case w.ch <- snap:
	case <-w.done:
	}
}

// Close stops delivery. It is safe to call more than once.
func (w *Watch) Close() {
	w.once.Do(func() {
		close(w.done)
		w.o.remove(w)
		w.mu.Lock()
		w.closed = true
		close(w.ch)
		w.mu.Unlock()
	})
}
