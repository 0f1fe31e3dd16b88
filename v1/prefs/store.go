// Package prefs holds the user's lock preference: where it is persisted
// and how its hydration and later changes reach the guard.
package prefs

import (
	"context"
	"sync"
)

// Preferences is the persisted privacy-lock setting.
type Preferences struct {
	LockEnabled bool `json:"lock_enabled"`
}

// Store persists Preferences.
type Store interface {
	// Load returns the stored preferences. The boolean is false when
	// nothing was ever saved.
	Load(ctx context.Context) (Preferences, bool, error)
	// Save replaces the stored preferences.
	Save(ctx context.Context, p Preferences) error
}

// Feed is implemented by stores shared between processes. The returned
// channel receives a signal whenever the stored value may have changed
// and is closed when ctx ends.
type Feed interface {
	Changes(ctx context.Context) (<-chan struct{}, error)
}

// InMemoryStore is a Store backed by a variable.
type InMemoryStore struct {
	mu    sync.RWMutex
	prefs Preferences
	set   bool
}

// NewInMemoryStore returns an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// Load implements Store.
func (s *InMemoryStore) Load(ctx context.Context) (Preferences, bool, error) {
	if err := ctx.Err(); err != nil {
		return Preferences{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs, s.set, nil
}

// Save implements Store.
func (s *InMemoryStore) Save(ctx context.Context, p Preferences) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.prefs = p
	s.set = true
	s.mu.Unlock()
	return nil
}
