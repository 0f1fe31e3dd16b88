// Package lifecycle describes the host application's foreground and
// background transitions and the sources that deliver them. Backends
// live in sub-packages; the in-memory source here is what a host embeds
// when it pushes events directly.
package lifecycle

import (
	"context"
	"fmt"
	"strings"
)

// Transition is a single host lifecycle notification.
type Transition int

const (
	Foregrounded Transition = iota + 1
	Backgrounded
	Inactive
)

func (t Transition) String() string {
	switch t {
	case Foregrounded:
		return "foregrounded"
	case Backgrounded:
		return "backgrounded"
	case Inactive:
		return "inactive"
	default:
		return fmt.Sprintf("transition(%d)", int(t))
	}
}

// ParseTransition parses the textual form produced by String. The
// platform names "active" and "background" are accepted as aliases.
func ParseTransition(s string) (Transition, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "foregrounded", "foreground", "active":
		return Foregrounded, nil
	case "backgrounded", "background":
		return Backgrounded, nil
	case "inactive":
		return Inactive, nil
	}
	return 0, fmt.Errorf("lifecycle: unknown transition %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t Transition) MarshalText() ([]byte, error) {
	switch t {
	case Foregrounded, Backgrounded, Inactive:
		return []byte(t.String()), nil
	}
	return nil, fmt.Errorf("lifecycle: invalid transition %d", int(t))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Transition) UnmarshalText(b []byte) error {
	v, err := ParseTransition(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Source delivers lifecycle transitions to subscribers.
type Source interface {
	// Subscribe starts delivery to a new subscription. Delivery stops
	// when ctx is cancelled or the subscription is closed.
	Subscribe(ctx context.Context) (*Subscription, error)
}

// Publisher injects transitions into a source.
type Publisher interface {
	Publish(ctx context.Context, t Transition) error
}
