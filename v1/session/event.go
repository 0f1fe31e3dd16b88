package session

import (
	"fmt"

	"github.com/mirkobrombin/go-lockguard/v1/auth"
	"github.com/mirkobrombin/go-lockguard/v1/lifecycle"
)

// Kind enumerates the inputs the reducer reacts to.
type Kind int

const (
	KindHydrated Kind = iota + 1
	KindPreferenceChanged
	KindLifecycle
	KindRetry
	KindOutcome
)

func (k Kind) String() string {
	switch k {
	case KindHydrated:
		return "hydrated"
	case KindPreferenceChanged:
		return "preference_changed"
	case KindLifecycle:
		return "lifecycle"
	case KindRetry:
		return "retry"
	case KindOutcome:
		return "outcome"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is a single input to Reduce. Only the fields relevant to Kind
// are read.
type Event struct {
	Kind        Kind
	LockEnabled bool
	Transition  lifecycle.Transition
	Outcome     auth.Outcome
	Attempt     uint64
}

// Hydrated signals that the preference store finished loading.
func Hydrated(lockEnabled bool) Event {
	return Event{Kind: KindHydrated, LockEnabled: lockEnabled}
}

// PreferenceChanged signals a new lock preference value.
func PreferenceChanged(lockEnabled bool) Event {
	return Event{Kind: KindPreferenceChanged, LockEnabled: lockEnabled}
}

// Lifecycle wraps a host lifecycle transition.
func Lifecycle(t lifecycle.Transition) Event {
	return Event{Kind: KindLifecycle, Transition: t}
}

// Retry is the user-initiated request to re-attempt the challenge.
func Retry() Event {
	return Event{Kind: KindRetry}
}

// Outcome carries the result of the challenge identified by attempt.
func Outcome(attempt uint64, o auth.Outcome) Event {
	return Event{Kind: KindOutcome, Attempt: attempt, Outcome: o}
}

// Effect is the side effect requested by a transition.
type Effect struct {
	BeginChallenge bool
	Attempt        uint64
}

// None reports whether no side effect is requested.
func (e Effect) None() bool {
	return !e.BeginChallenge
}
