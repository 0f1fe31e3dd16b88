// Package session models the lock guard's in-memory state and the pure
// reducer that drives it. Nothing in this package performs I/O: the
// reducer returns the next Session together with the effect the caller
// has to run, which keeps every transition testable without a runtime.
package session

// State is the externally visible phase of a Session.
type State int

const (
	// StateUnknown means the lock preference has not been hydrated yet.
	StateUnknown State = iota
	StateUnlocked
	// StateLockedPending means the app is obscured and a challenge is in flight.
	StateLockedPending
	// StateLockedFailed means the app is obscured and the last challenge failed.
	StateLockedFailed
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateUnlocked:
		return "unlocked"
	case StateLockedPending:
		return "locked_pending"
	case StateLockedFailed:
		return "locked_failed"
	default:
		return "invalid"
	}
}

// Session is the guard's belief about whether the app is safe to use.
// The zero value is the state of a freshly started application.
type Session struct {
	Hydrated            bool
	LockEnabled         bool
	Locked              bool
	LastChallengeFailed bool

	// Pending is set while a challenge is in flight.
	Pending bool
	// Attempt identifies the most recently issued challenge. Outcomes
	// carrying any other attempt are stale.
	Attempt uint64
	// LeftForeground records a foreground loss since the last unlock.
	LeftForeground bool
}

// State derives the phase of s.
func (s Session) State() State {
	switch {
	case !s.Hydrated:
		return StateUnknown
	case !s.Locked:
		return StateUnlocked
	case s.Pending:
		return StateLockedPending
	default:
		return StateLockedFailed
	}
}

// Obscured reports whether the presentation layer must hide the app.
func (s Session) Obscured() bool {
	return s.Locked
}

// RetryVisible reports whether the manual retry affordance is shown.
func (s Session) RetryVisible() bool {
	return s.Locked && s.LastChallengeFailed && !s.Pending
}

// Status is the read-only view of a Session handed to the presentation
// layer.
type Status struct {
	State        string `json:"state"`
	Obscured     bool   `json:"obscured"`
	RetryVisible bool   `json:"retry_visible"`
	Attempt      uint64 `json:"attempt"`
}

// Status derives the presentation view of s.
func (s Session) Status() Status {
	return Status{
		State:        s.State().String(),
		Obscured:     s.Obscured(),
		RetryVisible: s.RetryVisible(),
		Attempt:      s.Attempt,
	}
}
