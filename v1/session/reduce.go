package session

import (
	"github.com/mirkobrombin/go-lockguard/v1/auth"
	"github.com/mirkobrombin/go-lockguard/v1/lifecycle"
)

// Reduce applies ev to s and returns the next session along with the
// effect the caller must perform. It never mutates s.
func Reduce(s Session, ev Event) (Session, Effect) {
	switch ev.Kind {
	case KindHydrated:
		return hydrate(s, ev.LockEnabled)
	case KindPreferenceChanged:
		return setPreference(s, ev.LockEnabled)
	case KindLifecycle:
		return transition(s, ev.Transition)
	case KindRetry:
		return retry(s)
	case KindOutcome:
		return resolve(s, ev.Attempt, ev.Outcome)
	}
	return s, Effect{}
}

func hydrate(s Session, enabled bool) (Session, Effect) {
	if s.Hydrated {
		return setPreference(s, enabled)
	}
	s.Hydrated = true
	s.LockEnabled = enabled
	if !enabled {
		return s, Effect{}
	}
	return beginChallenge(s)
}

func setPreference(s Session, enabled bool) (Session, Effect) {
	if !enabled {
		// Disabling always unlocks; an in-flight challenge becomes stale
		// because Pending is cleared.
		s.LockEnabled = false
		return unlock(s), Effect{}
	}
	if !s.LockEnabled {
		s.LockEnabled = true
		s.LeftForeground = false
	}
	return s, Effect{}
}

func transition(s Session, t lifecycle.Transition) (Session, Effect) {
	if !s.Hydrated {
		return s, Effect{}
	}
	switch s.State() {
	case StateUnlocked:
		if !s.LockEnabled {
			return s, Effect{}
		}
		if t != lifecycle.Foregrounded {
			s.LeftForeground = true
			return s, Effect{}
		}
		if !s.LeftForeground {
			return s, Effect{}
		}
		return beginChallenge(s)
	case StateLockedFailed:
		if t == lifecycle.Foregrounded {
			return beginChallenge(s)
		}
	}
	return s, Effect{}
}

func retry(s Session) (Session, Effect) {
	if s.State() != StateLockedFailed {
		return s, Effect{}
	}
	return beginChallenge(s)
}

func resolve(s Session, attempt uint64, o auth.Outcome) (Session, Effect) {
	if s.State() != StateLockedPending || attempt != s.Attempt {
		return s, Effect{}
	}
	switch o {
	case auth.Failed:
		s.Pending = false
		s.LastChallengeFailed = true
		return s, Effect{}
	case auth.Succeeded, auth.Unavailable:
		// Unavailable fails open: the device cannot enforce the lock.
		return unlock(s), Effect{}
	}
	return s, Effect{}
}

func beginChallenge(s Session) (Session, Effect) {
	s.Locked = true
	s.Pending = true
	s.LastChallengeFailed = false
	s.Attempt++
	return s, Effect{BeginChallenge: true, Attempt: s.Attempt}
}

func unlock(s Session) Session {
	s.Locked = false
	s.Pending = false
	s.LastChallengeFailed = false
	s.LeftForeground = false
	return s
}
