package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirkobrombin/go-lockguard/v1/auth"
	"github.com/mirkobrombin/go-lockguard/v1/lifecycle"
)

// run feeds events through Reduce and returns the final session together
// with every challenge effect requested on the way.
func run(s Session, events ...Event) (Session, []Effect) {
	var effects []Effect
	for _, ev := range events {
		var eff Effect
		s, eff = Reduce(s, ev)
		if !eff.None() {
			effects = append(effects, eff)
		}
	}
	return s, effects
}

func unlockedEnabled(t *testing.T) Session {
	t.Helper()
	s, _ := run(Session{}, Hydrated(false), PreferenceChanged(true))
	require.Equal(t, StateUnlocked, s.State())
	require.True(t, s.LockEnabled)
	return s
}

func TestZeroValue(t *testing.T) {
	var s Session
	assert.Equal(t, StateUnknown, s.State())
	assert.False(t, s.Obscured())
	assert.False(t, s.RetryVisible())
	assert.Equal(t, Status{State: "unknown"}, s.Status())
}

func TestHydrationGating(t *testing.T) {
	pre := []Event{
		Lifecycle(lifecycle.Inactive),
		Lifecycle(lifecycle.Backgrounded),
		Lifecycle(lifecycle.Foregrounded),
		PreferenceChanged(true),
		Retry(),
		Outcome(1, auth.Failed),
		Lifecycle(lifecycle.Foregrounded),
		Outcome(0, auth.Succeeded),
	}
	s := Session{}
	for _, ev := range pre {
		var eff Effect
		s, eff = Reduce(s, ev)
		assert.False(t, s.Locked, "locked before hydration after %s", ev.Kind)
		assert.True(t, eff.None())
		assert.Equal(t, StateUnknown, s.State())
	}
	assert.True(t, s.LockEnabled, "preference recorded before hydration")
	assert.False(t, s.LeftForeground, "transitions before hydration are ignored")
}

func TestHydrateDisabled(t *testing.T) {
	s, effects := run(Session{}, Hydrated(false))
	assert.Equal(t, StateUnlocked, s.State())
	assert.Empty(t, effects)
}

func TestDisableIsAbsolute(t *testing.T) {
	pending, _ := run(Session{}, Hydrated(true))
	failed, _ := run(pending, Outcome(1, auth.Failed))
	unlocked := unlockedEnabled(t)
	left, _ := run(unlocked, Lifecycle(lifecycle.Backgrounded))

	for name, s := range map[string]Session{
		"pending":  pending,
		"failed":   failed,
		"unlocked": unlocked,
		"left":     left,
		"unknown":  {},
	} {
		t.Run(name, func(t *testing.T) {
			next, eff := Reduce(s, PreferenceChanged(false))
			assert.False(t, next.Locked)
			assert.False(t, next.LastChallengeFailed)
			assert.False(t, next.LockEnabled)
			assert.True(t, eff.None())
		})
	}
}

func TestNoSpuriousFirstLaunchLock(t *testing.T) {
	// Hosts typically emit inactive then foregrounded right after launch.
	s, effects := run(Session{},
		Hydrated(true),
		Lifecycle(lifecycle.Inactive),
		Lifecycle(lifecycle.Foregrounded),
		PreferenceChanged(true),
		Lifecycle(lifecycle.Foregrounded),
	)
	require.Len(t, effects, 1)
	assert.Equal(t, uint64(1), effects[0].Attempt)
	assert.Equal(t, StateLockedPending, s.State())
	assert.Equal(t, uint64(1), s.Attempt)
}

func TestLaunchLifecycleBeforeEnableDoesNotLock(t *testing.T) {
	s, effects := run(Session{},
		Lifecycle(lifecycle.Inactive),
		Hydrated(true),
		Outcome(1, auth.Succeeded),
		Lifecycle(lifecycle.Foregrounded),
	)
	assert.Len(t, effects, 1)
	assert.Equal(t, StateUnlocked, s.State())
}

func TestEnableDoesNotLockImmediately(t *testing.T) {
	s, effects := run(Session{}, Hydrated(false), Lifecycle(lifecycle.Backgrounded), PreferenceChanged(true))
	assert.Empty(t, effects)
	assert.Equal(t, StateUnlocked, s.State())

	// The foreground loss happened while the lock was off.
	s, effects = run(s, Lifecycle(lifecycle.Foregrounded))
	assert.Empty(t, effects)
	assert.Equal(t, StateUnlocked, s.State())
}

func TestIdempotentBackgroundEvents(t *testing.T) {
	once, _ := run(unlockedEnabled(t), Lifecycle(lifecycle.Backgrounded))
	for i := 0; i < 5; i++ {
		next, eff := Reduce(once, Lifecycle(lifecycle.Backgrounded))
		assert.Equal(t, once, next)
		assert.True(t, eff.None())
	}

	pending, _ := run(once, Lifecycle(lifecycle.Foregrounded))
	for _, tr := range []lifecycle.Transition{lifecycle.Backgrounded, lifecycle.Backgrounded, lifecycle.Inactive} {
		next, eff := Reduce(pending, Lifecycle(tr))
		assert.Equal(t, pending, next)
		assert.True(t, eff.None())
	}
}

func TestFailOpen(t *testing.T) {
	starts := map[string][]Event{
		"hydration": {Hydrated(true)},
		"foreground": {
			Hydrated(false), PreferenceChanged(true),
			Lifecycle(lifecycle.Backgrounded), Lifecycle(lifecycle.Foregrounded),
		},
		"retry": {Hydrated(true), Outcome(1, auth.Failed), Retry()},
	}
	for name, events := range starts {
		t.Run(name, func(t *testing.T) {
			s, _ := run(Session{}, events...)
			require.Equal(t, StateLockedPending, s.State())
			s, eff := Reduce(s, Outcome(s.Attempt, auth.Unavailable))
			assert.Equal(t, StateUnlocked, s.State())
			assert.False(t, s.LastChallengeFailed)
			assert.True(t, eff.None())
		})
	}
}

func TestSingleInFlightChallenge(t *testing.T) {
	s, effects := run(Session{}, Hydrated(true))
	require.Len(t, effects, 1)

	s, more := run(s,
		Lifecycle(lifecycle.Foregrounded),
		Lifecycle(lifecycle.Backgrounded),
		Lifecycle(lifecycle.Foregrounded),
		Retry(),
		PreferenceChanged(true),
		Hydrated(true),
	)
	assert.Empty(t, more)
	assert.Equal(t, StateLockedPending, s.State())

	// Only one outcome is consumed per entry into pending.
	s, _ = run(s, Outcome(1, auth.Failed))
	assert.Equal(t, StateLockedFailed, s.State())
	next, eff := Reduce(s, Outcome(1, auth.Succeeded))
	assert.Equal(t, s, next)
	assert.True(t, eff.None())
}

func TestScenarioA(t *testing.T) {
	s, effects := run(Session{}, Hydrated(true))
	require.Len(t, effects, 1)
	assert.Equal(t, StateLockedPending, s.State())
	assert.True(t, s.Obscured())
	assert.False(t, s.RetryVisible())

	s, effects = run(s, Outcome(effects[0].Attempt, auth.Succeeded))
	assert.Empty(t, effects)
	assert.Equal(t, StateUnlocked, s.State())
	assert.False(t, s.Obscured())
}

func TestScenarioB(t *testing.T) {
	s, effects := run(unlockedEnabled(t), Lifecycle(lifecycle.Backgrounded), Lifecycle(lifecycle.Foregrounded))
	require.Len(t, effects, 1)
	assert.Equal(t, StateLockedPending, s.State())

	s, _ = run(s, Outcome(effects[0].Attempt, auth.Failed))
	assert.Equal(t, StateLockedFailed, s.State())
	assert.True(t, s.Obscured())
	assert.True(t, s.RetryVisible())
	assert.Equal(t, Status{State: "locked_failed", Obscured: true, RetryVisible: true, Attempt: 1}, s.Status())

	s, effects = run(s, Retry())
	require.Len(t, effects, 1)
	assert.Equal(t, uint64(2), effects[0].Attempt)
	assert.Equal(t, StateLockedPending, s.State())
	assert.False(t, s.RetryVisible())
}

func TestScenarioC(t *testing.T) {
	s, effects := run(Session{}, Hydrated(true))
	require.Len(t, effects, 1)

	s, _ = run(s, PreferenceChanged(false))
	assert.Equal(t, StateUnlocked, s.State())

	s, more := run(s, Outcome(effects[0].Attempt, auth.Succeeded))
	assert.Empty(t, more)
	assert.Equal(t, StateUnlocked, s.State())
	assert.False(t, s.Obscured())

	// A stale failure must not re-lock either.
	s, _ = run(s, Outcome(effects[0].Attempt, auth.Failed))
	assert.False(t, s.Locked)
}

func TestStaleOutcomeAfterReprompt(t *testing.T) {
	s, _ := run(Session{}, Hydrated(true), Outcome(1, auth.Failed), Lifecycle(lifecycle.Foregrounded))
	require.Equal(t, StateLockedPending, s.State())
	require.Equal(t, uint64(2), s.Attempt)

	next, eff := Reduce(s, Outcome(1, auth.Succeeded))
	assert.Equal(t, s, next)
	assert.True(t, eff.None())

	next, _ = Reduce(s, Outcome(2, auth.Succeeded))
	assert.Equal(t, StateUnlocked, next.State())
}

func TestLockedFailedIgnoresBackground(t *testing.T) {
	s, _ := run(Session{}, Hydrated(true), Outcome(1, auth.Failed))
	for _, tr := range []lifecycle.Transition{lifecycle.Backgrounded, lifecycle.Inactive} {
		next, eff := Reduce(s, Lifecycle(tr))
		assert.Equal(t, s, next)
		assert.True(t, eff.None())
	}
}

func TestRetryOnlyWhenFailed(t *testing.T) {
	unlocked := unlockedEnabled(t)
	next, eff := Reduce(unlocked, Retry())
	assert.Equal(t, unlocked, next)
	assert.True(t, eff.None())
}

func TestUnlockClearsLeftForeground(t *testing.T) {
	s, _ := run(unlockedEnabled(t),
		Lifecycle(lifecycle.Backgrounded),
		Lifecycle(lifecycle.Foregrounded),
		Outcome(1, auth.Succeeded),
	)
	require.Equal(t, StateUnlocked, s.State())
	assert.False(t, s.LeftForeground)

	_, effects := run(s, Lifecycle(lifecycle.Foregrounded))
	assert.Empty(t, effects)
}

func TestUnknownEventKind(t *testing.T) {
	s := unlockedEnabled(t)
	next, eff := Reduce(s, Event{Kind: Kind(42)})
	assert.Equal(t, s, next)
	assert.True(t, eff.None())
	assert.Equal(t, "kind(42)", Kind(42).String())
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "unknown", StateUnknown.String())
	assert.Equal(t, "unlocked", StateUnlocked.String())
	assert.Equal(t, "locked_pending", StateLockedPending.String())
	assert.Equal(t, "locked_failed", StateLockedFailed.String())
	assert.Equal(t, "invalid", State(9).String())
}
