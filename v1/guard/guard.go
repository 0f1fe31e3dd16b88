// Package guard runs the application lock guard. It subscribes to the
// preference observable and the lifecycle source, serializes every input
// onto one event loop and drives session.Reduce. Authentication
// challenges run outside the loop and report back as outcome events.
package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mirkobrombin/go-lockguard/v1/auth"
	"github.com/mirkobrombin/go-lockguard/v1/lifecycle"
	"github.com/mirkobrombin/go-lockguard/v1/logging"
	"github.com/mirkobrombin/go-lockguard/v1/metrics"
	"github.com/mirkobrombin/go-lockguard/v1/prefs"
	"github.com/mirkobrombin/go-lockguard/v1/session"
	"github.com/mirkobrombin/go-lockguard/v1/statusbus"
)

var (
	// ErrAlreadyStarted is returned by Start on a guard that was started before.
	ErrAlreadyStarted = errors.New("guard: already started")
	// ErrNotStarted is returned when the event loop is not running.
	ErrNotStarted = errors.New("guard: not started")
)

// DefaultPrompt is shown by authenticators that display a message.
const DefaultPrompt = "Unlock to continue"

var tracer = otel.Tracer("github.com/mirkobrombin/go-lockguard/v1/guard")

// Preferences is the observable lock preference the guard follows.
type Preferences interface {
	Watch(ctx context.Context) (*prefs.Watch, error)
}

// Option configures a Guard.
type Option func(*Guard)

// WithLogger sets the log entry used by the guard.
func WithLogger(log *logrus.Entry) Option {
	return func(g *Guard) { g.log = log }
}

// WithTracer overrides the package tracer.
func WithTracer(t trace.Tracer) Option {
	return func(g *Guard) { g.tracer = t }
}

// WithStatusBus publishes every status change to bus.
func WithStatusBus(bus statusbus.Bus) Option {
	return func(g *Guard) { g.bus = bus }
}

// WithPrompt sets the message passed to the authenticator.
func WithPrompt(prompt string) Option {
	return func(g *Guard) { g.prompt = prompt }
}

// Guard owns the lock session of one application run.
type Guard struct {
	prefs  Preferences
	src    lifecycle.Source
	auth   auth.Authenticator
	log    *logrus.Entry
	tracer trace.Tracer
	bus    statusbus.Bus
	prompt string

	inbox chan session.Event

	// Owned by the loop goroutine.
	running *inflight
	queued  uint64

	mu      sync.RWMutex
	sess    session.Session
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// inflight is the challenge whose goroutine has not reported back yet.
type inflight struct {
	attempt uint64
	cancel  context.CancelFunc
}

// New returns an idle guard. Call Start to begin processing events.
func New(p Preferences, src lifecycle.Source, a auth.Authenticator, opts ...Option) *Guard {
	g := &Guard{
		prefs:  p,
		src:    src,
		auth:   a,
		tracer: tracer,
		prompt: DefaultPrompt,
		inbox:  make(chan session.Event),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.log == nil {
		g.log = logging.Component(nil, "guard")
	}
	return g
}

// Start subscribes to the preference observable and the lifecycle
// source and runs the event loop until ctx ends or Stop is called. A
// guard can be started once.
func (g *Guard) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return ErrAlreadyStarted
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w, err := g.prefs.Watch(loopCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("guard: watch preferences: %w", err)
	}
	sub, err := g.src.Subscribe(loopCtx)
	if err != nil {
		w.Close()
		cancel()
		return fmt.Errorf("guard: subscribe lifecycle: %w", err)
	}

	g.started = true
	g.cancel = cancel
	g.done = make(chan struct{})
	g.log.WithField("subscription", sub.ID()).Debug("guard started")
	go g.loop(loopCtx, w, sub, g.done)
	return nil
}

// Stop releases both subscriptions and waits for the event loop to
// exit. In-flight challenges are cancelled and their outcomes dropped.
func (g *Guard) Stop() {
	g.mu.Lock()
	cancel, done := g.cancel, g.done
	g.cancel = nil
	g.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	g.log.Debug("guard stopped")
}

// Retry asks for a new challenge after a failed one. It is ignored
// unless the session is locked with a failed challenge.
func (g *Guard) Retry(ctx context.Context) error {
	g.mu.RLock()
	done := g.done
	g.mu.RUnlock()
	if done == nil {
		return ErrNotStarted
	}
	select {
	case g.inbox <- session.Retry():
		return nil
	case <-done:
		return ErrNotStarted
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Session returns a copy of the current session.
func (g *Guard) Session() session.Session {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.sess
}

// Status returns the presentation view of the session.
func (g *Guard) Status() session.Status {
	return g.Session().Status()
}

// Obscured reports whether the application must be hidden.
func (g *Guard) Obscured() bool {
	return g.Session().Obscured()
}

func (g *Guard) loop(ctx context.Context, w *prefs.Watch, sub *lifecycle.Subscription, done chan struct{}) {
	defer close(done)
	defer w.Close()
	defer func() {
		if err := sub.Close(); err != nil {
			g.log.WithError(err).Warn("release lifecycle subscription")
		}
	}()

	g.publish(ctx, g.Session().Status())

	prefsCh := w.C()
	lifeCh := sub.Events()
	hydrated := false
	for {
		var ev session.Event
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-prefsCh:
			if !ok {
				prefsCh = nil
				continue
			}
			if !snap.Hydrated {
				continue
			}
			if hydrated {
				ev = session.PreferenceChanged(snap.LockEnabled)
			} else {
				hydrated = true
				ev = session.Hydrated(snap.LockEnabled)
			}
		case t, ok := <-lifeCh:
			if !ok {
				lifeCh = nil
				continue
			}
			ev = session.Lifecycle(t)
		case ev = <-g.inbox:
		}
		g.apply(ctx, ev)
	}
}

func (g *Guard) apply(ctx context.Context, ev session.Event) {
	metrics.EventCounter.WithLabelValues(ev.Kind.String()).Inc()
	if ev.Kind == session.KindOutcome && g.running != nil && g.running.attempt == ev.Attempt {
		g.running = nil
	}

	g.mu.Lock()
	prev := g.sess
	next, eff := session.Reduce(prev, ev)
	g.sess = next
	g.mu.Unlock()

	if ev.Kind == session.KindOutcome {
		disposition := "consumed"
		if prev.State() != session.StateLockedPending || prev.Attempt != ev.Attempt {
			disposition = "discarded"
			g.log.WithFields(logrus.Fields{
				"attempt": ev.Attempt,
				"outcome": ev.Outcome.String(),
			}).Debug("stale challenge outcome discarded")
		}
		metrics.OutcomeCounter.WithLabelValues(ev.Outcome.String(), disposition).Inc()
	}

	if before, after := prev.Status(), next.Status(); before != after {
		g.log.WithFields(logrus.Fields{
			"event": ev.Kind.String(),
			"from":  before.State,
			"to":    after.State,
		}).Info("lock state changed")
		g.publish(ctx, after)
	}
	if g.running != nil && !(next.Pending && next.Attempt == g.running.attempt) {
		g.running.cancel()
	}
	if eff.BeginChallenge {
		g.queued = eff.Attempt
	}
	g.launch(ctx, next)
}

// launch starts the queued challenge once no other challenge goroutine
// is running. A queued attempt the session no longer waits for is
// dropped.
func (g *Guard) launch(ctx context.Context, s session.Session) {
	if g.queued == 0 {
		return
	}
	if !s.Pending || s.Attempt != g.queued {
		g.queued = 0
		return
	}
	if g.running != nil {
		g.log.WithFields(logrus.Fields{
			"attempt": g.queued,
			"stale":   g.running.attempt,
		}).Debug("challenge deferred until stale attempt returns")
		return
	}
	attempt := g.queued
	g.queued = 0
	g.challenge(ctx, attempt)
}

func (g *Guard) publish(ctx context.Context, st session.Status) {
	if st.Obscured {
		metrics.ObscuredGauge.Set(1)
	} else {
		metrics.ObscuredGauge.Set(0)
	}
	if g.bus == nil {
		return
	}
	if err := g.bus.Publish(ctx, st); err != nil && ctx.Err() == nil {
		g.log.WithError(err).Warn("publish status")
	}
}

// challenge runs one authentication attempt in the background. The
// result re-enters the loop as an outcome event tagged with attempt,
// also when the attempt was cancelled, so the loop knows the goroutine
// is gone.
func (g *Guard) challenge(ctx context.Context, attempt uint64) {
	id := uuid.NewString()
	log := g.log.WithFields(logrus.Fields{"challenge": id, "attempt": attempt})
	metrics.ChallengeCounter.Inc()
	log.Info("challenge issued")

	actx, cancel := context.WithCancel(ctx)
	g.running = &inflight{attempt: attempt, cancel: cancel}

	go func() {
		defer cancel()
		start := time.Now()
		cctx, span := g.tracer.Start(actx, "Guard.Challenge", trace.WithAttributes(
			attribute.String("lockguard.challenge.id", id),
			attribute.Int64("lockguard.challenge.attempt", int64(attempt)),
		))
		outcome, res := auth.Attempt(cctx, g.auth, g.prompt)
		span.SetAttributes(attribute.String("lockguard.challenge.outcome", outcome.String()))
		span.End()
		metrics.ChallengeDuration.Observe(time.Since(start).Seconds())

		entry := log.WithField("outcome", outcome.String())
		if res.Reason != "" {
			entry = entry.WithField("reason", res.Reason)
		}
		switch {
		case actx.Err() != nil && ctx.Err() == nil:
			entry.Debug("challenge cancelled")
		case outcome == auth.Unavailable:
			entry.Warn("authentication unavailable, failing open")
		case outcome == auth.Failed:
			entry.Info("challenge failed")
		default:
			entry.Info("challenge succeeded")
		}

		select {
		case g.inbox <- session.Outcome(attempt, outcome):
		case <-ctx.Done():
		}
	}()
}
