// Package presets wires stores, lifecycle transports and authenticators
// into ready-to-run guards.
package presets

import (
	"context"
	"errors"
	"fmt"

	nats "github.com/nats-io/nats.go"
	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/mirkobrombin/go-lockguard/v1/auth"
	"github.com/mirkobrombin/go-lockguard/v1/config"
	"github.com/mirkobrombin/go-lockguard/v1/guard"
	"github.com/mirkobrombin/go-lockguard/v1/lifecycle"
	lifekafka "github.com/mirkobrombin/go-lockguard/v1/lifecycle/kafka"
	lifenats "github.com/mirkobrombin/go-lockguard/v1/lifecycle/nats"
	liferedis "github.com/mirkobrombin/go-lockguard/v1/lifecycle/redis"
	"github.com/mirkobrombin/go-lockguard/v1/logging"
	"github.com/mirkobrombin/go-lockguard/v1/prefs"
	"github.com/mirkobrombin/go-lockguard/v1/statusbus"
)

// RedisOptions configures the connection to Redis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// Lifecycle is a transport that both delivers and accepts transitions.
type Lifecycle interface {
	lifecycle.Source
	lifecycle.Publisher
}

// Stack is a guard together with the collaborators it was built from.
// Prompt is nil unless the stack's authenticator reads passcodes from it.
type Stack struct {
	Guard  *guard.Guard
	Prefs  *prefs.Observable
	Source Lifecycle
	Prompt *auth.PendingPrompt
	Bus    *statusbus.InMemory

	cancel  context.CancelFunc
	closers []func() error
}

// Run starts the guard and follows preference writes made by other
// processes sharing the store. Hydration is left to the caller.
func (s *Stack) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	if err := s.Guard.Start(ctx); err != nil {
		cancel()
		return err
	}
	if err := s.Prefs.Follow(ctx); err != nil {
		cancel()
		s.Guard.Stop()
		return fmt.Errorf("presets: follow preferences: %w", err)
	}
	s.cancel = cancel
	return nil
}

// Start runs the stack and then hydrates the preference. If hydration
// fails the guard keeps running in the unknown state.
func (s *Stack) Start(ctx context.Context) error {
	if err := s.Run(ctx); err != nil {
		return err
	}
	if err := s.Prefs.Hydrate(ctx); err != nil {
		return fmt.Errorf("presets: hydrate preferences: %w", err)
	}
	return nil
}

// Close stops the guard and releases every connection the stack opened.
func (s *Stack) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.Guard.Stop()
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func newStack(store prefs.Store, src Lifecycle, a auth.Authenticator, prompt *auth.PendingPrompt, opts []guard.Option) *Stack {
	obs := prefs.NewObservable(store)
	bus := statusbus.NewInMemory()
	g := guard.New(obs, src, a, append([]guard.Option{guard.WithStatusBus(bus)}, opts...)...)
	return &Stack{Guard: g, Prefs: obs, Source: src, Prompt: prompt, Bus: bus}
}

// NewInMemoryStandalone builds a guard that runs entirely in-memory. A
// nil authenticator means an unenrolled passcode, so every challenge
// fails open.
func NewInMemoryStandalone(a auth.Authenticator, opts ...guard.Option) *Stack {
	a, prompt := defaultPasscode(a)
	return newStack(prefs.NewInMemoryStore(), lifecycle.NewInMemory(), a, prompt, opts)
}

// NewRedis builds a guard that keeps its preference in Redis and reads
// lifecycle transitions from a Redis stream.
func NewRedis(opts RedisOptions, a auth.Authenticator, gopts ...guard.Option) *Stack {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	a, prompt := defaultPasscode(a)
	s := newStack(prefs.NewRedisStore(client), liferedis.New(client), a, prompt, gopts)
	s.closers = append(s.closers, client.Close)
	return s
}

func defaultPasscode(a auth.Authenticator) (auth.Authenticator, *auth.PendingPrompt) {
	if a != nil {
		return a, nil
	}
	prompt := auth.NewPendingPrompt()
	return auth.NewPasscode("", prompt), prompt
}

// NewAuthenticator builds the authenticator described by cfg. Passcode
// mode reads codes from prompt and is throttled when a rate is set.
func NewAuthenticator(cfg config.AuthConfig, prompt auth.Prompter) auth.Authenticator {
	if cfg.Mode == "none" {
		return auth.Static{}
	}
	var a auth.Authenticator = auth.NewPasscode(cfg.PasscodeHash, prompt)
	if cfg.RatePerMinute > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		a = auth.NewThrottled(a, rate.Limit(cfg.RatePerMinute/60), burst)
	}
	return a
}

// FromConfig builds the stack selected by cfg, opening the connections
// its backends need.
func FromConfig(cfg *config.Config, log *logrus.Entry, opts ...guard.Option) (*Stack, error) {
	if log == nil {
		log = logging.Component(nil, "presets")
	}
	var (
		closers []func() error
		rdb     *redis.Client
	)
	fail := func(err error) (*Stack, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}
	redisClient := func() *redis.Client {
		if rdb == nil {
			rdb = redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			closers = append(closers, rdb.Close)
		}
		return rdb
	}

	var store prefs.Store
	switch cfg.Prefs.Backend {
	case "memory":
		store = prefs.NewInMemoryStore()
	case "redis":
		var ropts []prefs.RedisOption
		if cfg.Prefs.Key != "" {
			ropts = append(ropts, prefs.WithKey(cfg.Prefs.Key))
		}
		store = prefs.NewRedisStore(redisClient(), ropts...)
	case "sqlite":
		sqlStore, err := prefs.NewSQLiteStore(cfg.Prefs.Path, prefs.WithPollInterval(cfg.Prefs.PollInterval))
		if err != nil {
			return fail(fmt.Errorf("presets: open sqlite: %w", err))
		}
		closers = append(closers, sqlStore.Close)
		store = sqlStore
	default:
		return fail(fmt.Errorf("presets: unknown prefs backend %q", cfg.Prefs.Backend))
	}

	var src Lifecycle
	switch cfg.Lifecycle.Backend {
	case "memory":
		src = lifecycle.NewInMemory()
	case "redis":
		var lopts []liferedis.Option
		if cfg.Lifecycle.Channel != "" {
			lopts = append(lopts, liferedis.WithStream(cfg.Lifecycle.Channel))
		}
		src = liferedis.New(redisClient(), lopts...)
	case "nats":
		conn, err := nats.Connect(cfg.NATS.URL)
		if err != nil {
			return fail(fmt.Errorf("presets: connect nats: %w", err))
		}
		closers = append(closers, func() error { conn.Close(); return nil })
		src = lifenats.New(conn, cfg.Lifecycle.Channel)
	case "kafka":
		ks, err := lifekafka.New(cfg.Kafka.Brokers, nil, cfg.Lifecycle.Channel)
		if err != nil {
			return fail(fmt.Errorf("presets: connect kafka: %w", err))
		}
		closers = append(closers, ks.Close)
		src = ks
	default:
		return fail(fmt.Errorf("presets: unknown lifecycle backend %q", cfg.Lifecycle.Backend))
	}

	prompt := auth.NewPendingPrompt()
	a := NewAuthenticator(cfg.Auth, prompt)
	if cfg.Auth.Mode == "none" {
		prompt = nil
	}
	gopts := append([]guard.Option{
		guard.WithPrompt(cfg.Prompt),
		guard.WithLogger(log.WithField("component", "guard")),
	}, opts...)
	s := newStack(store, src, a, prompt, gopts)
	s.closers = closers
	log.WithFields(logrus.Fields{
		"prefs":     cfg.Prefs.Backend,
		"lifecycle": cfg.Lifecycle.Backend,
		"auth":      cfg.Auth.Mode,
	}).Info("guard stack ready")
	return s, nil
}
