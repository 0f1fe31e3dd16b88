package presets

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	natsserver "github.com/nats-io/nats-server/v2/test"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirkobrombin/go-lockguard/v1/auth"
	"github.com/mirkobrombin/go-lockguard/v1/config"
	"github.com/mirkobrombin/go-lockguard/v1/guard"
	"github.com/mirkobrombin/go-lockguard/v1/lifecycle"
	"github.com/mirkobrombin/go-lockguard/v1/logging"
	"github.com/mirkobrombin/go-lockguard/v1/prefs"
	"github.com/mirkobrombin/go-lockguard/v1/session"
)

var quiet = guard.WithLogger(logging.Component(logging.Discard(), "guard"))

func waitState(t *testing.T, s *Stack, st session.State) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Guard.Session().State() == st }, 2*time.Second, 5*time.Millisecond,
		"want %s, have %s", st, s.Guard.Session().State())
}

// cycle enables the lock, then leaves and re-enters the foreground.
func cycle(t *testing.T, s *Stack) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.Prefs.SetLockEnabled(ctx, true))
	require.Eventually(t, func() bool { return s.Guard.Session().LockEnabled }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Source.Publish(ctx, lifecycle.Backgrounded))
	require.NoError(t, s.Source.Publish(ctx, lifecycle.Foregrounded))
}

func TestNewInMemoryStandalone(t *testing.T) {
	a := auth.Static{
		Capability: auth.Capability{HasHardware: true, Enrolled: true},
		Result:     auth.Result{Succeeded: true},
	}
	s := NewInMemoryStandalone(a, quiet)
	defer s.Close()
	assert.Nil(t, s.Prompt, "a caller-supplied authenticator reads no passcodes")
	require.NoError(t, s.Start(context.Background()))
	waitState(t, s, session.StateUnlocked)

	cycle(t, s)
	require.Eventually(t, func() bool {
		sess := s.Guard.Session()
		return sess.Attempt == 1 && sess.State() == session.StateUnlocked
	}, 2*time.Second, 5*time.Millisecond)

	st, ok := s.Bus.Latest()
	require.True(t, ok)
	assert.Equal(t, "unlocked", st.State)
}

func TestNewInMemoryStandaloneFailsOpenWithoutPasscode(t *testing.T) {
	s := NewInMemoryStandalone(nil, quiet)
	defer s.Close()
	require.NotNil(t, s.Prompt)
	require.NoError(t, s.Start(context.Background()))
	cycle(t, s)
	require.Eventually(t, func() bool { return s.Guard.Session().Attempt == 1 }, 2*time.Second, 5*time.Millisecond)
	waitState(t, s, session.StateUnlocked)
}

func TestNewRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	seed := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer seed.Close()
	require.NoError(t, prefs.NewRedisStore(seed).Save(context.Background(), prefs.Preferences{LockEnabled: true}))

	a := auth.Static{
		Capability: auth.Capability{HasHardware: true, Enrolled: true},
		Result:     auth.Result{Reason: "wrong finger"},
	}
	s := NewRedis(RedisOptions{Addr: mr.Addr()}, a, quiet)
	assert.Nil(t, s.Prompt)
	require.NoError(t, s.Start(context.Background()))
	waitState(t, s, session.StateLockedFailed)
	assert.True(t, s.Guard.Status().RetryVisible)
	require.NoError(t, s.Close())
}

func TestFromConfigSQLite(t *testing.T) {
	cfg := config.Default()
	cfg.Prefs.Backend = "sqlite"
	cfg.Prefs.Path = filepath.Join(t.TempDir(), "prefs.db")
	cfg.Auth.Mode = "none"

	s, err := FromConfig(cfg, nil, quiet)
	require.NoError(t, err)
	assert.Nil(t, s.Prompt)
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Prefs.SetLockEnabled(context.Background(), true))
	require.NoError(t, s.Close())

	// The preference survives a restart and locks on hydration; without
	// an authenticator the lock fails open.
	s, err = FromConfig(cfg, nil, quiet)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Start(context.Background()))
	require.True(t, s.Prefs.Snapshot().LockEnabled)
	require.Eventually(t, func() bool { return s.Guard.Session().Attempt == 1 }, 2*time.Second, 5*time.Millisecond)
	waitState(t, s, session.StateUnlocked)
}

func TestFromConfigRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cfg := config.Default()
	cfg.Redis.Addr = mr.Addr()
	cfg.Prefs.Backend = "redis"
	cfg.Prefs.Key = "test:prefs"
	cfg.Lifecycle.Backend = "redis"
	cfg.Lifecycle.Channel = "test:lifecycle"
	cfg.Auth.Mode = "none"

	s, err := FromConfig(cfg, nil, quiet)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Start(context.Background()))
	cycle(t, s)
	require.Eventually(t, func() bool { return s.Guard.Session().Attempt == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, mr.Exists("test:prefs"))
	assert.True(t, mr.Exists("test:lifecycle"))
}

func TestFromConfigNATS(t *testing.T) {
	srv := natsserver.RunRandClientPortServer()
	defer srv.Shutdown()

	cfg := config.Default()
	cfg.Lifecycle.Backend = "nats"
	cfg.NATS.URL = srv.ClientURL()
	cfg.Auth.Mode = "none"

	s, err := FromConfig(cfg, nil, quiet)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Start(context.Background()))
	cycle(t, s)
	require.Eventually(t, func() bool { return s.Guard.Session().Attempt == 1 }, 2*time.Second, 5*time.Millisecond)
	waitState(t, s, session.StateUnlocked)
}

func TestFromConfigPasscodeKeepsPrompt(t *testing.T) {
	s, err := FromConfig(config.Default(), nil, quiet)
	require.NoError(t, err)
	defer s.Close()
	assert.NotNil(t, s.Prompt)
}

// holdAuth keeps every challenge open until its context ends.
type holdAuth struct{}

func (holdAuth) Probe(ctx context.Context) (auth.Capability, error) {
	return auth.Capability{HasHardware: true, Enrolled: true}, nil
}

func (holdAuth) Challenge(ctx context.Context, prompt string) (auth.Result, error) {
	<-ctx.Done()
	return auth.Result{}, ctx.Err()
}

func TestRedisStacksShareLockPreference(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	seed := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer seed.Close()
	require.NoError(t, prefs.NewRedisStore(seed).Save(context.Background(), prefs.Preferences{LockEnabled: true}))

	guarded := NewRedis(RedisOptions{Addr: mr.Addr()}, holdAuth{}, quiet)
	defer guarded.Close()
	require.NoError(t, guarded.Start(context.Background()))
	waitState(t, guarded, session.StateLockedPending)

	admin := NewRedis(RedisOptions{Addr: mr.Addr()}, auth.Static{}, quiet)
	defer admin.Close()
	require.NoError(t, admin.Start(context.Background()))
	require.NoError(t, admin.Prefs.SetLockEnabled(context.Background(), false))

	waitState(t, guarded, session.StateUnlocked)
	assert.False(t, guarded.Prefs.Snapshot().LockEnabled)
	assert.False(t, guarded.Guard.Session().LockEnabled)
}

func TestSQLiteStacksShareLockPreference(t *testing.T) {
	cfg := config.Default()
	cfg.Prefs.Backend = "sqlite"
	cfg.Prefs.Path = filepath.Join(t.TempDir(), "prefs.db")
	cfg.Prefs.PollInterval = 10 * time.Millisecond
	cfg.Auth.Mode = "none"

	follower, err := FromConfig(cfg, nil, quiet)
	require.NoError(t, err)
	defer follower.Close()
	require.NoError(t, follower.Start(context.Background()))
	waitState(t, follower, session.StateUnlocked)

	writer, err := FromConfig(cfg, nil, quiet)
	require.NoError(t, err)
	defer writer.Close()
	require.NoError(t, writer.Start(context.Background()))
	require.NoError(t, writer.Prefs.SetLockEnabled(context.Background(), true))

	require.Eventually(t, func() bool { return follower.Guard.Session().LockEnabled }, 2*time.Second, 5*time.Millisecond)
}

func TestFromConfigErrors(t *testing.T) {
	cfg := config.Default()
	cfg.Prefs.Backend = "etcd"
	_, err := FromConfig(cfg, nil)
	assert.ErrorContains(t, err, "unknown prefs backend")

	cfg = config.Default()
	cfg.Lifecycle.Backend = "carrier-pigeon"
	_, err = FromConfig(cfg, nil)
	assert.ErrorContains(t, err, "unknown lifecycle backend")

	cfg = config.Default()
	cfg.Lifecycle.Backend = "nats"
	cfg.NATS.URL = "nats://127.0.0.1:1"
	_, err = FromConfig(cfg, nil)
	assert.ErrorContains(t, err, "connect nats")
}

func TestNewAuthenticator(t *testing.T) {
	prompt := auth.NewPendingPrompt()

	a := NewAuthenticator(config.AuthConfig{Mode: "none"}, prompt)
	outcome, _ := auth.Attempt(context.Background(), a, "x")
	assert.Equal(t, auth.Unavailable, outcome)

	a = NewAuthenticator(config.AuthConfig{Mode: "passcode", PasscodeHash: "h"}, prompt)
	assert.IsType(t, &auth.Passcode{}, a)

	a = NewAuthenticator(config.AuthConfig{Mode: "passcode", PasscodeHash: "h", RatePerMinute: 6}, prompt)
	assert.IsType(t, &auth.Throttled{}, a)
}
