package nats

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/server"
	natsserver "github.com/nats-io/nats-server/v2/test"
	nats "github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirkobrombin/go-lockguard/v1/lifecycle"
)

func newSource(t *testing.T) *Source {
	t.Helper()
	addr := os.Getenv("LOCKGUARD_TEST_NATS_ADDR")
	var s *server.Server
	if addr == "" {
		s = natsserver.RunRandClientPortServer()
		addr = s.ClientURL()
	}
	conn, err := nats.Connect(addr)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
		if s != nil {
			s.Shutdown()
		}
	})
	return New(conn, "test.lifecycle."+uuid.NewString())
}

func TestNATSSourceDeliversInOrder(t *testing.T) {
	src := newSource(t)
	ctx := context.Background()

	sub, err := src.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	want := []lifecycle.Transition{lifecycle.Inactive, lifecycle.Backgrounded, lifecycle.Backgrounded, lifecycle.Foregrounded}
	for _, tr := range want {
		require.NoError(t, src.Publish(ctx, tr))
	}
	for _, tr := range want {
		select {
		case got := <-sub.Events():
			assert.Equal(t, tr, got)
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for transition")
		}
	}
}

func TestNATSSourceContextCancelUnsubscribes(t *testing.T) {
	src := newSource(t)
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := src.Subscribe(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription not closed after cancel")
	}
	_, ok := <-sub.Events()
	assert.False(t, ok)
}

func TestNATSSourceDefaultSubject(t *testing.T) {
	src := New(nil, "")
	assert.Equal(t, DefaultSubject, src.subject)
}
