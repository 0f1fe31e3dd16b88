// Package nats delivers lifecycle transitions over a NATS subject.
package nats

import (
	"context"

	nats "github.com/nats-io/nats.go"

	"github.com/mirkobrombin/go-lockguard/v1/lifecycle"
)

// DefaultSubject is the subject used when none is configured.
const DefaultSubject = "lockguard.lifecycle"

// Source implements lifecycle.Source and lifecycle.Publisher using core
// NATS. Each Subscribe creates its own NATS subscription, so per
// subscriber FIFO order follows the connection's ordering guarantee.
type Source struct {
	conn    *nats.Conn
	subject string
}

// New returns a Source bound to subject, or DefaultSubject if empty.
func New(conn *nats.Conn, subject string) *Source {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Source{conn: conn, subject: subject}
}

// Publish implements lifecycle.Publisher.
func (s *Source) Publish(ctx context.Context, t lifecycle.Transition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name, err := t.MarshalText()
	if err != nil {
		return err
	}
	return s.conn.Publish(s.subject, name)
}

// Subscribe implements lifecycle.Source.
func (s *Source) Subscribe(ctx context.Context) (*lifecycle.Subscription, error) {
	msgs := make(chan *nats.Msg, 64)
	ns, err := s.conn.ChanSubscribe(s.subject, msgs)
	if err != nil {
		return nil, err
	}
	// Make sure the server registered interest before returning, so
	// publishes after Subscribe are not lost.
	if err := s.conn.Flush(); err != nil {
		_ = ns.Unsubscribe()
		return nil, err
	}
	fwdCtx, cancel := context.WithCancel(context.Background())
	sub, err := lifecycle.NewSubscription(ctx, func(*lifecycle.Subscription) error {
		cancel()
		return ns.Unsubscribe()
	})
	if err != nil {
		cancel()
		_ = ns.Unsubscribe()
		return nil, err
	}
	go forward(fwdCtx, msgs, sub)
	return sub, nil
}

func forward(ctx context.Context, msgs <-chan *nats.Msg, sub *lifecycle.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-msgs:
			t, err := lifecycle.ParseTransition(string(m.Data))
			if err != nil {
				continue
			}
			if err := sub.Deliver(ctx, t); err != nil {
				return
			}
		}
	}
}
