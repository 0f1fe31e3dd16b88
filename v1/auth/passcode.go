package auth

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// ErrPromptBusy is returned by Submit when no challenge is waiting.
var ErrPromptBusy = errors.New("auth: no passcode prompt pending")

// Prompter asks the user for a passcode.
type Prompter interface {
	Prompt(ctx context.Context, message string) (string, error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, message string) (string, error)

// Prompt implements Prompter.
func (f PrompterFunc) Prompt(ctx context.Context, message string) (string, error) {
	return f(ctx, message)
}

// Passcode authenticates against a bcrypt hash. An empty hash means the
// user never enrolled a passcode.
type Passcode struct {
	hash   []byte
	prompt Prompter
}

// NewPasscode returns a Passcode authenticator.
func NewPasscode(hash string, p Prompter) *Passcode {
	return &Passcode{hash: []byte(hash), prompt: p}
}

// HashPasscode hashes code for storage in configuration.
func HashPasscode(code string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Probe implements Authenticator. The passcode is software only, so
// hardware is present whenever a prompter is wired.
func (p *Passcode) Probe(ctx context.Context) (Capability, error) {
	return Capability{HasHardware: p.prompt != nil, Enrolled: len(p.hash) > 0}, nil
}

// Challenge implements Authenticator.
func (p *Passcode) Challenge(ctx context.Context, prompt string) (Result, error) {
	code, err := p.prompt.Prompt(ctx, prompt)
	if err != nil {
		return Result{}, err
	}
	if err := bcrypt.CompareHashAndPassword(p.hash, []byte(code)); err != nil {
		return Result{Reason: "passcode mismatch"}, nil
	}
	return Result{Succeeded: true}, nil
}

// PendingPrompt is a Prompter whose answers are pushed from elsewhere,
// typically an HTTP handler. Only one prompt waits at a time.
type PendingPrompt struct {
	mu      sync.Mutex
	message string
	answer  chan string
}

// NewPendingPrompt returns an idle PendingPrompt.
func NewPendingPrompt() *PendingPrompt {
	return &PendingPrompt{}
}

// Prompt implements Prompter. It blocks until Submit or ctx ends.
func (p *PendingPrompt) Prompt(ctx context.Context, message string) (string, error) {
	ch := make(chan string, 1)
	p.mu.Lock()
	p.message = message
	p.answer = ch
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		if p.answer == ch {
			p.answer = nil
			p.message = ""
		}
		p.mu.Unlock()
	}()
	select {
	case code := <-ch:
		return code, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Waiting returns the message of the pending prompt, if any.
func (p *PendingPrompt) Waiting() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.message, p.answer != nil
}

// Submit answers the pending prompt.
func (p *PendingPrompt) Submit(code string) error {
	p.mu.Lock()
	ch := p.answer
	p.answer = nil
	p.mu.Unlock()
	if ch == nil {
		return ErrPromptBusy
	}
	ch <- code
	return nil
}
