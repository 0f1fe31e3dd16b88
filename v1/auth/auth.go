// Package auth defines the contract of the platform authentication
// primitive the lock guard challenges, and maps raw probe and challenge
// results onto the three outcomes the guard understands.
//
// A challenge never produces an error for the guard: missing hardware or
// enrollment is Unavailable (the guard fails open) and everything else
// that is not a success is Failed.
package auth

import (
	"context"
	"fmt"
)

// Capability is the result of probing the device.
type Capability struct {
	HasHardware bool
	Enrolled    bool
}

// Usable reports whether a challenge can be enforced.
func (c Capability) Usable() bool {
	return c.HasHardware && c.Enrolled
}

// Result is the raw answer of a challenge.
type Result struct {
	Succeeded bool
	Reason    string
}

// Authenticator is the biometric/passcode primitive.
type Authenticator interface {
	// Probe reports whether secure hardware exists and credentials are enrolled.
	Probe(ctx context.Context) (Capability, error)
	// Challenge prompts the user once. It may block for as long as the
	// user takes to answer.
	Challenge(ctx context.Context, prompt string) (Result, error)
}

// Outcome is what the guard consumes.
type Outcome int

const (
	Succeeded Outcome = iota + 1
	Failed
	Unavailable
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Unavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Attempt runs one challenge against a. The challenge call is skipped
// entirely when the probe fails or reports an unusable device.
func Attempt(ctx context.Context, a Authenticator, prompt string) (Outcome, Result) {
	capability, err := a.Probe(ctx)
	if err != nil {
		return Unavailable, Result{Reason: "probe: " + err.Error()}
	}
	if !capability.HasHardware {
		return Unavailable, Result{Reason: "no secure hardware"}
	}
	if !capability.Enrolled {
		return Unavailable, Result{Reason: "no enrolled credentials"}
	}
	res, err := a.Challenge(ctx, prompt)
	if err != nil {
		return Failed, Result{Reason: err.Error()}
	}
	if !res.Succeeded {
		return Failed, res
	}
	return Succeeded, res
}

// Static is an Authenticator with fixed answers.
type Static struct {
	Capability Capability
	Result     Result
}

// Probe implements Authenticator.
func (s Static) Probe(ctx context.Context) (Capability, error) {
	return s.Capability, nil
}

// Challenge implements Authenticator.
func (s Static) Challenge(ctx context.Context, prompt string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return s.Result, nil
}
