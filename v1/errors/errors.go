// Package errors holds the sentinel errors shared by the storage and
// transport backends.
package errors

import "errors"

var (
	ErrTimeout          = errors.New("lockguard: timeout")
	ErrConnectionClosed = errors.New("lockguard: connection closed")
	// ErrSubscriptionClosed is returned when operating on a closed subscription.
	ErrSubscriptionClosed = errors.New("lockguard: subscription closed")
)
