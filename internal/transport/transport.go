package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind classifies a send failure
type Kind int

const (
	// Retryable failures are transient: network errors, throttling, 5xx
	Retryable Kind = iota + 1
	// Fatal failures will not succeed on retry: bad target, revoked access
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Retryable:
		return "retryable"
	case Fatal:
		return "fatal"
	}
	return "unknown"
}

// Sender delivers text to an output target
type Sender interface {
	Send(ctx context.Context, targetID, text string) error
}

// Error is a classified send failure
type Error struct {
	Kind Kind
	// RetryAfter is the wait demanded by the remote side, zero when absent
	RetryAfter time.Duration
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("transport %s error", e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" retry after %s", e.RetryAfter)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewRetryable wraps err as a retryable failure
func NewRetryable(err error, retryAfter time.Duration) *Error {
	return &Error{Kind: Retryable, RetryAfter: retryAfter, Err: err}
}

// NewFatal wraps err as a fatal failure
func NewFatal(err error) *Error {
	return &Error{Kind: Fatal, Err: err}
}

// Classify returns the transport error carried by err. Unclassified errors
// are treated as retryable.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return &Error{Kind: Retryable, Err: err}
}
