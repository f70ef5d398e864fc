package models

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind drives the retry/DLQ/failure decision for every worker. Workers
// translate provider, broker and store errors into a kind; policy runs off
// the kind, never off the error path.
type ErrorKind string

const (
	ErrKindTransient   ErrorKind = "transient"    // timeout, 5xx: backoff + bounded retries, then DLQ
	ErrKindPermanent   ErrorKind = "permanent"    // non-auth 4xx: mark failed, emit terminal, advance
	ErrKindRateLimited ErrorKind = "rate_limited" // provider throttle: backoff like transient
	ErrKindAuth        ErrorKind = "auth"         // invalid/expired credential: fail fast, do not spin
	ErrKindSchema      ErrorKind = "schema"       // missing mapping row: persist with null FK, continue
	ErrKindConflict    ErrorKind = "conflict"     // unique violation post-upsert: retry once then nack
	ErrKindUnavailable ErrorKind = "unavailable"  // vector index / broker down: backoff per message
)

// PipelineError carries a kind alongside the wrapped cause.
type PipelineError struct {
	Kind ErrorKind
	Err  error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// NewError wraps an error with an explicit kind.
func NewError(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &PipelineError{Kind: kind, Err: err}
}

// Errorf builds a kinded error from a format string.
func Errorf(kind ErrorKind, format string, args ...any) error {
	return &PipelineError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the kind of an error; untagged errors default to transient
// so that unknown failures are retried rather than dropped.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrKindTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrKindTransient
	}
	return ErrKindTransient
}

// Retryable reports whether the kind participates in backoff/redelivery.
func Retryable(err error) bool {
	switch KindOf(err) {
	case ErrKindTransient, ErrKindRateLimited, ErrKindUnavailable:
		return true
	}
	return false
}

// ClassifyHTTPStatus maps a provider response status to an error kind.
func ClassifyHTTPStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return ErrKindAuth
	case status == 429:
		return ErrKindRateLimited
	case status >= 500:
		return ErrKindTransient
	case status >= 400:
		return ErrKindPermanent
	}
	return ErrKindTransient
}
