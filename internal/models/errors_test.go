package models

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, ErrKindAuth, KindOf(Errorf(ErrKindAuth, "expired")))
	assert.Equal(t, ErrKindPermanent, KindOf(NewError(ErrKindPermanent, errors.New("bad request"))))

	// Wrapped kinded errors keep their kind.
	wrapped := fmt.Errorf("fetch failed: %w", Errorf(ErrKindRateLimited, "429"))
	assert.Equal(t, ErrKindRateLimited, KindOf(wrapped))

	// Untagged errors default to transient so they are retried.
	assert.Equal(t, ErrKindTransient, KindOf(errors.New("mystery")))
	assert.Equal(t, ErrKindTransient, KindOf(context.DeadlineExceeded))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(Errorf(ErrKindTransient, "timeout")))
	assert.True(t, Retryable(Errorf(ErrKindRateLimited, "throttled")))
	assert.True(t, Retryable(Errorf(ErrKindUnavailable, "refused")))

	assert.False(t, Retryable(Errorf(ErrKindAuth, "expired")))
	assert.False(t, Retryable(Errorf(ErrKindPermanent, "404")))
	assert.False(t, Retryable(Errorf(ErrKindConflict, "unique violation")))
	assert.False(t, Retryable(Errorf(ErrKindSchema, "missing mapping")))
}

func TestClassifyHTTPStatus(t *testing.T) {
	assert.Equal(t, ErrKindAuth, ClassifyHTTPStatus(401))
	assert.Equal(t, ErrKindAuth, ClassifyHTTPStatus(403))
	assert.Equal(t, ErrKindRateLimited, ClassifyHTTPStatus(429))
	assert.Equal(t, ErrKindPermanent, ClassifyHTTPStatus(404))
	assert.Equal(t, ErrKindPermanent, ClassifyHTTPStatus(400))
	assert.Equal(t, ErrKindTransient, ClassifyHTTPStatus(500))
	assert.Equal(t, ErrKindTransient, ClassifyHTTPStatus(503))
}

func TestNewErrorNil(t *testing.T) {
	assert.Nil(t, NewError(ErrKindTransient, nil))
}
