package fault

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapRetainsCauseButRedactsMessage(t *testing.T) {
	cause := errors.New("password=hunter2 rejected")
	err := Wrap(UpstreamError, cause, "graph store unavailable")

	assert.Equal(t, "graph store unavailable", err.Message)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "upstream-error")
}

func TestKindOf(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(Timeout, "deadline exceeded"))
	assert.Equal(t, Timeout, KindOf(err))
	assert.Equal(t, Internal, KindOf(errors.New("plain")))
}

func TestWithRetryAfterRoundsUp(t *testing.T) {
	err := New(Overloaded, "too many executions").WithRetryAfter(200 * time.Millisecond)
	assert.Equal(t, 1, err.RetryAfter)

	err = New(CircuitOpen, "breaker open").WithRetryAfter(2 * time.Second)
	assert.Equal(t, 2, err.RetryAfter)
}

func TestAsConvertsPlainErrors(t *testing.T) {
	fe := As(errors.New("boom"))
	require.NotNil(t, fe)
	assert.Equal(t, Internal, fe.Code)
	assert.Equal(t, "internal error", fe.Message)

	assert.Nil(t, As(nil))
}

func TestIsKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", New(NotFound, "no such session"))
	assert.True(t, IsKind(err, NotFound))
	assert.False(t, IsKind(err, Timeout))
}
