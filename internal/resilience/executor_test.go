package resilience

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/limbodancer/limbodancer-mcp/internal/config"
	"github.com/limbodancer/limbodancer-mcp/internal/fault"
	"github.com/limbodancer/limbodancer-mcp/internal/registry"
)

func testConfig() config.ResilienceConfig {
	return config.ResilienceConfig{
		MaxConcurrentToolExecutions: 4,
		PermitWait:                  25 * time.Millisecond,
		DefaultTimeout:              time.Second,
		RetryMaxAttempts:            3,
		RetryBaseDelay:              time.Millisecond,
		RetryMaxDelay:               5 * time.Millisecond,
		RetryJitter:                 0.2,
		BreakerFailureThreshold:     3,
		BreakerSamplingDuration:     time.Minute,
		BreakerBreakDuration:        time.Minute,
	}
}

func newTool(t *testing.T, name string, retryable bool, timeout time.Duration, h registry.Handler) *registry.Tool {
	t.Helper()
	r, err := registry.New(registry.Registration{
		Name:        name,
		Description: "test",
		InputSchema: json.RawMessage(`{"type":"object"}`),
		Category:    registry.CategoryHistory,
		Retryable:   retryable,
		Timeout:     timeout,
		Handler:     h,
	})
	require.NoError(t, err)
	tool, ok := r.Get(name)
	require.True(t, ok)
	return tool
}

func TestExecuteSuccess(t *testing.T) {
	e := NewExecutor(testConfig(), nil, nil)
	tool := newTool(t, "ok", false, 0, func(_ context.Context, _ json.RawMessage) (any, error) {
		return "done", nil
	})

	out, err := e.Execute(context.Background(), tool, nil)
	require.NoError(t, err)
	assert.Equal(t, "done", out)
}

func TestRetryOnTransientFailure(t *testing.T) {
	var calls atomic.Int32
	e := NewExecutor(testConfig(), nil, nil)
	tool := newTool(t, "flaky", true, 0, func(_ context.Context, _ json.RawMessage) (any, error) {
		if calls.Add(1) < 3 {
			return nil, fault.New(fault.UpstreamError, "backend hiccup")
		}
		return "recovered", nil
	})

	out, err := e.Execute(context.Background(), tool, nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)
	assert.Equal(t, int32(3), calls.Load())
}

func TestNonRetryableToolFailsOnce(t *testing.T) {
	var calls atomic.Int32
	e := NewExecutor(testConfig(), nil, nil)
	tool := newTool(t, "once", false, 0, func(_ context.Context, _ json.RawMessage) (any, error) {
		calls.Add(1)
		return nil, fault.New(fault.UpstreamError, "backend hiccup")
	})

	_, err := e.Execute(context.Background(), tool, nil)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.UpstreamError))
	assert.Equal(t, int32(1), calls.Load())
}

func TestNonTransientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	e := NewExecutor(testConfig(), nil, nil)
	tool := newTool(t, "missing", true, 0, func(_ context.Context, _ json.RawMessage) (any, error) {
		calls.Add(1)
		return nil, fault.New(fault.NotFound, "no such session")
	})

	_, err := e.Execute(context.Background(), tool, nil)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.NotFound))
	assert.Equal(t, int32(1), calls.Load())
}

func TestTimeoutMapsToTimeoutFault(t *testing.T) {
	e := NewExecutor(testConfig(), nil, nil)
	tool := newTool(t, "slow", false, 10*time.Millisecond, func(ctx context.Context, _ json.RawMessage) (any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return "too late", nil
		}
	})

	_, err := e.Execute(context.Background(), tool, nil)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.Timeout))
}

func TestOverloadWhenNoPermitAvailable(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentToolExecutions = 1
	e := NewExecutor(cfg, nil, nil)

	release := make(chan struct{})
	blocking := newTool(t, "blocker", false, 0, func(_ context.Context, _ json.RawMessage) (any, error) {
		<-release
		return "ok", nil
	})
	quick := newTool(t, "quick", false, 0, func(_ context.Context, _ json.RawMessage) (any, error) {
		return "ok", nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = e.Execute(context.Background(), blocking, nil)
	}()

	// Give the blocking call time to take the only permit.
	time.Sleep(20 * time.Millisecond)

	_, err := e.Execute(context.Background(), quick, nil)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.Overloaded))
	fe := fault.As(err)
	assert.GreaterOrEqual(t, fe.RetryAfter, 1)

	close(release)
	<-done
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cfg := testConfig()
	cfg.RetryMaxAttempts = 1
	e := NewExecutor(cfg, nil, nil)

	var calls atomic.Int32
	tool := newTool(t, "dying", false, 0, func(_ context.Context, _ json.RawMessage) (any, error) {
		calls.Add(1)
		return nil, fault.New(fault.UpstreamError, "backend down")
	})

	for i := 0; i < 3; i++ {
		_, err := e.Execute(context.Background(), tool, nil)
		require.Error(t, err)
		assert.True(t, fault.IsKind(err, fault.UpstreamError))
	}

	// Breaker is now open: the handler is not invoked and the caller gets
	// a retry hint.
	_, err := e.Execute(context.Background(), tool, nil)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.CircuitOpen))
	fe := fault.As(err)
	assert.GreaterOrEqual(t, fe.RetryAfter, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCallerErrorsDoNotTripBreaker(t *testing.T) {
	cfg := testConfig()
	cfg.RetryMaxAttempts = 1
	e := NewExecutor(cfg, nil, nil)

	tool := newTool(t, "notfound", false, 0, func(_ context.Context, _ json.RawMessage) (any, error) {
		return nil, fault.New(fault.NotFound, "no such session")
	})

	for i := 0; i < 10; i++ {
		_, err := e.Execute(context.Background(), tool, nil)
		require.Error(t, err)
		assert.True(t, fault.IsKind(err, fault.NotFound), "breaker must stay closed on caller errors")
	}
}

func TestTransientClassification(t *testing.T) {
	assert.True(t, Transient(fault.New(fault.UpstreamError, "x")))
	assert.True(t, Transient(fault.New(fault.Overloaded, "x")))
	assert.False(t, Transient(fault.New(fault.Timeout, "x")))
	assert.False(t, Transient(fault.New(fault.NotFound, "x")))
	assert.False(t, Transient(context.Canceled))
	assert.False(t, Transient(nil))
}

func TestJitteredStretchesDelayOneSided(t *testing.T) {
	base := 100 * time.Millisecond

	for i := 0; i < 200; i++ {
		d := jittered(base, 0.5)
		assert.GreaterOrEqual(t, d, base)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}

	// A zero factor leaves the deterministic delay untouched.
	assert.Equal(t, base, jittered(base, 0))
}
