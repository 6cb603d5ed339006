package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/limbodancer/limbodancer-mcp/internal/config"
	"github.com/limbodancer/limbodancer-mcp/internal/fault"
	"github.com/limbodancer/limbodancer-mcp/internal/logging"
	"github.com/limbodancer/limbodancer-mcp/internal/registry"
	"github.com/limbodancer/limbodancer-mcp/internal/tenancy"
)

// Executor runs tool handlers through the reliability pipeline. The permit
// semaphore bounds total concurrent executions across all tools; breakers
// are per tool and created lazily.
type Executor struct {
	cfg     config.ResilienceConfig
	sem     *semaphore.Weighted
	metrics *Metrics
	logger  *logging.Logger
	tracer  trace.Tracer

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewExecutor creates the executor from the resilience configuration.
func NewExecutor(cfg config.ResilienceConfig, logger *logging.Logger, metrics *Metrics) *Executor {
	if logger == nil {
		logger = logging.NewNop()
	}
	if metrics == nil {
		metrics = &Metrics{}
	}
	return &Executor{
		cfg:      cfg,
		sem:      semaphore.NewWeighted(cfg.MaxConcurrentToolExecutions),
		metrics:  metrics,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Execute runs one tool call: permit, timeout, retry, breaker, telemetry.
// The returned error is always a *fault.Error when non-nil.
func (e *Executor) Execute(ctx context.Context, tool *registry.Tool, args json.RawMessage) (any, error) {
	scope, _ := tenancy.FromContext(ctx)

	ctx, span := e.tracer.Start(ctx, "mcp.tool/"+tool.Name, trace.WithAttributes(
		attribute.String("tool.name", tool.Name),
		attribute.String("tenant.id", scope.TenantID),
	))
	defer span.End()

	start := time.Now()
	result, attempts, err := e.run(ctx, tool, args)
	e.metrics.Record(ctx, tool.Name, scope.TenantID, time.Since(start), err)

	span.SetAttributes(attribute.Int("tool.attempts", attempts))
	if err != nil {
		fe := fault.As(err)
		span.SetStatus(codes.Error, string(fe.Code))
		span.RecordError(err)
		e.logger.Warn(ctx, "tool execution failed",
			zap.String("tool", tool.Name),
			zap.Int("attempts", attempts),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, fe
	}
	span.SetStatus(codes.Ok, "")
	return result, nil
}

func (e *Executor) run(ctx context.Context, tool *registry.Tool, args json.RawMessage) (any, int, error) {
	permitCtx, cancel := context.WithTimeout(ctx, e.cfg.PermitWait)
	acquireErr := e.sem.Acquire(permitCtx, 1)
	cancel()
	if acquireErr != nil {
		if ctx.Err() != nil {
			return nil, 0, fault.Wrap(fault.Canceled, ctx.Err(), "call canceled while waiting for a permit")
		}
		return nil, 0, fault.New(fault.Overloaded, "server is at capacity").
			WithRetryAfter(e.cfg.PermitWait)
	}
	defer e.sem.Release(1)

	e.metrics.incActive(ctx, tool.Name)
	defer e.metrics.decActive(ctx, tool.Name)

	cb := e.breakerFor(tool.Name)

	// Jitter is applied one-sided by jittered below, so the library's
	// symmetric randomization stays off.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.RetryBaseDelay
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = e.cfg.RetryMaxDelay

	maxAttempts := 1
	if tool.Retryable && e.cfg.RetryMaxAttempts > 1 {
		maxAttempts = e.cfg.RetryMaxAttempts
	}

	var result any
	var err error
	attempts := 0
	for {
		attempts++
		result, err = e.attempt(ctx, cb, tool, args)
		if err == nil {
			return result, attempts, nil
		}

		// An open breaker short-circuits immediately and never burns
		// retry budget.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, attempts, fault.Wrap(fault.CircuitOpen, err,
				"tool %s is temporarily unavailable", tool.Name).
				WithRetryAfter(e.cfg.BreakerBreakDuration)
		}

		if attempts >= maxAttempts || !Transient(err) {
			return nil, attempts, err
		}

		wait := jittered(bo.NextBackOff(), e.cfg.RetryJitter)
		e.logger.Debug(ctx, "retrying tool after transient failure",
			zap.String("tool", tool.Name),
			zap.Int("attempt", attempts),
			zap.Duration("wait", wait),
			zap.Error(err))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, attempts, fault.Wrap(fault.Canceled, ctx.Err(), "call canceled during retry backoff")
		case <-timer.C:
		}
	}
}

// jittered widens a backoff delay by a uniform factor in [1, 1+f]. Delays
// only stretch, never undershoot the deterministic exponential base.
func jittered(d time.Duration, f float64) time.Duration {
	if f <= 0 {
		return d
	}
	return d + time.Duration(rand.Float64()*f*float64(d))
}

// attempt runs the handler once under the per-tool timeout and breaker.
func (e *Executor) attempt(ctx context.Context, cb *gobreaker.CircuitBreaker, tool *registry.Tool, args json.RawMessage) (any, error) {
	timeout := tool.Timeout
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := cb.Execute(func() (interface{}, error) {
		out, herr := tool.Handler(callCtx, args)
		if herr != nil {
			return nil, herr
		}
		return out, nil
	})
	if err == nil {
		return result, nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, err
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, fault.Wrap(fault.Timeout, err, "tool %s exceeded its %s deadline", tool.Name, timeout)
	}
	if ctx.Err() != nil {
		return nil, fault.Wrap(fault.Canceled, ctx.Err(), "call canceled")
	}
	return nil, err
}

func (e *Executor) breakerFor(name string) *gobreaker.CircuitBreaker {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cb, ok := e.breakers[name]; ok {
		return cb
	}

	threshold := e.cfg.BreakerFailureThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    e.cfg.BreakerSamplingDuration,
		Timeout:     e.cfg.BreakerBreakDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// Caller mistakes say nothing about backend health.
			return err == nil || callerError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.logger.Warn(context.Background(), "circuit breaker state change",
				zap.String("tool", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	e.breakers[name] = cb
	return cb
}
