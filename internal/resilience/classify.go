package resilience

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/limbodancer/limbodancer-mcp/internal/fault"
)

// Transient reports whether the error is worth retrying: network failures,
// upstream 429/503-style pushback, and overload. Caller mistakes, missing
// resources, timeouts, and cancellations are not.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var fe *fault.Error
	if errors.As(err, &fe) {
		switch fe.Code {
		case fault.UpstreamError, fault.Overloaded:
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	return false
}

// callerError reports whether the error is the caller's fault rather than a
// sign of backend health. These do not count against the circuit breaker.
func callerError(err error) bool {
	switch fault.KindOf(err) {
	case fault.SchemaInvalid, fault.NotFound, fault.Forbidden,
		fault.ScopeViolation, fault.TenantUnresolved,
		fault.PreconditionFailed, fault.UnknownPrefix, fault.Canceled:
		return true
	}
	return false
}
