// Package fault defines the structured error surfaced to MCP callers.
//
// Errors inside a tool are returned as result payloads with isError=true so
// the protocol keeps flowing; errors at the protocol layer become JSON-RPC
// error envelopes. Sensitive detail never crosses the wire; the log record
// carries the full cause chain.
package fault

import (
	"errors"
	"fmt"
	"time"
)

// Kind is the machine-readable error code.
type Kind string

const (
	SchemaInvalid      Kind = "schema-invalid"
	TenantUnresolved   Kind = "tenant-unresolved"
	ScopeViolation     Kind = "scope-violation"
	Forbidden          Kind = "forbidden"
	NotFound           Kind = "not-found"
	Timeout            Kind = "timeout"
	Overloaded         Kind = "overloaded"
	CircuitOpen        Kind = "circuit-open"
	UpstreamError      Kind = "upstream-error"
	OntologyInvalid    Kind = "ontology-invalid"
	EffectFailed       Kind = "effect-failed"
	PreconditionFailed Kind = "precondition-failed"
	Canceled           Kind = "canceled"
	UnknownPrefix      Kind = "unknown-prefix"
	Internal           Kind = "internal-error"
)

// Error is the user-visible error shape.
type Error struct {
	Code       Kind           `json:"errorCode"`
	Message    string         `json:"message"`
	RetryAfter int            `json:"retryAfter,omitempty"` // seconds, advisory
	Details    map[string]any `json:"details,omitempty"`

	cause error
}

// New creates a fault with the given kind and message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Code: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a fault that retains cause for logging. The cause message is
// not included in the user-visible Message.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Code: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// WithRetryAfter sets the advisory retry hint.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	secs := int(d.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	e.RetryAfter = secs
	return e
}

// WithDetail attaches a structured detail field.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause chain to errors.Is/As.
func (e *Error) Unwrap() error { return e.cause }

// KindOf extracts the fault kind from an error chain. Unknown errors map
// to Internal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return Internal
}

// As extracts a *Error from an error chain, converting plain errors into
// an Internal fault with a redacted message.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return Wrap(Internal, err, "internal error")
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Code == kind
}
