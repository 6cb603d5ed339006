// Package tenancy defines the tenant scope primitive and its resolution rules.
//
// Every externally facing operation in the server runs on behalf of exactly
// one Scope. The scope is resolved once per request, attached to the request
// context, and propagated to every downstream call.
package tenancy

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Common errors.
var (
	ErrTenantUnresolved = errors.New("tenant unresolved")
	ErrScopeViolation   = errors.New("scope violation")
	ErrInvalidScope     = errors.New("invalid scope")
)

// Scope is the hierarchical partition key (tenant, package, channel).
// All three fields are required and non-empty. Scope is a value type;
// two scopes are equal iff all three fields are equal.
type Scope struct {
	TenantID  string `json:"tenant"`
	PackageID string `json:"package"`
	ChannelID string `json:"channel"`
}

// fieldPattern restricts scope identifiers to alphanumeric, hyphen, underscore, dot.
var fieldPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

const maxFieldLen = 128

// NewScope builds a validated scope.
func NewScope(tenantID, packageID, channelID string) (Scope, error) {
	s := Scope{TenantID: tenantID, PackageID: packageID, ChannelID: channelID}
	if err := s.Validate(); err != nil {
		return Scope{}, err
	}
	return s, nil
}

// Validate checks that all three fields are present and well formed.
func (s Scope) Validate() error {
	for _, f := range []struct{ name, val string }{
		{"tenant", s.TenantID},
		{"package", s.PackageID},
		{"channel", s.ChannelID},
	} {
		if f.val == "" {
			return fmt.Errorf("%w: %s is empty", ErrInvalidScope, f.name)
		}
		if len(f.val) > maxFieldLen {
			return fmt.Errorf("%w: %s exceeds %d characters", ErrInvalidScope, f.name, maxFieldLen)
		}
		if !fieldPattern.MatchString(f.val) {
			return fmt.Errorf("%w: %s contains invalid characters", ErrInvalidScope, f.name)
		}
	}
	return nil
}

// String returns the canonical form tenant::package::channel.
func (s Scope) String() string {
	return s.TenantID + "::" + s.PackageID + "::" + s.ChannelID
}

// Equal reports whether two scopes are identical in all three fields.
func (s Scope) Equal(other Scope) bool {
	return s == other
}

// ParseScope parses the canonical tenant::package::channel form.
func ParseScope(raw string) (Scope, error) {
	parts := strings.Split(raw, "::")
	if len(parts) != 3 {
		return Scope{}, fmt.Errorf("%w: want tenant::package::channel, got %q", ErrInvalidScope, raw)
	}
	return NewScope(parts[0], parts[1], parts[2])
}

// Guard returns ErrScopeViolation when other is not the same scope.
// Cross-scope access always fails closed.
func (s Scope) Guard(other Scope) error {
	if !s.Equal(other) {
		return fmt.Errorf("%w: %s vs %s", ErrScopeViolation, s, other)
	}
	return nil
}

type scopeCtxKey struct{}

// WithScope attaches the resolved scope to the request context.
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeCtxKey{}, s)
}

// FromContext returns the scope attached to ctx.
// The second return is false when no scope was resolved.
func FromContext(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(scopeCtxKey{}).(Scope)
	return s, ok
}

// MustFromContext returns the scope or ErrTenantUnresolved.
// Components never refetch the scope from a global; it travels on the context.
func MustFromContext(ctx context.Context) (Scope, error) {
	s, ok := FromContext(ctx)
	if !ok {
		return Scope{}, ErrTenantUnresolved
	}
	return s, nil
}
