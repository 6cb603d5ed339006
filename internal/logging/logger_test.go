package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/limbodancer/limbodancer-mcp/internal/tenancy"
)

func TestNewValidatesLevel(t *testing.T) {
	_, err := New(Config{Level: "loud", Format: "json"})
	require.Error(t, err)

	l, err := New(Config{Level: "debug", Format: "console", Stderr: true})
	require.NoError(t, err)
	require.NotNil(t, l)
}

func TestContextFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ContextFields(ctx))

	scope, err := tenancy.NewScope("acme", "core", "prod")
	require.NoError(t, err)

	ctx = tenancy.WithScope(ctx, scope)
	ctx = WithSessionID(ctx, "sess-1")
	ctx = WithCorrelationID(ctx, "corr-1")

	fields := ContextFields(ctx)
	keys := make([]string, 0, len(fields))
	for _, f := range fields {
		keys = append(keys, f.Key)
	}
	assert.Contains(t, keys, "tenant.id")
	assert.Contains(t, keys, "session.id")
	assert.Contains(t, keys, "correlation.id")
}

func TestSessionIDRoundTrip(t *testing.T) {
	ctx := WithSessionID(context.Background(), "s1")
	assert.Equal(t, "s1", SessionIDFromContext(ctx))
	assert.Equal(t, "", SessionIDFromContext(context.Background()))
}
