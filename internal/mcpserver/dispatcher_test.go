package mcpserver

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/limbodancer/limbodancer-mcp/internal/config"
	"github.com/limbodancer/limbodancer-mcp/internal/fault"
	"github.com/limbodancer/limbodancer-mcp/internal/registry"
	"github.com/limbodancer/limbodancer-mcp/internal/resilience"
	"github.com/limbodancer/limbodancer-mcp/internal/tenancy"
)

func testDispatcher(t *testing.T, onShutdown func(), regs ...registry.Registration) *Dispatcher {
	t.Helper()
	if len(regs) == 0 {
		regs = []registry.Registration{{
			Name:        "echo",
			Description: "echoes its input",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {"text": {"type": "string"}},
				"required": ["text"],
				"additionalProperties": false
			}`),
			Category: registry.CategoryHistory,
			Handler: func(_ context.Context, args json.RawMessage) (any, error) {
				var in struct {
					Text string `json:"text"`
				}
				if err := json.Unmarshal(args, &in); err != nil {
					return nil, err
				}
				return map[string]string{"echo": in.Text}, nil
			},
		}}
	}
	reg, err := registry.New(regs...)
	require.NoError(t, err)

	exec := resilience.NewExecutor(config.ResilienceConfig{
		MaxConcurrentToolExecutions: 4,
		PermitWait:                  50 * time.Millisecond,
		DefaultTimeout:              time.Second,
		RetryMaxAttempts:            1,
		RetryBaseDelay:              time.Millisecond,
		RetryMaxDelay:               time.Millisecond,
		BreakerFailureThreshold:     100,
		BreakerSamplingDuration:     time.Minute,
		BreakerBreakDuration:        time.Minute,
	}, nil, nil)

	return NewDispatcher(reg, exec, nil, ServerInfo{Name: "limbodancer-mcp", Version: "test"}, onShutdown)
}

func scopedCtx(t *testing.T) context.Context {
	t.Helper()
	scope, err := tenancy.NewScope("acme", "core", "prod")
	require.NoError(t, err)
	ctx := tenancy.WithScope(context.Background(), scope)
	return WithGrants(ctx, []string{AllGrants})
}

func callToolResult(t *testing.T, resp *Response) *ToolsCallResult {
	t.Helper()
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)
	result, ok := resp.Result.(*ToolsCallResult)
	require.True(t, ok, "result should be a tools/call result")
	return result
}

func faultFromResult(t *testing.T, result *ToolsCallResult) fault.Error {
	t.Helper()
	require.True(t, result.IsError)
	require.NotEmpty(t, result.Content)
	var fe fault.Error
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &fe))
	return fe
}

func TestInitialize(t *testing.T) {
	d := testDispatcher(t, nil)
	resp := d.Handle(context.Background(), &Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  "initialize",
		Params:  json.RawMessage(`{"protocolVersion":"2024-11-01","clientInfo":{"name":"test","version":"0.1"}}`),
	})
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(InitializeResult)
	require.True(t, ok)
	assert.Equal(t, "2024-11-01", result.ProtocolVersion)
	assert.Equal(t, "limbodancer-mcp", result.ServerInfo.Name)
	assert.NotNil(t, result.Capabilities.Tools)
}

func TestToolsList(t *testing.T) {
	d := testDispatcher(t, nil)
	resp := d.Handle(context.Background(), &Request{
		JSONRPC: "2.0", ID: json.RawMessage(`2`), Method: "tools/list",
	})
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(ToolsListResult)
	require.True(t, ok)
	require.Len(t, result.Tools, 1)
	assert.Equal(t, "echo", result.Tools[0].Name)
	assert.NotEmpty(t, result.Tools[0].InputSchema)
}

func TestToolsCallSuccess(t *testing.T) {
	d := testDispatcher(t, nil)
	resp := d.Handle(scopedCtx(t), &Request{
		JSONRPC: "2.0", ID: json.RawMessage(`3`), Method: "tools/call",
		Params: json.RawMessage(`{"name":"echo","arguments":{"text":"hi"}}`),
	})
	result := callToolResult(t, resp)
	assert.False(t, result.IsError)
	assert.JSONEq(t, `{"echo":"hi"}`, result.Content[0].Text)
}

func TestToolsCallUnknownTool(t *testing.T) {
	d := testDispatcher(t, nil)
	resp := d.Handle(scopedCtx(t), &Request{
		JSONRPC: "2.0", ID: json.RawMessage(`4`), Method: "tools/call",
		Params: json.RawMessage(`{"name":"bogus","arguments":{}}`),
	})
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, MethodNotFound, resp.Error.Code)
}

func TestToolsCallSchemaViolationIsToolError(t *testing.T) {
	d := testDispatcher(t, nil)
	resp := d.Handle(scopedCtx(t), &Request{
		JSONRPC: "2.0", ID: json.RawMessage(`5`), Method: "tools/call",
		Params: json.RawMessage(`{"name":"echo","arguments":{"text":42}}`),
	})
	fe := faultFromResult(t, callToolResult(t, resp))
	assert.Equal(t, fault.SchemaInvalid, fe.Code)
}

func TestToolsCallWithoutScope(t *testing.T) {
	d := testDispatcher(t, nil)
	resp := d.Handle(context.Background(), &Request{
		JSONRPC: "2.0", ID: json.RawMessage(`6`), Method: "tools/call",
		Params: json.RawMessage(`{"name":"echo","arguments":{"text":"hi"}}`),
	})
	fe := faultFromResult(t, callToolResult(t, resp))
	assert.Equal(t, fault.TenantUnresolved, fe.Code)
}

func TestToolsCallMissingPermission(t *testing.T) {
	d := testDispatcher(t, nil, registry.Registration{
		Name:        "admin_only",
		Description: "needs a grant",
		InputSchema: json.RawMessage(`{"type":"object"}`),
		Category:    registry.CategoryGraph,
		Permissions: []string{"graph:write"},
		Handler: func(_ context.Context, _ json.RawMessage) (any, error) {
			return "ok", nil
		},
	})

	scope, err := tenancy.NewScope("acme", "core", "prod")
	require.NoError(t, err)
	ctx := tenancy.WithScope(context.Background(), scope)
	ctx = WithGrants(ctx, []string{"graph:read"})

	resp := d.Handle(ctx, &Request{
		JSONRPC: "2.0", ID: json.RawMessage(`7`), Method: "tools/call",
		Params: json.RawMessage(`{"name":"admin_only","arguments":{}}`),
	})
	fe := faultFromResult(t, callToolResult(t, resp))
	assert.Equal(t, fault.Forbidden, fe.Code)
}

func TestUnknownMethod(t *testing.T) {
	d := testDispatcher(t, nil)
	resp := d.Handle(context.Background(), &Request{
		JSONRPC: "2.0", ID: json.RawMessage(`8`), Method: "resources/list",
	})
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, MethodNotFound, resp.Error.Code)
}

func TestNotificationGetsNoResponse(t *testing.T) {
	d := testDispatcher(t, nil)
	resp := d.Handle(context.Background(), &Request{
		JSONRPC: "2.0", Method: "notifications/cancelled",
	})
	assert.Nil(t, resp)
}

func TestShutdownNotificationFiresHook(t *testing.T) {
	fired := false
	d := testDispatcher(t, func() { fired = true })
	resp := d.Handle(context.Background(), &Request{
		JSONRPC: "2.0", Method: "shutdown",
	})
	assert.Nil(t, resp)
	assert.True(t, fired)
}
