package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/limbodancer/limbodancer-mcp/internal/fault"
	"github.com/limbodancer/limbodancer-mcp/internal/logging"
	"github.com/limbodancer/limbodancer-mcp/internal/registry"
	"github.com/limbodancer/limbodancer-mcp/internal/resilience"
	"github.com/limbodancer/limbodancer-mcp/internal/tenancy"
)

// ProtocolVersion is the MCP revision this server speaks.
const ProtocolVersion = "2024-11-01"

type grantsKey struct{}

// WithGrants attaches the caller's granted permissions to the context.
// The stdio transport grants everything; HTTP grants come from the token.
func WithGrants(ctx context.Context, grants []string) context.Context {
	return context.WithValue(ctx, grantsKey{}, grants)
}

// GrantsFromContext returns the granted permissions, if any.
func GrantsFromContext(ctx context.Context) []string {
	g, _ := ctx.Value(grantsKey{}).([]string)
	return g
}

// AllGrants marks a caller allowed to use every tool.
const AllGrants = "*"

// Dispatcher routes JSON-RPC requests to tool executions. It is transport
// agnostic; stdio and HTTP both feed it.
type Dispatcher struct {
	registry *registry.Registry
	exec     *resilience.Executor
	logger   *logging.Logger
	info     ServerInfo

	// onShutdown fires once when the client sends the shutdown
	// notification. May be nil.
	onShutdown func()
}

// NewDispatcher creates the dispatcher.
func NewDispatcher(reg *registry.Registry, exec *resilience.Executor, logger *logging.Logger, info ServerInfo, onShutdown func()) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Dispatcher{
		registry:   reg,
		exec:       exec,
		logger:     logger,
		info:       info,
		onShutdown: onShutdown,
	}
}

// Handle processes one request. It returns nil for notifications.
func (d *Dispatcher) Handle(ctx context.Context, req *Request) *Response {
	if req.JSONRPC != "2.0" {
		if req.IsNotification() {
			return nil
		}
		return NewError(req.ID, InvalidRequest, "jsonrpc must be \"2.0\"")
	}

	switch req.Method {
	case "initialize":
		return d.handleInitialize(ctx, req)

	case "tools/list":
		return d.handleToolsList(req)

	case "tools/call":
		return d.handleToolsCall(ctx, req)

	case "shutdown":
		if d.onShutdown != nil {
			d.onShutdown()
		}
		if req.IsNotification() {
			return nil
		}
		return NewResult(req.ID, map[string]any{})

	default:
		if req.IsNotification() {
			// Unknown notifications are ignored per JSON-RPC 2.0.
			d.logger.Debug(ctx, "ignoring unknown notification", zap.String("method", req.Method))
			return nil
		}
		return NewError(req.ID, MethodNotFound, fmt.Sprintf("unknown method: %s", req.Method))
	}
}

func (d *Dispatcher) handleInitialize(ctx context.Context, req *Request) *Response {
	var params InitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return NewError(req.ID, InvalidParams, "malformed initialize params")
		}
	}

	d.logger.Info(ctx, "client initialized",
		zap.String("client.name", params.ClientInfo.Name),
		zap.String("client.version", params.ClientInfo.Version),
		zap.String("client.protocol_version", params.ProtocolVersion))

	return NewResult(req.ID, d.Initialize())
}

func (d *Dispatcher) handleToolsList(req *Request) *Response {
	return NewResult(req.ID, d.Descriptors())
}

func (d *Dispatcher) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params ToolsCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return NewError(req.ID, InvalidParams, "malformed tools/call params")
	}

	ctx = logging.WithCorrelationID(ctx, correlationFromID(req.ID))

	result, err := d.CallTool(ctx, params.Name, params.Arguments)
	if err != nil {
		// Only an unknown tool escapes the isError envelope.
		return NewError(req.ID, MethodNotFound, err.Error())
	}
	return NewResult(req.ID, result)
}

// CallTool runs the full pipeline for one invocation: scope, permissions,
// schema validation, then the resilience wrapper. An unknown tool is the
// only error return; every other failure comes back as an isError result.
func (d *Dispatcher) CallTool(ctx context.Context, name string, args json.RawMessage) (*ToolsCallResult, error) {
	tool, ok := d.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}

	if _, scoped := tenancy.FromContext(ctx); !scoped {
		return toolFailure(fault.New(fault.TenantUnresolved, "no tenant scope resolved for this call")), nil
	}
	if err := d.authorize(ctx, tool); err != nil {
		return toolFailure(err), nil
	}
	if err := tool.ValidateArgs(args); err != nil {
		return toolFailure(err), nil
	}

	result, err := d.exec.Execute(ctx, tool, args)
	if err != nil {
		return toolFailure(err), nil
	}

	callResult, merr := toolSuccess(result)
	if merr != nil {
		d.logger.Error(ctx, "tool result serialization failed",
			zap.String("tool", tool.Name), zap.Error(merr))
		return toolFailure(fault.Wrap(fault.Internal, merr, "result serialization failed")), nil
	}
	return callResult, nil
}

// Initialize returns the handshake payload, shared by both transports.
func (d *Dispatcher) Initialize() InitializeResult {
	return InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    ServerCapabilities{Tools: map[string]any{}},
		ServerInfo:      d.info,
	}
}

// Descriptors returns the tools/list payload.
func (d *Dispatcher) Descriptors() ToolsListResult {
	tools := d.registry.List()
	out := make([]ToolDescriptor, 0, len(tools))
	for _, t := range tools {
		out = append(out, ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return ToolsListResult{Tools: out}
}

// authorize checks the tool's declared permissions against the caller's
// grants.
func (d *Dispatcher) authorize(ctx context.Context, tool *registry.Tool) error {
	if len(tool.Permissions) == 0 {
		return nil
	}
	grants := GrantsFromContext(ctx)
	granted := make(map[string]bool, len(grants))
	for _, g := range grants {
		if g == AllGrants {
			return nil
		}
		granted[g] = true
	}
	for _, need := range tool.Permissions {
		if !granted[need] {
			return fault.New(fault.Forbidden, "missing permission %s for tool %s", need, tool.Name)
		}
	}
	return nil
}

// correlationFromID derives a stable correlation id from the request id.
func correlationFromID(id json.RawMessage) string {
	s := strings.Trim(string(id), `"`)
	if s == "" || s == "null" {
		return "anonymous"
	}
	return s
}
