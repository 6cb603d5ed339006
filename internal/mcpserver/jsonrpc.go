// Package mcpserver implements the MCP wire surface: a JSON-RPC 2.0
// dispatcher shared by the stdio and HTTP transports.
//
// Protocol-level failures (malformed envelope, unknown method, bad params)
// become JSON-RPC error responses. Failures inside a tool become successful
// responses whose result carries isError=true, so one bad call never tears
// down the stream.
package mcpserver

import (
	"encoding/json"

	"github.com/limbodancer/limbodancer-mcp/internal/fault"
)

// JSON-RPC 2.0 error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Request is a JSON-RPC 2.0 request or notification. A request without an
// id is a notification and receives no response.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no id.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

// Response is a JSON-RPC 2.0 response. Exactly one of Result and Error is
// set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *ErrorDetail    `json:"error,omitempty"`
}

// ErrorDetail is the JSON-RPC error object.
type ErrorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// NewResult builds a success response for the given request id.
func NewResult(id json.RawMessage, result any) *Response {
	return &Response{JSONRPC: "2.0", ID: normalizeID(id), Result: result}
}

// NewError builds an error response for the given request id.
func NewError(id json.RawMessage, code int, message string) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      normalizeID(id),
		Error:   &ErrorDetail{Code: code, Message: message},
	}
}

func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}

// InitializeParams are the client-supplied initialize arguments.
type InitializeParams struct {
	ProtocolVersion string     `json:"protocolVersion"`
	ClientInfo      ClientInfo `json:"clientInfo"`
}

// ClientInfo identifies the connecting client.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is the initialize response payload.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      ServerInfo         `json:"serverInfo"`
}

// ServerCapabilities advertises what the server supports.
type ServerCapabilities struct {
	Tools map[string]any `json:"tools"`
}

// ServerInfo identifies this server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ToolDescriptor is one entry in the tools/list result.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ToolsListResult is the tools/list response payload.
type ToolsListResult struct {
	Tools []ToolDescriptor `json:"tools"`
}

// ToolsCallParams are the tools/call arguments.
type ToolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ContentBlock is one element of a tool result's content array.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolsCallResult is the tools/call response payload. IsError marks a
// tool-level failure whose first content block holds the fault JSON.
type ToolsCallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// toolSuccess wraps a handler result into a call result.
func toolSuccess(result any) (*ToolsCallResult, error) {
	text, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &ToolsCallResult{
		Content: []ContentBlock{{Type: "text", Text: string(text)}},
	}, nil
}

// toolFailure wraps a fault into an isError call result. The fault's JSON
// shape is stable so clients can parse errorCode programmatically.
func toolFailure(err error) *ToolsCallResult {
	fe := fault.As(err)
	text, merr := json.Marshal(fe)
	if merr != nil {
		text = []byte(`{"errorCode":"internal-error","message":"error serialization failed"}`)
	}
	return &ToolsCallResult{
		Content: []ContentBlock{{Type: "text", Text: string(text)}},
		IsError: true,
	}
}
