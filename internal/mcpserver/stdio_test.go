package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/limbodancer/limbodancer-mcp/internal/tenancy"
)

// syncBuffer guards a bytes.Buffer for concurrent writes from the response
// writer goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func runStdio(t *testing.T, input string) (stdout, stderr string) {
	t.Helper()
	d := testDispatcher(t, nil)
	scope, err := tenancy.NewScope("acme", "core", "prod")
	require.NoError(t, err)

	s := NewStdioServer(d, scope, nil)
	out := &syncBuffer{}
	errOut := &syncBuffer{}
	s.in = strings.NewReader(input)
	s.out = out
	s.errOut = errOut

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Run(ctx))
	return out.String(), errOut.String()
}

func parseResponses(t *testing.T, stdout string) map[string]Response {
	t.Helper()
	byID := make(map[string]Response)
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		if line == "" {
			continue
		}
		var resp Response
		require.NoError(t, json.Unmarshal([]byte(line), &resp), "line: %s", line)
		byID[string(resp.ID)] = resp
	}
	return byID
}

func TestStdioAnnouncesReadinessOnStderr(t *testing.T) {
	_, stderr := runStdio(t, "")
	assert.Contains(t, stderr, "MCP server ready (stdio mode)")
}

func TestStdioRequestResponse(t *testing.T) {
	input := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-01"}}
{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hello"}}}
`
	stdout, _ := runStdio(t, input)
	byID := parseResponses(t, stdout)
	require.Len(t, byID, 2)

	init := byID["1"]
	require.Nil(t, init.Error)
	var initResult InitializeResult
	raw, err := json.Marshal(init.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &initResult))
	assert.Equal(t, "2024-11-01", initResult.ProtocolVersion)

	call := byID["2"]
	require.Nil(t, call.Error)
	var callResult ToolsCallResult
	raw, err = json.Marshal(call.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &callResult))
	assert.False(t, callResult.IsError)
	assert.JSONEq(t, `{"echo":"hello"}`, callResult.Content[0].Text)
}

func TestStdioParseErrorKeepsStreamAlive(t *testing.T) {
	input := `this is not json
{"jsonrpc":"2.0","id":9,"method":"tools/list"}
`
	stdout, _ := runStdio(t, input)
	byID := parseResponses(t, stdout)

	parseErr, ok := byID["null"]
	require.True(t, ok, "parse failure should produce an id:null error")
	require.NotNil(t, parseErr.Error)
	assert.Equal(t, ParseError, parseErr.Error.Code)

	list, ok := byID["9"]
	require.True(t, ok, "the stream must keep serving after a bad line")
	assert.Nil(t, list.Error)
}

func TestStdioNotificationsProduceNoOutput(t *testing.T) {
	stdout, _ := runStdio(t, `{"jsonrpc":"2.0","method":"notifications/initialized"}`+"\n")
	assert.Empty(t, strings.TrimSpace(stdout))
}
