package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/limbodancer/limbodancer-mcp/internal/config"
	"github.com/limbodancer/limbodancer-mcp/internal/ontology"
	"github.com/limbodancer/limbodancer-mcp/internal/orchestrator"
	"github.com/limbodancer/limbodancer-mcp/internal/store"
	"github.com/limbodancer/limbodancer-mcp/internal/tenancy"
)

const testSecret = "test-secret"

func newTestHTTPServer(t *testing.T, backends map[string]Pinger) *HTTPServer {
	t.Helper()

	cfg := *config.Default()
	cfg.Auth.HMACSecret = testSecret
	cfg.Orchestrator.HeartbeatInterval = time.Hour

	dispatcher := testDispatcher(t, nil)
	orch := orchestrator.New(cfg.Orchestrator, store.NewMemoryHistory(), nil, nil)
	runtime := ontology.NewRuntime(ontology.NewMemoryRepository(ontology.DefaultGates()), nil, nil)
	resolver := tenancy.NewResolver(cfg.Tenancy, nil)

	return NewHTTPServer(cfg, dispatcher, orch, runtime, resolver, nil, backends)
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func doRequest(srv *HTTPServer, method, target, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

func TestHTTPInitializeIsAnonymous(t *testing.T) {
	srv := newTestHTTPServer(t, nil)

	rec := doRequest(srv, http.MethodPost, "/api/mcp/initialize", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var result InitializeResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, ProtocolVersion, result.ProtocolVersion)
	assert.Equal(t, "limbodancer-mcp", result.ServerInfo.Name)
}

func TestHTTPToolsRequireAuth(t *testing.T) {
	srv := newTestHTTPServer(t, nil)

	rec := doRequest(srv, http.MethodGet, "/api/mcp/tools", "", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "tenant-unresolved")
}

func TestHTTPRejectsBadSignature(t *testing.T) {
	srv := newTestHTTPServer(t, nil)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256,
		jwt.MapClaims{"tenant_id": "acme"}).SignedString([]byte("wrong-secret"))
	require.NoError(t, err)

	rec := doRequest(srv, http.MethodGet, "/api/mcp/tools", forged, "")
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "forbidden")
}

func TestHTTPToolCall(t *testing.T) {
	srv := newTestHTTPServer(t, nil)
	token := signToken(t, jwt.MapClaims{"tenant_id": "acme"})

	rec := doRequest(srv, http.MethodPost, "/api/mcp/tools/echo", token, `{"text":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result ToolsCallResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.IsError)
	require.NotEmpty(t, result.Content)
	assert.JSONEq(t, `{"echo":"hi"}`, result.Content[0].Text)
}

func TestHTTPToolCallUnknownToolIs404(t *testing.T) {
	srv := newTestHTTPServer(t, nil)
	token := signToken(t, jwt.MapClaims{"tenant_id": "acme"})

	rec := doRequest(srv, http.MethodPost, "/api/mcp/tools/bogus", token, `{}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not-found")
}

func TestHTTPPermissionsClaimLimitsGrants(t *testing.T) {
	srv := newTestHTTPServer(t, nil)
	token := signToken(t, jwt.MapClaims{
		"tenant_id":   "acme",
		"permissions": []string{"memory:read"},
	})

	// echo declares no permissions, so a restricted token may still call it.
	rec := doRequest(srv, http.MethodPost, "/api/mcp/tools/echo", token, `{"text":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func TestHTTPReadyReportsBackends(t *testing.T) {
	srv := newTestHTTPServer(t, map[string]Pinger{
		"history": store.NewMemoryHistory(),
		"graph":   failingPinger{},
	})

	rec := doRequest(srv, http.MethodGet, "/ready", "", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var ready struct {
		Status   string            `json:"status"`
		Backends map[string]string `json:"backends"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ready))
	assert.Equal(t, "unavailable", ready.Status)
	assert.Contains(t, ready.Backends, "graph")
	assert.NotContains(t, ready.Backends, "history")
}

func TestHTTPOntologyValidateEmptyCatalog(t *testing.T) {
	srv := newTestHTTPServer(t, nil)
	token := signToken(t, jwt.MapClaims{"tenant_id": "acme"})

	rec := doRequest(srv, http.MethodGet, "/api/ontology/validate", token, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		IsValid bool     `json:"isValid"`
		Errors  []string `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.IsValid)
	assert.Empty(t, resp.Errors)
}

func TestHTTPOntologyValidateRejectsForeignTenant(t *testing.T) {
	srv := newTestHTTPServer(t, nil)
	token := signToken(t, jwt.MapClaims{"tenant_id": "acme"})

	rec := doRequest(srv, http.MethodGet, "/api/ontology/validate?tenant=rival", token, "")
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "scope-violation")
}

func TestHTTPOntologyExportTurtle(t *testing.T) {
	srv := newTestHTTPServer(t, nil)
	token := signToken(t, jwt.MapClaims{"tenant_id": "acme"})

	rec := doRequest(srv, http.MethodGet, "/api/ontology/export?format=turtle", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/turtle", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "@prefix")
}

func TestHTTPChatStreamOverSSE(t *testing.T) {
	srv := newTestHTTPServer(t, nil)
	token := signToken(t, jwt.MapClaims{"tenant_id": "acme"})

	rec := doRequest(srv, http.MethodPost, "/api/chat/sessions", token, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		SessionID string `json:"sessionId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.SessionID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	streamReq := httptest.NewRequest(http.MethodGet, "/api/mcp/events?sessionId="+created.SessionID, nil)
	streamReq.Header.Set("Authorization", "Bearer "+token)
	streamReq = streamReq.WithContext(ctx)
	streamRec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.echo.ServeHTTP(streamRec, streamReq)
	}()

	// Let the subscriber attach before enqueueing.
	time.Sleep(50 * time.Millisecond)

	rec = doRequest(srv, http.MethodPost,
		"/api/chat/sessions/"+created.SessionID+"/messages", token, `{"content":"hello"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	time.Sleep(200 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream handler did not return after cancel")
	}

	body := streamRec.Body.String()
	assert.Contains(t, body, "event:token")
	assert.Contains(t, body, "event:message.completed")
	assert.Contains(t, body, "You said: hello")
	assert.Less(t,
		strings.Index(body, "event:token"),
		strings.Index(body, "event:message.completed"))
}
