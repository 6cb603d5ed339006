package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/limbodancer/limbodancer-mcp/internal/config"
	"github.com/limbodancer/limbodancer-mcp/internal/fault"
	"github.com/limbodancer/limbodancer-mcp/internal/logging"
	"github.com/limbodancer/limbodancer-mcp/internal/ontology"
	"github.com/limbodancer/limbodancer-mcp/internal/orchestrator"
	"github.com/limbodancer/limbodancer-mcp/internal/tenancy"
)

// Pinger is the readiness contract backends implement.
type Pinger interface {
	Ping(ctx context.Context) error
}

// readinessTimeout bounds each backend probe on /ready.
const readinessTimeout = 2 * time.Second

// HTTPServer is the echo transport: MCP endpoints, chat SSE, ontology
// admin endpoints, health and metrics.
type HTTPServer struct {
	echo       *echo.Echo
	cfg        config.Config
	dispatcher *Dispatcher
	orch       *orchestrator.Orchestrator
	runtime    *ontology.Runtime
	resolver   *tenancy.Resolver
	logger     *logging.Logger
	backends   map[string]Pinger
}

// NewHTTPServer wires routes and middleware.
func NewHTTPServer(
	cfg config.Config,
	dispatcher *Dispatcher,
	orch *orchestrator.Orchestrator,
	runtime *ontology.Runtime,
	resolver *tenancy.Resolver,
	logger *logging.Logger,
	backends map[string]Pinger,
) *HTTPServer {
	if logger == nil {
		logger = logging.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &HTTPServer{
		echo:       e,
		cfg:        cfg,
		dispatcher: dispatcher,
		orch:       orch,
		runtime:    runtime,
		resolver:   resolver,
		logger:     logger,
		backends:   backends,
	}
	s.routes()
	return s
}

func (s *HTTPServer) routes() {
	e := s.echo

	e.GET("/health", s.handleHealth)
	e.GET("/ready", s.handleReady)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// initialize is the only anonymous MCP endpoint.
	e.POST("/api/mcp/initialize", s.handleInitialize)

	auth := e.Group("", s.authenticate)
	auth.GET("/api/mcp/tools", s.handleToolsList)
	auth.POST("/api/mcp/tools/:name", s.handleToolCall)
	auth.GET("/api/mcp/events", s.handleEvents)

	auth.POST("/api/chat/sessions", s.handleCreateSession)
	auth.POST("/api/chat/sessions/:sessionId/messages", s.handlePostMessage)

	auth.GET("/api/ontology/validate", s.handleOntologyValidate)
	auth.POST("/api/ontology/validate", s.handleOntologyValidate)
	auth.GET("/api/ontology/export", s.handleOntologyExport)
}

// Start begins serving. Blocks until shutdown.
func (s *HTTPServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains connections within the context deadline.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// authenticate verifies the bearer token, resolves the tenant scope, and
// attaches scope and grants to the request context.
func (s *HTTPServer) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, err := parseBearer(s.cfg.Auth, c.Request().Header.Get("Authorization"))
		if err != nil {
			return writeFault(c, err)
		}

		scope, err := s.resolver.ResolveHTTP(&p.claims, c.Request().Header)
		if err != nil {
			kind := fault.TenantUnresolved
			if errors.Is(err, tenancy.ErrScopeViolation) {
				kind = fault.ScopeViolation
			}
			return writeFault(c, fault.Wrap(kind, err, "tenant scope resolution failed"))
		}

		ctx := tenancy.WithScope(c.Request().Context(), scope)
		ctx = WithGrants(ctx, p.grants)
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

func (s *HTTPServer) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReady(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessTimeout)
	defer cancel()

	failures := map[string]string{}
	for name, backend := range s.backends {
		if err := backend.Ping(ctx); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		s.logger.Warn(ctx, "readiness probe failed", zap.Any("backends", failures))
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"status":   "unavailable",
			"backends": failures,
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
}

func (s *HTTPServer) handleInitialize(c echo.Context) error {
	return c.JSON(http.StatusOK, s.dispatcher.Initialize())
}

func (s *HTTPServer) handleToolsList(c echo.Context) error {
	return c.JSON(http.StatusOK, s.dispatcher.Descriptors())
}

func (s *HTTPServer) handleToolCall(c echo.Context) error {
	var args json.RawMessage
	if err := c.Bind(&args); err != nil {
		return writeFault(c, fault.Wrap(fault.SchemaInvalid, err, "request body is not valid JSON"))
	}

	result, err := s.dispatcher.CallTool(c.Request().Context(), c.Param("name"), args)
	if err != nil {
		return writeFault(c, fault.New(fault.NotFound, "unknown tool: %s", c.Param("name")))
	}
	return c.JSON(http.StatusOK, result)
}

func (s *HTTPServer) handleCreateSession(c echo.Context) error {
	id, err := s.orch.CreateSession(c.Request().Context())
	if err != nil {
		return writeFault(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]string{"sessionId": id})
}

func (s *HTTPServer) handlePostMessage(c echo.Context) error {
	var body struct {
		Content string `json:"content"`
	}
	if err := c.Bind(&body); err != nil {
		return writeFault(c, fault.Wrap(fault.SchemaInvalid, err, "request body is not valid JSON"))
	}
	if body.Content == "" {
		return writeFault(c, fault.New(fault.SchemaInvalid, "content is required"))
	}

	correlationID, err := s.orch.Enqueue(c.Request().Context(), c.Param("sessionId"), body.Content)
	if err != nil {
		return writeFault(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{
		"sessionId":     c.Param("sessionId"),
		"correlationId": correlationID,
	})
}

// handleEvents streams the session's chat events as SSE frames.
func (s *HTTPServer) handleEvents(c echo.Context) error {
	sessionID := c.QueryParam("sessionId")
	if sessionID == "" {
		return writeFault(c, fault.New(fault.SchemaInvalid, "sessionId query parameter is required"))
	}

	ctx := c.Request().Context()
	events, err := s.orch.Subscribe(ctx, sessionID)
	if err != nil {
		return writeFault(c, err)
	}

	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-store")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)
	c.Response().Flush()

	// Transport-level keepalive on top of the orchestrator's own pings, for
	// proxies that drop idle connections.
	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-keepalive.C:
			if err := writeSSE(c.Response(), orchestrator.Event{
				Type:      orchestrator.EventPing,
				SessionID: sessionID,
				Timestamp: time.Now(),
			}); err != nil {
				return nil
			}
			c.Response().Flush()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := writeSSE(c.Response(), ev); err != nil {
				return nil
			}
			c.Response().Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev orchestrator.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event:%s\ndata:%s\n\n", ev.Type, data)
	return err
}

type ontologyScopeParams struct {
	Tenant  string `json:"tenant" query:"tenant"`
	Package string `json:"package" query:"package"`
	Channel string `json:"channel" query:"channel"`
}

// ontologyScope derives the target scope from explicit params, defaulting
// to the caller's resolved scope. Another tenant's scope is off limits.
func (s *HTTPServer) ontologyScope(c echo.Context) (tenancy.Scope, error) {
	resolved, err := tenancy.MustFromContext(c.Request().Context())
	if err != nil {
		return tenancy.Scope{}, fault.Wrap(fault.TenantUnresolved, err, "no tenant scope resolved")
	}

	var params ontologyScopeParams
	if err := c.Bind(&params); err != nil {
		return tenancy.Scope{}, fault.Wrap(fault.SchemaInvalid, err, "malformed scope parameters")
	}
	if params.Tenant != "" && params.Tenant != resolved.TenantID {
		return tenancy.Scope{}, fault.New(fault.ScopeViolation,
			"scope %s is outside the caller's tenant", params.Tenant)
	}

	pkg := params.Package
	if pkg == "" {
		pkg = resolved.PackageID
	}
	channel := params.Channel
	if channel == "" {
		channel = resolved.ChannelID
	}
	scope, err := tenancy.NewScope(resolved.TenantID, pkg, channel)
	if err != nil {
		return tenancy.Scope{}, fault.Wrap(fault.SchemaInvalid, err, "invalid scope parameters")
	}
	return scope, nil
}

func (s *HTTPServer) handleOntologyValidate(c echo.Context) error {
	scope, err := s.ontologyScope(c)
	if err != nil {
		return writeFault(c, err)
	}

	loadErr := s.runtime.Load(c.Request().Context(), scope)
	resp := map[string]any{
		"scope":   scope.String(),
		"isValid": loadErr == nil,
		"errors":  []string{},
	}
	if loadErr != nil {
		if !fault.IsKind(loadErr, fault.OntologyInvalid) {
			return writeFault(c, loadErr)
		}
		if fe := fault.As(loadErr); fe.Details != nil {
			resp["errors"] = fe.Details["errors"]
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) handleOntologyExport(c echo.Context) error {
	scope, err := s.ontologyScope(c)
	if err != nil {
		return writeFault(c, err)
	}
	cat, err := s.runtime.Catalog(c.Request().Context(), scope)
	if err != nil {
		return writeFault(c, err)
	}

	switch c.QueryParam("format") {
	case "", "jsonld":
		data, err := cat.ExportJSONLD(s.runtime.Prefixes())
		if err != nil {
			return writeFault(c, err)
		}
		return c.Blob(http.StatusOK, "application/ld+json", data)
	case "turtle":
		data, err := cat.ExportTurtle(s.runtime.Prefixes())
		if err != nil {
			return writeFault(c, err)
		}
		return c.Blob(http.StatusOK, "text/turtle", data)
	default:
		return writeFault(c, fault.New(fault.SchemaInvalid, "format must be jsonld or turtle"))
	}
}

// writeFault maps a fault kind to an HTTP status and writes the stable
// error shape.
func writeFault(c echo.Context, err error) error {
	fe := fault.As(err)
	status := http.StatusInternalServerError
	switch fe.Code {
	case fault.SchemaInvalid:
		status = http.StatusBadRequest
	case fault.TenantUnresolved:
		status = http.StatusUnauthorized
	case fault.Forbidden, fault.ScopeViolation:
		status = http.StatusForbidden
	case fault.NotFound:
		status = http.StatusNotFound
	case fault.Timeout:
		status = http.StatusGatewayTimeout
	case fault.Overloaded:
		status = http.StatusTooManyRequests
	case fault.CircuitOpen:
		status = http.StatusServiceUnavailable
	case fault.UpstreamError:
		status = http.StatusBadGateway
	case fault.OntologyInvalid, fault.PreconditionFailed, fault.EffectFailed:
		status = http.StatusUnprocessableEntity
	case fault.Canceled:
		status = 499 // client closed request
	}
	if fe.RetryAfter > 0 {
		c.Response().Header().Set("Retry-After", fmt.Sprintf("%d", fe.RetryAfter))
	}
	return c.JSON(status, fe)
}
