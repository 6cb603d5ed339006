// Package tools declares the MCP tool set: history, memory, and graph
// handlers bound to the collaborator stores.
package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/limbodancer/limbodancer-mcp/internal/fault"
	"github.com/limbodancer/limbodancer-mcp/internal/logging"
	"github.com/limbodancer/limbodancer-mcp/internal/ontology"
	"github.com/limbodancer/limbodancer-mcp/internal/registry"
	"github.com/limbodancer/limbodancer-mcp/internal/store"
	"github.com/limbodancer/limbodancer-mcp/internal/tenancy"
)

// Deps are the collaborators the handlers close over.
type Deps struct {
	History  store.HistoryStore
	Vector   store.VectorIndex
	Graph    store.GraphStore
	Ontology *ontology.Runtime
	Mapper   *ontology.PropertyKeyMapper
	Logger   *logging.Logger

	// Timeouts override the per-tool execution deadline; zero falls back
	// to the pipeline default.
	Timeouts map[string]time.Duration
}

func (d Deps) timeout(tool string) time.Duration {
	return d.Timeouts[tool]
}

// requireScope surfaces a missing tenant scope as a typed fault instead of
// an opaque internal error.
func requireScope(ctx context.Context) (tenancy.Scope, error) {
	scope, err := tenancy.MustFromContext(ctx)
	if err != nil {
		return scope, fault.Wrap(fault.TenantUnresolved, err, "no tenant scope resolved")
	}
	return scope, nil
}

// Registrations returns the full tool set for the registry.
func Registrations(deps Deps) []registry.Registration {
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	return []registry.Registration{
		{
			Name:        "history_get",
			Description: "Read messages from a chat session, oldest first.",
			InputSchema: json.RawMessage(historyGetSchema),
			Category:    registry.CategoryHistory,
			Permissions: []string{"history:read"},
			Retryable:   true,
			Timeout:     deps.timeout("history_get"),
			Handler:     deps.historyGet,
		},
		{
			Name:        "history_append",
			Description: "Append a message to an existing chat session.",
			InputSchema: json.RawMessage(historyAppendSchema),
			Category:    registry.CategoryHistory,
			Permissions: []string{"history:write"},
			Retryable:   false,
			Timeout:     deps.timeout("history_append"),
			Handler:     deps.historyAppend,
		},
		{
			Name:        "memory_search",
			Description: "Search semantic memory by text, vector, or both.",
			InputSchema: json.RawMessage(memorySearchSchema),
			Category:    registry.CategoryMemory,
			Permissions: []string{"memory:read"},
			Retryable:   true,
			Timeout:     deps.timeout("memory_search"),
			Handler:     deps.memorySearch,
		},
		{
			Name:        "graph_query",
			Description: "Query knowledge-graph vertices with filters and traversals.",
			InputSchema: json.RawMessage(graphQuerySchema),
			Category:    registry.CategoryGraph,
			Permissions: []string{"graph:read"},
			Retryable:   true,
			Timeout:     deps.timeout("graph_query"),
			Handler:     deps.graphQuery,
		},
	}
}

// clampLimit forces limit into [1, 1000].
func clampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

type historyGetArgs struct {
	SessionID string `json:"sessionId"`
	Limit     int    `json:"limit"`
	Before    string `json:"before,omitempty"`
}

type historyGetResult struct {
	SessionID string          `json:"sessionId"`
	Messages  []store.Message `json:"messages"`
}

func (d Deps) historyGet(ctx context.Context, raw json.RawMessage) (any, error) {
	scope, err := requireScope(ctx)
	if err != nil {
		return nil, err
	}
	var args historyGetArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fault.Wrap(fault.SchemaInvalid, err, "malformed history_get arguments")
	}

	var before time.Time
	if args.Before != "" {
		before, err = time.Parse(time.RFC3339, args.Before)
		if err != nil {
			return nil, fault.Wrap(fault.SchemaInvalid, err, "before must be RFC 3339")
		}
	}

	msgs, err := d.History.ListMessages(ctx, scope, args.SessionID, clampLimit(args.Limit), before)
	if err != nil {
		return nil, err
	}
	return historyGetResult{SessionID: args.SessionID, Messages: msgs}, nil
}

type historyAppendArgs struct {
	SessionID string         `json:"sessionId"`
	Sender    string         `json:"sender"`
	Text      string         `json:"text"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type historyAppendResult struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
}

func (d Deps) historyAppend(ctx context.Context, raw json.RawMessage) (any, error) {
	scope, err := requireScope(ctx)
	if err != nil {
		return nil, err
	}
	var args historyAppendArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fault.Wrap(fault.SchemaInvalid, err, "malformed history_append arguments")
	}

	msg := store.Message{
		SessionID: args.SessionID,
		Sender:    args.Sender,
		Text:      args.Text,
		Metadata:  args.Metadata,
	}
	if err := d.History.AppendMessage(ctx, scope, &msg); err != nil {
		return nil, err
	}
	return historyAppendResult{ID: msg.ID, SessionID: msg.SessionID, Timestamp: msg.Timestamp}, nil
}

type memorySearchArgs struct {
	QueryText     string         `json:"queryText,omitempty"`
	QueryVector   []float32      `json:"queryVector,omitempty"`
	K             int            `json:"k"`
	Filters       []searchFilter `json:"filters,omitempty"`
	OntologyClass string         `json:"ontologyClass,omitempty"`
}

type searchFilter struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

type memorySearchResult struct {
	Hits []store.Hit `json:"hits"`
}

func (d Deps) memorySearch(ctx context.Context, raw json.RawMessage) (any, error) {
	scope, err := requireScope(ctx)
	if err != nil {
		return nil, err
	}
	var args memorySearchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fault.Wrap(fault.SchemaInvalid, err, "malformed memory_search arguments")
	}
	if args.QueryText == "" && len(args.QueryVector) == 0 {
		return nil, fault.New(fault.SchemaInvalid, "one of queryText or queryVector is required")
	}

	q := store.VectorQuery{
		Text:          args.QueryText,
		Vector:        args.QueryVector,
		K:             clampLimit(args.K),
		OntologyClass: args.OntologyClass,
	}
	for _, f := range args.Filters {
		q.Filters = append(q.Filters, store.Filter{Field: f.Field, Value: f.Value})
	}

	hits, err := d.Vector.SearchHybrid(ctx, scope, q)
	if err != nil {
		return nil, err
	}
	return memorySearchResult{Hits: hits}, nil
}

type graphQueryArgs struct {
	SubjectIDs []string            `json:"subjectIds,omitempty"`
	Filters    []store.GraphFilter `json:"filters,omitempty"`
	Traverse   []store.Traversal   `json:"traverse,omitempty"`
	Limit      int                 `json:"limit"`
}

type graphQueryResult struct {
	Vertices   []store.Vertex `json:"vertices"`
	NextCursor string         `json:"nextCursor,omitempty"`
}

func (d Deps) graphQuery(ctx context.Context, raw json.RawMessage) (any, error) {
	scope, err := requireScope(ctx)
	if err != nil {
		return nil, err
	}
	var args graphQueryArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fault.Wrap(fault.SchemaInvalid, err, "malformed graph_query arguments")
	}

	vertices, err := d.Graph.Query(ctx, scope, store.GraphQuery{
		SubjectIDs: args.SubjectIDs,
		Filters:    args.Filters,
		Traversals: args.Traverse,
		Limit:      clampLimit(args.Limit),
	})
	if err != nil {
		return nil, err
	}
	return graphQueryResult{Vertices: vertices}, nil
}
