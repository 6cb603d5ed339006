package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/limbodancer/limbodancer-mcp/internal/fault"
	"github.com/limbodancer/limbodancer-mcp/internal/logging"
	"github.com/limbodancer/limbodancer-mcp/internal/ontology"
	"github.com/limbodancer/limbodancer-mcp/internal/registry"
	"github.com/limbodancer/limbodancer-mcp/internal/store"
	"github.com/limbodancer/limbodancer-mcp/internal/tenancy"
)

func testScope(t *testing.T, tenant string) tenancy.Scope {
	t.Helper()
	s, err := tenancy.NewScope(tenant, "core", "prod")
	require.NoError(t, err)
	return s
}

func testDeps(t *testing.T) (Deps, tenancy.Scope, context.Context) {
	t.Helper()
	scope := testScope(t, "acme")
	ctx := tenancy.WithScope(context.Background(), scope)

	repo := ontology.NewMemoryRepository(ontology.DefaultGates())
	require.NoError(t, repo.UpsertEntity(ctx, scope, &ontology.EntityDef{
		LocalName:  "Trip",
		Governance: ontology.Governance{Confidence: 0.9, Complexity: 1, Depth: 1},
	}))
	require.NoError(t, repo.UpsertProperty(ctx, scope, &ontology.PropertyDef{
		Owner:        "Trip",
		LocalName:    "status",
		CanonicalURI: "https://limbodancer.io/ontology/status",
		Range:        "xsd:string",
		Governance:   ontology.Governance{Confidence: 0.9, Complexity: 1, Depth: 1},
	}))

	rt := ontology.NewRuntime(repo, nil, nil)
	require.NoError(t, rt.Load(ctx, scope))

	deps := Deps{
		History:  store.NewMemoryHistory(),
		Vector:   store.NewMemoryVector(),
		Graph:    store.NewMemoryGraph(),
		Ontology: rt,
		Mapper:   ontology.NewPropertyKeyMapper(rt.Prefixes(), nil),
		Logger:   logging.NewNop(),
	}
	return deps, scope, ctx
}

func TestHistoryGetClampsLimit(t *testing.T) {
	deps, scope, ctx := testDeps(t)
	require.NoError(t, deps.History.CreateSession(ctx, scope, "s1"))
	for _, text := range []string{"a", "b", "c"} {
		require.NoError(t, deps.History.AppendMessage(ctx, scope, &store.Message{
			SessionID: "s1", Sender: "user", Text: text,
		}))
	}

	// Limit below range clamps to 1 and returns the newest message.
	out, err := deps.historyGet(ctx, json.RawMessage(`{"sessionId":"s1","limit":0}`))
	require.NoError(t, err)
	res := out.(historyGetResult)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, "c", res.Messages[0].Text)

	// Limit above range clamps to 1000 and returns everything, ascending.
	out, err = deps.historyGet(ctx, json.RawMessage(`{"sessionId":"s1","limit":5000}`))
	require.NoError(t, err)
	res = out.(historyGetResult)
	require.Len(t, res.Messages, 3)
	assert.Equal(t, "a", res.Messages[0].Text)
}

func TestHistoryGetForeignSessionIsSilent(t *testing.T) {
	deps, scope, ctx := testDeps(t)
	require.NoError(t, deps.History.CreateSession(ctx, scope, "s1"))
	require.NoError(t, deps.History.AppendMessage(ctx, scope, &store.Message{
		SessionID: "s1", Sender: "user", Text: "private",
	}))

	other := tenancy.WithScope(context.Background(), testScope(t, "globex"))
	out, err := deps.historyGet(other, json.RawMessage(`{"sessionId":"s1","limit":10}`))
	require.NoError(t, err)
	assert.Empty(t, out.(historyGetResult).Messages)
}

func TestHistoryAppendRoundTrip(t *testing.T) {
	deps, scope, ctx := testDeps(t)
	require.NoError(t, deps.History.CreateSession(ctx, scope, "s1"))

	out, err := deps.historyAppend(ctx, json.RawMessage(`{"sessionId":"s1","sender":"user","text":"hello"}`))
	require.NoError(t, err)
	appended := out.(historyAppendResult)
	assert.NotEmpty(t, appended.ID)
	assert.False(t, appended.Timestamp.IsZero())

	before := appended.Timestamp.Add(time.Hour).Format(time.RFC3339)
	got, err := deps.historyGet(ctx, json.RawMessage(
		`{"sessionId":"s1","limit":10,"before":"`+before+`"}`))
	require.NoError(t, err)
	msgs := got.(historyGetResult).Messages
	require.NotEmpty(t, msgs)
	assert.Equal(t, "hello", msgs[len(msgs)-1].Text)
}

func TestHistoryAppendUnknownSession(t *testing.T) {
	deps, _, ctx := testDeps(t)
	_, err := deps.historyAppend(ctx, json.RawMessage(`{"sessionId":"ghost","sender":"user","text":"x"}`))
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.NotFound))
}

func TestMemorySearchRequiresQuery(t *testing.T) {
	deps, _, ctx := testDeps(t)
	_, err := deps.memorySearch(ctx, json.RawMessage(`{"k":5}`))
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.SchemaInvalid))
}

func TestMemorySearch(t *testing.T) {
	deps, scope, ctx := testDeps(t)
	require.NoError(t, deps.Vector.Upsert(ctx, scope, []store.Document{
		{ID: "d1", Content: "weekend trip to rome", OntologyClass: "Trip"},
		{ID: "d2", Content: "tax report 2025"},
	}))

	out, err := deps.memorySearch(ctx, json.RawMessage(`{"queryText":"trip rome","k":5}`))
	require.NoError(t, err)
	hits := out.(memorySearchResult).Hits
	require.Len(t, hits, 1)
	assert.Equal(t, "d1", hits[0].ID)
}

func TestGraphQueryHandler(t *testing.T) {
	deps, scope, ctx := testDeps(t)
	require.NoError(t, deps.Graph.UpsertVertexProperty(ctx, scope, "trip-1", "Trip.status", "booked"))
	require.NoError(t, deps.Graph.UpsertEdge(ctx, scope, "trip-1", "alice", "bookedBy"))

	out, err := deps.graphQuery(ctx, json.RawMessage(`{
		"subjectIds": ["trip-1"],
		"filters": [{"property": "Trip.status", "op": "eq", "value": "booked"}],
		"traverse": [{"direction": "out", "relation": "bookedBy", "hops": 1}],
		"limit": 10
	}`))
	require.NoError(t, err)
	vertices := out.(graphQueryResult).Vertices
	require.Len(t, vertices, 2)
}

func TestEvaluatePreconditions(t *testing.T) {
	deps, scope, ctx := testDeps(t)
	require.NoError(t, deps.Graph.UpsertVertexProperty(ctx, scope, "trip-1", "Trip.status", "booked"))

	res, err := deps.EvaluatePreconditions(ctx, "trip-1", []Precondition{
		{Predicate: "Trip.status", Op: "eq", Expected: "booked"},
		{Predicate: "ldm:status", Op: "exists"},
	})
	require.NoError(t, err)
	assert.True(t, res.IsSatisfied)
	assert.Empty(t, res.Violations)

	res, err = deps.EvaluatePreconditions(ctx, "trip-1", []Precondition{
		{Predicate: "Trip.status", Op: "eq", Expected: "planned"},
	})
	require.NoError(t, err)
	assert.False(t, res.IsSatisfied)
	require.Len(t, res.Violations, 1)
}

func TestPreconditionsSubjectMissing(t *testing.T) {
	deps, _, ctx := testDeps(t)
	res, err := deps.EvaluatePreconditions(ctx, "ghost", []Precondition{
		{Predicate: "Trip.status", Op: "exists"},
		{Predicate: "Trip.status", Op: "eq", Expected: "x"},
	})
	require.NoError(t, err)
	assert.False(t, res.IsSatisfied)
	require.Len(t, res.Violations, 2)
	for _, v := range res.Violations {
		assert.Equal(t, "subject-missing", v.Reason)
	}
}

func TestPreconditionsUnmappedFailClosed(t *testing.T) {
	deps, scope, ctx := testDeps(t)
	require.NoError(t, deps.Graph.UpsertVertexProperty(ctx, scope, "trip-1", "Trip.status", "booked"))

	res, err := deps.EvaluatePreconditions(ctx, "trip-1", []Precondition{
		{Predicate: "nonexistent", Op: "exists"},
	})
	require.NoError(t, err)
	assert.False(t, res.IsSatisfied)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, "unmapped-predicate", res.Violations[0].Reason)
}

func TestCommitEffects(t *testing.T) {
	deps, scope, ctx := testDeps(t)
	require.NoError(t, deps.Graph.UpsertVertexProperty(ctx, scope, "trip-1", "Trip.status", "planned"))

	err := deps.CommitEffects(ctx, "trip-1", []Effect{
		{Predicate: "ldm:status", Value: "booked"},
		{Predicate: "bookedBy", EdgeTarget: "alice", EdgeLabel: "bookedBy"},
		{Predicate: "unmapped.predicate", Value: "ignored"}, // skipped with warning
	})
	require.NoError(t, err)

	val, exists, err := deps.Graph.GetVertexProperty(ctx, scope, "trip-1", "Trip.status")
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, "booked", val)

	v, err := deps.Graph.GetVertex(ctx, scope, "alice")
	require.NoError(t, err)
	assert.NotNil(t, v)
}

// failingGraph fails property upserts after the first, to observe ordered
// abort semantics.
type failingGraph struct {
	store.GraphStore
	writes int
}

func (f *failingGraph) UpsertVertexProperty(ctx context.Context, scope tenancy.Scope, id, key string, value any) error {
	f.writes++
	if f.writes > 1 {
		return fault.New(fault.UpstreamError, "graph write failed")
	}
	return f.GraphStore.UpsertVertexProperty(ctx, scope, id, key, value)
}

func TestCommitEffectsAbortsOnFailure(t *testing.T) {
	deps, scope, ctx := testDeps(t)
	fg := &failingGraph{GraphStore: deps.Graph}
	deps.Graph = fg

	err := deps.CommitEffects(ctx, "trip-1", []Effect{
		{Predicate: "Trip.status", Value: "booked"},
		{Predicate: "ldm:status", Value: "completed"},
		{Predicate: "Trip.status", Value: "never-applied"},
	})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.EffectFailed))
	// First effect applied, the rest aborted.
	assert.Equal(t, 2, fg.writes)

	val, exists, gerr := deps.Graph.GetVertexProperty(ctx, scope, "trip-1", "Trip.status")
	require.NoError(t, gerr)
	require.True(t, exists)
	assert.Equal(t, "booked", val)
}

func TestRegistrationsToolSet(t *testing.T) {
	deps, _, _ := testDeps(t)
	reg, err := registry.New(Registrations(deps)...)
	require.NoError(t, err)

	assert.Equal(t, []string{"graph_query", "history_append", "history_get", "memory_search"}, reg.Names())

	appendTool, ok := reg.Get("history_append")
	require.True(t, ok)
	assert.False(t, appendTool.Retryable)
	assert.Equal(t, []string{"history:write"}, appendTool.Permissions)

	getTool, ok := reg.Get("history_get")
	require.True(t, ok)
	assert.True(t, getTool.Retryable)
	assert.Equal(t, []string{"history:read"}, getTool.Permissions)
}

func TestRegistrationsApplyTimeoutOverrides(t *testing.T) {
	deps, _, _ := testDeps(t)
	deps.Timeouts = map[string]time.Duration{"history_get": 50 * time.Millisecond}

	reg, err := registry.New(Registrations(deps)...)
	require.NoError(t, err)

	getTool, ok := reg.Get("history_get")
	require.True(t, ok)
	assert.Equal(t, 50*time.Millisecond, getTool.Timeout)

	// Tools without an override carry no deadline of their own and use the
	// pipeline default.
	searchTool, ok := reg.Get("memory_search")
	require.True(t, ok)
	assert.Zero(t, searchTool.Timeout)
}
