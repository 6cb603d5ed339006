// Package store defines the narrow collaborator interfaces the core consumes:
// a tenant-scoped history store, a vector index, and a knowledge-graph store.
// Adapters (postgres, qdrant) and in-memory implementations live alongside.
package store

import (
	"context"
	"time"

	"github.com/limbodancer/limbodancer-mcp/internal/tenancy"
)

// Message is one chat history entry.
type Message struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionId"`
	Sender    string         `json:"sender"`
	Text      string         `json:"text"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// HistoryStore persists chat sessions and messages, tenant-scoped.
//
// ListMessages on a session that is missing or belongs to another tenant
// returns an empty slice: isolation is silent for reads. AppendMessage on
// such a session returns a not-found fault: writes are loud.
type HistoryStore interface {
	CreateSession(ctx context.Context, scope tenancy.Scope, sessionID string) error
	AppendMessage(ctx context.Context, scope tenancy.Scope, msg *Message) error
	ListMessages(ctx context.Context, scope tenancy.Scope, sessionID string, limit int, before time.Time) ([]Message, error)
	Ping(ctx context.Context) error
}

// Document is one vector index entry.
type Document struct {
	ID            string    `json:"id"`
	Title         string    `json:"title,omitempty"`
	Source        string    `json:"source,omitempty"`
	Chunk         string    `json:"chunk,omitempty"`
	OntologyClass string    `json:"ontologyClass,omitempty"`
	Tags          []string  `json:"tags,omitempty"`
	Content       string    `json:"content,omitempty"`
	Vector        []float32 `json:"-"`
}

// Hit is one search result.
type Hit struct {
	Document
	Score float64 `json:"score"`
}

// Filter is an equality constraint on a document field.
type Filter struct {
	Field string
	Value string
}

// VectorQuery describes one search. At least one of Text and Vector is set;
// when both are set the index runs a hybrid search with fan-out 2k before
// fusing results.
type VectorQuery struct {
	Text          string
	Vector        []float32
	K             int
	Filters       []Filter
	OntologyClass string
}

// VectorIndex is the semantic memory backend. Every search carries a
// mandatory tenant filter derived from the scope.
type VectorIndex interface {
	EnsureIndex(ctx context.Context, dim uint64) error
	Upsert(ctx context.Context, scope tenancy.Scope, docs []Document) error
	SearchHybrid(ctx context.Context, scope tenancy.Scope, q VectorQuery) ([]Hit, error)
	Ping(ctx context.Context) error
}

// Vertex is a knowledge-graph node.
type Vertex struct {
	ID         string         `json:"id"`
	Properties map[string]any `json:"properties"`
}

// Graph filter operators.
const (
	OpEq        = "eq"
	OpNeq       = "neq"
	OpExists    = "exists"
	OpNotExists = "not_exists"
)

// Traversal directions.
const (
	DirectionOut  = "out"
	DirectionIn   = "in"
	DirectionBoth = "both"
)

// GraphFilter is one property constraint.
type GraphFilter struct {
	Property string `json:"property"`
	Op       string `json:"op"`
	Value    any    `json:"value,omitempty"`
}

// Traversal expands the frontier along a relation.
type Traversal struct {
	Direction string `json:"direction"`
	Relation  string `json:"relation"`
	Hops      int    `json:"hops"`
}

// GraphQuery selects vertices by id and/or filters, then traverses.
type GraphQuery struct {
	SubjectIDs []string
	Filters    []GraphFilter
	Traversals []Traversal
	Limit      int
}

// GraphStore is the knowledge-graph backend. Every operation re-applies the
// tenant guard; traversals re-check it on every hop.
type GraphStore interface {
	GetVertex(ctx context.Context, scope tenancy.Scope, id string) (*Vertex, error)
	GetVertexProperty(ctx context.Context, scope tenancy.Scope, id, key string) (any, bool, error)
	UpsertVertexProperty(ctx context.Context, scope tenancy.Scope, id, key string, value any) error
	UpsertEdge(ctx context.Context, scope tenancy.Scope, from, to, label string) error
	Query(ctx context.Context, scope tenancy.Scope, q GraphQuery) ([]Vertex, error)
	Ping(ctx context.Context) error
}
