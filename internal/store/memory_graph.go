package store

import (
	"context"
	"sort"
	"sync"

	"github.com/limbodancer/limbodancer-mcp/internal/tenancy"
)

// MemoryGraph is an in-process knowledge-graph store. Vertices and edges
// are partitioned by tenant, so the tenant guard holds by construction; a
// vertex-level tenant property, when present, is re-checked on every hop.
type MemoryGraph struct {
	mu     sync.RWMutex
	graphs map[string]*tenantGraph // tenant -> graph
}

type tenantGraph struct {
	vertices map[string]*Vertex
	out      map[string]map[string][]string // from -> label -> to
	in       map[string]map[string][]string // to -> label -> from
}

// NewMemoryGraph creates an empty graph store.
func NewMemoryGraph() *MemoryGraph {
	return &MemoryGraph{graphs: make(map[string]*tenantGraph)}
}

func (g *MemoryGraph) graph(tenant string, create bool) *tenantGraph {
	tg := g.graphs[tenant]
	if tg == nil && create {
		tg = &tenantGraph{
			vertices: make(map[string]*Vertex),
			out:      make(map[string]map[string][]string),
			in:       make(map[string]map[string][]string),
		}
		g.graphs[tenant] = tg
	}
	return tg
}

// guarded reports whether the vertex passes the tenant guard for the scope.
func guarded(v *Vertex, scope tenancy.Scope) bool {
	if v == nil {
		return false
	}
	if t, ok := v.Properties["tenant"].(string); ok && t != scope.TenantID {
		return false
	}
	return true
}

func copyVertex(v *Vertex) *Vertex {
	props := make(map[string]any, len(v.Properties))
	for k, val := range v.Properties {
		props[k] = val
	}
	return &Vertex{ID: v.ID, Properties: props}
}

func (g *MemoryGraph) GetVertex(_ context.Context, scope tenancy.Scope, id string) (*Vertex, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	tg := g.graph(scope.TenantID, false)
	if tg == nil {
		return nil, nil
	}
	v := tg.vertices[id]
	if !guarded(v, scope) {
		return nil, nil
	}
	return copyVertex(v), nil
}

func (g *MemoryGraph) GetVertexProperty(_ context.Context, scope tenancy.Scope, id, key string) (any, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	tg := g.graph(scope.TenantID, false)
	if tg == nil {
		return nil, false, nil
	}
	v := tg.vertices[id]
	if !guarded(v, scope) {
		return nil, false, nil
	}
	val, ok := v.Properties[key]
	return val, ok, nil
}

func (g *MemoryGraph) UpsertVertexProperty(_ context.Context, scope tenancy.Scope, id, key string, value any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	tg := g.graph(scope.TenantID, true)
	v := tg.vertices[id]
	if v == nil {
		v = &Vertex{ID: id, Properties: map[string]any{"tenant": scope.TenantID}}
		tg.vertices[id] = v
	}
	v.Properties[key] = value
	return nil
}

func (g *MemoryGraph) UpsertEdge(_ context.Context, scope tenancy.Scope, from, to, label string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	tg := g.graph(scope.TenantID, true)
	for _, id := range []string{from, to} {
		if tg.vertices[id] == nil {
			tg.vertices[id] = &Vertex{ID: id, Properties: map[string]any{"tenant": scope.TenantID}}
		}
	}
	addEdge(tg.out, from, label, to)
	addEdge(tg.in, to, label, from)
	return nil
}

func addEdge(index map[string]map[string][]string, key, label, target string) {
	byLabel := index[key]
	if byLabel == nil {
		byLabel = make(map[string][]string)
		index[key] = byLabel
	}
	for _, existing := range byLabel[label] {
		if existing == target {
			return
		}
	}
	byLabel[label] = append(byLabel[label], target)
}

func (g *MemoryGraph) Query(_ context.Context, scope tenancy.Scope, q GraphQuery) ([]Vertex, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	limit := q.Limit
	if limit < 1 {
		limit = 1
	}
	if limit > 1000 {
		limit = 1000
	}

	tg := g.graph(scope.TenantID, false)
	if tg == nil {
		return []Vertex{}, nil
	}

	// Seed the match set from subject ids or the whole tenant partition.
	matched := make(map[string]*Vertex)
	if len(q.SubjectIDs) > 0 {
		for _, id := range q.SubjectIDs {
			if v := tg.vertices[id]; guarded(v, scope) {
				matched[id] = v
			}
		}
	} else {
		for id, v := range tg.vertices {
			if guarded(v, scope) {
				matched[id] = v
			}
		}
	}

	for id, v := range matched {
		if !matchesGraphFilters(v, q.Filters) {
			delete(matched, id)
		}
	}

	// Traversals expand the result set hop by hop; every hop re-applies
	// the tenant guard.
	result := make(map[string]*Vertex, len(matched))
	for id, v := range matched {
		result[id] = v
	}
	for _, tr := range q.Traversals {
		frontier := matched
		for hop := 0; hop < tr.Hops; hop++ {
			next := make(map[string]*Vertex)
			for id := range frontier {
				for _, nid := range neighbors(tg, id, tr) {
					v := tg.vertices[nid]
					if !guarded(v, scope) {
						continue
					}
					next[nid] = v
					result[nid] = v
				}
			}
			if len(next) == 0 {
				break
			}
			frontier = next
		}
	}

	ids := make([]string, 0, len(result))
	for id := range result {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]Vertex, 0, len(ids))
	for _, id := range ids {
		out = append(out, *copyVertex(result[id]))
	}
	return out, nil
}

func neighbors(tg *tenantGraph, id string, tr Traversal) []string {
	var out []string
	if tr.Direction == DirectionOut || tr.Direction == DirectionBoth {
		out = append(out, tg.out[id][tr.Relation]...)
	}
	if tr.Direction == DirectionIn || tr.Direction == DirectionBoth {
		out = append(out, tg.in[id][tr.Relation]...)
	}
	return out
}

func matchesGraphFilters(v *Vertex, filters []GraphFilter) bool {
	for _, f := range filters {
		val, exists := v.Properties[f.Property]
		switch f.Op {
		case OpEq:
			if !exists || val != f.Value {
				return false
			}
		case OpNeq:
			if exists && val == f.Value {
				return false
			}
		case OpExists:
			if !exists {
				return false
			}
		case OpNotExists:
			if exists {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func (g *MemoryGraph) Ping(context.Context) error { return nil }
