package store

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/limbodancer/limbodancer-mcp/internal/tenancy"
)

// MemoryVector is an in-process vector index with naive lexical scoring.
// It exists for development and tests; production uses the qdrant adapter.
type MemoryVector struct {
	mu   sync.RWMutex
	dim  uint64
	docs map[string]map[string]Document // tenant -> doc id -> document
}

// NewMemoryVector creates an empty index.
func NewMemoryVector() *MemoryVector {
	return &MemoryVector{docs: make(map[string]map[string]Document)}
}

func (v *MemoryVector) EnsureIndex(_ context.Context, dim uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dim = dim
	return nil
}

func (v *MemoryVector) Upsert(_ context.Context, scope tenancy.Scope, docs []Document) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	tenant := v.docs[scope.TenantID]
	if tenant == nil {
		tenant = make(map[string]Document)
		v.docs[scope.TenantID] = tenant
	}
	for _, d := range docs {
		tenant[d.ID] = d
	}
	return nil
}

func (v *MemoryVector) SearchHybrid(_ context.Context, scope tenancy.Scope, q VectorQuery) ([]Hit, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	tenant := v.docs[scope.TenantID]
	if tenant == nil {
		return []Hit{}, nil
	}

	k := q.K
	if k <= 0 {
		k = 10
	}

	hits := make([]Hit, 0, len(tenant))
	for _, d := range tenant {
		if !matchesFilters(d, q) {
			continue
		}
		var lexical, semantic float64
		if q.Text != "" {
			lexical = lexicalScore(q.Text, d)
		}
		if len(q.Vector) > 0 {
			semantic = cosine(q.Vector, d.Vector)
		}
		var score float64
		switch {
		case q.Text != "" && len(q.Vector) > 0:
			score = (lexical + semantic) / 2
		case q.Text != "":
			score = lexical
		default:
			score = semantic
		}
		if score <= 0 {
			continue
		}
		hits = append(hits, Hit{Document: d, Score: score})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (v *MemoryVector) Ping(context.Context) error { return nil }

func matchesFilters(d Document, q VectorQuery) bool {
	if q.OntologyClass != "" && d.OntologyClass != q.OntologyClass {
		return false
	}
	for _, f := range q.Filters {
		switch f.Field {
		case "ontologyClass":
			if d.OntologyClass != f.Value {
				return false
			}
		case "source":
			if d.Source != f.Value {
				return false
			}
		case "title":
			if d.Title != f.Value {
				return false
			}
		case "tag", "tags":
			found := false
			for _, t := range d.Tags {
				if t == f.Value {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func lexicalScore(query string, d Document) float64 {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return 0
	}
	haystack := strings.ToLower(d.Title + " " + d.Chunk + " " + d.Content)
	matched := 0
	for _, t := range terms {
		if strings.Contains(haystack, t) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
