package ontology

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/limbodancer/limbodancer-mcp/internal/fault"
	"github.com/limbodancer/limbodancer-mcp/internal/logging"
	"github.com/limbodancer/limbodancer-mcp/internal/tenancy"
)

// Runtime is the shared read store: one immutable catalog per scope,
// replaced wholesale on load. Readers take the catalog pointer under a
// read lock and then work lock-free on the immutable snapshot.
type Runtime struct {
	repo     Repository
	prefixes *PrefixTable
	logger   *logging.Logger

	mu       sync.RWMutex
	catalogs map[tenancy.Scope]*Catalog
}

// NewRuntime creates a runtime over the repository.
func NewRuntime(repo Repository, prefixes *PrefixTable, logger *logging.Logger) *Runtime {
	if prefixes == nil {
		prefixes = NewPrefixTable(nil)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runtime{
		repo:     repo,
		prefixes: prefixes,
		logger:   logger,
		catalogs: make(map[tenancy.Scope]*Catalog),
	}
}

// Prefixes exposes the CURIE table.
func (r *Runtime) Prefixes() *PrefixTable { return r.prefixes }

// Load reads all definition kinds for the scope concurrently, validates
// referential integrity, and swaps the catalog in atomically. On any
// validation failure the previous catalog stays in place and the error
// carries the violations.
func (r *Runtime) Load(ctx context.Context, scope tenancy.Scope) error {
	if err := scope.Validate(); err != nil {
		return err
	}

	next := NewCatalog(scope)
	var (
		entities  []*EntityDef
		props     []*PropertyDef
		relations []*RelationDef
		enums     []*EnumDef
		aliases   []*AliasDef
		shapes    []*ShapeDef
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { entities, err = r.repo.ListEntities(gctx, scope); return })
	g.Go(func() (err error) { props, err = r.repo.ListProperties(gctx, scope); return })
	g.Go(func() (err error) { relations, err = r.repo.ListRelations(gctx, scope); return })
	g.Go(func() (err error) { enums, err = r.repo.ListEnums(gctx, scope); return })
	g.Go(func() (err error) { aliases, err = r.repo.ListAliases(gctx, scope); return })
	g.Go(func() (err error) { shapes, err = r.repo.ListShapes(gctx, scope); return })
	if err := g.Wait(); err != nil {
		return fault.Wrap(fault.UpstreamError, err, "loading ontology for %s", scope)
	}

	for _, e := range entities {
		next.Entities[e.LocalName] = e
	}
	for _, p := range props {
		next.Properties[propertyKey(p.Owner, p.LocalName)] = p
	}
	for _, rel := range relations {
		next.Relations[rel.LocalName] = rel
	}
	for _, e := range enums {
		next.Enums[e.LocalName] = e
	}
	for _, a := range aliases {
		next.Aliases[a.Canonical] = a
	}
	for _, s := range shapes {
		next.Shapes[s.AppliesToEntity] = s
	}
	next.LoadedAt = time.Now()

	if violations := next.Validate(); len(violations) > 0 {
		r.logger.Warn(ctx, "ontology load rejected",
			zap.Int("violations", len(violations)))
		return fault.New(fault.OntologyInvalid, "catalog failed referential checks").
			WithDetail("errors", violations)
	}

	r.mu.Lock()
	r.catalogs[scope] = next
	r.mu.Unlock()

	r.logger.Info(ctx, "ontology catalog loaded",
		zap.String("scope", scope.String()),
		zap.Int("entities", len(next.Entities)),
		zap.Int("properties", len(next.Properties)),
		zap.Int("relations", len(next.Relations)))
	return nil
}

// Catalog returns the current catalog for a scope, loading it on first use.
func (r *Runtime) Catalog(ctx context.Context, scope tenancy.Scope) (*Catalog, error) {
	r.mu.RLock()
	cat, ok := r.catalogs[scope]
	r.mu.RUnlock()
	if ok {
		return cat, nil
	}
	if err := r.Load(ctx, scope); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.catalogs[scope], nil
}

// Lookups over an immutable catalog.

// GetEntity returns the entity by local name.
func (c *Catalog) GetEntity(localName string) (*EntityDef, bool) {
	e, ok := c.Entities[localName]
	return e, ok
}

// ListEntities returns entities sorted by local name.
func (c *Catalog) ListEntities() []*EntityDef {
	out := make([]*EntityDef, 0, len(c.Entities))
	for _, e := range c.Entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocalName < out[j].LocalName })
	return out
}

// GetProperty returns the property by owner and local name.
func (c *Catalog) GetProperty(owner, localName string) (*PropertyDef, bool) {
	p, ok := c.Properties[propertyKey(owner, localName)]
	return p, ok
}

// ListProperties returns properties sorted by owner then local name.
func (c *Catalog) ListProperties() []*PropertyDef {
	out := make([]*PropertyDef, 0, len(c.Properties))
	for _, p := range c.Properties {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Owner != out[j].Owner {
			return out[i].Owner < out[j].Owner
		}
		return out[i].LocalName < out[j].LocalName
	})
	return out
}

// GetRelation returns the relation by local name.
func (c *Catalog) GetRelation(localName string) (*RelationDef, bool) {
	r, ok := c.Relations[localName]
	return r, ok
}

// ListRelations returns relations sorted by local name.
func (c *Catalog) ListRelations() []*RelationDef {
	out := make([]*RelationDef, 0, len(c.Relations))
	for _, r := range c.Relations {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocalName < out[j].LocalName })
	return out
}

// GetEnum returns the enum by local name.
func (c *Catalog) GetEnum(localName string) (*EnumDef, bool) {
	e, ok := c.Enums[localName]
	return e, ok
}

// GetShape returns the shape applying to an entity.
func (c *Catalog) GetShape(entity string) (*ShapeDef, bool) {
	s, ok := c.Shapes[entity]
	return s, ok
}

// ResolveAlias maps a synonym to its canonical term. Unknown terms return
// themselves.
func (c *Catalog) ResolveAlias(term string) string {
	lower := strings.ToLower(term)
	for canonical, def := range c.Aliases {
		if strings.EqualFold(canonical, term) {
			return canonical
		}
		for _, a := range def.Aliases {
			if strings.ToLower(a) == lower {
				return canonical
			}
		}
	}
	return term
}
