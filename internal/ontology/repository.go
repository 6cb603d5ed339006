package ontology

import (
	"context"
	"sync"
	"time"

	"github.com/limbodancer/limbodancer-mcp/internal/fault"
	"github.com/limbodancer/limbodancer-mcp/internal/tenancy"
)

// Repository is the persistence contract for ontology definitions.
// Implementations provide strong consistency per scope; the runtime reads
// all kinds during a load and never mutates through this interface.
type Repository interface {
	ListEntities(ctx context.Context, scope tenancy.Scope) ([]*EntityDef, error)
	ListProperties(ctx context.Context, scope tenancy.Scope) ([]*PropertyDef, error)
	ListRelations(ctx context.Context, scope tenancy.Scope) ([]*RelationDef, error)
	ListEnums(ctx context.Context, scope tenancy.Scope) ([]*EnumDef, error)
	ListAliases(ctx context.Context, scope tenancy.Scope) ([]*AliasDef, error)
	ListShapes(ctx context.Context, scope tenancy.Scope) ([]*ShapeDef, error)

	UpsertEntity(ctx context.Context, scope tenancy.Scope, def *EntityDef) error
	UpsertProperty(ctx context.Context, scope tenancy.Scope, def *PropertyDef) error
	UpsertRelation(ctx context.Context, scope tenancy.Scope, def *RelationDef) error
	UpsertEnum(ctx context.Context, scope tenancy.Scope, def *EnumDef) error
	UpsertAlias(ctx context.Context, scope tenancy.Scope, def *AliasDef) error
	UpsertShape(ctx context.Context, scope tenancy.Scope, def *ShapeDef) error

	DeleteEntity(ctx context.Context, scope tenancy.Scope, localName string) error
	DeleteProperty(ctx context.Context, scope tenancy.Scope, owner, localName string) error
	DeleteRelation(ctx context.Context, scope tenancy.Scope, localName string) error
}

// scopeData holds one scope's definitions in the in-memory repository.
type scopeData struct {
	entities   map[string]*EntityDef
	properties map[string]*PropertyDef
	relations  map[string]*RelationDef
	enums      map[string]*EnumDef
	aliases    map[string]*AliasDef
	shapes     map[string]*ShapeDef
}

func newScopeData() *scopeData {
	return &scopeData{
		entities:   make(map[string]*EntityDef),
		properties: make(map[string]*PropertyDef),
		relations:  make(map[string]*RelationDef),
		enums:      make(map[string]*EnumDef),
		aliases:    make(map[string]*AliasDef),
		shapes:     make(map[string]*ShapeDef),
	}
}

// MemoryRepository is an in-memory Repository with per-scope strong
// consistency. Upserts of definitions without a status run the governance
// gates.
type MemoryRepository struct {
	mu     sync.RWMutex
	scopes map[tenancy.Scope]*scopeData
	gates  Gates
	now    func() time.Time
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository(gates Gates) *MemoryRepository {
	return &MemoryRepository{
		scopes: make(map[tenancy.Scope]*scopeData),
		gates:  gates,
		now:    time.Now,
	}
}

func (r *MemoryRepository) data(scope tenancy.Scope) *scopeData {
	if d, ok := r.scopes[scope]; ok {
		return d
	}
	d := newScopeData()
	r.scopes[scope] = d
	return d
}

// stamp applies governance gates and timestamps on upsert.
func (r *MemoryRepository) stamp(gov *Governance) {
	now := r.now()
	if gov.CreatedAt.IsZero() {
		gov.CreatedAt = now
	}
	gov.UpdatedAt = now
	gov.Version++
	if gov.Status == "" {
		gov.Status = r.gates.Evaluate(*gov)
	}
}

func (r *MemoryRepository) ListEntities(_ context.Context, scope tenancy.Scope) ([]*EntityDef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d := r.scopes[scope]
	if d == nil {
		return nil, nil
	}
	out := make([]*EntityDef, 0, len(d.entities))
	for _, e := range d.entities {
		out = append(out, e)
	}
	return out, nil
}

func (r *MemoryRepository) ListProperties(_ context.Context, scope tenancy.Scope) ([]*PropertyDef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d := r.scopes[scope]
	if d == nil {
		return nil, nil
	}
	out := make([]*PropertyDef, 0, len(d.properties))
	for _, p := range d.properties {
		out = append(out, p)
	}
	return out, nil
}

func (r *MemoryRepository) ListRelations(_ context.Context, scope tenancy.Scope) ([]*RelationDef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d := r.scopes[scope]
	if d == nil {
		return nil, nil
	}
	out := make([]*RelationDef, 0, len(d.relations))
	for _, rel := range d.relations {
		out = append(out, rel)
	}
	return out, nil
}

func (r *MemoryRepository) ListEnums(_ context.Context, scope tenancy.Scope) ([]*EnumDef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d := r.scopes[scope]
	if d == nil {
		return nil, nil
	}
	out := make([]*EnumDef, 0, len(d.enums))
	for _, e := range d.enums {
		out = append(out, e)
	}
	return out, nil
}

func (r *MemoryRepository) ListAliases(_ context.Context, scope tenancy.Scope) ([]*AliasDef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d := r.scopes[scope]
	if d == nil {
		return nil, nil
	}
	out := make([]*AliasDef, 0, len(d.aliases))
	for _, a := range d.aliases {
		out = append(out, a)
	}
	return out, nil
}

func (r *MemoryRepository) ListShapes(_ context.Context, scope tenancy.Scope) ([]*ShapeDef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d := r.scopes[scope]
	if d == nil {
		return nil, nil
	}
	out := make([]*ShapeDef, 0, len(d.shapes))
	for _, s := range d.shapes {
		out = append(out, s)
	}
	return out, nil
}

func (r *MemoryRepository) UpsertEntity(_ context.Context, scope tenancy.Scope, def *EntityDef) error {
	if def == nil || def.LocalName == "" {
		return fault.New(fault.SchemaInvalid, "entity localName is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stamp(&def.Governance)
	r.data(scope).entities[def.LocalName] = def
	return nil
}

func (r *MemoryRepository) UpsertProperty(_ context.Context, scope tenancy.Scope, def *PropertyDef) error {
	if def == nil || def.Owner == "" || def.LocalName == "" {
		return fault.New(fault.SchemaInvalid, "property owner and localName are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stamp(&def.Governance)
	r.data(scope).properties[propertyKey(def.Owner, def.LocalName)] = def
	return nil
}

func (r *MemoryRepository) UpsertRelation(_ context.Context, scope tenancy.Scope, def *RelationDef) error {
	if def == nil || def.LocalName == "" {
		return fault.New(fault.SchemaInvalid, "relation localName is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stamp(&def.Governance)
	r.data(scope).relations[def.LocalName] = def
	return nil
}

func (r *MemoryRepository) UpsertEnum(_ context.Context, scope tenancy.Scope, def *EnumDef) error {
	if def == nil || def.LocalName == "" {
		return fault.New(fault.SchemaInvalid, "enum localName is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stamp(&def.Governance)
	r.data(scope).enums[def.LocalName] = def
	return nil
}

func (r *MemoryRepository) UpsertAlias(_ context.Context, scope tenancy.Scope, def *AliasDef) error {
	if def == nil || def.Canonical == "" {
		return fault.New(fault.SchemaInvalid, "alias canonical is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stamp(&def.Governance)
	r.data(scope).aliases[def.Canonical] = def
	return nil
}

func (r *MemoryRepository) UpsertShape(_ context.Context, scope tenancy.Scope, def *ShapeDef) error {
	if def == nil || def.AppliesToEntity == "" {
		return fault.New(fault.SchemaInvalid, "shape appliesToEntity is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stamp(&def.Governance)
	r.data(scope).shapes[def.AppliesToEntity] = def
	return nil
}

func (r *MemoryRepository) DeleteEntity(_ context.Context, scope tenancy.Scope, localName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.scopes[scope]
	if d == nil {
		return fault.New(fault.NotFound, "entity %q not found", localName)
	}
	if _, ok := d.entities[localName]; !ok {
		return fault.New(fault.NotFound, "entity %q not found", localName)
	}
	delete(d.entities, localName)
	return nil
}

func (r *MemoryRepository) DeleteProperty(_ context.Context, scope tenancy.Scope, owner, localName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.scopes[scope]
	key := propertyKey(owner, localName)
	if d == nil {
		return fault.New(fault.NotFound, "property %q not found", key)
	}
	if _, ok := d.properties[key]; !ok {
		return fault.New(fault.NotFound, "property %q not found", key)
	}
	delete(d.properties, key)
	return nil
}

func (r *MemoryRepository) DeleteRelation(_ context.Context, scope tenancy.Scope, localName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.scopes[scope]
	if d == nil {
		return fault.New(fault.NotFound, "relation %q not found", localName)
	}
	if _, ok := d.relations[localName]; !ok {
		return fault.New(fault.NotFound, "relation %q not found", localName)
	}
	delete(d.relations, localName)
	return nil
}
