// Package ontology implements the per-scope typed vocabulary runtime.
//
// Definitions load from a repository into an immutable in-memory catalog;
// reloads swap the catalog atomically so readers never observe a partial
// state. Entity/relation cycles are modeled as maps linked by string keys,
// resolved at lookup time.
package ontology

import (
	"time"

	"github.com/limbodancer/limbodancer-mcp/internal/tenancy"
)

// Status is the governance lifecycle state of a definition.
type Status string

const (
	StatusProposed  Status = "Proposed"
	StatusPublished Status = "Published"
	StatusRejected  Status = "Rejected"
)

// Governance carries the review metadata every definition has.
type Governance struct {
	Confidence float64   `json:"confidence"`
	Complexity int       `json:"complexity"`
	Depth      int       `json:"depth"`
	Status     Status    `json:"status"`
	Version    int       `json:"version"`
	Provenance string    `json:"provenance,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// EntityDef defines an entity class.
type EntityDef struct {
	LocalName    string            `json:"localName"`
	CanonicalURI string            `json:"canonicalUri"`
	Parents      []string          `json:"parents,omitempty"`
	Annotations  map[string]string `json:"annotations,omitempty"`
	Governance   Governance        `json:"governance"`
}

// PropertyDef defines a property on an entity. Range is either an XSD
// datatype tag (xsd:string, xsd:integer, ...) or another entity's local name.
type PropertyDef struct {
	Owner        string            `json:"owner"`
	LocalName    string            `json:"localName"`
	CanonicalURI string            `json:"canonicalUri,omitempty"`
	Range        string            `json:"range"`
	MinCard      int               `json:"minCard"`
	MaxCard      int               `json:"maxCard"` // -1 means unbounded
	Annotations  map[string]string `json:"annotations,omitempty"`
	Governance   Governance        `json:"governance"`
}

// RelationDef defines a directed relation between two entities.
type RelationDef struct {
	LocalName  string     `json:"localName"`
	FromEntity string     `json:"fromEntity"`
	ToEntity   string     `json:"toEntity"`
	MinCard    int        `json:"minCard"`
	MaxCard    int        `json:"maxCard"`
	Governance Governance `json:"governance"`
}

// EnumDef defines a closed value set.
type EnumDef struct {
	LocalName  string     `json:"localName"`
	Values     []string   `json:"values"`
	Governance Governance `json:"governance"`
}

// AliasDef maps synonyms to a canonical term.
type AliasDef struct {
	Canonical  string     `json:"canonical"`
	Aliases    []string   `json:"aliases"`
	Locale     string     `json:"locale,omitempty"`
	Governance Governance `json:"governance"`
}

// PropertyConstraint constrains one property within a shape.
type PropertyConstraint struct {
	Property string   `json:"property"`
	Pattern  string   `json:"pattern,omitempty"`
	In       []string `json:"in,omitempty"`
	MinCard  int      `json:"minCard,omitempty"`
	MaxCard  int      `json:"maxCard,omitempty"`
}

// ShapeDef validates instances of an entity.
type ShapeDef struct {
	AppliesToEntity     string               `json:"appliesToEntity"`
	PropertyConstraints []PropertyConstraint `json:"propertyConstraints,omitempty"`
	Governance          Governance           `json:"governance"`
}

// propertyKey forms the catalog key for a property: owner "." localName.
func propertyKey(owner, localName string) string {
	return owner + "." + localName
}

// Catalog is the complete set of definitions for one scope. A catalog is
// immutable once built; reloads produce a new catalog.
type Catalog struct {
	Scope      tenancy.Scope
	Entities   map[string]*EntityDef
	Properties map[string]*PropertyDef // keyed owner.localName
	Relations  map[string]*RelationDef
	Enums      map[string]*EnumDef
	Aliases    map[string]*AliasDef // keyed by canonical
	Shapes     map[string]*ShapeDef // keyed by entity
	LoadedAt   time.Time
}

// NewCatalog returns an empty catalog for the scope.
func NewCatalog(scope tenancy.Scope) *Catalog {
	return &Catalog{
		Scope:      scope,
		Entities:   make(map[string]*EntityDef),
		Properties: make(map[string]*PropertyDef),
		Relations:  make(map[string]*RelationDef),
		Enums:      make(map[string]*EnumDef),
		Aliases:    make(map[string]*AliasDef),
		Shapes:     make(map[string]*ShapeDef),
	}
}

// Gates holds the configurable governance thresholds.
type Gates struct {
	PublishMinConfidence  float64
	PublishMaxComplexity  int
	PublishMaxDepth       int
	ProposedMinConfidence float64
	ProposedMaxComplexity int
	ProposedMaxDepth      int
}

// DefaultGates returns the standard thresholds.
func DefaultGates() Gates {
	return Gates{
		PublishMinConfidence:  0.85,
		PublishMaxComplexity:  5,
		PublishMaxDepth:       4,
		ProposedMinConfidence: 0.5,
		ProposedMaxComplexity: 9,
		ProposedMaxDepth:      9,
	}
}

// Evaluate applies the governance gates to a definition's metadata:
// auto-Published when it clears the publish bar, auto-Proposed when it
// clears the proposal bar, Rejected otherwise.
func (g Gates) Evaluate(gov Governance) Status {
	if gov.Confidence >= g.PublishMinConfidence &&
		gov.Complexity <= g.PublishMaxComplexity &&
		gov.Depth <= g.PublishMaxDepth {
		return StatusPublished
	}
	if gov.Confidence >= g.ProposedMinConfidence &&
		gov.Complexity <= g.ProposedMaxComplexity &&
		gov.Depth <= g.ProposedMaxDepth {
		return StatusProposed
	}
	return StatusRejected
}
