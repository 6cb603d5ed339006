package ontology

import (
	"context"

	"go.uber.org/zap"

	"github.com/limbodancer/limbodancer-mcp/internal/logging"
)

// PropertyKeyMapper resolves ontology predicates (CURIE, absolute IRI, or
// local name) to concrete graph property keys.
//
// Resolution order: exact property-key match, then canonical URI, then
// local-name fallback. Unmapped predicates are reported to the caller:
// effects on them are skipped with a warning, preconditions fail closed.
type PropertyKeyMapper struct {
	prefixes *PrefixTable
	logger   *logging.Logger
}

// NewPropertyKeyMapper creates a mapper over the prefix table.
func NewPropertyKeyMapper(prefixes *PrefixTable, logger *logging.Logger) *PropertyKeyMapper {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &PropertyKeyMapper{prefixes: prefixes, logger: logger}
}

// Resolve maps a predicate term to the graph property key for the catalog.
// The boolean is false when the predicate is unmapped.
func (m *PropertyKeyMapper) Resolve(ctx context.Context, cat *Catalog, predicate string) (string, bool) {
	if predicate == "" {
		return "", false
	}

	// Exact match against a known property key (owner.localName).
	if _, ok := cat.Properties[predicate]; ok {
		return predicate, true
	}

	// Canonical URI match: expand CURIEs, compare against canonical URIs.
	// This outranks the local-name fallback, so a bare term expanding into
	// the native namespace cannot shadow an explicit canonical mapping.
	expanded := ""
	if uri, err := m.prefixes.Expand(predicate); err == nil {
		expanded = uri
		for key, p := range cat.Properties {
			if p.CanonicalURI != "" && p.CanonicalURI == uri {
				return key, true
			}
		}
	}

	// Local-name fallback from the bare term or the URI fragment.
	local := LocalPart(predicate)
	if expanded != "" {
		local = LocalPart(expanded)
	}
	for key, p := range cat.Properties {
		if p.LocalName == local {
			return key, true
		}
	}

	m.logger.Warn(ctx, "unmapped ontology predicate",
		zap.String("predicate", predicate),
		zap.String("scope", cat.Scope.String()))
	return "", false
}
