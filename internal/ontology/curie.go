package ontology

import (
	"strings"

	"github.com/limbodancer/limbodancer-mcp/internal/fault"
)

// Default prefix table. ldm is the native namespace.
var defaultPrefixes = map[string]string{
	"ldm":  "https://limbodancer.io/ontology/",
	"rdf":  "http://www.w3.org/1999/02/22-rdf-syntax-ns#",
	"rdfs": "http://www.w3.org/2000/01/rdf-schema#",
	"xsd":  "http://www.w3.org/2001/XMLSchema#",
	"owl":  "http://www.w3.org/2002/07/owl#",
}

// PrefixTable expands CURIEs of the form prefix:local.
type PrefixTable struct {
	prefixes map[string]string
}

// NewPrefixTable returns the default table plus any extra prefixes.
func NewPrefixTable(extra map[string]string) *PrefixTable {
	p := make(map[string]string, len(defaultPrefixes)+len(extra))
	for k, v := range defaultPrefixes {
		p[k] = v
	}
	for k, v := range extra {
		p[k] = v
	}
	return &PrefixTable{prefixes: p}
}

// Prefixes returns a copy of the prefix map, for exports.
func (t *PrefixTable) Prefixes() map[string]string {
	out := make(map[string]string, len(t.prefixes))
	for k, v := range t.prefixes {
		out[k] = v
	}
	return out
}

// Expand resolves a CURIE to an absolute URI. Absolute URIs pass through
// unchanged. Terms without a colon are treated as ldm-local names.
func (t *PrefixTable) Expand(term string) (string, error) {
	if term == "" {
		return "", fault.New(fault.UnknownPrefix, "empty term")
	}
	if strings.HasPrefix(term, "http://") || strings.HasPrefix(term, "https://") ||
		strings.HasPrefix(term, "urn:") {
		return term, nil
	}
	idx := strings.Index(term, ":")
	if idx < 0 {
		return t.prefixes["ldm"] + term, nil
	}
	prefix, local := term[:idx], term[idx+1:]
	base, ok := t.prefixes[prefix]
	if !ok {
		return "", fault.New(fault.UnknownPrefix, "unknown prefix %q in %q", prefix, term)
	}
	return base + local, nil
}

// Compact rewrites an absolute URI to CURIE form when a prefix matches.
// The longest matching namespace wins.
func (t *PrefixTable) Compact(uri string) string {
	best, bestPrefix := "", ""
	for prefix, base := range t.prefixes {
		if strings.HasPrefix(uri, base) && len(base) > len(best) {
			best, bestPrefix = base, prefix
		}
	}
	if best == "" {
		return uri
	}
	return bestPrefix + ":" + strings.TrimPrefix(uri, best)
}

// LocalPart returns the fragment after the last #, / or :.
func LocalPart(term string) string {
	if i := strings.LastIndexAny(term, "#/:"); i >= 0 && i+1 < len(term) {
		return term[i+1:]
	}
	return term
}

// IsDatatypeRange reports whether a property range names an XSD datatype
// rather than an entity.
func IsDatatypeRange(r string) bool {
	return strings.HasPrefix(r, "xsd:")
}
