package ontology

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// JSON-LD node types in the ldm namespace. Entities use owl:Class and
// properties owl:DatatypeProperty / owl:ObjectProperty; the remaining kinds
// have no OWL counterpart and use ldm types.
const (
	typeClass            = "owl:Class"
	typeDatatypeProperty = "owl:DatatypeProperty"
	typeObjectProperty   = "owl:ObjectProperty"
	typeRelation         = "ldm:Relation"
	typeEnum             = "ldm:Enumeration"
	typeAlias            = "ldm:AliasSet"
	typeShape            = "ldm:Shape"
)

// jsonldDoc is the export envelope.
type jsonldDoc struct {
	Context map[string]string `json:"@context"`
	Graph   []map[string]any  `json:"@graph"`
}

func govFields(node map[string]any, gov Governance) {
	node["ldm:confidence"] = gov.Confidence
	node["ldm:complexity"] = gov.Complexity
	node["ldm:depth"] = gov.Depth
	node["ldm:status"] = string(gov.Status)
	node["ldm:version"] = gov.Version
	if gov.Provenance != "" {
		node["ldm:provenance"] = gov.Provenance
	}
}

func govFromNode(node map[string]any) Governance {
	gov := Governance{}
	if v, ok := node["ldm:confidence"].(float64); ok {
		gov.Confidence = v
	}
	if v, ok := node["ldm:complexity"].(float64); ok {
		gov.Complexity = int(v)
	}
	if v, ok := node["ldm:depth"].(float64); ok {
		gov.Depth = int(v)
	}
	if v, ok := node["ldm:status"].(string); ok {
		gov.Status = Status(v)
	}
	if v, ok := node["ldm:version"].(float64); ok {
		gov.Version = int(v)
	}
	if v, ok := node["ldm:provenance"].(string); ok {
		gov.Provenance = v
	}
	return gov
}

// ExportJSONLD serializes the catalog as a JSON-LD document with an
// @context built from the prefix table. The output is deterministic:
// nodes appear sorted by @id within each kind.
func (c *Catalog) ExportJSONLD(prefixes *PrefixTable) ([]byte, error) {
	doc := jsonldDoc{Context: prefixes.Prefixes()}

	for _, e := range c.ListEntities() {
		node := map[string]any{
			"@id":           "ldm:" + e.LocalName,
			"@type":         typeClass,
			"ldm:localName": e.LocalName,
		}
		if e.CanonicalURI != "" {
			node["ldm:canonicalUri"] = e.CanonicalURI
		}
		if len(e.Parents) > 0 {
			parents := make([]string, len(e.Parents))
			for i, p := range e.Parents {
				parents[i] = "ldm:" + p
			}
			node["rdfs:subClassOf"] = parents
		}
		if len(e.Annotations) > 0 {
			node["ldm:annotations"] = e.Annotations
		}
		govFields(node, e.Governance)
		doc.Graph = append(doc.Graph, node)
	}

	for _, p := range c.ListProperties() {
		nodeType := typeObjectProperty
		if IsDatatypeRange(p.Range) {
			nodeType = typeDatatypeProperty
		}
		node := map[string]any{
			"@id":           "ldm:" + p.Owner + "." + p.LocalName,
			"@type":         nodeType,
			"ldm:localName": p.LocalName,
			"rdfs:domain":   "ldm:" + p.Owner,
			"rdfs:range":    rangeTerm(p.Range),
			"ldm:minCard":   p.MinCard,
			"ldm:maxCard":   p.MaxCard,
		}
		if p.CanonicalURI != "" {
			node["ldm:canonicalUri"] = p.CanonicalURI
		}
		if len(p.Annotations) > 0 {
			node["ldm:annotations"] = p.Annotations
		}
		govFields(node, p.Governance)
		doc.Graph = append(doc.Graph, node)
	}

	for _, r := range c.ListRelations() {
		node := map[string]any{
			"@id":           "ldm:" + r.LocalName,
			"@type":         typeRelation,
			"ldm:localName": r.LocalName,
			"rdfs:domain":   "ldm:" + r.FromEntity,
			"rdfs:range":    "ldm:" + r.ToEntity,
			"ldm:minCard":   r.MinCard,
			"ldm:maxCard":   r.MaxCard,
		}
		govFields(node, r.Governance)
		doc.Graph = append(doc.Graph, node)
	}

	enumNames := make([]string, 0, len(c.Enums))
	for name := range c.Enums {
		enumNames = append(enumNames, name)
	}
	sort.Strings(enumNames)
	for _, name := range enumNames {
		e := c.Enums[name]
		node := map[string]any{
			"@id":           "ldm:" + e.LocalName,
			"@type":         typeEnum,
			"ldm:localName": e.LocalName,
			"ldm:values":    e.Values,
		}
		govFields(node, e.Governance)
		doc.Graph = append(doc.Graph, node)
	}

	aliasNames := make([]string, 0, len(c.Aliases))
	for name := range c.Aliases {
		aliasNames = append(aliasNames, name)
	}
	sort.Strings(aliasNames)
	for _, name := range aliasNames {
		a := c.Aliases[name]
		node := map[string]any{
			"@id":           "ldm:alias/" + a.Canonical,
			"@type":         typeAlias,
			"ldm:canonical": a.Canonical,
			"ldm:aliases":   a.Aliases,
		}
		if a.Locale != "" {
			node["ldm:locale"] = a.Locale
		}
		govFields(node, a.Governance)
		doc.Graph = append(doc.Graph, node)
	}

	shapeNames := make([]string, 0, len(c.Shapes))
	for name := range c.Shapes {
		shapeNames = append(shapeNames, name)
	}
	sort.Strings(shapeNames)
	for _, name := range shapeNames {
		s := c.Shapes[name]
		node := map[string]any{
			"@id":            "ldm:shape/" + s.AppliesToEntity,
			"@type":          typeShape,
			"ldm:targetNode": "ldm:" + s.AppliesToEntity,
		}
		if len(s.PropertyConstraints) > 0 {
			node["ldm:constraints"] = s.PropertyConstraints
		}
		govFields(node, s.Governance)
		doc.Graph = append(doc.Graph, node)
	}

	return json.MarshalIndent(doc, "", "  ")
}

func rangeTerm(r string) string {
	if IsDatatypeRange(r) {
		return r
	}
	return "ldm:" + r
}

// ExportTurtle serializes the catalog as RDF Turtle. Literal values use
// plain quoting; the output is deterministic.
func (c *Catalog) ExportTurtle(prefixes *PrefixTable) ([]byte, error) {
	var b strings.Builder

	prefixMap := prefixes.Prefixes()
	names := make([]string, 0, len(prefixMap))
	for name := range prefixMap {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "@prefix %s: <%s> .\n", name, prefixMap[name])
	}
	b.WriteString("\n")

	for _, e := range c.ListEntities() {
		fmt.Fprintf(&b, "ldm:%s a owl:Class ;\n", e.LocalName)
		for _, p := range e.Parents {
			fmt.Fprintf(&b, "    rdfs:subClassOf ldm:%s ;\n", p)
		}
		fmt.Fprintf(&b, "    ldm:status %q .\n\n", e.Governance.Status)
	}

	for _, p := range c.ListProperties() {
		kind := "owl:ObjectProperty"
		if IsDatatypeRange(p.Range) {
			kind = "owl:DatatypeProperty"
		}
		fmt.Fprintf(&b, "ldm:%s a %s ;\n", p.LocalName, kind)
		fmt.Fprintf(&b, "    rdfs:domain ldm:%s ;\n", p.Owner)
		fmt.Fprintf(&b, "    rdfs:range %s ;\n", rangeTerm(p.Range))
		fmt.Fprintf(&b, "    ldm:status %q .\n\n", p.Governance.Status)
	}

	for _, r := range c.ListRelations() {
		fmt.Fprintf(&b, "ldm:%s a owl:ObjectProperty ;\n", r.LocalName)
		fmt.Fprintf(&b, "    rdfs:domain ldm:%s ;\n", r.FromEntity)
		fmt.Fprintf(&b, "    rdfs:range ldm:%s ;\n", r.ToEntity)
		fmt.Fprintf(&b, "    ldm:status %q .\n\n", r.Governance.Status)
	}

	return []byte(b.String()), nil
}
