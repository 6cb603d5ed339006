package ontology

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/limbodancer/limbodancer-mcp/internal/fault"
	"github.com/limbodancer/limbodancer-mcp/internal/tenancy"
)

// ImportJSONLD parses a document produced by ExportJSONLD and upserts every
// definition into the repository for the given scope. Timestamps and
// versions are reassigned by the repository; everything else round-trips.
func ImportJSONLD(ctx context.Context, repo Repository, scope tenancy.Scope, data []byte) error {
	var doc jsonldDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fault.Wrap(fault.SchemaInvalid, err, "malformed JSON-LD document")
	}

	for _, node := range doc.Graph {
		nodeType, _ := node["@type"].(string)
		gov := govFromNode(node)

		switch nodeType {
		case typeClass:
			def := &EntityDef{
				LocalName:    str(node, "ldm:localName"),
				CanonicalURI: str(node, "ldm:canonicalUri"),
				Parents:      trimPrefixed(strs(node, "rdfs:subClassOf")),
				Annotations:  strMap(node, "ldm:annotations"),
				Governance:   gov,
			}
			if err := repo.UpsertEntity(ctx, scope, def); err != nil {
				return err
			}

		case typeDatatypeProperty, typeObjectProperty:
			def := &PropertyDef{
				Owner:        strings.TrimPrefix(str(node, "rdfs:domain"), "ldm:"),
				LocalName:    str(node, "ldm:localName"),
				CanonicalURI: str(node, "ldm:canonicalUri"),
				Range:        strings.TrimPrefix(str(node, "rdfs:range"), "ldm:"),
				MinCard:      num(node, "ldm:minCard"),
				MaxCard:      num(node, "ldm:maxCard"),
				Annotations:  strMap(node, "ldm:annotations"),
				Governance:   gov,
			}
			if err := repo.UpsertProperty(ctx, scope, def); err != nil {
				return err
			}

		case typeRelation:
			def := &RelationDef{
				LocalName:  str(node, "ldm:localName"),
				FromEntity: strings.TrimPrefix(str(node, "rdfs:domain"), "ldm:"),
				ToEntity:   strings.TrimPrefix(str(node, "rdfs:range"), "ldm:"),
				MinCard:    num(node, "ldm:minCard"),
				MaxCard:    num(node, "ldm:maxCard"),
				Governance: gov,
			}
			if err := repo.UpsertRelation(ctx, scope, def); err != nil {
				return err
			}

		case typeEnum:
			def := &EnumDef{
				LocalName:  str(node, "ldm:localName"),
				Values:     strs(node, "ldm:values"),
				Governance: gov,
			}
			if err := repo.UpsertEnum(ctx, scope, def); err != nil {
				return err
			}

		case typeAlias:
			def := &AliasDef{
				Canonical:  str(node, "ldm:canonical"),
				Aliases:    strs(node, "ldm:aliases"),
				Locale:     str(node, "ldm:locale"),
				Governance: gov,
			}
			if err := repo.UpsertAlias(ctx, scope, def); err != nil {
				return err
			}

		case typeShape:
			def := &ShapeDef{
				AppliesToEntity: strings.TrimPrefix(str(node, "ldm:targetNode"), "ldm:"),
				Governance:      gov,
			}
			if raw, ok := node["ldm:constraints"]; ok {
				buf, err := json.Marshal(raw)
				if err == nil {
					_ = json.Unmarshal(buf, &def.PropertyConstraints)
				}
			}
			if err := repo.UpsertShape(ctx, scope, def); err != nil {
				return err
			}

		default:
			return fault.New(fault.SchemaInvalid, "unknown node type %q", nodeType)
		}
	}
	return nil
}

func str(node map[string]any, key string) string {
	s, _ := node[key].(string)
	return s
}

func num(node map[string]any, key string) int {
	if f, ok := node[key].(float64); ok {
		return int(f)
	}
	return 0
}

func strs(node map[string]any, key string) []string {
	raw, ok := node[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func strMap(node map[string]any, key string) map[string]string {
	raw, ok := node[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

func trimPrefixed(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.TrimPrefix(s, "ldm:")
	}
	return out
}
