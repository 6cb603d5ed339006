package ontology

import (
	"fmt"
	"sort"
)

// Validate runs the referential checks over a catalog:
//
//	(i)   every parent in EntityDef.Parents exists
//	(ii)  every PropertyDef.Owner exists; entity-ranged properties
//	      reference an existing entity
//	(iii) relation endpoints exist
//	(iv)  shape targets exist
//	(v)   all definitions carry the catalog's scope (enforced structurally;
//	      the catalog holds no per-definition scope to diverge)
//
// It returns every violation found, not just the first.
func (c *Catalog) Validate() []string {
	var errs []string

	for name, e := range c.Entities {
		for _, parent := range e.Parents {
			if _, ok := c.Entities[parent]; !ok {
				errs = append(errs, fmt.Sprintf("entity %q: parent %q does not exist", name, parent))
			}
		}
	}

	for key, p := range c.Properties {
		if _, ok := c.Entities[p.Owner]; !ok {
			errs = append(errs, fmt.Sprintf("property %q: owner entity %q does not exist", key, p.Owner))
		}
		if !IsDatatypeRange(p.Range) {
			if _, ok := c.Entities[p.Range]; !ok {
				errs = append(errs, fmt.Sprintf("property %q: range entity %q does not exist", key, p.Range))
			}
		}
		if p.MaxCard >= 0 && p.MinCard > p.MaxCard {
			errs = append(errs, fmt.Sprintf("property %q: minCard %d exceeds maxCard %d", key, p.MinCard, p.MaxCard))
		}
	}

	for name, r := range c.Relations {
		if _, ok := c.Entities[r.FromEntity]; !ok {
			errs = append(errs, fmt.Sprintf("relation %q: from entity %q does not exist", name, r.FromEntity))
		}
		if _, ok := c.Entities[r.ToEntity]; !ok {
			errs = append(errs, fmt.Sprintf("relation %q: to entity %q does not exist", name, r.ToEntity))
		}
	}

	for entity := range c.Shapes {
		if _, ok := c.Entities[entity]; !ok {
			errs = append(errs, fmt.Sprintf("shape for %q: entity does not exist", entity))
		}
	}

	sort.Strings(errs)
	return errs
}
