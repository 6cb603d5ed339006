package tools

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/limbodancer/limbodancer-mcp/internal/fault"
	"github.com/limbodancer/limbodancer-mcp/internal/store"
)

// Precondition is one typed constraint on a subject vertex, expressed in
// ontology terms (CURIE, absolute IRI, or local name).
type Precondition struct {
	Predicate string `json:"predicate"`
	Op        string `json:"op"`
	Expected  any    `json:"expected,omitempty"`
}

// Violation explains one failed precondition.
type Violation struct {
	Predicate string `json:"predicate"`
	Reason    string `json:"reason"`
}

// PreconditionResult is the structured evaluation outcome.
type PreconditionResult struct {
	IsSatisfied bool        `json:"isSatisfied"`
	Violations  []Violation `json:"violations"`
}

// Effect is one graph mutation: either a property upsert (Value) or a
// directed edge upsert (EdgeTarget+EdgeLabel).
type Effect struct {
	Predicate  string `json:"predicate"`
	Value      any    `json:"value,omitempty"`
	EdgeTarget string `json:"edgeTarget,omitempty"`
	EdgeLabel  string `json:"edgeLabel,omitempty"`
	Mode       string `json:"mode,omitempty"`
}

// EvaluatePreconditions resolves each predicate through the property key
// mapper and checks it against the subject vertex. A missing subject fails
// every precondition with subject-missing; unmapped predicates fail closed.
func (d Deps) EvaluatePreconditions(ctx context.Context, subjectID string, pres []Precondition) (PreconditionResult, error) {
	scope, err := requireScope(ctx)
	if err != nil {
		return PreconditionResult{}, err
	}

	subject, err := d.Graph.GetVertex(ctx, scope, subjectID)
	if err != nil {
		return PreconditionResult{}, err
	}
	if subject == nil {
		violations := make([]Violation, 0, len(pres))
		for _, p := range pres {
			violations = append(violations, Violation{Predicate: p.Predicate, Reason: "subject-missing"})
		}
		return PreconditionResult{IsSatisfied: false, Violations: violations}, nil
	}

	cat, err := d.Ontology.Catalog(ctx, scope)
	if err != nil {
		return PreconditionResult{}, err
	}

	result := PreconditionResult{IsSatisfied: true, Violations: []Violation{}}
	for _, p := range pres {
		key, ok := d.Mapper.Resolve(ctx, cat, p.Predicate)
		if !ok {
			result.IsSatisfied = false
			result.Violations = append(result.Violations, Violation{
				Predicate: p.Predicate, Reason: "unmapped-predicate",
			})
			continue
		}

		val, exists, err := d.Graph.GetVertexProperty(ctx, scope, subjectID, key)
		if err != nil {
			return PreconditionResult{}, err
		}
		if reason := checkOp(p.Op, val, exists, p.Expected); reason != "" {
			result.IsSatisfied = false
			result.Violations = append(result.Violations, Violation{
				Predicate: p.Predicate, Reason: reason,
			})
		}
	}
	return result, nil
}

func checkOp(op string, val any, exists bool, expected any) string {
	switch op {
	case store.OpEq:
		if !exists {
			return "property missing"
		}
		if val != expected {
			return fmt.Sprintf("expected %v, found %v", expected, val)
		}
	case store.OpNeq:
		if exists && val == expected {
			return fmt.Sprintf("must not equal %v", expected)
		}
	case store.OpExists:
		if !exists {
			return "property missing"
		}
	case store.OpNotExists:
		if exists {
			return "property present"
		}
	default:
		return fmt.Sprintf("unsupported operator %q", op)
	}
	return ""
}

// CommitEffects applies effects in the given order. Effects on unmapped
// predicates are skipped with a warning. The first failing effect aborts
// the remainder with effect-failed; nothing already applied is rolled back.
func (d Deps) CommitEffects(ctx context.Context, subjectID string, effects []Effect) error {
	scope, err := requireScope(ctx)
	if err != nil {
		return err
	}
	cat, err := d.Ontology.Catalog(ctx, scope)
	if err != nil {
		return err
	}

	for i, effect := range effects {
		if effect.EdgeTarget != "" {
			if effect.EdgeLabel == "" {
				return fault.New(fault.EffectFailed, "effect %d: edge target without label", i).
					WithDetail("predicate", effect.Predicate)
			}
			if err := d.Graph.UpsertEdge(ctx, scope, subjectID, effect.EdgeTarget, effect.EdgeLabel); err != nil {
				return fault.Wrap(fault.EffectFailed, err, "effect %d: edge upsert failed", i).
					WithDetail("predicate", effect.Predicate)
			}
			continue
		}

		key, ok := d.Mapper.Resolve(ctx, cat, effect.Predicate)
		if !ok {
			d.Logger.Warn(ctx, "skipping effect on unmapped predicate",
				zap.String("predicate", effect.Predicate),
				zap.String("subject", subjectID))
			continue
		}
		if err := d.Graph.UpsertVertexProperty(ctx, scope, subjectID, key, effect.Value); err != nil {
			return fault.Wrap(fault.EffectFailed, err, "effect %d: property upsert failed", i).
				WithDetail("predicate", effect.Predicate)
		}
	}
	return nil
}
