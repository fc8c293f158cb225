package authz

import (
	"context"

	"github.com/google/uuid"
)

// CheckInput carries the evaluation context into contextual predicates.
type CheckInput struct {
	User        User
	Module      Module
	Action      ActionCode
	ProcessusID uuid.UUID
	Record      *RecordView
}

// Predicate is a record-state-dependent check layered on top of the static
// role check. Predicates for one action are AND-composed; the first failing
// reason is returned verbatim.
type Predicate func(ctx context.Context, in CheckInput) Decision

// PredicateRegistry holds contextual predicates keyed by (module, action).
// It is populated at boot and read-only afterwards.
type PredicateRegistry struct {
	entries map[capKey][]Predicate
}

// NewPredicateRegistry returns an empty registry.
func NewPredicateRegistry() *PredicateRegistry {
	return &PredicateRegistry{entries: make(map[capKey][]Predicate)}
}

// Register appends predicates for (module, action).
func (r *PredicateRegistry) Register(module Module, action ActionCode, preds ...Predicate) {
	key := capKey{module: module, action: action}
	r.entries[key] = append(r.entries[key], preds...)
}

// For returns the predicates registered for (module, action).
func (r *PredicateRegistry) For(module Module, action ActionCode) []Predicate {
	if r == nil {
		return nil
	}
	return r.entries[capKey{module: module, action: action}]
}

// Evaluate runs the predicates for (module, action) in registration order and
// returns the first failure. No predicates, or no record to inspect, is an
// allow at this layer; the static role check has already passed.
func (r *PredicateRegistry) Evaluate(ctx context.Context, in CheckInput) Decision {
	preds := r.For(in.Module, in.Action)
	if len(preds) == 0 || in.Record == nil {
		return Allow(ReasonRoleAllowed)
	}
	for _, pred := range preds {
		if d := pred(ctx, in); !d.Allowed {
			return d
		}
	}
	return Allow(ReasonRoleAllowed)
}

// Built-in predicates shared by the module adapters.

// MustBeCreator requires the caller to be the record's creator.
func MustBeCreator(ctx context.Context, in CheckInput) Decision {
	if in.Record.CreatedBy != in.User.ID {
		return Deny("caller is not the record creator")
	}
	return Allow(ReasonRoleAllowed)
}

// MustNotBeValidated blocks actions on records already validated.
func MustNotBeValidated(ctx context.Context, in CheckInput) Decision {
	if in.Record.IsValidated {
		return Deny("record already validated")
	}
	return Allow(ReasonRoleAllowed)
}

// MustBeValidated is the inverse gate, for operations legal only once the
// record has been validated.
func MustBeValidated(ctx context.Context, in CheckInput) Decision {
	if !in.Record.IsValidated {
		return Deny("record not yet validated")
	}
	return Allow(ReasonRoleAllowed)
}

// MustHaveValidatedPredecessor requires the previous chain stage, when one
// exists, to be validated.
func MustHaveValidatedPredecessor(ctx context.Context, in CheckInput) Decision {
	if in.Record.HasPredecessor && !in.Record.PredecessorValidated {
		return Deny("predecessor not validated")
	}
	return Allow(ReasonRoleAllowed)
}

// RecordBelongsToProcessus rejects records from a different processus than
// the one the permission was checked against.
func RecordBelongsToProcessus(ctx context.Context, in CheckInput) Decision {
	if in.Record.ProcessusID != in.ProcessusID {
		return Deny("record does not belong to processus")
	}
	return Allow(ReasonRoleAllowed)
}

// NoSuperiorAmendment blocks mutations on a record once a later amendment
// exists in the chain, whatever that amendment's own validation state.
func NoSuperiorAmendment(ctx context.Context, in CheckInput) Decision {
	if in.Record.HasSuccessor {
		return Deny("a later amendment exists")
	}
	return Allow(ReasonRoleAllowed)
}
