package lifecycle

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/meridian-compliance/meridian/internal/authz"
)

// View loads a record together with its permission-engine projection. The
// projection carries chain position so contextual predicates can rule on
// predecessor validation and the successor freeze without touching storage.
func (c *Controller) View(ctx context.Context, module string, id uuid.UUID) (Record, authz.RecordView, error) {
	rec, err := c.Get(ctx, module, id)
	if err != nil {
		return Record{}, authz.RecordView{}, err
	}
	view := authz.RecordView{
		ID:          rec.ID,
		ProcessusID: rec.ProcessusID,
		Stage:       int(rec.Stage),
		IsValidated: rec.IsValidated,
		CreatedBy:   rec.CreatedBy,
	}
	if rec.Stage > StageInitial {
		view.HasPredecessor = true
		prev, _ := rec.Stage.Prev()
		chain, err := c.repo.Chain(ctx, module, rec.ChainID())
		if err != nil {
			return Record{}, authz.RecordView{}, fmt.Errorf("lifecycle: view chain: %w", err)
		}
		for _, link := range chain {
			if link.Stage == prev {
				view.PredecessorValidated = link.IsValidated
			}
		}
	}
	succ, err := c.repo.Successor(ctx, module, rec)
	if err != nil {
		return Record{}, authz.RecordView{}, fmt.Errorf("lifecycle: view successor: %w", err)
	}
	view.HasSuccessor = succ != nil
	return rec, view, nil
}

// ResolverFor returns a processus resolver that maps a record id in module
// to the processus it belongs to. Adapters register it for their
// record-scoped actions.
func (c *Controller) ResolverFor(module string) func(ctx context.Context, ref uuid.UUID) (uuid.UUID, error) {
	return func(ctx context.Context, ref uuid.UUID) (uuid.UUID, error) {
		rec, err := c.repo.Get(ctx, module, ref)
		if err != nil {
			return uuid.Nil, err
		}
		return rec.ProcessusID, nil
	}
}
