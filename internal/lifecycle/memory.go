package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-compliance/meridian/internal/platform/httpx"
)

// MemoryRepository is an in-memory RepositoryPort used by tests and local
// development. It honors the same uniqueness and conditional-update
// contracts as the SQL implementation.
type MemoryRepository struct {
	mu      sync.Mutex
	records map[uuid.UUID]Record
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[uuid.UUID]Record)}
}

var _ RepositoryPort = (*MemoryRepository)(nil)

func (r *MemoryRepository) Get(ctx context.Context, module string, id uuid.UUID) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.Module != module {
		return Record{}, httpx.ErrNotFound
	}
	return rec, nil
}

func (r *MemoryRepository) Chain(ctx context.Context, module string, chainID uuid.UUID) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var chain []Record
	for _, rec := range r.records {
		if rec.Module == module && rec.ChainID() == chainID {
			chain = append(chain, rec)
		}
	}
	for i := range chain {
		for j := i + 1; j < len(chain); j++ {
			if chain[j].Stage < chain[i].Stage {
				chain[i], chain[j] = chain[j], chain[i]
			}
		}
	}
	return chain, nil
}

func (r *MemoryRepository) ListByProcessus(ctx context.Context, module string, processusID uuid.UUID, period int) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Record
	for _, rec := range r.records {
		if rec.Module == module && rec.ProcessusID == processusID && (period == 0 || rec.Period == period) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *MemoryRepository) InitialTaken(ctx context.Context, module string, processusID uuid.UUID, period int, createdBy int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findInitial(module, processusID, period, createdBy) != nil, nil
}

func (r *MemoryRepository) StageTaken(ctx context.Context, module string, chainID uuid.UUID, stage Stage) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findChainStage(module, chainID, stage) != nil, nil
}

func (r *MemoryRepository) Successor(ctx context.Context, module string, rec Record) (*Record, error) {
	next, ok := rec.Stage.Next()
	if !ok {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findChainStage(module, rec.ChainID(), next), nil
}

func (r *MemoryRepository) Insert(ctx context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.Stage == StageInitial {
		if r.findInitial(rec.Module, rec.ProcessusID, rec.Period, rec.CreatedBy) != nil {
			return httpx.ErrDuplicate
		}
	} else if r.findChainStage(rec.Module, rec.ChainID(), rec.Stage) != nil {
		return httpx.ErrDuplicate
	}
	r.records[rec.ID] = rec
	return nil
}

func (r *MemoryRepository) MarkValidated(ctx context.Context, module string, id uuid.UUID, validatorID int64, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.Module != module || rec.IsValidated {
		return false, nil
	}
	rec.IsValidated = true
	rec.ValidatedBy = &validatorID
	rec.ValidatedAt = &at
	r.records[id] = rec
	return true, nil
}

func (r *MemoryRepository) MarkUnvalidated(ctx context.Context, module string, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.Module != module || !rec.IsValidated {
		return false, nil
	}
	rec.IsValidated = false
	rec.ValidatedBy = nil
	r.records[id] = rec
	return true, nil
}

func (r *MemoryRepository) findInitial(module string, processusID uuid.UUID, period int, createdBy int64) *Record {
	for _, rec := range r.records {
		if rec.Module == module && rec.ProcessusID == processusID && rec.Period == period &&
			rec.CreatedBy == createdBy && rec.Stage == StageInitial {
			found := rec
			return &found
		}
	}
	return nil
}

func (r *MemoryRepository) findChainStage(module string, chainID uuid.UUID, stage Stage) *Record {
	for _, rec := range r.records {
		if rec.Module == module && rec.ChainID() == chainID && rec.Stage == stage {
			found := rec
			return &found
		}
	}
	return nil
}
