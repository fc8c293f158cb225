package processus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/meridian-compliance/meridian/internal/platform/httpx"
)

// numeroPrefix precedes the zero-padded sequence, giving PRS01, PRS02, ...
const numeroPrefix = "PRS"

// Service handles processus business logic.
type Service struct {
	repo     RepositoryPort
	collator *collate.Collator
	now      func() time.Time
}

// NewService builds Service instance. Names are collated in French, matching
// the registry's working language.
func NewService(repo RepositoryPort) *Service {
	return &Service{
		repo:     repo,
		collator: collate.New(language.French, collate.IgnoreCase),
		now:      time.Now,
	}
}

// Create registers a processus under the next free numero. A concurrent
// creation racing for the same numero retries once with a fresh number.
func (s *Service) Create(ctx context.Context, input CreateInput) (*Processus, error) {
	for attempt := 0; attempt < 2; attempt++ {
		max, err := s.repo.MaxNumero(ctx)
		if err != nil {
			return nil, err
		}
		now := s.now()
		p := Processus{
			ID:          uuid.New(),
			Numero:      fmt.Sprintf("%s%02d", numeroPrefix, max+1),
			Nom:         input.Nom,
			Description: input.Description,
			IsActive:    true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		err = s.repo.Create(ctx, p)
		if err == nil {
			return &p, nil
		}
		if !errors.Is(err, httpx.ErrDuplicate) {
			return nil, err
		}
	}
	return nil, httpx.ErrDuplicate
}

// Update edits a processus in place; numero is immutable.
func (s *Service) Update(ctx context.Context, id uuid.UUID, input UpdateInput) (*Processus, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Nom = input.Nom
	p.Description = input.Description
	p.IsActive = input.IsActive
	p.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, *p); err != nil {
		return nil, err
	}
	return p, nil
}

// Get loads one processus.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Processus, error) {
	return s.repo.Get(ctx, id)
}

// List returns processus ordered by name under French collation, so accented
// names slot where a French reader expects them.
func (s *Service) List(ctx context.Context, includeInactive bool) ([]Processus, error) {
	out, err := s.repo.List(ctx, includeInactive)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return s.collator.CompareString(out[i].Nom, out[j].Nom) < 0
	})
	return out, nil
}
