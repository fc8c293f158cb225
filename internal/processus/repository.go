package processus

import (
	"context"

	"github.com/google/uuid"
)

// RepositoryPort defines data access methods for processus.
type RepositoryPort interface {
	Create(ctx context.Context, p Processus) error
	Update(ctx context.Context, p Processus) error
	Get(ctx context.Context, id uuid.UUID) (*Processus, error)
	List(ctx context.Context, includeInactive bool) ([]Processus, error)
	MaxNumero(ctx context.Context) (int, error)
}
