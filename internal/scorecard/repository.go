package scorecard

import (
	"context"

	"github.com/google/uuid"
)

// RepositoryPort defines data access methods for scorecard content. Chain
// headers live in the lifecycle store.
type RepositoryPort interface {
	SetName(ctx context.Context, recordID uuid.UUID, name string) error
	Name(ctx context.Context, recordID uuid.UUID) (string, error)

	InsertObjective(ctx context.Context, o Objective) error
	UpdateObjective(ctx context.Context, o Objective) error
	DeleteObjective(ctx context.Context, recordID, objectiveID uuid.UUID) error
	ListObjectives(ctx context.Context, recordID uuid.UUID) ([]Objective, error)

	InsertIndicator(ctx context.Context, recordID uuid.UUID, in Indicator) error
	UpdateIndicator(ctx context.Context, recordID uuid.UUID, in Indicator) error
	DeleteIndicator(ctx context.Context, recordID, indicatorID uuid.UUID) error
	GetIndicator(ctx context.Context, recordID, indicatorID uuid.UUID) (*Indicator, error)

	InsertObservation(ctx context.Context, ob Observation) error

	CloneInto(ctx context.Context, fromRecordID, toRecordID uuid.UUID) error
}
