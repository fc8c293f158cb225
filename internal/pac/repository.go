package pac

import (
	"context"

	"github.com/google/uuid"
)

// RepositoryPort defines data access methods for plan content. Chain headers
// live in the lifecycle store.
type RepositoryPort interface {
	SetOrigin(ctx context.Context, recordID uuid.UUID, origin string) error
	Origin(ctx context.Context, recordID uuid.UUID) (string, error)

	InsertTreatment(ctx context.Context, tr Treatment) error
	UpdateTreatment(ctx context.Context, tr Treatment) error
	DeleteTreatment(ctx context.Context, recordID, treatmentID uuid.UUID) error
	GetTreatment(ctx context.Context, recordID, treatmentID uuid.UUID) (*Treatment, error)
	ListTreatments(ctx context.Context, recordID uuid.UUID) ([]Treatment, error)

	InsertFollowUp(ctx context.Context, fu FollowUp) error

	CloneInto(ctx context.Context, fromRecordID, toRecordID uuid.UUID) error
}
