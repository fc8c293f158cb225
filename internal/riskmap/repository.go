package riskmap

import (
	"context"

	"github.com/google/uuid"
)

// RepositoryPort defines data access methods for risk map content. Chain
// headers live in the lifecycle store; this port owns titles and children.
type RepositoryPort interface {
	SetTitle(ctx context.Context, recordID uuid.UUID, title string) error
	Title(ctx context.Context, recordID uuid.UUID) (string, error)

	InsertDetail(ctx context.Context, d DetailRow) error
	UpdateDetail(ctx context.Context, d DetailRow) error
	DeleteDetail(ctx context.Context, recordID, detailID uuid.UUID) error
	GetDetail(ctx context.Context, recordID, detailID uuid.UUID) (*DetailRow, error)
	ListDetails(ctx context.Context, recordID uuid.UUID) ([]DetailRow, error)

	InsertEvaluation(ctx context.Context, e Evaluation) error
	InsertActionPlan(ctx context.Context, p ActionPlan) error

	CloneInto(ctx context.Context, fromRecordID, toRecordID uuid.UUID) error
}
