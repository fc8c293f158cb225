package activities

import (
	"context"

	"github.com/google/uuid"
)

// RepositoryPort defines data access methods for program content. Chain
// headers live in the lifecycle store. InsertEntry returns
// httpx.ErrDuplicate when the (activity, month) slot is already taken.
type RepositoryPort interface {
	SetTitle(ctx context.Context, recordID uuid.UUID, title string) error
	Title(ctx context.Context, recordID uuid.UUID) (string, error)

	InsertActivity(ctx context.Context, a Activity) error
	UpdateActivity(ctx context.Context, a Activity) error
	DeleteActivity(ctx context.Context, recordID, activityID uuid.UUID) error
	GetActivity(ctx context.Context, recordID, activityID uuid.UUID) (*Activity, error)
	ListActivities(ctx context.Context, recordID uuid.UUID) ([]Activity, error)

	InsertEntry(ctx context.Context, e MonthEntry) error

	CloneInto(ctx context.Context, fromRecordID, toRecordID uuid.UUID) error
}
