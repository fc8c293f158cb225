package authz

import (
	"context"

	"github.com/google/uuid"
)

// AssignmentStore persists the (user, processus, role) grants. A user's
// effective role set for a processus is the union of active assignments;
// zero assignments means zero capabilities.
type AssignmentStore interface {
	Assign(ctx context.Context, assignment Assignment) error
	Revoke(ctx context.Context, userID int64, processusID uuid.UUID, role RoleCode) error
	RolesFor(ctx context.Context, userID int64, processusID uuid.UUID) ([]RoleCode, error)
	AssignmentsFor(ctx context.Context, userID int64) ([]Assignment, error)
	ProcessusScopeFor(ctx context.Context, userID int64) ([]uuid.UUID, error)
}
