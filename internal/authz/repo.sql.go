package authz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for role assignments.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ AssignmentStore = (*Repository)(nil)

// Assign grants a role, reactivating a previously revoked assignment if one
// exists for the same (user, processus, role).
func (r *Repository) Assign(ctx context.Context, a Assignment) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO user_processus_roles (user_id, processus_id, role_code, granted_by, is_active, granted_at)
VALUES ($1, $2, $3, $4, TRUE, COALESCE($5, NOW()))
ON CONFLICT (user_id, processus_id, role_code)
DO UPDATE SET is_active = TRUE, granted_by = EXCLUDED.granted_by, granted_at = EXCLUDED.granted_at`,
		a.UserID, a.ProcessusID, a.Role, a.GrantedBy, nullableTime(a.GrantedAt))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return fmt.Errorf("authz: assign references unknown user or processus: %w", err)
		}
		return fmt.Errorf("authz: assign: %w", err)
	}
	return nil
}

// Revoke deactivates an assignment. Revoking an absent assignment is not an
// error; the end state is identical.
func (r *Repository) Revoke(ctx context.Context, userID int64, processusID uuid.UUID, role RoleCode) error {
	_, err := r.pool.Exec(ctx, `UPDATE user_processus_roles SET is_active = FALSE
WHERE user_id = $1 AND processus_id = $2 AND role_code = $3`, userID, processusID, role)
	if err != nil {
		return fmt.Errorf("authz: revoke: %w", err)
	}
	return nil
}

// RolesFor returns the active role codes a user holds for one processus.
func (r *Repository) RolesFor(ctx context.Context, userID int64, processusID uuid.UUID) ([]RoleCode, error) {
	rows, err := r.pool.Query(ctx, `SELECT role_code FROM user_processus_roles
WHERE user_id = $1 AND processus_id = $2 AND is_active`, userID, processusID)
	if err != nil {
		return nil, fmt.Errorf("authz: roles for: %w", err)
	}
	defer rows.Close()
	var roles []RoleCode
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		roles = append(roles, RoleCode(code))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

// AssignmentsFor returns every active assignment for a user across processus.
func (r *Repository) AssignmentsFor(ctx context.Context, userID int64) ([]Assignment, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id, processus_id, role_code, granted_by, is_active, granted_at
FROM user_processus_roles WHERE user_id = $1 AND is_active ORDER BY granted_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("authz: assignments for: %w", err)
	}
	defer rows.Close()
	var assignments []Assignment
	for rows.Next() {
		var a Assignment
		var code string
		if err := rows.Scan(&a.UserID, &a.ProcessusID, &code, &a.GrantedBy, &a.Active, &a.GrantedAt); err != nil {
			return nil, err
		}
		a.Role = RoleCode(code)
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return assignments, nil
}

// ProcessusScopeFor returns the distinct processus the user holds any active
// role on. Callers must treat an empty result as zero access.
func (r *Repository) ProcessusScopeFor(ctx context.Context, userID int64) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT processus_id FROM user_processus_roles
WHERE user_id = $1 AND is_active`, userID)
	if err != nil {
		return nil, fmt.Errorf("authz: processus scope: %w", err)
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
