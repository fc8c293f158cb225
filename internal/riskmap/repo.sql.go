package riskmap

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-compliance/meridian/internal/platform/db"
	"github.com/meridian-compliance/meridian/internal/platform/httpx"
)

// Repository provides PostgreSQL backed persistence for risk map content.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ RepositoryPort = (*Repository)(nil)

// SetTitle upserts the map header row.
func (r *Repository) SetTitle(ctx context.Context, recordID uuid.UUID, title string) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO riskmap_headers (record_id, title) VALUES ($1, $2)
ON CONFLICT (record_id) DO UPDATE SET title = EXCLUDED.title`, recordID, title)
	if err != nil {
		return fmt.Errorf("riskmap: set title: %w", err)
	}
	return nil
}

// Title reads the map header row, empty when absent.
func (r *Repository) Title(ctx context.Context, recordID uuid.UUID) (string, error) {
	var title string
	err := r.pool.QueryRow(ctx, `SELECT title FROM riskmap_headers WHERE record_id = $1`, recordID).Scan(&title)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("riskmap: title: %w", err)
	}
	return title, nil
}

// InsertDetail persists one risk row.
func (r *Repository) InsertDetail(ctx context.Context, d DetailRow) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO riskmap_details (id, record_id, activity, risk, causes, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`, d.ID, d.RecordID, d.Activity, d.Risk, d.Causes, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("riskmap: insert detail: %w", err)
	}
	return nil
}

// UpdateDetail edits one risk row.
func (r *Repository) UpdateDetail(ctx context.Context, d DetailRow) error {
	tag, err := r.pool.Exec(ctx, `UPDATE riskmap_details SET activity = $3, risk = $4, causes = $5
WHERE record_id = $1 AND id = $2`, d.RecordID, d.ID, d.Activity, d.Risk, d.Causes)
	if err != nil {
		return fmt.Errorf("riskmap: update detail: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

// DeleteDetail removes one risk row, cascading to its evaluations and plans.
func (r *Repository) DeleteDetail(ctx context.Context, recordID, detailID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM riskmap_details WHERE record_id = $1 AND id = $2`, recordID, detailID)
	if err != nil {
		return fmt.Errorf("riskmap: delete detail: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

// GetDetail loads one risk row with its evaluations and plans.
func (r *Repository) GetDetail(ctx context.Context, recordID, detailID uuid.UUID) (*DetailRow, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, record_id, activity, risk, causes, created_at
FROM riskmap_details WHERE record_id = $1 AND id = $2`, recordID, detailID)
	var d DetailRow
	if err := row.Scan(&d.ID, &d.RecordID, &d.Activity, &d.Risk, &d.Causes, &d.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, httpx.ErrNotFound
		}
		return nil, fmt.Errorf("riskmap: get detail: %w", err)
	}
	if err := r.attachChildren(ctx, []*DetailRow{&d}); err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDetails loads a map's risk rows with their evaluations and plans.
func (r *Repository) ListDetails(ctx context.Context, recordID uuid.UUID) ([]DetailRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, record_id, activity, risk, causes, created_at
FROM riskmap_details WHERE record_id = $1 ORDER BY created_at, id`, recordID)
	if err != nil {
		return nil, fmt.Errorf("riskmap: list details: %w", err)
	}
	defer rows.Close()
	var details []DetailRow
	for rows.Next() {
		var d DetailRow
		if err := rows.Scan(&d.ID, &d.RecordID, &d.Activity, &d.Risk, &d.Causes, &d.CreatedAt); err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	refs := make([]*DetailRow, len(details))
	for i := range details {
		refs[i] = &details[i]
	}
	if err := r.attachChildren(ctx, refs); err != nil {
		return nil, err
	}
	return details, nil
}

// InsertEvaluation persists one scoring.
func (r *Repository) InsertEvaluation(ctx context.Context, e Evaluation) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO riskmap_evaluations (id, detail_id, frequency, gravity, criticality, evaluated_by, evaluated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, e.ID, e.DetailID, e.Frequency, e.Gravity, e.Criticality, e.EvaluatedBy, e.EvaluatedAt)
	if err != nil {
		return fmt.Errorf("riskmap: insert evaluation: %w", err)
	}
	return nil
}

// InsertActionPlan persists one mitigation commitment.
func (r *Repository) InsertActionPlan(ctx context.Context, p ActionPlan) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO riskmap_action_plans (id, detail_id, action, owner, deadline)
VALUES ($1, $2, $3, $4, $5)`, p.ID, p.DetailID, p.Action, p.Owner, p.Deadline)
	if err != nil {
		return fmt.Errorf("riskmap: insert action plan: %w", err)
	}
	return nil
}

// CloneInto copies a map's header and full detail tree onto a new amendment
// draft. Runs in one transaction so a failed clone leaves nothing behind.
func (r *Repository) CloneInto(ctx context.Context, fromRecordID, toRecordID uuid.UUID) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO riskmap_headers (record_id, title)
SELECT $2, title FROM riskmap_headers WHERE record_id = $1
ON CONFLICT (record_id) DO NOTHING`, fromRecordID, toRecordID); err != nil {
			return fmt.Errorf("riskmap: clone header: %w", err)
		}
		rows, err := tx.Query(ctx, `SELECT id FROM riskmap_details WHERE record_id = $1`, fromRecordID)
		if err != nil {
			return fmt.Errorf("riskmap: clone details: %w", err)
		}
		var detailIDs []uuid.UUID
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			detailIDs = append(detailIDs, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, oldID := range detailIDs {
			newID := uuid.New()
			if _, err := tx.Exec(ctx, `INSERT INTO riskmap_details (id, record_id, activity, risk, causes, created_at)
SELECT $3, $2, activity, risk, causes, NOW() FROM riskmap_details WHERE id = $1`, oldID, toRecordID, newID); err != nil {
				return fmt.Errorf("riskmap: clone detail: %w", err)
			}
			if _, err := tx.Exec(ctx, `INSERT INTO riskmap_evaluations (id, detail_id, frequency, gravity, criticality, evaluated_by, evaluated_at)
SELECT gen_random_uuid(), $2, frequency, gravity, criticality, evaluated_by, evaluated_at
FROM riskmap_evaluations WHERE detail_id = $1`, oldID, newID); err != nil {
				return fmt.Errorf("riskmap: clone evaluations: %w", err)
			}
			if _, err := tx.Exec(ctx, `INSERT INTO riskmap_action_plans (id, detail_id, action, owner, deadline)
SELECT gen_random_uuid(), $2, action, owner, deadline
FROM riskmap_action_plans WHERE detail_id = $1`, oldID, newID); err != nil {
				return fmt.Errorf("riskmap: clone action plans: %w", err)
			}
		}
		return nil
	})
}

func (r *Repository) attachChildren(ctx context.Context, details []*DetailRow) error {
	byID := make(map[uuid.UUID]*DetailRow, len(details))
	ids := make([]uuid.UUID, 0, len(details))
	for _, d := range details {
		byID[d.ID] = d
		ids = append(ids, d.ID)
	}
	if len(ids) == 0 {
		return nil
	}

	rows, err := r.pool.Query(ctx, `SELECT id, detail_id, frequency, gravity, criticality, evaluated_by, evaluated_at
FROM riskmap_evaluations WHERE detail_id = ANY($1) ORDER BY evaluated_at`, ids)
	if err != nil {
		return fmt.Errorf("riskmap: load evaluations: %w", err)
	}
	for rows.Next() {
		var e Evaluation
		if err := rows.Scan(&e.ID, &e.DetailID, &e.Frequency, &e.Gravity, &e.Criticality, &e.EvaluatedBy, &e.EvaluatedAt); err != nil {
			rows.Close()
			return err
		}
		if d, ok := byID[e.DetailID]; ok {
			d.Evaluations = append(d.Evaluations, e)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = r.pool.Query(ctx, `SELECT id, detail_id, action, owner, deadline
FROM riskmap_action_plans WHERE detail_id = ANY($1) ORDER BY deadline`, ids)
	if err != nil {
		return fmt.Errorf("riskmap: load action plans: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p ActionPlan
		if err := rows.Scan(&p.ID, &p.DetailID, &p.Action, &p.Owner, &p.Deadline); err != nil {
			return err
		}
		if d, ok := byID[p.DetailID]; ok {
			d.ActionPlans = append(d.ActionPlans, p)
		}
	}
	return rows.Err()
}
