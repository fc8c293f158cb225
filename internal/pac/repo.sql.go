package pac

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

// Repository provides PostgreSQL backed persistence for plan content.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ RepositoryPort = (*Repository)(nil)

// SetOrigin upserts the plan header row.
func (r *Repository) SetOrigin(ctx context.Context, recordID uuid.UUID, origin string) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO pac_headers (record_id, origin) VALUES ($1, $2)
ON CONFLICT (record_id) DO UPDATE SET origin = EXCLUDED.origin`, recordID, origin)
	if err != nil {
		return fmt.Errorf("pac: set origin: %w", err)
	}
	return nil
}

// Origin reads the plan header row, empty when absent.
func (r *Repository) Origin(ctx context.Context, recordID uuid.UUID) (string, error) {
	var origin string
	err := r.pool.QueryRow(ctx, `SELECT origin FROM pac_headers WHERE record_id = $1`, recordID).Scan(&origin)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("pac: origin: %w", err)
	}
	return origin, nil
}

// InsertTreatment persists one corrective measure.
func (r *Repository) InsertTreatment(ctx context.Context, tr Treatment) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO pac_treatments (id, record_id, action, type, owner, deadline, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, tr.ID, tr.RecordID, tr.Action, string(tr.Type), tr.Owner, tr.Deadline, tr.CreatedAt)
	if err != nil {
		return fmt.Errorf("pac: insert treatment: %w", err)
	}
	return nil
}

// UpdateTreatment edits one measure.
func (r *Repository) UpdateTreatment(ctx context.Context, tr Treatment) error {
	tag, err := r.pool.Exec(ctx, `UPDATE pac_treatments SET action = $3, type = $4, owner = $5, deadline = $6
WHERE record_id = $1 AND id = $2`, tr.RecordID, tr.ID, tr.Action, string(tr.Type), tr.Owner, tr.Deadline)
	if err != nil {
		return fmt.Errorf("pac: update treatment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

// DeleteTreatment removes one measure and its follow-ups.
func (r *Repository) DeleteTreatment(ctx context.Context, recordID, treatmentID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM pac_treatments WHERE record_id = $1 AND id = $2`, recordID, treatmentID)
	if err != nil {
		return fmt.Errorf("pac: delete treatment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

// GetTreatment loads one measure with its follow-ups.
func (r *Repository) GetTreatment(ctx context.Context, recordID, treatmentID uuid.UUID) (*Treatment, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, record_id, action, type, owner, deadline, created_at
FROM pac_treatments WHERE record_id = $1 AND id = $2`, recordID, treatmentID)
	tr, err := scanTreatment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, httpx.ErrNotFound
		}
		return nil, fmt.Errorf("pac: get treatment: %w", err)
	}
	if err := r.attachFollowUps(ctx, []*Treatment{tr}); err != nil {
		return nil, err
	}
	return tr, nil
}

// ListTreatments loads a plan's measures with their follow-ups.
func (r *Repository) ListTreatments(ctx context.Context, recordID uuid.UUID) ([]Treatment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, record_id, action, type, owner, deadline, created_at
FROM pac_treatments WHERE record_id = $1 ORDER BY created_at, id`, recordID)
	if err != nil {
		return nil, fmt.Errorf("pac: list treatments: %w", err)
	}
	defer rows.Close()
	var treatments []Treatment
	for rows.Next() {
		tr, err := scanTreatment(rows)
		if err != nil {
			return nil, err
		}
		treatments = append(treatments, *tr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	refs := make([]*Treatment, len(treatments))
	for i := range treatments {
		refs[i] = &treatments[i]
	}
	if err := r.attachFollowUps(ctx, refs); err != nil {
		return nil, err
	}
	return treatments, nil
}

// InsertFollowUp persists one progress note.
func (r *Repository) InsertFollowUp(ctx context.Context, fu FollowUp) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO pac_followups (id, treatment_id, note, progress_pc, recorded_by, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6)`, fu.ID, fu.Treatment, fu.Note, fu.ProgressPC, fu.RecordedBy, fu.RecordedAt)
	if err != nil {
		return fmt.Errorf("pac: insert followup: %w", err)
	}
	return nil
}

// CloneInto copies a plan's header and treatments onto a new amendment
// draft. Follow-ups are execution history and stay with their plan version.
func (r *Repository) CloneInto(ctx context.Context, fromRecordID, toRecordID uuid.UUID) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO pac_headers (record_id, origin)
SELECT $2, origin FROM pac_headers WHERE record_id = $1
ON CONFLICT (record_id) DO NOTHING`, fromRecordID, toRecordID); err != nil {
			return fmt.Errorf("pac: clone header: %w", err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO pac_treatments (id, record_id, action, type, owner, deadline, created_at)
SELECT gen_random_uuid(), $2, action, type, owner, deadline, NOW()
FROM pac_treatments WHERE record_id = $1`, fromRecordID, toRecordID); err != nil {
			return fmt.Errorf("pac: clone treatments: %w", err)
		}
		return nil
	})
}

func scanTreatment(row pgx.Row) (*Treatment, error) {
	var tr Treatment
	var kind string
	if err := row.Scan(&tr.ID, &tr.RecordID, &tr.Action, &kind, &tr.Owner, &tr.Deadline, &tr.CreatedAt); err != nil {
		return nil, err
	}
	tr.Type = TreatmentType(kind)
	return &tr, nil
}

func (r *Repository) attachFollowUps(ctx context.Context, treatments []*Treatment) error {
	if len(treatments) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*Treatment, len(treatments))
	ids := make([]uuid.UUID, 0, len(treatments))
	for _, tr := range treatments {
		byID[tr.ID] = tr
		ids = append(ids, tr.ID)
	}
	rows, err := r.pool.Query(ctx, `SELECT id, treatment_id, note, progress_pc, recorded_by, recorded_at
FROM pac_followups WHERE treatment_id = ANY($1) ORDER BY recorded_at`, ids)
	if err != nil {
		return fmt.Errorf("pac: load followups: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var fu FollowUp
		if err := rows.Scan(&fu.ID, &fu.Treatment, &fu.Note, &fu.ProgressPC, &fu.RecordedBy, &fu.RecordedAt); err != nil {
			return err
		}
		if tr, ok := byID[fu.Treatment]; ok {
			tr.FollowUps = append(tr.FollowUps, fu)
		}
	}
	return rows.Err()
}
