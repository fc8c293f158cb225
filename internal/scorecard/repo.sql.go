package scorecard

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

// Repository provides PostgreSQL backed persistence for scorecard content.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ RepositoryPort = (*Repository)(nil)

// SetName upserts the scorecard header row.
func (r *Repository) SetName(ctx context.Context, recordID uuid.UUID, name string) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO scorecard_headers (record_id, name) VALUES ($1, $2)
ON CONFLICT (record_id) DO UPDATE SET name = EXCLUDED.name`, recordID, name)
	if err != nil {
		return fmt.Errorf("scorecard: set name: %w", err)
	}
	return nil
}

// Name reads the scorecard header row, empty when absent.
func (r *Repository) Name(ctx context.Context, recordID uuid.UUID) (string, error) {
	var name string
	err := r.pool.QueryRow(ctx, `SELECT name FROM scorecard_headers WHERE record_id = $1`, recordID).Scan(&name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("scorecard: name: %w", err)
	}
	return name, nil
}

// InsertObjective persists one performance goal.
func (r *Repository) InsertObjective(ctx context.Context, o Objective) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO scorecard_objectives (id, record_id, label, created_at)
VALUES ($1, $2, $3, $4)`, o.ID, o.RecordID, o.Label, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("scorecard: insert objective: %w", err)
	}
	return nil
}

// UpdateObjective edits one goal.
func (r *Repository) UpdateObjective(ctx context.Context, o Objective) error {
	tag, err := r.pool.Exec(ctx, `UPDATE scorecard_objectives SET label = $3
WHERE record_id = $1 AND id = $2`, o.RecordID, o.ID, o.Label)
	if err != nil {
		return fmt.Errorf("scorecard: update objective: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

// DeleteObjective removes one goal, cascading to its indicators.
func (r *Repository) DeleteObjective(ctx context.Context, recordID, objectiveID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM scorecard_objectives WHERE record_id = $1 AND id = $2`, recordID, objectiveID)
	if err != nil {
		return fmt.Errorf("scorecard: delete objective: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

// ListObjectives loads a scorecard's goals with their indicator trees.
func (r *Repository) ListObjectives(ctx context.Context, recordID uuid.UUID) ([]Objective, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, record_id, label, created_at
FROM scorecard_objectives WHERE record_id = $1 ORDER BY created_at, id`, recordID)
	if err != nil {
		return nil, fmt.Errorf("scorecard: list objectives: %w", err)
	}
	defer rows.Close()
	var objectives []Objective
	for rows.Next() {
		var o Objective
		if err := rows.Scan(&o.ID, &o.RecordID, &o.Label, &o.CreatedAt); err != nil {
			return nil, err
		}
		objectives = append(objectives, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	refs := make([]*Objective, len(objectives))
	for i := range objectives {
		refs[i] = &objectives[i]
	}
	if err := r.attachIndicators(ctx, refs); err != nil {
		return nil, err
	}
	return objectives, nil
}

// InsertIndicator persists one measurable line, refusing objectives outside
// the given scorecard.
func (r *Repository) InsertIndicator(ctx context.Context, recordID uuid.UUID, in Indicator) error {
	tag, err := r.pool.Exec(ctx, `INSERT INTO scorecard_indicators (id, objective_id, label, unit, target, frequency)
SELECT $1, $2, $3, $4, $5, $6 FROM scorecard_objectives WHERE id = $2 AND record_id = $7`,
		in.ID, in.ObjectiveID, in.Label, in.Unit, in.Target, in.Frequency, recordID)
	if err != nil {
		return fmt.Errorf("scorecard: insert indicator: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

// UpdateIndicator edits one line.
func (r *Repository) UpdateIndicator(ctx context.Context, recordID uuid.UUID, in Indicator) error {
	tag, err := r.pool.Exec(ctx, `UPDATE scorecard_indicators i SET label = $3, unit = $4, target = $5, frequency = $6
FROM scorecard_objectives o WHERE i.id = $2 AND i.objective_id = o.id AND o.record_id = $1`,
		recordID, in.ID, in.Label, in.Unit, in.Target, in.Frequency)
	if err != nil {
		return fmt.Errorf("scorecard: update indicator: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

// DeleteIndicator removes one line.
func (r *Repository) DeleteIndicator(ctx context.Context, recordID, indicatorID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM scorecard_indicators i
USING scorecard_objectives o WHERE i.id = $2 AND i.objective_id = o.id AND o.record_id = $1`,
		recordID, indicatorID)
	if err != nil {
		return fmt.Errorf("scorecard: delete indicator: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

// GetIndicator loads one line with its observations.
func (r *Repository) GetIndicator(ctx context.Context, recordID, indicatorID uuid.UUID) (*Indicator, error) {
	row := r.pool.QueryRow(ctx, `SELECT i.id, i.objective_id, i.label, i.unit, i.target, i.frequency
FROM scorecard_indicators i JOIN scorecard_objectives o ON i.objective_id = o.id
WHERE o.record_id = $1 AND i.id = $2`, recordID, indicatorID)
	var in Indicator
	if err := row.Scan(&in.ID, &in.ObjectiveID, &in.Label, &in.Unit, &in.Target, &in.Frequency); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, httpx.ErrNotFound
		}
		return nil, fmt.Errorf("scorecard: get indicator: %w", err)
	}
	if err := r.attachObservations(ctx, map[uuid.UUID]*Indicator{in.ID: &in}); err != nil {
		return nil, err
	}
	return &in, nil
}

// InsertObservation persists one measured value.
func (r *Repository) InsertObservation(ctx context.Context, ob Observation) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO scorecard_observations (id, indicator_id, value, note, recorded_by, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6)`, ob.ID, ob.IndicatorID, ob.Value, ob.Note, ob.RecordedBy, ob.RecordedAt)
	if err != nil {
		return fmt.Errorf("scorecard: insert observation: %w", err)
	}
	return nil
}

// CloneInto copies a scorecard's header, objectives and indicators onto a
// new amendment draft. Observations stay with the version they measured.
func (r *Repository) CloneInto(ctx context.Context, fromRecordID, toRecordID uuid.UUID) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO scorecard_headers (record_id, name)
SELECT $2, name FROM scorecard_headers WHERE record_id = $1
ON CONFLICT (record_id) DO NOTHING`, fromRecordID, toRecordID); err != nil {
			return fmt.Errorf("scorecard: clone header: %w", err)
		}
		rows, err := tx.Query(ctx, `SELECT id FROM scorecard_objectives WHERE record_id = $1`, fromRecordID)
		if err != nil {
			return fmt.Errorf("scorecard: clone objectives: %w", err)
		}
		var objectiveIDs []uuid.UUID
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			objectiveIDs = append(objectiveIDs, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, oldID := range objectiveIDs {
			newID := uuid.New()
			if _, err := tx.Exec(ctx, `INSERT INTO scorecard_objectives (id, record_id, label, created_at)
SELECT $3, $2, label, NOW() FROM scorecard_objectives WHERE id = $1`, oldID, toRecordID, newID); err != nil {
				return fmt.Errorf("scorecard: clone objective: %w", err)
			}
			if _, err := tx.Exec(ctx, `INSERT INTO scorecard_indicators (id, objective_id, label, unit, target, frequency)
SELECT gen_random_uuid(), $2, label, unit, target, frequency
FROM scorecard_indicators WHERE objective_id = $1`, oldID, newID); err != nil {
				return fmt.Errorf("scorecard: clone indicators: %w", err)
			}
		}
		return nil
	})
}

func (r *Repository) attachIndicators(ctx context.Context, objectives []*Objective) error {
	byID := make(map[uuid.UUID]*Objective, len(objectives))
	ids := make([]uuid.UUID, 0, len(objectives))
	for _, o := range objectives {
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}
	if len(ids) == 0 {
		return nil
	}

	rows, err := r.pool.Query(ctx, `SELECT id, objective_id, label, unit, target, frequency
FROM scorecard_indicators WHERE objective_id = ANY($1) ORDER BY label, id`, ids)
	if err != nil {
		return fmt.Errorf("scorecard: load indicators: %w", err)
	}
	for rows.Next() {
		var in Indicator
		if err := rows.Scan(&in.ID, &in.ObjectiveID, &in.Label, &in.Unit, &in.Target, &in.Frequency); err != nil {
			rows.Close()
			return err
		}
		if o, ok := byID[in.ObjectiveID]; ok {
			o.Indicators = append(o.Indicators, in)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	indicators := make(map[uuid.UUID]*Indicator)
	for _, o := range objectives {
		for i := range o.Indicators {
			indicators[o.Indicators[i].ID] = &o.Indicators[i]
		}
	}
	return r.attachObservations(ctx, indicators)
}

func (r *Repository) attachObservations(ctx context.Context, indicators map[uuid.UUID]*Indicator) error {
	if len(indicators) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(indicators))
	for id := range indicators {
		ids = append(ids, id)
	}
	rows, err := r.pool.Query(ctx, `SELECT id, indicator_id, value, note, recorded_by, recorded_at
FROM scorecard_observations WHERE indicator_id = ANY($1) ORDER BY recorded_at`, ids)
	if err != nil {
		return fmt.Errorf("scorecard: load observations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ob Observation
		if err := rows.Scan(&ob.ID, &ob.IndicatorID, &ob.Value, &ob.Note, &ob.RecordedBy, &ob.RecordedAt); err != nil {
			return err
		}
		if in, ok := indicators[ob.IndicatorID]; ok {
			in.Observations = append(in.Observations, ob)
		}
	}
	return rows.Err()
}
