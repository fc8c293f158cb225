package activities

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-compliance/meridian/internal/platform/db"
	"github.com/meridian-compliance/meridian/internal/platform/httpx"
)

// Repository provides PostgreSQL backed persistence for program content.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ RepositoryPort = (*Repository)(nil)

// SetTitle upserts the program header row.
func (r *Repository) SetTitle(ctx context.Context, recordID uuid.UUID, title string) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO activity_headers (record_id, title) VALUES ($1, $2)
ON CONFLICT (record_id) DO UPDATE SET title = EXCLUDED.title`, recordID, title)
	if err != nil {
		return fmt.Errorf("activities: set title: %w", err)
	}
	return nil
}

// Title reads the program header row, empty when absent.
func (r *Repository) Title(ctx context.Context, recordID uuid.UUID) (string, error) {
	var title string
	err := r.pool.QueryRow(ctx, `SELECT title FROM activity_headers WHERE record_id = $1`, recordID).Scan(&title)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("activities: title: %w", err)
	}
	return title, nil
}

// InsertActivity persists one recurring activity row.
func (r *Repository) InsertActivity(ctx context.Context, a Activity) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO activity_rows (id, record_id, description, frequency, units, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`, a.ID, a.RecordID, a.Description, a.Frequency, a.Units, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("activities: insert activity: %w", err)
	}
	return nil
}

// UpdateActivity edits one row.
func (r *Repository) UpdateActivity(ctx context.Context, a Activity) error {
	tag, err := r.pool.Exec(ctx, `UPDATE activity_rows SET description = $3, frequency = $4, units = $5
WHERE record_id = $1 AND id = $2`, a.RecordID, a.ID, a.Description, a.Frequency, a.Units)
	if err != nil {
		return fmt.Errorf("activities: update activity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

// DeleteActivity removes one row, cascading to its entries.
func (r *Repository) DeleteActivity(ctx context.Context, recordID, activityID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM activity_rows WHERE record_id = $1 AND id = $2`, recordID, activityID)
	if err != nil {
		return fmt.Errorf("activities: delete activity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

// GetActivity loads one row with its monthly entries.
func (r *Repository) GetActivity(ctx context.Context, recordID, activityID uuid.UUID) (*Activity, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, record_id, description, frequency, units, created_at
FROM activity_rows WHERE record_id = $1 AND id = $2`, recordID, activityID)
	var a Activity
	if err := row.Scan(&a.ID, &a.RecordID, &a.Description, &a.Frequency, &a.Units, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, httpx.ErrNotFound
		}
		return nil, fmt.Errorf("activities: get activity: %w", err)
	}
	if err := r.attachEntries(ctx, []*Activity{&a}); err != nil {
		return nil, err
	}
	return &a, nil
}

// ListActivities loads a program's rows with their monthly entries.
func (r *Repository) ListActivities(ctx context.Context, recordID uuid.UUID) ([]Activity, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, record_id, description, frequency, units, created_at
FROM activity_rows WHERE record_id = $1 ORDER BY created_at, id`, recordID)
	if err != nil {
		return nil, fmt.Errorf("activities: list activities: %w", err)
	}
	defer rows.Close()
	var activities []Activity
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.ID, &a.RecordID, &a.Description, &a.Frequency, &a.Units, &a.CreatedAt); err != nil {
			return nil, err
		}
		activities = append(activities, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	refs := make([]*Activity, len(activities))
	for i := range activities {
		refs[i] = &activities[i]
	}
	if err := r.attachEntries(ctx, refs); err != nil {
		return nil, err
	}
	return activities, nil
}

// InsertEntry persists one monthly outcome. The unique index on
// (activity_id, month) closes the duplicate-month race.
func (r *Repository) InsertEntry(ctx context.Context, e MonthEntry) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO activity_entries (id, activity_id, month, done, note, recorded_by, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, e.ID, e.ActivityID, int(e.Month), e.Done, e.Note, e.RecordedBy, e.RecordedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return httpx.ErrDuplicate
		}
		return fmt.Errorf("activities: insert entry: %w", err)
	}
	return nil
}

// CloneInto copies a program's header and activity rows onto a new
// amendment draft. Monthly entries stay with the version they tracked.
func (r *Repository) CloneInto(ctx context.Context, fromRecordID, toRecordID uuid.UUID) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO activity_headers (record_id, title)
SELECT $2, title FROM activity_headers WHERE record_id = $1
ON CONFLICT (record_id) DO NOTHING`, fromRecordID, toRecordID); err != nil {
			return fmt.Errorf("activities: clone header: %w", err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO activity_rows (id, record_id, description, frequency, units, created_at)
SELECT gen_random_uuid(), $2, description, frequency, units, NOW()
FROM activity_rows WHERE record_id = $1`, fromRecordID, toRecordID); err != nil {
			return fmt.Errorf("activities: clone rows: %w", err)
		}
		return nil
	})
}

func (r *Repository) attachEntries(ctx context.Context, activities []*Activity) error {
	byID := make(map[uuid.UUID]*Activity, len(activities))
	ids := make([]uuid.UUID, 0, len(activities))
	for _, a := range activities {
		byID[a.ID] = a
		ids = append(ids, a.ID)
	}
	if len(ids) == 0 {
		return nil
	}

	rows, err := r.pool.Query(ctx, `SELECT id, activity_id, month, done, note, recorded_by, recorded_at
FROM activity_entries WHERE activity_id = ANY($1) ORDER BY month`, ids)
	if err != nil {
		return fmt.Errorf("activities: load entries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e MonthEntry
		var month int
		if err := rows.Scan(&e.ID, &e.ActivityID, &month, &e.Done, &e.Note, &e.RecordedBy, &e.RecordedAt); err != nil {
			return err
		}
		e.Month = time.Month(month)
		if a, ok := byID[e.ActivityID]; ok {
			a.Entries = append(a.Entries, e)
		}
	}
	return rows.Err()
}
