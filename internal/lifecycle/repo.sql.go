package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-compliance/meridian/internal/platform/httpx"
)

// Repository provides PostgreSQL backed persistence for versioned records.
// All module chains share one table; the module column partitions them.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ RepositoryPort = (*Repository)(nil)

const recordColumns = `id, module, processus_id, period, stage, initial_ref, is_validated, validated_by, validated_at, created_by, created_at`

// Get loads one record by id within a module.
func (r *Repository) Get(ctx context.Context, module string, id uuid.UUID) (Record, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM versioned_records
WHERE module = $1 AND id = $2`, module, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, httpx.ErrNotFound
		}
		return Record{}, fmt.Errorf("lifecycle: get: %w", err)
	}
	return rec, nil
}

// Chain returns every record whose chain starts at chainID, in stage order.
func (r *Repository) Chain(ctx context.Context, module string, chainID uuid.UUID) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+recordColumns+` FROM versioned_records
WHERE module = $1 AND (id = $2 OR initial_ref = $2) ORDER BY stage`, module, chainID)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: chain: %w", err)
	}
	defer rows.Close()
	var chain []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		chain = append(chain, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return chain, nil
}

// ListByProcessus returns a processus's records, newest chains first. A zero
// period matches all periods.
func (r *Repository) ListByProcessus(ctx context.Context, module string, processusID uuid.UUID, period int) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM versioned_records
WHERE module = $1 AND processus_id = $2`
	args := []any{module, processusID}
	if period != 0 {
		query += ` AND period = $3`
		args = append(args, period)
	}
	query += ` ORDER BY period DESC, COALESCE(initial_ref, id), stage`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: list by processus: %w", err)
	}
	defer rows.Close()
	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// InitialTaken reports whether a chain already opens the (processus, period,
// creator) slot.
func (r *Repository) InitialTaken(ctx context.Context, module string, processusID uuid.UUID, period int, createdBy int64) (bool, error) {
	var taken bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM versioned_records
WHERE module = $1 AND processus_id = $2 AND period = $3 AND created_by = $4 AND stage = 0)`,
		module, processusID, period, createdBy).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("lifecycle: initial taken: %w", err)
	}
	return taken, nil
}

// StageTaken reports whether a record already occupies the chain's slot for
// stage. Amendments carry initial_ref = chainID regardless of who raised
// them, so the probe never depends on the amender.
func (r *Repository) StageTaken(ctx context.Context, module string, chainID uuid.UUID, stage Stage) (bool, error) {
	var taken bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM versioned_records
WHERE module = $1 AND (id = $2 OR initial_ref = $2) AND stage = $3)`,
		module, chainID, int(stage)).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("lifecycle: stage taken: %w", err)
	}
	return taken, nil
}

// Successor returns the record one stage above rec in the same chain, or nil.
// Successors are always amendments, so matching on initial_ref is enough.
func (r *Repository) Successor(ctx context.Context, module string, rec Record) (*Record, error) {
	next, ok := rec.Stage.Next()
	if !ok {
		return nil, nil
	}
	row := r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM versioned_records
WHERE module = $1 AND initial_ref = $2 AND stage = $3`,
		module, rec.ChainID(), int(next))
	succ, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lifecycle: successor: %w", err)
	}
	return &succ, nil
}

// Insert persists a new record. A unique-violation on either slot index,
// (module, processus_id, period, created_by) for initials or (module,
// initial_ref, stage) for amendments, maps to httpx.ErrDuplicate so the
// controller can refuse it as a typed conflict.
func (r *Repository) Insert(ctx context.Context, rec Record) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO versioned_records
(id, module, processus_id, period, stage, initial_ref, is_validated, validated_by, validated_at, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, FALSE, NULL, NULL, $7, $8)`,
		rec.ID, rec.Module, rec.ProcessusID, rec.Period, int(rec.Stage), rec.InitialRef, rec.CreatedBy, rec.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return httpx.ErrDuplicate
		}
		return fmt.Errorf("lifecycle: insert: %w", err)
	}
	return nil
}

// MarkValidated flips the validation flag if it is still unset. The WHERE
// clause makes concurrent validations race safely: exactly one caller sees a
// row affected.
func (r *Repository) MarkValidated(ctx context.Context, module string, id uuid.UUID, validatorID int64, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE versioned_records
SET is_validated = TRUE, validated_by = $3, validated_at = $4
WHERE module = $1 AND id = $2 AND is_validated = FALSE`, module, id, validatorID, at)
	if err != nil {
		return false, fmt.Errorf("lifecycle: mark validated: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkUnvalidated clears the flag but keeps validated_at as the marker that
// the record was validated once.
func (r *Repository) MarkUnvalidated(ctx context.Context, module string, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE versioned_records
SET is_validated = FALSE, validated_by = NULL
WHERE module = $1 AND id = $2 AND is_validated = TRUE`, module, id)
	if err != nil {
		return false, fmt.Errorf("lifecycle: mark unvalidated: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	var stage int
	if err := row.Scan(&rec.ID, &rec.Module, &rec.ProcessusID, &rec.Period, &stage,
		&rec.InitialRef, &rec.IsValidated, &rec.ValidatedBy, &rec.ValidatedAt,
		&rec.CreatedBy, &rec.CreatedAt); err != nil {
		return Record{}, err
	}
	rec.Stage = Stage(stage)
	return rec, nil
}
