package processus

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-compliance/meridian/internal/platform/httpx"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ RepositoryPort = (*Repository)(nil)

const columns = `id, numero, nom, description, is_active, created_at, updated_at`

// Create persists a new processus. Numero collisions map to ErrDuplicate so
// the service can retry with the next number.
func (r *Repository) Create(ctx context.Context, p Processus) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO processus (id, numero, nom, description, is_active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.Numero, p.Nom, p.Description, p.IsActive, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return httpx.ErrDuplicate
		}
		return fmt.Errorf("processus: create: %w", err)
	}
	return nil
}

// Update persists changes to nom, description and the active flag.
func (r *Repository) Update(ctx context.Context, p Processus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE processus SET nom = $2, description = $3, is_active = $4, updated_at = $5
WHERE id = $1`, p.ID, p.Nom, p.Description, p.IsActive, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("processus: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

// Get loads one processus.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Processus, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+columns+` FROM processus WHERE id = $1`, id)
	var p Processus
	if err := row.Scan(&p.ID, &p.Numero, &p.Nom, &p.Description, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, httpx.ErrNotFound
		}
		return nil, fmt.Errorf("processus: get: %w", err)
	}
	return &p, nil
}

// List returns processus, active only unless includeInactive. Ordering by
// name happens in the service with a locale-aware collator.
func (r *Repository) List(ctx context.Context, includeInactive bool) ([]Processus, error) {
	query := `SELECT ` + columns + ` FROM processus`
	if !includeInactive {
		query += ` WHERE is_active`
	}
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("processus: list: %w", err)
	}
	defer rows.Close()
	var out []Processus
	for rows.Next() {
		var p Processus
		if err := rows.Scan(&p.ID, &p.Numero, &p.Nom, &p.Description, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// MaxNumero returns the highest assigned sequence number, 0 when empty.
func (r *Repository) MaxNumero(ctx context.Context) (int, error) {
	var max int
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(MAX(CAST(SUBSTRING(numero FROM 4) AS INTEGER)), 0) FROM processus`).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("processus: max numero: %w", err)
	}
	return max, nil
}
