package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-compliance/meridian/internal/shared"
)

// Timeline reads the transition trail back for display.
type Timeline struct {
	pool *pgxpool.Pool
}

// NewTimeline constructs a Timeline reader.
func NewTimeline(pool *pgxpool.Pool) *Timeline {
	return &Timeline{pool: pool}
}

// List returns transition entries newest first, filtered and paginated.
func (t *Timeline) List(ctx context.Context, filter TimelineFilter) ([]Entry, shared.Pagination, error) {
	where, args := buildWhere(filter)

	var total int
	if err := t.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transition_events`+where, args...).Scan(&total); err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("audit: count timeline: %w", err)
	}

	page := shared.NewPagination(filter.Page, filter.PerPage, total)
	offset := (page.Page - 1) * page.PerPage
	query := fmt.Sprintf(`SELECT id, module, record_id, action, actor_id, detail, occurred_at
FROM transition_events%s ORDER BY occurred_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		where, len(args)+1, len(args)+2)
	rows, err := t.pool.Query(ctx, query, append(args, page.PerPage, offset)...)
	if err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("audit: list timeline: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Module, &e.RecordID, &e.Action, &e.ActorID, &e.Detail, &e.At); err != nil {
			return nil, shared.Pagination{}, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Pagination{}, err
	}
	return entries, page, nil
}

func buildWhere(filter TimelineFilter) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.Module != "" {
		add("module = $%d", filter.Module)
	}
	if filter.RecordID != uuid.Nil {
		add("record_id = $%d", filter.RecordID)
	}
	if filter.ActorID != 0 {
		add("actor_id = $%d", filter.ActorID)
	}
	if !filter.From.IsZero() {
		add("occurred_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("occurred_at < $%d", filter.To)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
