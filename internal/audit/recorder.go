package audit

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-compliance/meridian/internal/authz"
	"github.com/meridian-compliance/meridian/internal/lifecycle"
)

// Recorder writes both trails. Writes are best effort: a failed insert is
// logged and swallowed so audit storage trouble never blocks a decision or
// a transition.
type Recorder struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRecorder returns a Recorder writing through pool.
func NewRecorder(pool *pgxpool.Pool, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{pool: pool, logger: logger}
}

var (
	_ authz.DecisionRecorder = (*Recorder)(nil)
	_ lifecycle.EventSink    = (*Recorder)(nil)
)

// RecordEvent persists one lifecycle transition.
func (r *Recorder) RecordEvent(ctx context.Context, e lifecycle.Event) {
	_, err := r.pool.Exec(ctx, `INSERT INTO transition_events (module, record_id, action, actor_id, detail, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6)`, e.Module, e.RecordID, e.Action, e.ActorID, e.Detail, e.At)
	if err != nil {
		r.logger.Error("audit: record transition event", "module", e.Module, "record", e.RecordID, "err", err)
	}
}

// RecordDecision persists one permission evaluation.
func (r *Recorder) RecordDecision(ctx context.Context, entry authz.DecisionEntry) {
	var recordID *uuid.UUID
	if entry.RecordID != uuid.Nil {
		recordID = &entry.RecordID
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO permission_decisions
(user_id, module, action, processus_id, record_id, allowed, reason, cache_hit, elapsed_us, decided_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.UserID, string(entry.Module), string(entry.Action), entry.ProcessusID, recordID,
		entry.Allowed, entry.Reason, entry.CacheHit, entry.Elapsed.Microseconds(), entry.At)
	if err != nil {
		r.logger.Error("audit: record decision", "module", entry.Module, "action", entry.Action, "err", err)
	}
}
