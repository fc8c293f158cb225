package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/meridian-compliance/meridian/internal/jobs"
)

// Enqueuer submits follow-up tasks from inside a job run.
type Enqueuer interface {
	EnqueueSendEmail(ctx context.Context, payload SendEmailPayload) (*asynq.TaskInfo, error)
}

// pendingRecord is one unvalidated record past its grace period, joined to
// its creator for addressing.
type pendingRecord struct {
	ID        uuid.UUID
	Module    string
	Numero    string
	Period    int
	Email     string
	Name      string
	CreatedAt time.Time
}

// ReminderScanJob sweeps for unvalidated records older than the configured
// grace period and enqueues one reminder mail per record.
type ReminderScanJob struct {
	Pool    *pgxpool.Pool
	Client  Enqueuer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewReminderScanJob initialises the reminder scan handler.
func NewReminderScanJob(pool *pgxpool.Pool, client Enqueuer, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReminderScanJob {
	return &ReminderScanJob{
		Pool:    pool,
		Client:  client,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the reminder sweep.
func (j *ReminderScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pool == nil || j.Client == nil {
		return errors.New("reminder scan: handler not configured")
	}
	var payload ReminderScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.MaxAgeDays <= 0 {
		payload.MaxAgeDays = 14
	}

	tracker := j.Metrics.Track(TaskTypeReminderScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	cutoff := j.now().AddDate(0, 0, -payload.MaxAgeDays)
	logger := j.logger().With(slog.Int("max_age_days", payload.MaxAgeDays))
	logger.Info("starting reminder scan")

	pending, err := j.scan(ctx, cutoff)
	if err != nil {
		resultErr = err
		logger.Error("scan failed", slog.Any("error", err))
		return resultErr
	}

	sent := map[string]int{}
	for _, rec := range pending {
		if rec.Email == "" {
			continue
		}
		subject := fmt.Sprintf("Reminder: %s for %s (%d) awaits validation", rec.Module, rec.Numero, rec.Period)
		body := fmt.Sprintf(
			"Hello %s,\n\nThe %s you created on %s for processus %s (period %d) has not been validated yet.\n\nRecord: %s\n",
			rec.Name, rec.Module, rec.CreatedAt.Format("2006-01-02"), rec.Numero, rec.Period, rec.ID,
		)
		if _, err := j.Client.EnqueueSendEmail(ctx, SendEmailPayload{To: rec.Email, Subject: subject, Body: body}); err != nil {
			resultErr = err
			logger.Error("enqueue reminder", slog.String("record", rec.ID.String()), slog.Any("error", err))
			return resultErr
		}
		sent[rec.Module]++
	}
	for module, count := range sent {
		j.Metrics.AddReminders(module, count)
	}
	logger.Info("reminder scan complete", slog.Int("records", len(pending)))
	return nil
}

// scan returns unvalidated records created before the cutoff that no
// amendment has superseded.
func (j *ReminderScanJob) scan(ctx context.Context, cutoff time.Time) ([]pendingRecord, error) {
	rows, err := j.Pool.Query(ctx, `SELECT r.id, r.module, p.numero, r.period, u.email, u.name, r.created_at
FROM versioned_records r
JOIN processus p ON p.id = r.processus_id
JOIN users u ON u.id = r.created_by
WHERE r.is_validated = FALSE
  AND r.created_at < $1
  AND NOT EXISTS (
    SELECT 1 FROM versioned_records s
    WHERE s.module = r.module
      AND s.initial_ref = COALESCE(r.initial_ref, r.id)
      AND s.stage = r.stage + 1
  )
ORDER BY r.created_at`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("reminder scan: query: %w", err)
	}
	defer rows.Close()
	var pending []pendingRecord
	for rows.Next() {
		var rec pendingRecord
		if err := rows.Scan(&rec.ID, &rec.Module, &rec.Numero, &rec.Period, &rec.Email, &rec.Name, &rec.CreatedAt); err != nil {
			return nil, err
		}
		pending = append(pending, rec)
	}
	return pending, rows.Err()
}

func (j *ReminderScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

func (j *ReminderScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
