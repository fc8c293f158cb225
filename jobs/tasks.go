// Package jobs defines the background task types and the Asynq worker that
// runs them.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/meridian-compliance/meridian/internal/jobs"
	"github.com/meridian-compliance/meridian/internal/notify"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskTypeReminderScan finds unvalidated records past their grace period.
	TaskTypeReminderScan = "records:reminder-scan"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// ReminderScanPayload tunes the reminder sweep.
type ReminderScanPayload struct {
	MaxAgeDays int `json:"max_age_days"`
}

// NewReminderScanTask constructs an Asynq task.
func NewReminderScanTask(payload ReminderScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeReminderScan, data), nil
}

// SendEmailJob delivers mail:send tasks through the configured mailer.
type SendEmailJob struct {
	Mailer  notify.Mailer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle processes TaskTypeSendEmail tasks.
func (j *SendEmailJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Mailer == nil {
		return errors.New("send email: handler not configured")
	}
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskTypeSendEmail)
	err := j.Mailer.Send(ctx, notify.Message{To: payload.To, Subject: payload.Subject, Body: payload.Body})
	if err != nil {
		j.logger().Error("send email", slog.String("to", payload.To), slog.Any("error", err))
	}
	return tracker.End(err)
}

func (j *SendEmailJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
