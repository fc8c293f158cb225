package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/meridian-compliance/meridian/internal/notify"
)

type fakeMailer struct {
	sent []notify.Message
	fail error
}

func (m *fakeMailer) Send(_ context.Context, msg notify.Message) error {
	if m.fail != nil {
		return m.fail
	}
	m.sent = append(m.sent, msg)
	return nil
}

func TestSendEmailJobDeliversPayload(t *testing.T) {
	mailer := &fakeMailer{}
	job := &SendEmailJob{Mailer: mailer}

	task, err := NewSendEmailTask(SendEmailPayload{
		To:      "pilot@meridian.local",
		Subject: "Reminder",
		Body:    "your record awaits validation",
	})
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Len(t, mailer.sent, 1)
	require.Equal(t, "pilot@meridian.local", mailer.sent[0].To)
	require.Equal(t, "Reminder", mailer.sent[0].Subject)
}

func TestSendEmailJobSkipsRetryOnMalformedPayload(t *testing.T) {
	job := &SendEmailJob{Mailer: &fakeMailer{}}

	task := asynq.NewTask(TaskTypeSendEmail, []byte("not json"))
	err := job.Handle(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestSendEmailJobPropagatesMailerFailure(t *testing.T) {
	relayDown := errors.New("relay down")
	job := &SendEmailJob{Mailer: &fakeMailer{fail: relayDown}}

	task, err := NewSendEmailTask(SendEmailPayload{To: "pilot@meridian.local"})
	require.NoError(t, err)

	require.ErrorIs(t, job.Handle(context.Background(), task), relayDown)
}

func TestSendEmailJobRequiresMailer(t *testing.T) {
	job := &SendEmailJob{}

	task, err := NewSendEmailTask(SendEmailPayload{To: "pilot@meridian.local"})
	require.NoError(t, err)

	require.Error(t, job.Handle(context.Background(), task))
}
