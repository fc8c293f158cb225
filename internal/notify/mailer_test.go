package notify

import (
	"context"
	"net/smtp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSendBuildsHeadersAndUsesRelay(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotRaw []byte
	m := NewSMTPMailer(SMTPConfig{Host: "localhost", Port: 1025, From: "noreply@meridian.local"}, nil)
	m.send = func(addr string, a smtp.Auth, from string, to []string, raw []byte) error {
		gotAddr, gotFrom, gotTo, gotRaw = addr, from, to, raw
		require.Nil(t, a)
		return nil
	}

	err := m.Send(context.Background(), Message{
		To:      "owner@example.org",
		Subject: "Validation pending",
		Body:    "A record awaits validation.",
	})
	require.NoError(t, err)
	require.Equal(t, "localhost:1025", gotAddr)
	require.Equal(t, "noreply@meridian.local", gotFrom)
	require.Equal(t, []string{"owner@example.org"}, gotTo)
	require.True(t, strings.Contains(string(gotRaw), "Subject: Validation pending\r\n"))
	require.True(t, strings.HasSuffix(string(gotRaw), "A record awaits validation."))
}

func TestSendHonorsCancelledContext(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{Host: "localhost", Port: 1025}, nil)
	called := false
	m.send = func(string, smtp.Auth, string, []string, []byte) error {
		called = true
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, m.Send(ctx, Message{To: "x@y.z"}))
	require.False(t, called)
}
