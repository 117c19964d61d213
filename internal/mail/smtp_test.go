// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package mail

import (
	"context"
	"errors"
	"net/smtp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authd/pkg/errutil"
)

func TestNewSMTPSender_Validation(t *testing.T) {
	_, err := NewSMTPSender(SMTPConfig{Addr: "no-port", From: "authd@example.com"})
	errutil.AssertErrorCode(t, err, "MAIL_CONFIG_INVALID")

	_, err = NewSMTPSender(SMTPConfig{Addr: "smtp.example.com:587"})
	errutil.AssertErrorCode(t, err, "MAIL_CONFIG_INVALID")

	s, err := NewSMTPSender(SMTPConfig{Addr: "smtp.example.com:587", From: "authd@example.com", Username: "u"})
	require.NoError(t, err)
	assert.NotNil(t, s.auth)
}

func TestSMTPSender_Send(t *testing.T) {
	s, err := NewSMTPSender(SMTPConfig{Addr: "smtp.example.com:25", From: "authd@example.com"})
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	var gotTo []string
	var gotMsg string
	s.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		assert.Equal(t, "smtp.example.com:25", addr)
		assert.Equal(t, "authd@example.com", from)
		gotTo, gotMsg = to, string(msg)
		return nil
	}

	require.NoError(t, s.Send(context.Background(), passwordResetMessage("ada@example.com", "ABCD1234", 15*time.Minute)))
	assert.Equal(t, []string{"ada@example.com"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: Your password reset code\r\n")
	assert.Contains(t, gotMsg, "Date: Fri, 02 Jan 2026 03:04:05 +0000\r\n")
	assert.Contains(t, gotMsg, "\r\n\r\n")
	assert.Contains(t, gotMsg, "Reset code: ABCD1234")
}

func TestSMTPSender_Failures(t *testing.T) {
	s, err := NewSMTPSender(SMTPConfig{Addr: "smtp.example.com:25", From: "authd@example.com"})
	require.NoError(t, err)
	s.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("550 rejected") }

	err = s.Send(context.Background(), verificationMessage("a@b.c", "tok"))
	errutil.AssertErrorCode(t, err, "MAIL_SMTP_FAILED")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.Send(ctx, verificationMessage("a@b.c", "tok"))
	errutil.AssertCodeAndCause(t, err, "MAIL_SEND_CANCELLED", context.Canceled)
}
