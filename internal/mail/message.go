// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package mail delivers account emails.
//
// Senders do the actual delivery (LogSender, SMTPSender). RetryingSender adds
// exponential backoff and Dispatcher moves delivery off the request path.
// Mailer adapts a pair of senders to auth.Mailer.
package mail

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Kind identifies the purpose of a message. It is the metrics label.
type Kind string

// Message kinds.
const (
	KindPasswordReset     Kind = "password_reset"
	KindVerification      Kind = "verification"
	KindGeneratedPassword Kind = "generated_password"
)

// Message is one outbound email.
type Message struct {
	Kind    Kind
	To      string
	Subject string
	Body    string
}

// Sender delivers a Message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

func passwordResetMessage(to, code string, ttl time.Duration) Message {
	return Message{
		Kind:    KindPasswordReset,
		To:      to,
		Subject: "Your password reset code",
		Body: lines(
			"Someone asked to reset the password for this account.",
			"",
			"Reset code: "+code,
			"",
			fmt.Sprintf("The code expires in %s. If you did not ask for a reset, ignore this email.", ttl),
		),
	}
}

func verificationMessage(to, token string) Message {
	return Message{
		Kind:    KindVerification,
		To:      to,
		Subject: "Confirm your email address",
		Body: lines(
			"Welcome! Confirm your email address with this token:",
			"",
			token,
		),
	}
}

func generatedPasswordMessage(to, password string) Message {
	return Message{
		Kind:    KindGeneratedPassword,
		To:      to,
		Subject: "Your new password",
		Body: lines(
			"Your password has been reset. Your new password is:",
			"",
			password,
			"",
			"Sign in and change it as soon as possible.",
		),
	}
}

func lines(l ...string) string {
	return strings.Join(l, "\r\n") + "\r\n"
}
