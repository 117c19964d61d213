// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package mail

import (
	"context"

	"github.com/samber/oops"

	"github.com/holomush/authd/internal/auth"
)

// Mailer implements auth.Mailer. Password reset codes and generated passwords
// go through direct so the caller learns whether delivery worked.
// Verification mail goes through queued.
type Mailer struct {
	direct Sender
	queued Sender
}

var _ auth.Mailer = (*Mailer)(nil)

// NewMailer creates a Mailer. queued may be nil, in which case every message
// is sent directly.
func NewMailer(direct, queued Sender) *Mailer {
	if queued == nil {
		queued = direct
	}
	return &Mailer{direct: direct, queued: queued}
}

// SendPasswordReset delivers a reset code.
func (m *Mailer) SendPasswordReset(ctx context.Context, to, code string) error {
	return m.send(ctx, m.direct, passwordResetMessage(to, code, auth.ResetTicketTTL))
}

// SendVerification queues an email verification token.
func (m *Mailer) SendVerification(ctx context.Context, to, token string) error {
	return m.send(ctx, m.queued, verificationMessage(to, token))
}

// SendGeneratedPassword delivers a generated password.
func (m *Mailer) SendGeneratedPassword(ctx context.Context, to, password string) error {
	return m.send(ctx, m.direct, generatedPasswordMessage(to, password))
}

func (m *Mailer) send(ctx context.Context, s Sender, msg Message) error {
	if err := s.Send(ctx, msg); err != nil {
		return oops.With("operation", "send mail").With("kind", string(msg.Kind)).Wrap(err)
	}
	return nil
}
