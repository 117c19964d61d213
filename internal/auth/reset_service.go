// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authd/internal/logging"
	"github.com/holomush/authd/pkg/errutil"
)

// User-facing reset messages.
const (
	GenericResetMessage   = "If an account with that email exists, a password reset code has been sent."
	PasswordResetMessage  = "Your password has been reset."
	PasswordMailedMessage = "Your password has been reset and a new password has been emailed to you."
)

// ResetRequest completes a password reset. Either OldPassword or Code must be
// supplied. An empty NewPassword asks for a generated password delivered by email.
type ResetRequest struct {
	Email       string
	Code        string
	OldPassword string
	NewPassword string
}

// ResetResult reports a completed reset.
type ResetResult struct {
	Message      string
	UpdatedCount int64
}

// sessionRevoker is the part of RotationEngine the reset flow uses.
type sessionRevoker interface {
	RevokeAllForAccount(ctx context.Context, accountID ulid.ULID, reason RevokeReason) (int64, error)
}

// PasswordResetFlow issues reset tickets and applies password changes.
type PasswordResetFlow struct {
	accounts       AccountRepository
	cache          Cache
	hasher         PasswordHasher
	mailer         Mailer
	sessions       sessionRevoker
	throttle       *LoginThrottle
	logger         *slog.Logger
	metrics        *Metrics
	revokeSessions bool
	now            func() time.Time
}

// NewPasswordResetFlow creates a PasswordResetFlow. sessions may be nil, in
// which case a reset does not revoke refresh tokens.
func NewPasswordResetFlow(
	accounts AccountRepository,
	cache Cache,
	hasher PasswordHasher,
	mailer Mailer,
	sessions *RotationEngine,
	logger *slog.Logger,
) *PasswordResetFlow {
	if logger == nil {
		logger = slog.Default()
	}
	f := &PasswordResetFlow{
		accounts:       accounts,
		cache:          cache,
		hasher:         hasher,
		mailer:         mailer,
		logger:         logger,
		revokeSessions: sessions != nil,
		now:            time.Now,
	}
	if sessions != nil {
		f.sessions = sessions
	}
	return f
}

// SetRevokeSessions controls whether a successful reset revokes every refresh
// token of the account.
func (f *PasswordResetFlow) SetRevokeSessions(enabled bool) {
	f.revokeSessions = enabled && f.sessions != nil
}

// RequestReset issues a reset code for email and delivers it. The returned
// message is the same whether or not the account exists. A delivery failure
// fails with DELIVERY_FAILED and discards the ticket.
func (f *PasswordResetFlow) RequestReset(ctx context.Context, email string) (string, error) {
	msg, err := f.requestReset(ctx, email)
	f.metrics.reset("request", err)
	return msg, err
}

func (f *PasswordResetFlow) requestReset(ctx context.Context, email string) (string, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return "", err
	}

	account, err := f.accounts.GetByEmail(ctx, normalized)
	if errors.Is(err, ErrNotFound) {
		f.logger.DebugContext(ctx, "password reset requested for unknown email",
			logging.Identifier("email", normalized))
		return GenericResetMessage, nil
	}
	if err != nil {
		return "", oops.Code("RESET_REQUEST_FAILED").
			With("operation", "get account by email").
			Wrap(err)
	}

	code, err := GenerateResetCode()
	if err != nil {
		return "", oops.Code("RESET_REQUEST_FAILED").
			With("operation", "generate reset code").
			Wrap(err)
	}
	data, err := encodeTicket(ResetTicket{Code: code, CreatedAt: f.now()})
	if err != nil {
		return "", err
	}

	key := ResetTicketKey(account.ID)
	if err := f.cache.Set(ctx, key, data, ResetTicketTTL); err != nil {
		return "", oops.Code("RESET_REQUEST_FAILED").
			With("operation", "store reset ticket").
			With("account_id", account.ID.String()).
			Wrap(err)
	}

	if err := f.mailer.SendPasswordReset(ctx, account.Email, code); err != nil {
		if delErr := f.cache.Delete(ctx, key); delErr != nil {
			errutil.LogBestEffort(ctx, f.logger, "discard_reset_ticket", delErr, "account_id", account.ID.String())
		}
		return "", recode(CodeDeliveryFailed, "send reset code", err).
			With("account_id", account.ID.String()).
			Wrapf(opaque(err), "reset code delivery failed")
	}

	f.logger.InfoContext(ctx, "password reset code issued", "account_id", account.ID.String())
	return GenericResetMessage, nil
}

// CompleteReset replaces the account's password.
//
// Authorization is by OldPassword when supplied, otherwise by the reset Code,
// which is consumed on first use whether or not it matches. OldPassword is
// subject to the login throttle: a locked account is refused before hashing
// and a wrong OldPassword counts as a failed login. The new password
// is persisted before any generated password is emailed, so DELIVERY_FAILED
// here means the password did change.
func (f *PasswordResetFlow) CompleteReset(ctx context.Context, req ResetRequest) (*ResetResult, error) {
	res, err := f.completeReset(ctx, req)
	f.metrics.reset("complete", err)
	return res, err
}

func (f *PasswordResetFlow) completeReset(ctx context.Context, req ResetRequest) (*ResetResult, error) {
	normalized, err := NormalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}

	account, err := f.accounts.GetByEmail(ctx, normalized)
	if errors.Is(err, ErrNotFound) {
		return nil, oops.Code(CodeResetUserNotFound).Errorf("no account for reset")
	}
	if err != nil {
		return nil, oops.Code("RESET_COMPLETE_FAILED").
			With("operation", "get account by email").
			Wrap(err)
	}

	if req.OldPassword != "" {
		if f.throttle != nil {
			if err := f.throttle.CheckAccount(account); err != nil {
				return nil, err
			}
		}
		ok, err := f.hasher.Verify(req.OldPassword, account.PasswordHash)
		if err != nil {
			return nil, oops.Code("RESET_COMPLETE_FAILED").
				With("operation", "verify old password").
				With("account_id", account.ID.String()).
				Wrap(err)
		}
		if !ok {
			f.recordOldPasswordFailure(ctx, account)
			return nil, oops.Code(CodeResetOldPasswordWrong).
				With("account_id", account.ID.String()).
				Errorf("old password is incorrect")
		}
	}

	newPassword := req.NewPassword
	generated := newPassword == ""
	if generated {
		if newPassword, err = GeneratePassword(); err != nil {
			return nil, oops.Code("RESET_COMPLETE_FAILED").
				With("operation", "generate password").
				Wrap(err)
		}
	} else if err := ValidatePassword(newPassword); err != nil {
		return nil, err
	}

	key := ResetTicketKey(account.ID)
	if req.OldPassword == "" {
		if err := f.consumeCode(ctx, key, req.Code); err != nil {
			return nil, err
		}
	} else if err := f.cache.Delete(ctx, key); err != nil {
		errutil.LogBestEffort(ctx, f.logger, "discard_reset_ticket", err, "account_id", account.ID.String())
	}

	hash, err := f.hasher.Hash(newPassword)
	if err != nil {
		return nil, oops.Code("RESET_COMPLETE_FAILED").
			With("operation", "hash new password").
			Wrap(err)
	}

	updated, err := f.accounts.UpdatePassword(ctx, account.ID, hash)
	if err != nil {
		return nil, recode(CodeResetPersistFailed, "update password", err).
			With("account_id", account.ID.String()).
			Wrapf(opaque(err), "password update failed")
	}
	if updated == 0 {
		return nil, oops.Code(CodeResetPersistFailed).
			With("account_id", account.ID.String()).
			Errorf("password update affected no rows")
	}

	if f.revokeSessions {
		if _, err := f.sessions.RevokeAllForAccount(ctx, account.ID, ReasonPasswordReset); err != nil {
			errutil.LogBestEffort(ctx, f.logger, "revoke_sessions_on_reset", err, "account_id", account.ID.String())
		}
	}

	result := &ResetResult{Message: PasswordResetMessage, UpdatedCount: updated}
	if !generated {
		return result, nil
	}

	if err := f.mailer.SendGeneratedPassword(ctx, account.Email, newPassword); err != nil {
		return result, recode(CodeDeliveryFailed, "send generated password", err).
			With("account_id", account.ID.String()).
			Wrapf(opaque(err), "generated password delivery failed")
	}
	result.Message = PasswordMailedMessage
	return result, nil
}

func (f *PasswordResetFlow) recordOldPasswordFailure(ctx context.Context, account *Account) {
	if f.throttle == nil {
		return
	}
	if _, err := f.throttle.RecordAccountFailure(ctx, account, f.now()); err != nil {
		errutil.LogBestEffort(ctx, f.logger, "record_failure", err, "account_id", account.ID.String())
	}
}

// consumeCode atomically takes the ticket at key and checks code against it.
func (f *PasswordResetFlow) consumeCode(ctx context.Context, key, code string) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return oops.Code(CodeResetCodeInvalid).Errorf("reset code or old password is required")
	}
	data, err := f.cache.Take(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return oops.Code(CodeResetCodeInvalid).Errorf("reset code is invalid or expired")
	}
	if err != nil {
		return oops.Code("RESET_COMPLETE_FAILED").
			With("operation", "take reset ticket").
			Wrap(err)
	}
	var ticket ResetTicket
	if err := decodeTicket(data, &ticket); err != nil {
		return err
	}
	if !ticket.Matches(code) || f.now().Sub(ticket.CreatedAt) > ResetTicketTTL {
		return oops.Code(CodeResetCodeInvalid).Errorf("reset code is invalid or expired")
	}
	return nil
}
