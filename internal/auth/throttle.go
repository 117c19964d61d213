// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"time"

	"github.com/samber/oops"
)

// MaxFailedAttempts is the number of recorded failures at which an
// identifier is locked out. Only a successful login or an explicit unlock
// clears the count.
//
// Counters are kept per normalized identifier. Once an identifier resolves
// to an account, failures and resets apply to both of its identifiers, so
// the lockout follows the account whichever login form is used.
const MaxFailedAttempts = 5

// LoginThrottle gates authentication on the failed-attempt count of an identifier.
type LoginThrottle struct {
	store AttemptStore
	max   int
}

// NewLoginThrottle creates a throttle over store. A max of zero or less
// uses MaxFailedAttempts.
func NewLoginThrottle(store AttemptStore, maxAttempts int) *LoginThrottle {
	if maxAttempts <= 0 {
		maxAttempts = MaxFailedAttempts
	}
	return &LoginThrottle{store: store, max: maxAttempts}
}

// Limit returns the configured lockout threshold.
func (t *LoginThrottle) Limit() int {
	return t.max
}

// Check returns AUTH_TOO_MANY_ATTEMPTS if identifier is locked out.
// It reads the counter and never mutates it.
func (t *LoginThrottle) Check(ctx context.Context, identifier string) error {
	key := NormalizeIdentifier(identifier)
	count, err := t.store.FailedAttempts(ctx, key)
	if err != nil {
		return oops.Code("AUTH_THROTTLE_CHECK_FAILED").
			With("operation", "read failed attempts").
			Wrap(err)
	}
	if count >= t.max {
		return oops.Code(CodeTooManyAttempts).
			With("failed_attempts", count).
			With("limit", t.max).
			Errorf("too many failed login attempts")
	}
	return nil
}

// RecordFailure atomically increments the counter and returns the new count.
func (t *LoginThrottle) RecordFailure(ctx context.Context, identifier string, at time.Time) (int, error) {
	count, err := t.store.IncrementFailedAttempts(ctx, NormalizeIdentifier(identifier), at)
	if err != nil {
		return 0, oops.Code("AUTH_THROTTLE_RECORD_FAILED").
			With("operation", "increment failed attempts").
			Wrap(err)
	}
	return count, nil
}

// Reset clears the counter for identifier.
func (t *LoginThrottle) Reset(ctx context.Context, identifier string) error {
	if err := t.store.ResetFailedAttempts(ctx, NormalizeIdentifier(identifier)); err != nil {
		return oops.Code("AUTH_THROTTLE_RESET_FAILED").
			With("operation", "reset failed attempts").
			Wrap(err)
	}
	return nil
}

// AccountKeys returns the distinct throttle keys of account: its normalized
// email and username.
func AccountKeys(account *Account) []string {
	email := NormalizeIdentifier(account.Email)
	username := NormalizeIdentifier(account.Username)
	if email == username {
		return []string{email}
	}
	return []string{email, username}
}

// CheckAccount returns AUTH_TOO_MANY_ATTEMPTS if account is locked out.
// account.FailedAttempts is the highest count across AccountKeys, as loaded
// by the repository, so no store access is needed.
func (t *LoginThrottle) CheckAccount(account *Account) error {
	if account.FailedAttempts >= t.max {
		return oops.Code(CodeTooManyAttempts).
			With("account_id", account.ID.String()).
			With("failed_attempts", account.FailedAttempts).
			With("limit", t.max).
			Errorf("too many failed login attempts")
	}
	return nil
}

// RecordAccountFailure increments the counter of every key of account and
// returns the highest new count.
func (t *LoginThrottle) RecordAccountFailure(ctx context.Context, account *Account, at time.Time) (int, error) {
	highest := 0
	for _, key := range AccountKeys(account) {
		count, err := t.RecordFailure(ctx, key, at)
		if err != nil {
			return highest, oops.With("account_id", account.ID.String()).Wrap(err)
		}
		highest = max(highest, count)
	}
	account.FailedAttempts = highest
	return highest, nil
}

// ResetAccount clears the counter of every key of account.
func (t *LoginThrottle) ResetAccount(ctx context.Context, account *Account) error {
	for _, key := range AccountKeys(account) {
		if err := t.Reset(ctx, key); err != nil {
			return oops.With("account_id", account.ID.String()).Wrap(err)
		}
	}
	account.FailedAttempts = 0
	return nil
}
