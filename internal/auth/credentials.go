// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/authd/internal/logging"
	"github.com/holomush/authd/pkg/errutil"
)

// CredentialVerifier authenticates an identifier/password pair against the
// account store, consulting the LoginThrottle first.
type CredentialVerifier struct {
	accounts AccountRepository
	hasher   PasswordHasher
	throttle *LoginThrottle
	logger   *slog.Logger
	now      func() time.Time
}

// NewCredentialVerifier creates a CredentialVerifier. A nil logger uses slog.Default().
func NewCredentialVerifier(accounts AccountRepository, hasher PasswordHasher, throttle *LoginThrottle, logger *slog.Logger) *CredentialVerifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialVerifier{
		accounts: accounts,
		hasher:   hasher,
		throttle: throttle,
		logger:   logger,
		now:      time.Now,
	}
}

// invalidCredentials is the uniform failure for unknown identifier and wrong password.
func invalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Errorf("invalid username or password")
}

// Authenticate resolves identifier (email or username) and verifies password.
//
// A locked identifier fails with AUTH_TOO_MANY_ATTEMPTS before any lookup,
// and a locked account before any hashing, whichever of its identifiers was
// given. Unknown identifiers and wrong passwords both fail with
// AUTH_INVALID_CREDENTIALS after the same hashing work and both count as a
// failure. A correct password on a non-active account fails with
// AUTH_ACCOUNT_INACTIVE.
func (v *CredentialVerifier) Authenticate(ctx context.Context, identifier, password string) (*Account, error) {
	key := NormalizeIdentifier(identifier)

	if err := v.throttle.Check(ctx, key); err != nil {
		return nil, err
	}

	account, lookupErr := v.accounts.GetByIdentifier(ctx, key)
	if lookupErr != nil && !errors.Is(lookupErr, ErrNotFound) {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "get account by identifier").
			Wrap(lookupErr)
	}

	targetHash := dummyPasswordHash
	if account != nil {
		if err := v.throttle.CheckAccount(account); err != nil {
			return nil, err
		}
		targetHash = account.PasswordHash
	}

	valid, verifyErr := v.hasher.Verify(password, targetHash)
	if verifyErr != nil && account != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			With("account_id", account.ID.String()).
			Wrap(verifyErr)
	}

	if account == nil || !valid {
		v.recordFailure(ctx, key, account)
		return nil, invalidCredentials()
	}

	if !account.IsActive() {
		v.logger.InfoContext(ctx, "authentication refused for non-active account",
			"account_id", account.ID.String(),
			"status", string(account.Status))
		return nil, oops.Code(CodeAccountInactive).
			With("account_id", account.ID.String()).
			With("status", string(account.Status)).
			Errorf("account is not active")
	}

	v.recordSuccess(ctx, account, password)
	return account, nil
}

// recordFailure counts a failure against key, or against every identifier of
// account when it resolved.
func (v *CredentialVerifier) recordFailure(ctx context.Context, key string, account *Account) {
	var (
		count int
		err   error
	)
	if account != nil {
		count, err = v.throttle.RecordAccountFailure(ctx, account, v.now())
	} else {
		count, err = v.throttle.RecordFailure(ctx, key, v.now())
	}
	if err != nil {
		errutil.LogBestEffort(ctx, v.logger, "record_failure", err, logging.Identifier("identifier", key))
		return
	}
	if count >= v.throttle.Limit() {
		v.logger.WarnContext(ctx, "identifier locked out after repeated failures",
			logging.Identifier("identifier", key),
			"failed_attempts", count)
	}
}

func (v *CredentialVerifier) recordSuccess(ctx context.Context, account *Account, password string) {
	now := v.now()
	account.FailedAttempts = 0
	account.LastLoginAt = &now

	if err := v.throttle.ResetAccount(ctx, account); err != nil {
		errutil.LogBestEffort(ctx, v.logger, "reset_failed_attempts", err, "account_id", account.ID.String())
	}
	if err := v.accounts.RecordLogin(ctx, account.ID, now); err != nil {
		errutil.LogBestEffort(ctx, v.logger, "record_login", err, "account_id", account.ID.String())
	}

	if !v.hasher.NeedsUpgrade(account.PasswordHash) {
		return
	}
	newHash, err := v.hasher.Hash(password)
	if err != nil {
		errutil.LogBestEffort(ctx, v.logger, "upgrade_hash", err, "account_id", account.ID.String())
		return
	}
	if _, err := v.accounts.UpdatePassword(ctx, account.ID, newHash); err != nil {
		errutil.LogBestEffort(ctx, v.logger, "upgrade_hash", err, "account_id", account.ID.String())
		return
	}
	account.PasswordHash = newHash
}
