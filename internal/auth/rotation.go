// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authd/pkg/errutil"
)

// DefaultTokenRetention is how long past expiry token records are kept for audit.
const DefaultTokenRetention = 30 * 24 * time.Hour

// TokenPair is the result of a successful rotation.
type TokenPair struct {
	AccessToken  AccessToken
	RefreshToken string
	Record       *RefreshToken
	Account      *Account
}

// RotationEngine validates, rotates, and revokes refresh tokens.
type RotationEngine struct {
	tokens        RefreshTokenRepository
	accounts      AccountRepository
	issuer        *TokenIssuer
	tx            Transactor
	logger        *slog.Logger
	metrics       *Metrics
	revokeOnReuse bool
	now           func() time.Time
}

// NewRotationEngine creates a RotationEngine. Reuse detection is enabled.
func NewRotationEngine(tokens RefreshTokenRepository, accounts AccountRepository, issuer *TokenIssuer, tx Transactor, logger *slog.Logger) *RotationEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &RotationEngine{
		tokens:        tokens,
		accounts:      accounts,
		issuer:        issuer,
		tx:            tx,
		logger:        logger,
		revokeOnReuse: true,
		now:           time.Now,
	}
}

// SetRevokeOnReuse controls whether presenting a rotated token revokes every
// token of its account.
func (e *RotationEngine) SetRevokeOnReuse(enabled bool) {
	e.revokeOnReuse = enabled
}

func (e *RotationEngine) lookup(ctx context.Context, value string) (*RefreshToken, error) {
	if value == "" {
		return nil, oops.Code(CodeTokenNotFound).Errorf("refresh token is empty")
	}
	token, err := e.tokens.GetByTokenHash(ctx, HashToken(value))
	if errors.Is(err, ErrNotFound) {
		return nil, oops.Code(CodeTokenNotFound).Wrap(err)
	}
	if err != nil {
		return nil, oops.Code("TOKEN_LOOKUP_FAILED").
			With("operation", "get refresh token by hash").
			Wrap(err)
	}
	return token, nil
}

// stateError translates a non-active state into its token error.
func stateError(token *RefreshToken, state TokenState) error {
	b := oops.With("token_id", token.ID.String()).With("state", state.Kind.String())
	switch state.Kind {
	case TokenRotated:
		return b.Code(CodeTokenRevoked).With("replaced_by", state.SuccessorID.String()).Errorf("refresh token has been rotated")
	case TokenRevoked:
		return b.Code(CodeTokenRevoked).With("reason", string(token.RevokeReason)).Errorf("refresh token has been revoked")
	case TokenExpired:
		return b.Code(CodeTokenExpired).Errorf("refresh token has expired")
	}
	return nil
}

// Validate returns the token record if value names an Active token.
// Revoked (including rotated), expired, and unknown tokens fail with
// distinct codes.
func (e *RotationEngine) Validate(ctx context.Context, value string) (*RefreshToken, error) {
	token, err := e.lookup(ctx, value)
	if err != nil {
		return nil, err
	}
	if err := stateError(token, token.State(e.now())); err != nil {
		return nil, err
	}
	return token, nil
}

// Rotate exchanges an Active refresh token for a new access/refresh pair.
//
// The old token is revoked with a compare-and-swap and the new token inserted
// in a single unit of work, so of two concurrent rotations of the same token
// exactly one succeeds. If the unit of work fails or ctx is cancelled before
// it commits, neither write is kept and the minted token is discarded.
func (e *RotationEngine) Rotate(ctx context.Context, value, ip string) (*TokenPair, error) {
	pair, err := e.rotate(ctx, value, ip)
	e.metrics.rotation(err)
	return pair, err
}

func (e *RotationEngine) rotate(ctx context.Context, value, ip string) (*TokenPair, error) {
	old, err := e.lookup(ctx, value)
	if err != nil {
		return nil, err
	}

	state := old.State(e.now())
	if state.Kind == TokenRotated {
		e.handleReuse(ctx, old, state)
	}
	if err := stateError(old, state); err != nil {
		return nil, err
	}

	account, err := e.accounts.GetByID(ctx, old.AccountID)
	if errors.Is(err, ErrNotFound) {
		return nil, oops.Code(CodeTokenNotFound).
			With("token_id", old.ID.String()).
			Wrap(err)
	}
	if err != nil {
		return nil, oops.Code("TOKEN_ROTATE_FAILED").
			With("operation", "get token owner").
			Wrap(err)
	}
	if !account.IsActive() {
		return nil, oops.Code(CodeTokenRevoked).
			With("token_id", old.ID.String()).
			With("owner_status", string(account.Status)).
			Errorf("token owner is not active")
	}

	newValue, next, err := e.issuer.MintRefreshToken(account.ID, ip)
	if err != nil {
		return nil, err
	}
	access, err := e.issuer.IssueAccessToken(account)
	if err != nil {
		return nil, err
	}

	now := e.now()
	err = e.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := e.tokens.MarkRevoked(ctx, RevokeUpdate{
			ID:           old.ID,
			At:           now,
			Reason:       ReasonRotated,
			ReplacedByID: &next.ID,
		}); err != nil {
			return err
		}
		return e.tokens.Create(ctx, next)
	})
	switch {
	case errors.Is(err, ErrAlreadyRevoked):
		return nil, oops.Code(CodeTokenRevoked).
			With("token_id", old.ID.String()).
			With("operation", "compare-and-swap revoke").
			Errorf("refresh token was revoked concurrently")
	case errors.Is(err, ErrNotFound):
		return nil, oops.Code(CodeTokenNotFound).
			With("token_id", old.ID.String()).
			Wrap(err)
	case err != nil:
		return nil, oops.Code("TOKEN_ROTATE_FAILED").
			With("operation", "rotate refresh token").
			With("token_id", old.ID.String()).
			Wrap(err)
	}

	return &TokenPair{AccessToken: access, RefreshToken: newValue, Record: next, Account: account}, nil
}

// handleReuse reacts to a rotated token being presented again.
func (e *RotationEngine) handleReuse(ctx context.Context, token *RefreshToken, state TokenState) {
	e.metrics.reuse()
	e.logger.WarnContext(ctx, "rotated refresh token presented again",
		"token_id", token.ID.String(),
		"account_id", token.AccountID.String(),
		"replaced_by", state.SuccessorID.String(),
		"revoke_all", e.revokeOnReuse)
	if !e.revokeOnReuse {
		return
	}
	if _, err := e.RevokeAllForAccount(ctx, token.AccountID, ReasonReuseDetected); err != nil {
		errutil.LogBestEffort(ctx, e.logger, "revoke_on_reuse", err, "account_id", token.AccountID.String())
	}
}

// RevokeExplicit revokes the token named by value without a successor.
// An already-revoked token yields an error wrapping ErrAlreadyRevoked with
// code TOKEN_REVOKED.
func (e *RotationEngine) RevokeExplicit(ctx context.Context, value string) error {
	token, err := e.lookup(ctx, value)
	if err != nil {
		return err
	}
	if token.Revoked {
		return oops.Code(CodeTokenRevoked).With("token_id", token.ID.String()).Wrap(ErrAlreadyRevoked)
	}

	err = e.tokens.MarkRevoked(ctx, RevokeUpdate{ID: token.ID, At: e.now(), Reason: ReasonLogout})
	switch {
	case errors.Is(err, ErrAlreadyRevoked):
		return oops.Code(CodeTokenRevoked).With("token_id", token.ID.String()).Wrap(err)
	case errors.Is(err, ErrNotFound):
		return oops.Code(CodeTokenNotFound).With("token_id", token.ID.String()).Wrap(err)
	case err != nil:
		return oops.Code("TOKEN_REVOKE_FAILED").
			With("operation", "revoke refresh token").
			With("token_id", token.ID.String()).
			Wrap(err)
	}
	return nil
}

// RevokeAllForAccount revokes every non-revoked token of the account and
// returns how many were revoked.
func (e *RotationEngine) RevokeAllForAccount(ctx context.Context, accountID ulid.ULID, reason RevokeReason) (int64, error) {
	n, err := e.tokens.RevokeAllForAccount(ctx, accountID, reason, e.now())
	if err != nil {
		return 0, oops.Code("TOKEN_REVOKE_ALL_FAILED").
			With("operation", "revoke all refresh tokens").
			With("account_id", accountID.String()).
			With("reason", string(reason)).
			Wrap(err)
	}
	if n > 0 {
		e.logger.InfoContext(ctx, "revoked refresh tokens",
			"account_id", accountID.String(),
			"reason", string(reason),
			"count", n)
	}
	return n, nil
}

// ListForAccount returns the account's tokens, newest first.
func (e *RotationEngine) ListForAccount(ctx context.Context, accountID ulid.ULID) ([]*RefreshToken, error) {
	tokens, err := e.tokens.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, oops.Code("TOKEN_LIST_FAILED").
			With("operation", "list refresh tokens").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return tokens, nil
}

// PurgeExpired deletes tokens that expired more than retention ago.
func (e *RotationEngine) PurgeExpired(ctx context.Context, retention time.Duration) (int64, error) {
	if retention < 0 {
		retention = 0
	}
	n, err := e.tokens.DeleteExpired(ctx, e.now().Add(-retention))
	if err != nil {
		return 0, oops.Code("TOKEN_PURGE_FAILED").
			With("operation", "delete expired refresh tokens").
			Wrap(err)
	}
	return n, nil
}
