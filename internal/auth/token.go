// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Token configuration.
const (
	RefreshTokenBytes = 32 // 256 bits, 64 hex chars
	RefreshTokenTTL   = 7 * 24 * time.Hour
	AccessTokenTTL    = 30 * time.Minute
)

// RevokeReason records why a refresh token left the Active state.
type RevokeReason string

// Revoke reasons.
const (
	ReasonRotated       RevokeReason = "rotated"
	ReasonLogout        RevokeReason = "logout"
	ReasonPasswordReset RevokeReason = "password_reset"
	ReasonReuseDetected RevokeReason = "reuse_detected"
	ReasonAdmin         RevokeReason = "admin"
)

// RefreshToken is the persisted record of an opaque refresh credential.
// Only the sha256 of the value is stored.
type RefreshToken struct {
	ID                ulid.ULID
	AccountID         ulid.ULID
	TokenHash         string
	IssuedAt          time.Time
	ExpiresAt         time.Time
	Revoked           bool
	RevokedAt         *time.Time
	RevokeReason      RevokeReason
	ReplacedByTokenID *ulid.ULID
	CreatedByIP       string
}

// TokenStateKind enumerates the lifecycle states of a refresh token.
type TokenStateKind int

// Token states. Every state other than TokenActive is terminal.
const (
	TokenActive TokenStateKind = iota
	TokenRotated
	TokenRevoked
	TokenExpired
)

func (k TokenStateKind) String() string {
	switch k {
	case TokenActive:
		return "active"
	case TokenRotated:
		return "rotated"
	case TokenRevoked:
		return "revoked"
	case TokenExpired:
		return "expired"
	}
	return "unknown"
}

// TokenState is the derived state of a refresh token at a point in time.
// SuccessorID is set only for TokenRotated.
type TokenState struct {
	Kind        TokenStateKind
	SuccessorID ulid.ULID
}

// State derives the token's state at now. Revocation takes precedence over expiry.
func (t *RefreshToken) State(now time.Time) TokenState {
	if t.Revoked {
		if t.ReplacedByTokenID != nil {
			return TokenState{Kind: TokenRotated, SuccessorID: *t.ReplacedByTokenID}
		}
		return TokenState{Kind: TokenRevoked}
	}
	if !now.Before(t.ExpiresAt) {
		return TokenState{Kind: TokenExpired}
	}
	return TokenState{Kind: TokenActive}
}

// GenerateOpaqueToken returns a random hex token and its sha256 hex digest.
func GenerateOpaqueToken() (token, hash string, err error) {
	raw := make([]byte, RefreshTokenBytes)
	if _, err = rand.Read(raw); err != nil {
		return "", "", oops.Code(CodeTokenGenerateFailed).
			With("operation", "crypto/rand.Read").
			With("requested_bytes", RefreshTokenBytes).
			Wrap(err)
	}
	token = hex.EncodeToString(raw)
	return token, HashToken(token), nil
}

// HashToken computes the storage key for an opaque token value.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// RevokeUpdate describes a compare-and-swap transition out of Active.
type RevokeUpdate struct {
	ID           ulid.ULID
	At           time.Time
	Reason       RevokeReason
	ReplacedByID *ulid.ULID
}

// RefreshTokenRepository manages refresh token persistence.
type RefreshTokenRepository interface {
	// Create stores a new token.
	Create(ctx context.Context, token *RefreshToken) error

	// GetByTokenHash retrieves a token by the sha256 of its value.
	GetByTokenHash(ctx context.Context, tokenHash string) (*RefreshToken, error)

	// MarkRevoked transitions a non-revoked token to revoked. Returns an error
	// wrapping ErrAlreadyRevoked if the token was already revoked, including
	// by a concurrent caller, and ErrNotFound if it does not exist.
	MarkRevoked(ctx context.Context, update RevokeUpdate) error

	// RevokeAllForAccount revokes every non-revoked token of the account and
	// returns how many were revoked.
	RevokeAllForAccount(ctx context.Context, accountID ulid.ULID, reason RevokeReason, at time.Time) (int64, error)

	// ListByAccount returns the account's tokens, newest first.
	ListByAccount(ctx context.Context, accountID ulid.ULID) ([]*RefreshToken, error)

	// DeleteExpired removes tokens that expired before cutoff.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// Transactor runs fn inside a unit of work. Repository calls made with the
// ctx passed to fn participate in it; a non-nil return rolls back.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
