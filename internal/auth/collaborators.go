// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"time"
)

// Cache is a TTL key-value store for short-lived tickets.
// Get and Take return an error wrapping ErrNotFound for absent or expired keys.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)

	// Take atomically reads and deletes key. At most one concurrent caller
	// observes the value.
	Take(ctx context.Context, key string) ([]byte, error)

	Delete(ctx context.Context, key string) error
}

// Mailer delivers account emails. Implementations may be synchronous or queue
// the message; the caller only learns whether the hand-off succeeded.
type Mailer interface {
	SendPasswordReset(ctx context.Context, to, code string) error
	SendVerification(ctx context.Context, to, token string) error
	SendGeneratedPassword(ctx context.Context, to, password string) error
}

// AccessClaims are the claims carried in a signed access token.
type AccessClaims struct {
	Subject   string
	Email     string
	Roles     []string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// AccessTokenSigner signs and validates stateless access tokens.
type AccessTokenSigner interface {
	Sign(claims AccessClaims) (string, error)

	// Parse validates signature and expiry and returns the claims.
	Parse(token string) (*AccessClaims, error)
}
