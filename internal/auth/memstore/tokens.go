// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package memstore

import (
	"context"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authd/internal/auth"
)

// Tokens implements auth.RefreshTokenRepository.
type Tokens struct {
	s *Store
}

// Create stores a new refresh token.
func (r *Tokens) Create(ctx context.Context, token *auth.RefreshToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := token.ID.String()
	if _, ok := r.s.tokens[key]; ok {
		return oops.With("token_id", key).Wrap(auth.ErrAlreadyExists)
	}
	for _, existing := range r.s.tokens {
		if existing.TokenHash == token.TokenHash {
			return oops.With("token_id", key).Wrap(auth.ErrAlreadyExists)
		}
	}
	r.s.tokens[key] = cloneToken(token)
	record(ctx, func() { delete(r.s.tokens, key) })
	return nil
}

// GetByTokenHash retrieves a token by the sha256 of its value.
func (r *Tokens) GetByTokenHash(_ context.Context, tokenHash string) (*auth.RefreshToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.tokens {
		if t.TokenHash == tokenHash {
			return cloneToken(t), nil
		}
	}
	return nil, oops.With("operation", "get refresh token by hash").Wrap(auth.ErrNotFound)
}

// MarkRevoked transitions a non-revoked token to revoked under the store lock.
func (r *Tokens) MarkRevoked(ctx context.Context, update auth.RevokeUpdate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := update.ID.String()
	current, ok := r.s.tokens[key]
	if !ok {
		return oops.With("token_id", key).Wrap(auth.ErrNotFound)
	}
	if current.Revoked {
		return oops.With("token_id", key).Wrap(auth.ErrAlreadyRevoked)
	}
	prev := cloneToken(current)
	r.s.tokens[key] = revoked(current, update.At, update.Reason, update.ReplacedByID)
	record(ctx, func() { r.s.tokens[key] = prev })
	return nil
}

// RevokeAllForAccount revokes every non-revoked token of the account.
func (r *Tokens) RevokeAllForAccount(
	ctx context.Context,
	accountID ulid.ULID,
	reason auth.RevokeReason,
	at time.Time,
) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for key, t := range r.s.tokens {
		if t.AccountID != accountID || t.Revoked {
			continue
		}
		prev := cloneToken(t)
		r.s.tokens[key] = revoked(t, at, reason, nil)
		record(ctx, func() { r.s.tokens[key] = prev })
		n++
	}
	return n, nil
}

// ListByAccount returns the account's tokens, newest first.
func (r *Tokens) ListByAccount(_ context.Context, accountID ulid.ULID) ([]*auth.RefreshToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*auth.RefreshToken
	for _, t := range r.s.tokens {
		if t.AccountID == accountID {
			out = append(out, cloneToken(t))
		}
	}
	slices.SortFunc(out, func(a, b *auth.RefreshToken) int {
		if c := b.IssuedAt.Compare(a.IssuedAt); c != 0 {
			return c
		}
		return b.ID.Compare(a.ID)
	})
	return out, nil
}

// DeleteExpired removes tokens that expired before cutoff.
func (r *Tokens) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for key, t := range r.s.tokens {
		if !t.ExpiresAt.Before(cutoff) {
			continue
		}
		prev := t
		delete(r.s.tokens, key)
		record(ctx, func() { r.s.tokens[key] = prev })
		n++
	}
	return n, nil
}

func revoked(t *auth.RefreshToken, at time.Time, reason auth.RevokeReason, replacedBy *ulid.ULID) *auth.RefreshToken {
	next := cloneToken(t)
	next.Revoked = true
	next.RevokedAt = &at
	next.RevokeReason = reason
	if replacedBy != nil {
		id := *replacedBy
		next.ReplacedByTokenID = &id
	}
	return next
}
