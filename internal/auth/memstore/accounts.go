// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package memstore

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authd/internal/auth"
)

// Accounts implements auth.AccountRepository.
type Accounts struct {
	s *Store
}

// Create stores a new account.
func (r *Accounts) Create(ctx context.Context, account *auth.Account) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.accounts {
		if lower(existing.Email) == lower(account.Email) || lower(existing.Username) == lower(account.Username) {
			return oops.With("operation", "insert account").
				With("account_id", account.ID.String()).
				Wrap(auth.ErrAlreadyExists)
		}
	}
	key := account.ID.String()
	r.s.accounts[key] = cloneAccount(account)
	record(ctx, func() { delete(r.s.accounts, key) })
	return nil
}

// GetByID retrieves an account by ID.
func (r *Accounts) GetByID(_ context.Context, id ulid.ULID) (*auth.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if a, ok := r.s.accounts[id.String()]; ok {
		return r.withAttempts(a), nil
	}
	return nil, oops.With("account_id", id.String()).Wrap(auth.ErrNotFound)
}

// GetByIdentifier retrieves an account by email or username.
func (r *Accounts) GetByIdentifier(_ context.Context, identifier string) (*auth.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	identifier = lower(identifier)
	for _, a := range r.s.accounts {
		if lower(a.Email) == identifier || lower(a.Username) == identifier {
			return r.withAttempts(a), nil
		}
	}
	return nil, oops.With("identifier", identifier).Wrap(auth.ErrNotFound)
}

// GetByEmail retrieves an account by email (case-insensitive).
func (r *Accounts) GetByEmail(_ context.Context, email string) (*auth.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	email = lower(email)
	for _, a := range r.s.accounts {
		if lower(a.Email) == email {
			return r.withAttempts(a), nil
		}
	}
	return nil, oops.With("email", email).Wrap(auth.ErrNotFound)
}

// withAttempts returns a copy of a carrying the highest attempt count of its
// identifiers. Caller holds the lock.
func (r *Accounts) withAttempts(a *auth.Account) *auth.Account {
	c := cloneAccount(a)
	for _, key := range []string{lower(a.Email), lower(a.Username)} {
		at, ok := r.s.attempts[key]
		if !ok {
			continue
		}
		if at.count > c.FailedAttempts {
			c.FailedAttempts = at.count
		}
		if c.LastFailedLoginAt == nil || at.lastFail.After(*c.LastFailedLoginAt) {
			t := at.lastFail
			c.LastFailedLoginAt = &t
		}
	}
	return c
}

// UpdatePassword replaces the password hash.
func (r *Accounts) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) (int64, error) {
	return r.update(ctx, id, func(a *auth.Account) { a.PasswordHash = passwordHash })
}

// MarkEmailVerified sets EmailVerified.
func (r *Accounts) MarkEmailVerified(ctx context.Context, id ulid.ULID) error {
	n, _ := r.update(ctx, id, func(a *auth.Account) { a.EmailVerified = true }) //nolint:errcheck // update never fails
	if n == 0 {
		return oops.With("account_id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// RecordLogin stores the time of a successful login.
func (r *Accounts) RecordLogin(ctx context.Context, id ulid.ULID, at time.Time) error {
	n, _ := r.update(ctx, id, func(a *auth.Account) { a.LastLoginAt = &at }) //nolint:errcheck // update never fails
	if n == 0 {
		return oops.With("account_id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// SetStatus changes the account status. It is not part of
// auth.AccountRepository and exists for development tooling and tests.
func (r *Accounts) SetStatus(ctx context.Context, id ulid.ULID, status auth.AccountStatus) error {
	n, _ := r.update(ctx, id, func(a *auth.Account) { a.Status = status }) //nolint:errcheck // update never fails
	if n == 0 {
		return oops.With("account_id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

func (r *Accounts) update(ctx context.Context, id ulid.ULID, apply func(*auth.Account)) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := id.String()
	current, ok := r.s.accounts[key]
	if !ok {
		return 0, nil
	}
	prev := cloneAccount(current)
	next := cloneAccount(current)
	apply(next)
	next.UpdatedAt = time.Now()
	r.s.accounts[key] = next
	record(ctx, func() { r.s.accounts[key] = prev })
	return 1, nil
}

// FailedAttempts returns the failure count for identifier.
func (r *Accounts) FailedAttempts(_ context.Context, identifier string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.attempts[identifier].count, nil
}

// IncrementFailedAttempts adds one failure and returns the new count.
func (r *Accounts) IncrementFailedAttempts(ctx context.Context, identifier string, at time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	prev, existed := r.s.attempts[identifier]
	next := attempt{count: prev.count + 1, lastFail: at}
	r.s.attempts[identifier] = next
	record(ctx, func() { r.restoreAttempt(identifier, prev, existed) })
	return next.count, nil
}

// ResetFailedAttempts clears the failure count for identifier.
func (r *Accounts) ResetFailedAttempts(ctx context.Context, identifier string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	prev, existed := r.s.attempts[identifier]
	delete(r.s.attempts, identifier)
	record(ctx, func() { r.restoreAttempt(identifier, prev, existed) })
	return nil
}

func (r *Accounts) restoreAttempt(identifier string, prev attempt, existed bool) {
	if existed {
		r.s.attempts[identifier] = prev
		return
	}
	delete(r.s.attempts, identifier)
}
