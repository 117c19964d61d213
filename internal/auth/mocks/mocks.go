// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package mocks provides testify mocks of the auth collaborator interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/holomush/authd/internal/auth"
)

// Compile-time interface checks.
var (
	_ auth.AccountRepository      = (*AccountRepository)(nil)
	_ auth.RefreshTokenRepository = (*RefreshTokenRepository)(nil)
	_ auth.Cache                  = (*Cache)(nil)
	_ auth.Mailer                 = (*Mailer)(nil)
	_ auth.PasswordHasher         = (*PasswordHasher)(nil)
	_ auth.AccessTokenSigner      = (*AccessTokenSigner)(nil)
	_ auth.Transactor             = (*Transactor)(nil)
)

// AccountRepository mocks auth.AccountRepository.
type AccountRepository struct {
	mock.Mock
}

func (m *AccountRepository) Create(ctx context.Context, account *auth.Account) error {
	return m.Called(ctx, account).Error(0)
}

func (m *AccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.Account), args.Error(1)
}

func (m *AccountRepository) GetByIdentifier(ctx context.Context, identifier string) (*auth.Account, error) {
	args := m.Called(ctx, identifier)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.Account), args.Error(1)
}

func (m *AccountRepository) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.Account), args.Error(1)
}

func (m *AccountRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) (int64, error) {
	args := m.Called(ctx, id, passwordHash)
	return args.Get(0).(int64), args.Error(1)
}

func (m *AccountRepository) MarkEmailVerified(ctx context.Context, id ulid.ULID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *AccountRepository) RecordLogin(ctx context.Context, id ulid.ULID, at time.Time) error {
	return m.Called(ctx, id, at).Error(0)
}

func (m *AccountRepository) FailedAttempts(ctx context.Context, identifier string) (int, error) {
	args := m.Called(ctx, identifier)
	return args.Int(0), args.Error(1)
}

func (m *AccountRepository) IncrementFailedAttempts(ctx context.Context, identifier string, at time.Time) (int, error) {
	args := m.Called(ctx, identifier, at)
	return args.Int(0), args.Error(1)
}

func (m *AccountRepository) ResetFailedAttempts(ctx context.Context, identifier string) error {
	return m.Called(ctx, identifier).Error(0)
}

// RefreshTokenRepository mocks auth.RefreshTokenRepository.
type RefreshTokenRepository struct {
	mock.Mock
}

func (m *RefreshTokenRepository) Create(ctx context.Context, token *auth.RefreshToken) error {
	return m.Called(ctx, token).Error(0)
}

func (m *RefreshTokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.RefreshToken, error) {
	args := m.Called(ctx, tokenHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.RefreshToken), args.Error(1)
}

func (m *RefreshTokenRepository) MarkRevoked(ctx context.Context, update auth.RevokeUpdate) error {
	return m.Called(ctx, update).Error(0)
}

func (m *RefreshTokenRepository) RevokeAllForAccount(
	ctx context.Context,
	accountID ulid.ULID,
	reason auth.RevokeReason,
	at time.Time,
) (int64, error) {
	args := m.Called(ctx, accountID, reason, at)
	return args.Get(0).(int64), args.Error(1)
}

func (m *RefreshTokenRepository) ListByAccount(ctx context.Context, accountID ulid.ULID) ([]*auth.RefreshToken, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*auth.RefreshToken), args.Error(1)
}

func (m *RefreshTokenRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

// Cache mocks auth.Cache.
type Cache struct {
	mock.Mock
}

func (m *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return m.Called(ctx, key, value, ttl).Error(0)
}

func (m *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *Cache) Take(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *Cache) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

// Mailer mocks auth.Mailer.
type Mailer struct {
	mock.Mock
}

func (m *Mailer) SendPasswordReset(ctx context.Context, to, code string) error {
	return m.Called(ctx, to, code).Error(0)
}

func (m *Mailer) SendVerification(ctx context.Context, to, token string) error {
	return m.Called(ctx, to, token).Error(0)
}

func (m *Mailer) SendGeneratedPassword(ctx context.Context, to, password string) error {
	return m.Called(ctx, to, password).Error(0)
}

// PasswordHasher mocks auth.PasswordHasher.
type PasswordHasher struct {
	mock.Mock
}

func (m *PasswordHasher) Hash(password string) (string, error) {
	args := m.Called(password)
	return args.String(0), args.Error(1)
}

func (m *PasswordHasher) Verify(password, hash string) (bool, error) {
	args := m.Called(password, hash)
	return args.Bool(0), args.Error(1)
}

func (m *PasswordHasher) NeedsUpgrade(hash string) bool {
	return m.Called(hash).Bool(0)
}

// AccessTokenSigner mocks auth.AccessTokenSigner.
type AccessTokenSigner struct {
	mock.Mock
}

func (m *AccessTokenSigner) Sign(claims auth.AccessClaims) (string, error) {
	args := m.Called(claims)
	return args.String(0), args.Error(1)
}

func (m *AccessTokenSigner) Parse(token string) (*auth.AccessClaims, error) {
	args := m.Called(token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.AccessClaims), args.Error(1)
}

// Transactor runs fn inline. Set Err to make InTransaction fail before fn
// runs.
type Transactor struct {
	Err   error
	Calls int
}

func (t *Transactor) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	t.Calls++
	if t.Err != nil {
		return t.Err
	}
	return fn(ctx)
}
