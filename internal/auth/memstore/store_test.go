// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package memstore_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authd/internal/auth"
	"github.com/holomush/authd/internal/auth/memstore"
	"github.com/holomush/authd/pkg/errutil"
)

// Compile-time interface checks.
var (
	_ auth.AccountRepository      = (*memstore.Accounts)(nil)
	_ auth.RefreshTokenRepository = (*memstore.Tokens)(nil)
	_ auth.Transactor             = (*memstore.Store)(nil)
	_ auth.Cache                  = (*memstore.Cache)(nil)
)

func newAccount(t *testing.T, username string) *auth.Account {
	t.Helper()
	a, err := auth.NewAccount(username, username+"@example.com", "hash", time.Now())
	require.NoError(t, err)
	return a
}

func newToken(accountID ulid.ULID, hash string, issued time.Time) *auth.RefreshToken {
	return &auth.RefreshToken{
		ID:        ulid.Make(),
		AccountID: accountID,
		TokenHash: hash,
		IssuedAt:  issued,
		ExpiresAt: issued.Add(time.Hour),
	}
}

func TestAccounts_CreateRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	accounts := memstore.New().Accounts()
	require.NoError(t, accounts.Create(ctx, newAccount(t, "ada")))

	tests := []struct {
		name     string
		username string
		email    string
	}{
		{"same username different case", "ADA", "other@example.com"},
		{"same email different case", "other", "ADA@example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dup := newAccount(t, "placeholder")
			dup.Username, dup.Email = tt.username, tt.email
			assert.ErrorIs(t, accounts.Create(ctx, dup), auth.ErrAlreadyExists)
		})
	}
}

func TestAccounts_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	accounts := memstore.New().Accounts()
	a := newAccount(t, "ada")
	require.NoError(t, accounts.Create(ctx, a))

	got, err := accounts.GetByID(ctx, a.ID)
	require.NoError(t, err)
	got.Roles[0] = "admin"

	again, err := accounts.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"user"}, again.Roles)
}

func TestAccounts_AttemptsReflectOnLookup(t *testing.T) {
	ctx := context.Background()
	accounts := memstore.New().Accounts()
	a := newAccount(t, "ada")
	require.NoError(t, accounts.Create(ctx, a))

	for range 3 {
		_, err := accounts.IncrementFailedAttempts(ctx, "ada@example.com", time.Now())
		require.NoError(t, err)
	}
	got, err := accounts.GetByIdentifier(ctx, "ADA")
	require.NoError(t, err)
	assert.Equal(t, 3, got.FailedAttempts)
	require.NotNil(t, got.LastFailedLoginAt)

	require.NoError(t, accounts.ResetFailedAttempts(ctx, "ada@example.com"))
	n, err := accounts.FailedAttempts(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAccounts_ConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	accounts := memstore.New().Accounts()

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = accounts.IncrementFailedAttempts(ctx, "ada", time.Now())
		}()
	}
	wg.Wait()

	n, err := accounts.FailedAttempts(ctx, "ada")
	require.NoError(t, err)
	assert.Equal(t, 50, n)
}

func TestAccounts_MissingAccount(t *testing.T) {
	ctx := context.Background()
	accounts := memstore.New().Accounts()
	id := ulid.Make()

	_, err := accounts.GetByID(ctx, id)
	assert.ErrorIs(t, err, auth.ErrNotFound)
	assert.ErrorIs(t, accounts.RecordLogin(ctx, id, time.Now()), auth.ErrNotFound)
	assert.ErrorIs(t, accounts.MarkEmailVerified(ctx, id), auth.ErrNotFound)

	n, err := accounts.UpdatePassword(ctx, id, "h")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTokens_MarkRevokedIsCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	tokens := memstore.New().Tokens()
	tok := newToken(ulid.Make(), "h", time.Now())
	require.NoError(t, tokens.Create(ctx, tok))

	const racers = 16
	var wins, losses atomic.Int32
	var wg sync.WaitGroup
	for range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := tokens.MarkRevoked(ctx, auth.RevokeUpdate{ID: tok.ID, At: time.Now(), Reason: auth.ReasonLogout})
			if err == nil {
				wins.Add(1)
			} else if errors.Is(err, auth.ErrAlreadyRevoked) {
				losses.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(racers-1), losses.Load())

	err := tokens.MarkRevoked(ctx, auth.RevokeUpdate{ID: ulid.Make(), At: time.Now()})
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestTokens_ListNewestFirstAndPurge(t *testing.T) {
	ctx := context.Background()
	tokens := memstore.New().Tokens()
	accountID := ulid.Make()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	old := newToken(accountID, "h1", base)
	recent := newToken(accountID, "h2", base.Add(2*time.Hour))
	require.NoError(t, tokens.Create(ctx, old))
	require.NoError(t, tokens.Create(ctx, recent))
	require.NoError(t, tokens.Create(ctx, newToken(ulid.Make(), "h3", base)))

	list, err := tokens.ListByAccount(ctx, accountID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, recent.ID, list[0].ID)

	n, err := tokens.DeleteExpired(ctx, base.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	list, err = tokens.ListByAccount(ctx, accountID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, recent.ID, list[0].ID)
}

func TestStore_InTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("failure undoes every mutation", func(t *testing.T) {
		s := memstore.New()
		a := newAccount(t, "ada")
		require.NoError(t, s.Accounts().Create(ctx, a))
		tok := newToken(a.ID, "h1", time.Now())
		require.NoError(t, s.Tokens().Create(ctx, tok))

		abort := errors.New("abort")
		err := s.InTransaction(ctx, func(ctx context.Context) error {
			next := newToken(a.ID, "h2", time.Now())
			if err := s.Tokens().MarkRevoked(ctx, auth.RevokeUpdate{
				ID: tok.ID, At: time.Now(), Reason: auth.ReasonRotated, ReplacedByID: &next.ID,
			}); err != nil {
				return err
			}
			if err := s.Tokens().Create(ctx, next); err != nil {
				return err
			}
			if _, err := s.Accounts().UpdatePassword(ctx, a.ID, "changed"); err != nil {
				return err
			}
			if _, err := s.Accounts().IncrementFailedAttempts(ctx, "ada", time.Now()); err != nil {
				return err
			}
			return abort
		})
		require.ErrorIs(t, err, abort)

		got, err := s.Tokens().GetByTokenHash(ctx, "h1")
		require.NoError(t, err)
		assert.False(t, got.Revoked)
		_, err = s.Tokens().GetByTokenHash(ctx, "h2")
		assert.ErrorIs(t, err, auth.ErrNotFound)
		acct, err := s.Accounts().GetByID(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, "hash", acct.PasswordHash)
		assert.Zero(t, acct.FailedAttempts)
	})

	t.Run("success keeps mutations", func(t *testing.T) {
		s := memstore.New()
		a := newAccount(t, "ada")
		err := s.InTransaction(ctx, func(ctx context.Context) error {
			return s.Accounts().Create(ctx, a)
		})
		require.NoError(t, err)
		_, err = s.Accounts().GetByID(ctx, a.ID)
		assert.NoError(t, err)
	})

	t.Run("cancelled context aborts", func(t *testing.T) {
		s := memstore.New()
		a := newAccount(t, "ada")
		cctx, cancel := context.WithCancel(ctx)
		err := s.InTransaction(cctx, func(ctx context.Context) error {
			if err := s.Accounts().Create(ctx, a); err != nil {
				return err
			}
			cancel()
			return nil
		})
		errutil.AssertCodeAndCause(t, err, auth.CodeTransactionAborted, context.Canceled)
		_, err = s.Accounts().GetByID(ctx, a.ID)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})
}
