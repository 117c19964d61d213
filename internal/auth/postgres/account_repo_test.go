// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authd/internal/auth"
	"github.com/holomush/authd/internal/auth/postgres"
	"github.com/holomush/authd/pkg/errutil"
)

var accountColumns = []string{
	"id", "email", "username", "password_hash", "status", "email_verified",
	"roles", "failed_attempts", "last_failed_at", "last_login_at", "created_at", "updated_at",
}

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return mock
}

func testAccount() *auth.Account {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &auth.Account{
		ID:           ulid.Make(),
		Email:        "ada@example.com",
		Username:     "ada",
		PasswordHash: "$argon2id$hash",
		Status:       auth.StatusActive,
		Roles:        []string{"user"},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func accountRow(a *auth.Account, failed int) *pgxmock.Rows {
	return pgxmock.NewRows(accountColumns).AddRow(
		a.ID.String(), a.Email, a.Username, a.PasswordHash, string(a.Status), a.EmailVerified,
		a.Roles, failed, (*time.Time)(nil), a.LastLoginAt, a.CreatedAt, a.UpdatedAt,
	)
}

func TestAccountRepository_Create(t *testing.T) {
	ctx := context.Background()
	account := testAccount()
	args := []any{
		account.ID.String(), account.Email, account.Username, account.PasswordHash,
		"active", false, account.Roles, account.LastLoginAt, account.CreatedAt, account.UpdatedAt,
	}

	t.Run("inserts account", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec("INSERT INTO accounts").WithArgs(args...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, postgres.NewAccountRepository(mock).Create(ctx, account))
	})

	t.Run("unique violation wraps ErrAlreadyExists", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec("INSERT INTO accounts").WithArgs(args...).
			WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})

		err := postgres.NewAccountRepository(mock).Create(ctx, account)
		require.ErrorIs(t, err, auth.ErrAlreadyExists)
		assert.Empty(t, auth.Code(err))
	})

	t.Run("other failure", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec("INSERT INTO accounts").WithArgs(args...).
			WillReturnError(errors.New("connection reset"))

		err := postgres.NewAccountRepository(mock).Create(ctx, account)
		errutil.AssertErrorCode(t, err, "ACCOUNT_CREATE_FAILED")
	})
}

func TestAccountRepository_GetByIdentifier(t *testing.T) {
	ctx := context.Background()
	account := testAccount()

	t.Run("scans account and attempts", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery("FROM accounts a").WithArgs("ada").
			WillReturnRows(accountRow(account, 3))

		got, err := postgres.NewAccountRepository(mock).GetByIdentifier(ctx, "ada")
		require.NoError(t, err)
		assert.Equal(t, account.ID, got.ID)
		assert.Equal(t, auth.StatusActive, got.Status)
		assert.Equal(t, []string{"user"}, got.Roles)
		assert.Equal(t, 3, got.FailedAttempts)
	})

	t.Run("no rows wraps ErrNotFound", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery("FROM accounts a").WithArgs("nobody").WillReturnError(pgx.ErrNoRows)

		_, err := postgres.NewAccountRepository(mock).GetByIdentifier(ctx, "nobody")
		require.ErrorIs(t, err, auth.ErrNotFound)
		assert.Empty(t, auth.Code(err))
	})

	t.Run("query failure", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery("FROM accounts a").WithArgs("ada").WillReturnError(errors.New("timeout"))

		_, err := postgres.NewAccountRepository(mock).GetByIdentifier(ctx, "ada")
		errutil.AssertErrorCode(t, err, "ACCOUNT_GET_FAILED")
	})
}

func TestAccountRepository_GetByID(t *testing.T) {
	mock := newMockPool(t)
	account := testAccount()
	mock.ExpectQuery("WHERE a.id = ").WithArgs(account.ID.String()).
		WillReturnRows(accountRow(account, 0))

	got, err := postgres.NewAccountRepository(mock).GetByID(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, account.Email, got.Email)
}

func TestAccountRepository_UpdatePassword(t *testing.T) {
	ctx := context.Background()
	id := ulid.Make()

	t.Run("returns rows affected", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec("UPDATE accounts SET password_hash").WithArgs(id.String(), "new-hash").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		n, err := postgres.NewAccountRepository(mock).UpdatePassword(ctx, id, "new-hash")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("failure", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec("UPDATE accounts SET password_hash").WithArgs(id.String(), "new-hash").
			WillReturnError(errors.New("read-only transaction"))

		_, err := postgres.NewAccountRepository(mock).UpdatePassword(ctx, id, "new-hash")
		errutil.AssertErrorCode(t, err, "ACCOUNT_UPDATE_PASSWORD_FAILED")
	})
}

func TestAccountRepository_RecordLogin_NotFound(t *testing.T) {
	mock := newMockPool(t)
	id := ulid.Make()
	at := time.Now()
	mock.ExpectExec("UPDATE accounts SET last_login_at").WithArgs(id.String(), at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := postgres.NewAccountRepository(mock).RecordLogin(context.Background(), id, at)
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestAccountRepository_MarkEmailVerified(t *testing.T) {
	mock := newMockPool(t)
	id := ulid.Make()
	mock.ExpectExec("SET email_verified = TRUE").WithArgs(id.String()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, postgres.NewAccountRepository(mock).MarkEmailVerified(context.Background(), id))
}

func TestAccountRepository_Attempts(t *testing.T) {
	ctx := context.Background()
	at := time.Now()

	t.Run("missing counter reads as zero", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery("SELECT failed_attempts FROM login_attempts").WithArgs("ada").
			WillReturnError(pgx.ErrNoRows)

		n, err := postgres.NewAccountRepository(mock).FailedAttempts(ctx, "ada")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("increment upserts and returns new count", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery("ON CONFLICT \\(identifier\\) DO UPDATE").WithArgs("ada", at).
			WillReturnRows(pgxmock.NewRows([]string{"failed_attempts"}).AddRow(4))

		n, err := postgres.NewAccountRepository(mock).IncrementFailedAttempts(ctx, "ada", at)
		require.NoError(t, err)
		assert.Equal(t, 4, n)
	})

	t.Run("increment failure", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery("INSERT INTO login_attempts").WithArgs("ada", at).
			WillReturnError(errors.New("deadlock"))

		_, err := postgres.NewAccountRepository(mock).IncrementFailedAttempts(ctx, "ada", at)
		errutil.AssertErrorCode(t, err, "ATTEMPTS_INCREMENT_FAILED")
	})

	t.Run("reset deletes counter", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec("DELETE FROM login_attempts").WithArgs("ada").
			WillReturnResult(pgxmock.NewResult("DELETE", 1))

		require.NoError(t, postgres.NewAccountRepository(mock).ResetFailedAttempts(ctx, "ada"))
	})
}
