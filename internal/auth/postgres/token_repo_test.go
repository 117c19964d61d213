// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authd/internal/auth"
	"github.com/holomush/authd/internal/auth/postgres"
	"github.com/holomush/authd/pkg/errutil"
)

var tokenColumns = []string{
	"id", "account_id", "token_hash", "issued_at", "expires_at", "revoked",
	"revoked_at", "revoke_reason", "replaced_by_token_id", "created_by_ip",
}

var existsQuery = regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM refresh_tokens WHERE id = $1)")

func TestRefreshTokenRepository_Create(t *testing.T) {
	mock := newMockPool(t)
	now := time.Now()
	token := &auth.RefreshToken{
		ID:          ulid.Make(),
		AccountID:   ulid.Make(),
		TokenHash:   "abc",
		IssuedAt:    now,
		ExpiresAt:   now.Add(auth.RefreshTokenTTL),
		CreatedByIP: "192.0.2.1",
	}
	mock.ExpectExec("INSERT INTO refresh_tokens").
		WithArgs(token.ID.String(), token.AccountID.String(), "abc", token.IssuedAt, token.ExpiresAt,
			false, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "192.0.2.1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, postgres.NewRefreshTokenRepository(mock).Create(context.Background(), token))
}

func TestRefreshTokenRepository_GetByTokenHash(t *testing.T) {
	ctx := context.Background()

	t.Run("scans rotated token", func(t *testing.T) {
		mock := newMockPool(t)
		id, accountID, successor := ulid.Make(), ulid.Make(), ulid.Make()
		now := time.Now()
		reason := "rotated"
		successorStr := successor.String()
		mock.ExpectQuery("FROM refresh_tokens").WithArgs("abc").
			WillReturnRows(pgxmock.NewRows(tokenColumns).AddRow(
				id.String(), accountID.String(), "abc", now, now.Add(time.Hour), true,
				&now, &reason, &successorStr, "",
			))

		got, err := postgres.NewRefreshTokenRepository(mock).GetByTokenHash(ctx, "abc")
		require.NoError(t, err)
		assert.Equal(t, auth.ReasonRotated, got.RevokeReason)
		state := got.State(now)
		assert.Equal(t, auth.TokenRotated, state.Kind)
		assert.Equal(t, successor, state.SuccessorID)
	})

	t.Run("no rows wraps ErrNotFound", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery("FROM refresh_tokens").WithArgs("missing").WillReturnError(pgx.ErrNoRows)

		_, err := postgres.NewRefreshTokenRepository(mock).GetByTokenHash(ctx, "missing")
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("corrupt id", func(t *testing.T) {
		mock := newMockPool(t)
		now := time.Now()
		mock.ExpectQuery("FROM refresh_tokens").WithArgs("abc").
			WillReturnRows(pgxmock.NewRows(tokenColumns).AddRow(
				"not-a-ulid", ulid.Make().String(), "abc", now, now, false,
				(*time.Time)(nil), (*string)(nil), (*string)(nil), "",
			))

		_, err := postgres.NewRefreshTokenRepository(mock).GetByTokenHash(ctx, "abc")
		errutil.AssertErrorCode(t, err, "REFRESH_TOKEN_GET_FAILED")
	})
}

func TestRefreshTokenRepository_MarkRevoked(t *testing.T) {
	ctx := context.Background()
	successor := ulid.Make()
	update := auth.RevokeUpdate{ID: ulid.Make(), At: time.Now(), Reason: auth.ReasonRotated, ReplacedByID: &successor}
	successorStr := successor.String()

	expectUpdate := func(mock pgxmock.PgxPoolIface, rows int64) {
		mock.ExpectExec("WHERE id = \\$1 AND revoked = FALSE").
			WithArgs(update.ID.String(), update.At, "rotated", &successorStr).
			WillReturnResult(pgxmock.NewResult("UPDATE", rows))
	}

	t.Run("wins the swap", func(t *testing.T) {
		mock := newMockPool(t)
		expectUpdate(mock, 1)
		require.NoError(t, postgres.NewRefreshTokenRepository(mock).MarkRevoked(ctx, update))
	})

	t.Run("already revoked", func(t *testing.T) {
		mock := newMockPool(t)
		expectUpdate(mock, 0)
		mock.ExpectQuery(existsQuery).WithArgs(update.ID.String()).
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

		err := postgres.NewRefreshTokenRepository(mock).MarkRevoked(ctx, update)
		assert.ErrorIs(t, err, auth.ErrAlreadyRevoked)
	})

	t.Run("missing token", func(t *testing.T) {
		mock := newMockPool(t)
		expectUpdate(mock, 0)
		mock.ExpectQuery(existsQuery).WithArgs(update.ID.String()).
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

		err := postgres.NewRefreshTokenRepository(mock).MarkRevoked(ctx, update)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("update failure", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec("UPDATE refresh_tokens").WillReturnError(errors.New("serialization failure"))

		err := postgres.NewRefreshTokenRepository(mock).MarkRevoked(ctx, update)
		errutil.AssertErrorCode(t, err, "REFRESH_TOKEN_REVOKE_FAILED")
	})
}

func TestRefreshTokenRepository_RevokeAllForAccount(t *testing.T) {
	mock := newMockPool(t)
	accountID := ulid.Make()
	at := time.Now()
	mock.ExpectExec("WHERE account_id = \\$1 AND revoked = FALSE").
		WithArgs(accountID.String(), at, "reuse_detected").
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := postgres.NewRefreshTokenRepository(mock).
		RevokeAllForAccount(context.Background(), accountID, auth.ReasonReuseDetected, at)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestRefreshTokenRepository_ListByAccount(t *testing.T) {
	mock := newMockPool(t)
	accountID := ulid.Make()
	now := time.Now()
	newer, older := ulid.Make(), ulid.Make()
	mock.ExpectQuery("ORDER BY issued_at DESC").WithArgs(accountID.String()).
		WillReturnRows(pgxmock.NewRows(tokenColumns).
			AddRow(newer.String(), accountID.String(), "h2", now, now.Add(time.Hour), false,
				(*time.Time)(nil), (*string)(nil), (*string)(nil), "").
			AddRow(older.String(), accountID.String(), "h1", now.Add(-time.Hour), now, false,
				(*time.Time)(nil), (*string)(nil), (*string)(nil), ""))

	tokens, err := postgres.NewRefreshTokenRepository(mock).ListByAccount(context.Background(), accountID)
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, newer, tokens[0].ID)
	assert.Equal(t, older, tokens[1].ID)
}

func TestRefreshTokenRepository_DeleteExpired(t *testing.T) {
	ctx := context.Background()
	cutoff := time.Now()

	t.Run("returns deleted count", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec("DELETE FROM refresh_tokens").WithArgs(cutoff).
			WillReturnResult(pgxmock.NewResult("DELETE", 7))

		n, err := postgres.NewRefreshTokenRepository(mock).DeleteExpired(ctx, cutoff)
		require.NoError(t, err)
		assert.Equal(t, int64(7), n)
	})

	t.Run("failure", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectExec("DELETE FROM refresh_tokens").WithArgs(cutoff).WillReturnError(errors.New("boom"))

		_, err := postgres.NewRefreshTokenRepository(mock).DeleteExpired(ctx, cutoff)
		errutil.AssertErrorCode(t, err, "REFRESH_TOKEN_PURGE_FAILED")
	})
}
