// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authd/internal/auth"
)

const selectToken = `
	SELECT id, account_id, token_hash, issued_at, expires_at, revoked,
	       revoked_at, revoke_reason, replaced_by_token_id, created_by_ip
	FROM refresh_tokens
`

// RefreshTokenRepository implements auth.RefreshTokenRepository using PostgreSQL.
type RefreshTokenRepository struct {
	pool Pool
}

// NewRefreshTokenRepository creates a new RefreshTokenRepository.
func NewRefreshTokenRepository(pool Pool) *RefreshTokenRepository {
	return &RefreshTokenRepository{pool: pool}
}

// Create stores a new refresh token.
func (r *RefreshTokenRepository) Create(ctx context.Context, token *auth.RefreshToken) error {
	var reason *string
	if token.RevokeReason != "" {
		s := string(token.RevokeReason)
		reason = &s
	}
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO refresh_tokens (
			id, account_id, token_hash, issued_at, expires_at, revoked,
			revoked_at, revoke_reason, replaced_by_token_id, created_by_ip
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		token.ID.String(),
		token.AccountID.String(),
		token.TokenHash,
		token.IssuedAt,
		token.ExpiresAt,
		token.Revoked,
		token.RevokedAt,
		reason,
		ulidToStringPtr(token.ReplacedByTokenID),
		token.CreatedByIP,
	)
	if isUniqueViolation(err) {
		return oops.With("operation", "insert refresh token").
			With("token_id", token.ID.String()).
			Wrap(auth.ErrAlreadyExists)
	}
	if err != nil {
		return oops.Code("REFRESH_TOKEN_CREATE_FAILED").
			With("operation", "insert refresh token").
			With("account_id", token.AccountID.String()).
			Wrap(err)
	}
	return nil
}

// GetByTokenHash retrieves a token by the sha256 of its value.
func (r *RefreshTokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.RefreshToken, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, selectToken+`WHERE token_hash = $1`, tokenHash)
	token, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.With("operation", "get refresh token by hash").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("REFRESH_TOKEN_GET_FAILED").
			With("operation", "get refresh token by hash").
			Wrap(err)
	}
	return token, nil
}

// MarkRevoked flips revoked only while it is still false, so exactly one of
// any number of concurrent callers succeeds.
func (r *RefreshTokenRepository) MarkRevoked(ctx context.Context, update auth.RevokeUpdate) error {
	q := conn(ctx, r.pool)
	tag, err := q.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = $2, revoke_reason = $3, replaced_by_token_id = $4
		WHERE id = $1 AND revoked = FALSE
	`, update.ID.String(), update.At, string(update.Reason), ulidToStringPtr(update.ReplacedByID))
	if err != nil {
		return oops.Code("REFRESH_TOKEN_REVOKE_FAILED").
			With("operation", "mark refresh token revoked").
			With("token_id", update.ID.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	err = q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM refresh_tokens WHERE id = $1)`, update.ID.String()).
		Scan(&exists)
	if err != nil {
		return oops.Code("REFRESH_TOKEN_REVOKE_FAILED").
			With("operation", "check refresh token exists").
			With("token_id", update.ID.String()).
			Wrap(err)
	}
	if !exists {
		return oops.With("token_id", update.ID.String()).Wrap(auth.ErrNotFound)
	}
	return oops.With("token_id", update.ID.String()).Wrap(auth.ErrAlreadyRevoked)
}

// RevokeAllForAccount revokes every non-revoked token of the account.
func (r *RefreshTokenRepository) RevokeAllForAccount(
	ctx context.Context,
	accountID ulid.ULID,
	reason auth.RevokeReason,
	at time.Time,
) (int64, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = $2, revoke_reason = $3
		WHERE account_id = $1 AND revoked = FALSE
	`, accountID.String(), at, string(reason))
	if err != nil {
		return 0, oops.Code("REFRESH_TOKEN_REVOKE_ALL_FAILED").
			With("operation", "revoke all refresh tokens").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// ListByAccount returns the account's tokens, newest first.
func (r *RefreshTokenRepository) ListByAccount(ctx context.Context, accountID ulid.ULID) ([]*auth.RefreshToken, error) {
	rows, err := conn(ctx, r.pool).Query(ctx,
		selectToken+`WHERE account_id = $1 ORDER BY issued_at DESC, id DESC`, accountID.String())
	if err != nil {
		return nil, oops.Code("REFRESH_TOKEN_LIST_FAILED").
			With("operation", "list refresh tokens").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	defer rows.Close()

	var tokens []*auth.RefreshToken
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, oops.Code("REFRESH_TOKEN_LIST_FAILED").
				With("operation", "scan refresh token").
				With("account_id", accountID.String()).
				Wrap(err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("REFRESH_TOKEN_LIST_FAILED").
			With("operation", "iterate refresh tokens").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return tokens, nil
}

// DeleteExpired removes tokens that expired before cutoff.
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, oops.Code("REFRESH_TOKEN_PURGE_FAILED").
			With("operation", "delete expired refresh tokens").
			With("cutoff", cutoff).
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}

func scanToken(row pgx.Row) (*auth.RefreshToken, error) {
	var (
		t            auth.RefreshToken
		idStr        string
		accountIDStr string
		reason       *string
		replacedBy   *string
	)
	if err := row.Scan(
		&idStr,
		&accountIDStr,
		&t.TokenHash,
		&t.IssuedAt,
		&t.ExpiresAt,
		&t.Revoked,
		&t.RevokedAt,
		&reason,
		&replacedBy,
		&t.CreatedByIP,
	); err != nil {
		return nil, err //nolint:wrapcheck // wrapped by caller
	}

	var err error
	if t.ID, err = parseULID(idStr, "token_id"); err != nil {
		return nil, err
	}
	if t.AccountID, err = parseULID(accountIDStr, "account_id"); err != nil {
		return nil, err
	}
	if t.ReplacedByTokenID, err = parseOptionalULID(replacedBy, "replaced_by_token_id"); err != nil {
		return nil, err
	}
	if reason != nil {
		t.RevokeReason = auth.RevokeReason(*reason)
	}
	return &t, nil
}
