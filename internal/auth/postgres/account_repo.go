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

// selectAccount reads an account with the highest failure count recorded
// against either of its login identifiers.
const selectAccount = `
	SELECT a.id, a.email, a.username, a.password_hash, a.status, a.email_verified,
	       a.roles, COALESCE(la.failed_attempts, 0), la.last_failed_at,
	       a.last_login_at, a.created_at, a.updated_at
	FROM accounts a
	LEFT JOIN LATERAL (
		SELECT MAX(failed_attempts) AS failed_attempts, MAX(last_failed_at) AS last_failed_at
		FROM login_attempts
		WHERE identifier IN (LOWER(a.email), LOWER(a.username))
	) la ON TRUE
`

// AccountRepository implements auth.AccountRepository using PostgreSQL.
type AccountRepository struct {
	pool Pool
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(pool Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// Create stores a new account.
func (r *AccountRepository) Create(ctx context.Context, account *auth.Account) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO accounts (
			id, email, username, password_hash, status, email_verified,
			roles, last_login_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		account.ID.String(),
		account.Email,
		account.Username,
		account.PasswordHash,
		string(account.Status),
		account.EmailVerified,
		account.Roles,
		account.LastLoginAt,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return oops.With("operation", "insert account").
			With("account_id", account.ID.String()).
			Wrap(auth.ErrAlreadyExists)
	}
	if err != nil {
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			With("account_id", account.ID.String()).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, selectAccount+`WHERE a.id = $1`, id.String())
	return r.get(row, "get account by id", "account_id", id.String())
}

// GetByIdentifier retrieves an account by email or username. identifier
// must already be normalized.
func (r *AccountRepository) GetByIdentifier(ctx context.Context, identifier string) (*auth.Account, error) {
	row := conn(ctx, r.pool).QueryRow(ctx,
		selectAccount+`WHERE LOWER(a.email) = $1 OR LOWER(a.username) = $1`, identifier)
	return r.get(row, "get account by identifier", "identifier", identifier)
}

// GetByEmail retrieves an account by email (case-insensitive).
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, selectAccount+`WHERE LOWER(a.email) = LOWER($1)`, email)
	return r.get(row, "get account by email", "email", email)
}

func (r *AccountRepository) get(row pgx.Row, operation, key, value string) (*auth.Account, error) {
	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.With("operation", operation).With(key, value).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_FAILED").
			With("operation", operation).
			With(key, value).
			Wrap(err)
	}
	return account, nil
}

// UpdatePassword replaces the password hash and returns the rows affected.
func (r *AccountRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) (int64, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE accounts SET password_hash = $2, updated_at = NOW()
		WHERE id = $1
	`, id.String(), passwordHash)
	if err != nil {
		return 0, oops.Code("ACCOUNT_UPDATE_PASSWORD_FAILED").
			With("operation", "update password").
			With("account_id", id.String()).
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// MarkEmailVerified sets email_verified.
func (r *AccountRepository) MarkEmailVerified(ctx context.Context, id ulid.ULID) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE accounts SET email_verified = TRUE, updated_at = NOW()
		WHERE id = $1
	`, id.String())
	if err != nil {
		return oops.Code("ACCOUNT_VERIFY_EMAIL_FAILED").
			With("operation", "mark email verified").
			With("account_id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.With("account_id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// RecordLogin stores the time of a successful login.
func (r *AccountRepository) RecordLogin(ctx context.Context, id ulid.ULID, at time.Time) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE accounts SET last_login_at = $2 WHERE id = $1
	`, id.String(), at)
	if err != nil {
		return oops.Code("ACCOUNT_RECORD_LOGIN_FAILED").
			With("operation", "record login").
			With("account_id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.With("account_id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// FailedAttempts returns the failure count for identifier.
func (r *AccountRepository) FailedAttempts(ctx context.Context, identifier string) (int, error) {
	var n int
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT failed_attempts FROM login_attempts WHERE identifier = $1
	`, identifier).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, oops.Code("ATTEMPTS_GET_FAILED").
			With("operation", "get failed attempts").
			With("identifier", identifier).
			Wrap(err)
	}
	return n, nil
}

// IncrementFailedAttempts adds one failure in a single upsert and returns the
// new count.
func (r *AccountRepository) IncrementFailedAttempts(ctx context.Context, identifier string, at time.Time) (int, error) {
	var n int
	err := conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO login_attempts (identifier, failed_attempts, last_failed_at)
		VALUES ($1, 1, $2)
		ON CONFLICT (identifier) DO UPDATE
		SET failed_attempts = login_attempts.failed_attempts + 1,
		    last_failed_at = EXCLUDED.last_failed_at
		RETURNING failed_attempts
	`, identifier, at).Scan(&n)
	if err != nil {
		return 0, oops.Code("ATTEMPTS_INCREMENT_FAILED").
			With("operation", "increment failed attempts").
			With("identifier", identifier).
			Wrap(err)
	}
	return n, nil
}

// ResetFailedAttempts clears the failure count for identifier.
func (r *AccountRepository) ResetFailedAttempts(ctx context.Context, identifier string) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM login_attempts WHERE identifier = $1`, identifier)
	if err != nil {
		return oops.Code("ATTEMPTS_RESET_FAILED").
			With("operation", "reset failed attempts").
			With("identifier", identifier).
			Wrap(err)
	}
	return nil
}

func scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		a      auth.Account
		idStr  string
		status string
	)
	if err := row.Scan(
		&idStr,
		&a.Email,
		&a.Username,
		&a.PasswordHash,
		&status,
		&a.EmailVerified,
		&a.Roles,
		&a.FailedAttempts,
		&a.LastFailedLoginAt,
		&a.LastLoginAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return nil, err //nolint:wrapcheck // wrapped by caller
	}
	id, err := parseULID(idStr, "account_id")
	if err != nil {
		return nil, err
	}
	a.ID = id
	a.Status = auth.AccountStatus(status)
	return &a, nil
}
