// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Username and password validation constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 30
	MinPasswordLength = 8
	MaxPasswordLength = 128
	MaxEmailLength    = 254
)

// usernameRegex matches usernames that start with a letter and contain only
// letters, numbers, and underscores.
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// AccountStatus gates authentication independently of password correctness.
type AccountStatus string

// Account statuses.
const (
	StatusActive   AccountStatus = "active"
	StatusInactive AccountStatus = "inactive"
	StatusBanned   AccountStatus = "banned"
)

// Valid reports whether s is a known status.
func (s AccountStatus) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusBanned:
		return true
	}
	return false
}

// Account is a registered user identity.
type Account struct {
	ID                ulid.ULID
	Email             string
	Username          string
	PasswordHash      string
	Status            AccountStatus
	EmailVerified     bool
	Roles             []string
	FailedAttempts    int
	LastFailedLoginAt *time.Time
	LastLoginAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsActive reports whether the account may authenticate.
func (a *Account) IsActive() bool {
	return a.Status == StatusActive
}

// NewAccount creates a validated active, unverified Account.
// The password must already be hashed.
func NewAccount(username, email, passwordHash string, now time.Time) (*Account, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code(CodeInvalidPassword).Errorf("password hash cannot be empty")
	}
	return &Account{
		ID:           ulid.Make(),
		Email:        normalized,
		Username:     username,
		PasswordHash: passwordHash,
		Status:       StatusActive,
		Roles:        []string{"user"},
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// NormalizeIdentifier is the key the login throttle counts failures against.
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// ValidateUsername validates a username against the naming rules:
// MinUsernameLength to MaxUsernameLength characters, starting with a letter,
// containing only letters, numbers, and underscores.
func ValidateUsername(username string) error {
	if username == "" {
		return oops.Code(CodeInvalidUsername).Errorf("username cannot be empty")
	}
	if len(username) < MinUsernameLength {
		return oops.Code(CodeInvalidUsername).
			With("min", MinUsernameLength).
			Errorf("username must be at least %d characters", MinUsernameLength)
	}
	if len(username) > MaxUsernameLength {
		return oops.Code(CodeInvalidUsername).
			With("max", MaxUsernameLength).
			Errorf("username must be at most %d characters", MaxUsernameLength)
	}
	if !usernameRegex.MatchString(username) {
		return oops.Code(CodeInvalidUsername).
			Errorf("username must start with a letter and contain only letters, numbers, and underscores")
	}
	return nil
}

// NormalizeEmail validates a bare address and returns it lower-cased.
// Display-name forms ("Name <a@b>") are rejected.
func NormalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", oops.Code(CodeInvalidEmail).Errorf("email cannot be empty")
	}
	if len(email) > MaxEmailLength {
		return "", oops.Code(CodeInvalidEmail).
			With("max", MaxEmailLength).
			Errorf("email must be at most %d characters", MaxEmailLength)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", oops.Code(CodeInvalidEmail).Errorf("email address is malformed")
	}
	return strings.ToLower(addr.Address), nil
}

// ValidatePassword checks plaintext length in characters.
func ValidatePassword(password string) error {
	n := len([]rune(password))
	if n < MinPasswordLength {
		return oops.Code(CodeInvalidPassword).
			With("min", MinPasswordLength).
			Errorf("password must be at least %d characters", MinPasswordLength)
	}
	if n > MaxPasswordLength {
		return oops.Code(CodeInvalidPassword).
			With("max", MaxPasswordLength).
			Errorf("password must be at most %d characters", MaxPasswordLength)
	}
	return nil
}

// AttemptStore tracks failed authentication attempts per normalized identifier.
// Increments must be atomic with respect to concurrent callers.
type AttemptStore interface {
	// FailedAttempts returns the current count, 0 if none recorded.
	FailedAttempts(ctx context.Context, identifier string) (int, error)

	// IncrementFailedAttempts adds one failure and returns the new count.
	IncrementFailedAttempts(ctx context.Context, identifier string, at time.Time) (int, error)

	// ResetFailedAttempts clears the count.
	ResetFailedAttempts(ctx context.Context, identifier string) error
}

// AccountRepository manages account persistence.
type AccountRepository interface {
	AttemptStore

	// Create stores a new account. Returns an error wrapping ErrAlreadyExists
	// when the username or email is taken.
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an account by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByIdentifier retrieves an account whose email or username matches
	// identifier case-insensitively. FailedAttempts is the highest count
	// recorded against the account's email or username.
	GetByIdentifier(ctx context.Context, identifier string) (*Account, error)

	// GetByEmail retrieves an account by email (case-insensitive).
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// UpdatePassword replaces the password hash and returns the number of rows updated.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) (int64, error)

	// MarkEmailVerified sets EmailVerified.
	MarkEmailVerified(ctx context.Context, id ulid.ULID) error

	// RecordLogin sets LastLoginAt.
	RecordLogin(ctx context.Context, id ulid.ULID, at time.Time) error
}
