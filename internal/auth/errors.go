// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"errors"
	"strings"

	"github.com/samber/oops"
)

// Sentinel errors wrapped by repository implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when a unique key (username, email, token hash) collides.
	ErrAlreadyExists = errors.New("already exists")

	// ErrAlreadyRevoked is returned by a compare-and-swap revoke that lost the race
	// or found the token already revoked.
	ErrAlreadyRevoked = errors.New("already revoked")
)

// Error codes attached to oops errors. Callers outside the package match on these
// through Classify or errutil.AssertErrorCode.
const (
	CodeInvalidUsername        = "AUTH_INVALID_USERNAME"
	CodeInvalidEmail           = "AUTH_INVALID_EMAIL"
	CodeInvalidPassword        = "AUTH_INVALID_PASSWORD"
	CodeEmailDomainNotAllowed  = "AUTH_EMAIL_DOMAIN_NOT_ALLOWED"
	CodeAccountExists          = "AUTH_ACCOUNT_EXISTS"
	CodeInvalidCredentials     = "AUTH_INVALID_CREDENTIALS"
	CodeTooManyAttempts        = "AUTH_TOO_MANY_ATTEMPTS"
	CodeAccountInactive        = "AUTH_ACCOUNT_INACTIVE"
	CodeTokenNotFound          = "TOKEN_NOT_FOUND"
	CodeTokenRevoked           = "TOKEN_REVOKED"
	CodeTokenExpired           = "TOKEN_EXPIRED"
	CodeAccessTokenInvalid     = "TOKEN_ACCESS_INVALID"
	CodeResetUserNotFound      = "RESET_USER_NOT_FOUND"
	CodeResetOldPasswordWrong  = "RESET_OLD_PASSWORD_INCORRECT"
	CodeResetCodeInvalid       = "RESET_CODE_INVALID"
	CodeResetPersistFailed     = "RESET_PERSIST_FAILED"
	CodeVerificationInvalid    = "VERIFY_TOKEN_INVALID"
	CodeDeliveryFailed         = "DELIVERY_FAILED"
	CodeTokenGenerateFailed    = "TOKEN_GENERATE_FAILED"
	CodeDependencyMissing      = "AUTH_DEPENDENCY_MISSING"
	CodeTransactionAborted     = "TX_ABORTED"
	codeSuffixOperationFailure = "_FAILED"
)

// Kind is the externally meaningful category of an error.
type Kind int

// Error kinds.
const (
	KindInternal Kind = iota
	KindValidation
	KindAuthentication
	KindToken
	KindPersistence
	KindDelivery
)

// String returns the kind name used in logs and metrics labels.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindToken:
		return "token"
	case KindPersistence:
		return "persistence"
	case KindDelivery:
		return "delivery"
	default:
		return "internal"
	}
}

var codeKinds = map[string]Kind{
	CodeInvalidUsername:       KindValidation,
	CodeInvalidEmail:          KindValidation,
	CodeInvalidPassword:       KindValidation,
	CodeEmailDomainNotAllowed: KindValidation,
	CodeAccountExists:         KindValidation,
	CodeResetOldPasswordWrong: KindValidation,
	CodeInvalidCredentials:    KindAuthentication,
	CodeTooManyAttempts:       KindAuthentication,
	CodeAccountInactive:       KindAuthentication,
	CodeResetUserNotFound:     KindAuthentication,
	CodeResetCodeInvalid:      KindAuthentication,
	CodeVerificationInvalid:   KindAuthentication,
	CodeTokenNotFound:         KindToken,
	CodeTokenRevoked:          KindToken,
	CodeTokenExpired:          KindToken,
	CodeAccessTokenInvalid:    KindToken,
	CodeDeliveryFailed:        KindDelivery,
	CodeResetPersistFailed:    KindPersistence,
}

// recode builds an error carrying code, with err recorded as the "cause"
// context value. oops reports the deepest code and merges the context of
// every oops error in a chain, so callers finish the builder with
// Wrapf(opaque(err), ...): errors.Is still sees the cause, but its own code
// and context do not replace code.
func recode(code, operation string, err error) oops.OopsErrorBuilder {
	return oops.Code(code).
		With("operation", operation).
		With("cause", err.Error())
}

// opaqueCause hides err from errors.As and oops while answering errors.Is
// for anything in err's chain.
type opaqueCause struct {
	err error
}

func opaque(err error) error { return opaqueCause{err: err} }

func (c opaqueCause) Error() string { return c.err.Error() }

func (c opaqueCause) Is(target error) bool { return errors.Is(c.err, target) }

// Code returns the oops code of err, or "" when err carries none.
func Code(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := oopsErr.Code().(string) //nolint:errcheck // non-string codes are treated as absent
	return code
}

// HasCode reports whether err is an oops error with the given code.
func HasCode(err error, code string) bool {
	return err != nil && Code(err) == code
}

// Classify maps err onto the error taxonomy. Operation failures raised by stores
// (codes ending in _FAILED) are persistence errors; anything unrecognized is internal.
func Classify(err error) Kind {
	if err == nil {
		return KindInternal
	}
	code := Code(err)
	if kind, ok := codeKinds[code]; ok {
		return kind
	}
	if strings.HasSuffix(code, codeSuffixOperationFailure) {
		return KindPersistence
	}
	return KindInternal
}

// PublicMessage returns the text that may be shown to an end user for err.
// It never reveals whether an identifier exists and never includes causes.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	switch Code(err) {
	case CodeInvalidCredentials, CodeAccountInactive:
		return "invalid username or password"
	case CodeTooManyAttempts:
		return "too many failed login attempts; contact support to unlock"
	case CodeTokenNotFound:
		return "refresh token not recognized"
	case CodeTokenRevoked:
		return "refresh token has been revoked; sign in again"
	case CodeTokenExpired:
		return "refresh token has expired; sign in again"
	case CodeAccessTokenInvalid:
		return "access token is invalid or expired"
	case CodeResetUserNotFound, CodeResetCodeInvalid:
		return "password reset could not be completed"
	case CodeResetOldPasswordWrong:
		return "current password is incorrect"
	case CodeVerificationInvalid:
		return "verification link is invalid or expired"
	case CodeDeliveryFailed:
		return "message delivery failed; try again later"
	}
	if Classify(err) == KindValidation {
		if oopsErr, ok := oops.AsOops(err); ok {
			return oopsErr.Error()
		}
	}
	return "internal error"
}
