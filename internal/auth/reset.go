// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Reset and verification ticket configuration.
const (
	ResetCodeLength         = 8
	ResetTicketTTL          = 15 * time.Minute
	GeneratedPasswordLength = 16
	VerificationTicketTTL   = 24 * time.Hour
)

const (
	resetCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	passwordAlphabet  = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789!@#$%&*?"
)

// ResetTicket is the cached state of a pending password reset.
type ResetTicket struct {
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
}

// Matches compares code in constant time.
func (t *ResetTicket) Matches(code string) bool {
	return subtle.ConstantTimeCompare([]byte(t.Code), []byte(code)) == 1
}

// VerificationTicket is the cached state of a pending email verification.
type VerificationTicket struct {
	AccountID ulid.ULID `json:"account_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ResetTicketKey is the cache key holding an account's reset ticket.
func ResetTicketKey(accountID ulid.ULID) string {
	return "reset:" + accountID.String()
}

// VerificationTicketKey is the cache key for a verification token. The token
// itself is never stored.
func VerificationTicketKey(token string) string {
	return "verify:" + HashToken(token)
}

// GenerateResetCode draws a ResetCodeLength code uniformly over A-Z0-9.
func GenerateResetCode() (string, error) {
	return randomString(resetCodeAlphabet, ResetCodeLength)
}

// GeneratePassword draws a GeneratedPasswordLength password.
func GeneratePassword() (string, error) {
	return randomString(passwordAlphabet, GeneratedPasswordLength)
}

// randomString samples n characters from alphabet with crypto/rand, rejecting
// bytes above the largest multiple of len(alphabet) so every character is
// equally likely.
func randomString(alphabet string, n int) (string, error) {
	limit := 256 - 256%len(alphabet)
	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", oops.Code(CodeTokenGenerateFailed).
				With("operation", "crypto/rand.Read").
				Wrap(err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}

func encodeTicket(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, oops.Code("TICKET_ENCODE_FAILED").Wrap(err)
	}
	return data, nil
}

func decodeTicket(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return oops.Code("TICKET_DECODE_FAILED").Wrap(err)
	}
	return nil
}
