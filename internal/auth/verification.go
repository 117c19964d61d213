// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/samber/oops"
)

// issueVerification stores a verification ticket for account and returns the
// token to email.
func issueVerification(ctx context.Context, cache Cache, account *Account, now time.Time) (string, error) {
	token, _, err := GenerateOpaqueToken()
	if err != nil {
		return "", err
	}
	data, err := encodeTicket(VerificationTicket{AccountID: account.ID, CreatedAt: now})
	if err != nil {
		return "", err
	}
	if err := cache.Set(ctx, VerificationTicketKey(token), data, VerificationTicketTTL); err != nil {
		return "", oops.Code("VERIFY_ISSUE_FAILED").
			With("operation", "store verification ticket").
			With("account_id", account.ID.String()).
			Wrap(err)
	}
	return token, nil
}

// consumeVerification takes the ticket for token and returns it.
func consumeVerification(ctx context.Context, cache Cache, token string, now time.Time) (*VerificationTicket, error) {
	if token == "" {
		return nil, oops.Code(CodeVerificationInvalid).Errorf("verification token is empty")
	}
	data, err := cache.Take(ctx, VerificationTicketKey(token))
	if errors.Is(err, ErrNotFound) {
		return nil, oops.Code(CodeVerificationInvalid).Errorf("verification token is invalid or expired")
	}
	if err != nil {
		return nil, oops.Code("VERIFY_EMAIL_FAILED").
			With("operation", "take verification ticket").
			Wrap(err)
	}
	var ticket VerificationTicket
	if err := decodeTicket(data, &ticket); err != nil {
		return nil, err
	}
	if now.Sub(ticket.CreatedAt) > VerificationTicketTTL {
		return nil, oops.Code(CodeVerificationInvalid).Errorf("verification token is invalid or expired")
	}
	return &ticket, nil
}
