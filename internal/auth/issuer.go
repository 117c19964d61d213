// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// AccessToken is a signed, stateless credential. It is never persisted.
type AccessToken struct {
	Value     string
	ExpiresAt time.Time
}

// TokenIssuer mints access and refresh tokens.
type TokenIssuer struct {
	signer     AccessTokenSigner
	tokens     RefreshTokenRepository
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenIssuer creates a TokenIssuer with the standard TTLs.
func NewTokenIssuer(signer AccessTokenSigner, tokens RefreshTokenRepository) *TokenIssuer {
	return &TokenIssuer{
		signer:     signer,
		tokens:     tokens,
		accessTTL:  AccessTokenTTL,
		refreshTTL: RefreshTokenTTL,
		now:        time.Now,
	}
}

// IssueAccessToken signs an access token for account.
func (i *TokenIssuer) IssueAccessToken(account *Account) (AccessToken, error) {
	now := i.now()
	claims := AccessClaims{
		Subject:   account.ID.String(),
		Email:     account.Email,
		Roles:     append([]string(nil), account.Roles...),
		TokenID:   ulid.Make().String(),
		IssuedAt:  now,
		ExpiresAt: now.Add(i.accessTTL),
	}
	value, err := i.signer.Sign(claims)
	if err != nil {
		return AccessToken{}, oops.Code("TOKEN_SIGN_FAILED").
			With("operation", "sign access token").
			With("account_id", claims.Subject).
			Wrap(err)
	}
	return AccessToken{Value: value, ExpiresAt: claims.ExpiresAt}, nil
}

// MintRefreshToken generates a refresh token value and its record without
// persisting it. The value is returned only here.
func (i *TokenIssuer) MintRefreshToken(accountID ulid.ULID, ip string) (string, *RefreshToken, error) {
	value, hash, err := GenerateOpaqueToken()
	if err != nil {
		return "", nil, err
	}
	now := i.now()
	return value, &RefreshToken{
		ID:          ulid.Make(),
		AccountID:   accountID,
		TokenHash:   hash,
		IssuedAt:    now,
		ExpiresAt:   now.Add(i.refreshTTL),
		CreatedByIP: ip,
	}, nil
}

// IssueRefreshToken mints and persists a refresh token.
func (i *TokenIssuer) IssueRefreshToken(ctx context.Context, accountID ulid.ULID, ip string) (string, *RefreshToken, error) {
	value, record, err := i.MintRefreshToken(accountID, ip)
	if err != nil {
		return "", nil, err
	}
	if err := i.tokens.Create(ctx, record); err != nil {
		return "", nil, oops.Code("TOKEN_CREATE_FAILED").
			With("operation", "persist refresh token").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return value, record, nil
}
