// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package jwt signs and validates access tokens with golang-jwt.
package jwt

import (
	"crypto"
	"crypto/ed25519"
	"errors"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"

	"github.com/holomush/authd/internal/auth"
)

// MinSecretLength is the shortest HS256 secret accepted.
const MinSecretLength = 32

// DefaultLeeway is the clock skew tolerated when validating time claims.
const DefaultLeeway = 30 * time.Second

type claims struct {
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Manager implements auth.AccessTokenSigner for one signing method.
type Manager struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	issuer    string
	leeway    time.Duration
	now       func() time.Time
}

var _ auth.AccessTokenSigner = (*Manager)(nil)

// Option configures a Manager.
type Option func(*Manager)

// WithLeeway sets the tolerated clock skew.
func WithLeeway(d time.Duration) Option {
	return func(m *Manager) { m.leeway = d }
}

// WithClock sets the time source used for validation.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewHS256 creates a Manager signing with a shared secret.
func NewHS256(secret []byte, issuer string, opts ...Option) (*Manager, error) {
	if len(secret) < MinSecretLength {
		return nil, oops.Code("JWT_CONFIG_INVALID").
			With("min", MinSecretLength).
			Errorf("hs256 secret must be at least %d bytes", MinSecretLength)
	}
	return newManager(jwt.SigningMethodHS256, secret, secret, issuer, opts), nil
}

// NewEd25519 creates a Manager signing with priv. priv may be nil for a
// verify-only Manager.
func NewEd25519(priv ed25519.PrivateKey, pub ed25519.PublicKey, issuer string, opts ...Option) (*Manager, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, oops.Code("JWT_CONFIG_INVALID").Errorf("ed25519 public key is required")
	}
	var signKey any
	if priv != nil {
		signKey = priv
	}
	return newManager(jwt.SigningMethodEdDSA, signKey, pub, issuer, opts), nil
}

// LoadEd25519 reads PEM encoded keys. privPath may be empty.
func LoadEd25519(privPath, pubPath, issuer string, opts ...Option) (*Manager, error) {
	pubPEM, err := os.ReadFile(pubPath) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, oops.Code("JWT_KEY_LOAD_FAILED").With("path", pubPath).Wrap(err)
	}
	pubKey, err := jwt.ParseEdPublicKeyFromPEM(pubPEM)
	if err != nil {
		return nil, oops.Code("JWT_KEY_LOAD_FAILED").With("path", pubPath).Wrap(err)
	}
	pub, ok := pubKey.(ed25519.PublicKey)
	if !ok {
		return nil, oops.Code("JWT_KEY_LOAD_FAILED").With("path", pubPath).Errorf("not an ed25519 public key")
	}

	var priv ed25519.PrivateKey
	if privPath != "" {
		privPEM, err := os.ReadFile(privPath) //nolint:gosec // path comes from operator config
		if err != nil {
			return nil, oops.Code("JWT_KEY_LOAD_FAILED").With("path", privPath).Wrap(err)
		}
		var key crypto.PrivateKey
		if key, err = jwt.ParseEdPrivateKeyFromPEM(privPEM); err != nil {
			return nil, oops.Code("JWT_KEY_LOAD_FAILED").With("path", privPath).Wrap(err)
		}
		if priv, ok = key.(ed25519.PrivateKey); !ok {
			return nil, oops.Code("JWT_KEY_LOAD_FAILED").With("path", privPath).Errorf("not an ed25519 private key")
		}
	}
	return NewEd25519(priv, pub, issuer, opts...)
}

func newManager(method jwt.SigningMethod, signKey, verifyKey any, issuer string, opts []Option) *Manager {
	m := &Manager{
		method:    method,
		signKey:   signKey,
		verifyKey: verifyKey,
		issuer:    issuer,
		leeway:    DefaultLeeway,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Sign produces a compact JWS for c.
func (m *Manager) Sign(c auth.AccessClaims) (string, error) {
	if m.signKey == nil {
		return "", oops.Code("JWT_SIGN_FAILED").Errorf("manager has no signing key")
	}
	token := jwt.NewWithClaims(m.method, claims{
		Email: c.Email,
		Roles: c.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   c.Subject,
			ID:        c.TokenID,
			IssuedAt:  jwt.NewNumericDate(c.IssuedAt),
			NotBefore: jwt.NewNumericDate(c.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(c.ExpiresAt),
		},
	})
	signed, err := token.SignedString(m.signKey)
	if err != nil {
		return "", oops.Code("JWT_SIGN_FAILED").With("alg", m.method.Alg()).Wrap(err)
	}
	return signed, nil
}

// Parse validates the signature, algorithm, issuer and time claims of token.
func (m *Manager) Parse(token string) (*auth.AccessClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(*jwt.Token) (any, error) {
		return m.verifyKey, nil
	},
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithLeeway(m.leeway),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		code := "JWT_INVALID"
		if errors.Is(err, jwt.ErrTokenExpired) {
			code = "JWT_EXPIRED"
		}
		return nil, oops.Code(code).With("alg", m.method.Alg()).Wrap(err)
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || c.Subject == "" {
		return nil, oops.Code("JWT_INVALID").Errorf("token has no subject")
	}
	out := &auth.AccessClaims{
		Subject: c.Subject,
		Email:   c.Email,
		Roles:   c.Roles,
		TokenID: c.ID,
	}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out, nil
}
