// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package jwt_test

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authd/internal/auth"
	"github.com/holomush/authd/internal/auth/jwt"
	"github.com/holomush/authd/pkg/errutil"
)

var secret = []byte(strings.Repeat("s", jwt.MinSecretLength))

func claimsAt(now time.Time) auth.AccessClaims {
	return auth.AccessClaims{
		Subject:   "01HZXJ0000000000000000000A",
		Email:     "ada@example.com",
		Roles:     []string{"user"},
		TokenID:   "tid",
		IssuedAt:  now,
		ExpiresAt: now.Add(auth.AccessTokenTTL),
	}
}

func TestNewHS256_RejectsShortSecret(t *testing.T) {
	_, err := jwt.NewHS256([]byte("short"), "authd")
	errutil.AssertErrorCode(t, err, "JWT_CONFIG_INVALID")
}

func TestManager_RoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	hs, err := jwt.NewHS256(secret, "authd")
	require.NoError(t, err)
	ed, err := jwt.NewEd25519(priv, pub, "authd")
	require.NoError(t, err)

	for name, m := range map[string]*jwt.Manager{"hs256": hs, "ed25519": ed} {
		t.Run(name, func(t *testing.T) {
			token, err := m.Sign(claimsAt(now))
			require.NoError(t, err)

			got, err := m.Parse(token)
			require.NoError(t, err)
			assert.Equal(t, "01HZXJ0000000000000000000A", got.Subject)
			assert.Equal(t, "ada@example.com", got.Email)
			assert.Equal(t, []string{"user"}, got.Roles)
			assert.Equal(t, "tid", got.TokenID)
			assert.True(t, got.ExpiresAt.Equal(now.Add(auth.AccessTokenTTL)))
		})
	}
}

func TestManager_Parse_Rejects(t *testing.T) {
	now := time.Now()
	m, err := jwt.NewHS256(secret, "authd")
	require.NoError(t, err)
	valid, err := m.Sign(claimsAt(now))
	require.NoError(t, err)

	otherIssuer, err := jwt.NewHS256(secret, "someone-else")
	require.NoError(t, err)
	foreign, err := otherIssuer.Sign(claimsAt(now))
	require.NoError(t, err)

	otherKey, err := jwt.NewHS256([]byte(strings.Repeat("x", jwt.MinSecretLength)), "authd")
	require.NoError(t, err)
	forged, err := otherKey.Sign(claimsAt(now))
	require.NoError(t, err)

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	ed, err := jwt.NewEd25519(priv, pub, "authd")
	require.NoError(t, err)
	wrongAlg, err := ed.Sign(claimsAt(now))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-jwt"},
		{"tampered", valid[:len(valid)-2] + "xx"},
		{"wrong issuer", foreign},
		{"wrong key", forged},
		{"wrong algorithm", wrongAlg},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Parse(tt.token)
			errutil.AssertErrorCode(t, err, "JWT_INVALID")
		})
	}
}

func TestManager_Parse_Expired(t *testing.T) {
	issued := time.Now().Add(-2 * auth.AccessTokenTTL)
	m, err := jwt.NewHS256(secret, "authd", jwt.WithLeeway(0))
	require.NoError(t, err)
	token, err := m.Sign(claimsAt(issued))
	require.NoError(t, err)

	_, err = m.Parse(token)
	errutil.AssertErrorCode(t, err, "JWT_EXPIRED")
}

func TestManager_Parse_UsesClock(t *testing.T) {
	issued := time.Now().Add(-2 * auth.AccessTokenTTL)
	m, err := jwt.NewHS256(secret, "authd", jwt.WithClock(func() time.Time { return issued.Add(time.Minute) }))
	require.NoError(t, err)
	token, err := m.Sign(claimsAt(issued))
	require.NoError(t, err)

	_, err = m.Parse(token)
	assert.NoError(t, err)
}

func TestLoadEd25519(t *testing.T) {
	dir := t.TempDir()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	privPath := filepath.Join(dir, "key.pem")
	pubPath := filepath.Join(dir, "key.pub.pem")
	require.NoError(t, os.WriteFile(privPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}), 0o600))
	require.NoError(t, os.WriteFile(pubPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}), 0o600))

	signer, err := jwt.LoadEd25519(privPath, pubPath, "authd")
	require.NoError(t, err)
	verifier, err := jwt.LoadEd25519("", pubPath, "authd")
	require.NoError(t, err)

	token, err := signer.Sign(claimsAt(time.Now()))
	require.NoError(t, err)
	_, err = verifier.Parse(token)
	require.NoError(t, err)

	_, err = verifier.Sign(claimsAt(time.Now()))
	errutil.AssertErrorCode(t, err, "JWT_SIGN_FAILED")

	_, err = jwt.LoadEd25519("", filepath.Join(dir, "missing.pem"), "authd")
	errutil.AssertErrorCode(t, err, "JWT_KEY_LOAD_FAILED")
}
