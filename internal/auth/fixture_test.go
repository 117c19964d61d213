// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authd/internal/auth"
	"github.com/holomush/authd/internal/auth/jwt"
	"github.com/holomush/authd/internal/auth/memstore"
)

const testPassword = "correct horse battery"

var testSecret = []byte(strings.Repeat("s", jwt.MinSecretLength))

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// outbox is an auth.Mailer that keeps the last message of each kind per
// recipient. Setting a fail* field makes that kind of delivery fail.
type outbox struct {
	mu            sync.Mutex
	resets        map[string]string
	verifications map[string]string
	passwords     map[string]string
	sent          int

	failReset        error
	failVerification error
	failGenerated    error
}

func newOutbox() *outbox {
	return &outbox{
		resets:        map[string]string{},
		verifications: map[string]string{},
		passwords:     map[string]string{},
	}
}

func (o *outbox) SendPasswordReset(_ context.Context, to, code string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failReset != nil {
		return o.failReset
	}
	o.sent++
	o.resets[to] = code
	return nil
}

func (o *outbox) SendVerification(_ context.Context, to, token string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failVerification != nil {
		return o.failVerification
	}
	o.sent++
	o.verifications[to] = token
	return nil
}

func (o *outbox) SendGeneratedPassword(_ context.Context, to, password string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failGenerated != nil {
		return o.failGenerated
	}
	o.sent++
	o.passwords[to] = password
	return nil
}

func (o *outbox) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sent
}

func (o *outbox) resetCode(to string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.resets[to]
}

func (o *outbox) verificationToken(to string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.verifications[to]
}

func (o *outbox) generatedPassword(to string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.passwords[to]
}

// lockedBuffer collects log output from concurrent goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// fixture is a Service over in-memory stores with a controllable clock.
type fixture struct {
	svc      *auth.Service
	store    *memstore.Store
	cache    *memstore.Cache
	clock    *clock
	mail     *outbox
	registry *prometheus.Registry
	logs     *lockedBuffer
}

func newFixture(t *testing.T, opts ...auth.Option) *fixture {
	t.Helper()
	f, err := buildFixture(opts...)
	require.NoError(t, err)
	return f
}

func buildFixture(opts ...auth.Option) (*fixture, error) {
	f := &fixture{
		store:    memstore.New(),
		clock:    newClock(),
		mail:     newOutbox(),
		registry: prometheus.NewRegistry(),
		logs:     &lockedBuffer{},
	}
	f.cache = memstore.NewCache(f.clock.Now)

	signer, err := jwt.NewHS256(testSecret, "authd", jwt.WithClock(f.clock.Now), jwt.WithLeeway(0))
	if err != nil {
		return nil, err
	}

	base := []auth.Option{
		auth.WithClock(f.clock.Now),
		auth.WithLogger(slog.New(slog.NewJSONHandler(f.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))),
		auth.WithMetrics(auth.NewMetrics(f.registry)),
	}
	f.svc, err = auth.NewService(auth.Deps{
		Accounts: f.store.Accounts(),
		Tokens:   f.store.Tokens(),
		Tx:       f.store,
		Cache:    f.cache,
		Hasher:   auth.NewArgon2idHasherWithParams(cheapParams),
		Signer:   signer,
		Mailer:   f.mail,
	}, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// register creates an account and returns the registration result.
func (f *fixture) register(t *testing.T, username string) *auth.RegisterResult {
	t.Helper()
	res, err := f.svc.Register(context.Background(), username, testPassword, username+"@example.com", "192.0.2.1")
	require.NoError(t, err)
	return res
}

func (f *fixture) login(t *testing.T, identifier string) *auth.LoginResult {
	t.Helper()
	res, err := f.svc.Login(context.Background(), identifier, testPassword, "192.0.2.1")
	require.NoError(t, err)
	return res
}

func (f *fixture) token(t *testing.T, value string) *auth.RefreshToken {
	t.Helper()
	token, err := f.store.Tokens().GetByTokenHash(context.Background(), auth.HashToken(value))
	require.NoError(t, err)
	return token
}
