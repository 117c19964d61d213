// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/holomush/authd/internal/auth"
	"github.com/holomush/authd/internal/auth/jwt"
	"github.com/holomush/authd/internal/auth/memstore"
	"github.com/holomush/authd/internal/auth/postgres"
	"github.com/holomush/authd/internal/auth/rediscache"
	"github.com/holomush/authd/internal/config"
	"github.com/holomush/authd/internal/mail"
	"github.com/holomush/authd/internal/store"
)

// StackOptions control BuildStack.
type StackOptions struct {
	// Registerer receives the auth and mail metrics. Nil disables metrics.
	Registerer prometheus.Registerer
	// QueueMail delivers verification mail through a background Dispatcher.
	// Only long-running processes should set it.
	QueueMail bool
	// Sender replaces the configured mail sender.
	Sender mail.Sender
}

// Stack is a wired auth.Service plus the resources behind it.
type Stack struct {
	Service *auth.Service

	ready   []func(ctx context.Context) error
	closers []func(ctx context.Context) error
}

// Ready checks every backing resource.
func (s *Stack) Ready(ctx context.Context) error {
	for _, check := range s.ready {
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (s *Stack) Close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func (s *Stack) onClose(fn func(ctx context.Context) error) {
	s.closers = append(s.closers, fn)
}

// BuildStack wires the service described by cfg. On failure everything
// acquired so far is released.
func BuildStack(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts StackOptions) (st *Stack, err error) {
	st = &Stack{}
	defer func() {
		if err != nil {
			_ = st.Close(context.Background()) //nolint:errcheck // build error takes precedence
			st = nil
		}
	}()

	deps := auth.Deps{Hasher: auth.NewArgon2idHasher()}

	switch cfg.Store.Driver {
	case config.DriverPostgres:
		pool, err := store.Connect(ctx, cfg.Store.DatabaseURL, store.PoolOptions{MaxConns: cfg.Store.MaxConns}, logger)
		if err != nil {
			return nil, err
		}
		st.onClose(func(context.Context) error { pool.Close(); return nil })
		st.ready = append(st.ready, pool.Ping)
		deps.Accounts = postgres.NewAccountRepository(pool)
		deps.Tokens = postgres.NewRefreshTokenRepository(pool)
		deps.Tx = postgres.NewTransactor(pool)
	default:
		mem := memstore.New()
		deps.Accounts, deps.Tokens, deps.Tx = mem.Accounts(), mem.Tokens(), mem
	}

	switch cfg.Cache.Driver {
	case config.DriverRedis:
		client, err := rediscache.Dial(cfg.Cache.RedisURL)
		if err != nil {
			return nil, err
		}
		st.onClose(func(context.Context) error { return client.Close() })
		cache := rediscache.New(client, cfg.Cache.KeyPrefix)
		st.ready = append(st.ready, cache.Ping)
		deps.Cache = cache
	default:
		deps.Cache = memstore.NewCache(time.Now)
	}

	if deps.Signer, err = buildSigner(cfg.JWT); err != nil {
		return nil, err
	}

	sender := opts.Sender
	if sender == nil {
		if sender, err = buildSender(cfg.Mail, logger); err != nil {
			return nil, err
		}
	}
	var queued mail.Sender
	if opts.QueueMail {
		dopts := mail.DispatcherOptions{
			QueueSize: cfg.Mail.QueueSize,
			Workers:   cfg.Mail.Workers,
			Logger:    logger,
		}
		if opts.Registerer != nil {
			dopts.Metrics = mail.NewDispatcherMetrics(opts.Registerer)
		}
		dispatcher := mail.NewDispatcher(sender, dopts)
		st.onClose(dispatcher.Close)
		queued = dispatcher
	}
	deps.Mailer = mail.NewMailer(sender, queued)

	svcOpts := []auth.Option{
		auth.WithLogger(logger),
		auth.WithRevokeOnReuse(cfg.Auth.RevokeOnReuse),
		auth.WithRevokeSessionsOnReset(cfg.Auth.RevokeSessionsOnReset),
		auth.WithMaxFailedAttempts(cfg.Auth.MaxFailedAttempts),
		auth.WithAllowedEmailDomains(cfg.Auth.AllowedEmailDomains...),
	}
	if opts.Registerer != nil {
		svcOpts = append(svcOpts, auth.WithMetrics(auth.NewMetrics(opts.Registerer)))
	}
	if st.Service, err = auth.NewService(deps, svcOpts...); err != nil {
		return nil, err
	}
	return st, nil
}

func buildSigner(cfg config.JWTConfig) (auth.AccessTokenSigner, error) {
	opts := []jwt.Option{jwt.WithLeeway(cfg.Leeway.D())}
	switch cfg.Method {
	case config.MethodEd25519:
		return jwt.LoadEd25519(cfg.PrivateKeyFile, cfg.PublicKeyFile, cfg.Issuer, opts...)
	case config.MethodHS256:
		return jwt.NewHS256([]byte(cfg.Secret), cfg.Issuer, opts...)
	}
	return nil, oops.Code("CONFIG_INVALID").With("method", cfg.Method).Errorf("unknown jwt method")
}

func buildSender(cfg config.MailConfig, logger *slog.Logger) (mail.Sender, error) {
	if cfg.Driver != config.DriverSMTP {
		return mail.NewLogSender(logger, cfg.RevealBodies), nil
	}
	smtp, err := mail.NewSMTPSender(mail.SMTPConfig{
		Addr:     cfg.SMTPAddr,
		From:     cfg.From,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
	})
	if err != nil {
		return nil, err
	}
	return mail.NewRetryingSender(smtp, mail.DefaultRetryBase, uint64(cfg.MaxRetries), logger), nil //nolint:gosec // validated non-negative
}
