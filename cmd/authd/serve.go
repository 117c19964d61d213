// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/holomush/authd/internal/observability"
	"github.com/holomush/authd/pkg/errutil"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the authd background process",
		Long: `Run the long-lived authd process: the metrics and health endpoints,
the queued mail dispatcher and the periodic purge of expired refresh tokens.
Stops on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, deps)
		},
	}
}

func runServe(ctx context.Context, cmd *cobra.Command, deps *Deps) error {
	cfg, err := loadConfig(cmd, deps)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		st  *Stack
		obs *observability.Server
		reg prometheus.Registerer
	)
	if cfg.MetricsAddr != "" {
		obs = observability.NewServer(cfg.MetricsAddr, version, func(ctx context.Context) error {
			if st == nil {
				return errors.New("starting")
			}
			return st.Ready(ctx)
		}, observability.WithLogger(logger))
		reg = obs.Registry()
	}

	st, err = deps.StackFactory(ctx, cfg, logger, StackOptions{Registerer: reg, QueueMail: true})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := st.Close(shutdownCtx); err != nil {
			errutil.LogError(logger, "error closing stack", err)
		}
	}()

	if obs != nil {
		errCh, err := obs.Start()
		if err != nil {
			return err
		}
		go monitorServerErrors(ctx, cancel, errCh, "observability", logger)
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			if err := obs.Stop(shutdownCtx); err != nil {
				logger.Warn("error stopping observability server", "error", err)
			}
		}()
	}

	purgeDone := make(chan struct{})
	go func() {
		defer close(purgeDone)
		purgeLoop(ctx, st.Service, cfg.Auth.PurgeInterval.D(), cfg.Auth.TokenRetention.D(), logger)
	}()

	cmd.Println("authd started")
	logger.Info("authd ready",
		"store", cfg.Store.Driver,
		"cache", cfg.Cache.Driver,
		"mail", cfg.Mail.Driver,
		"metrics_addr", cfg.MetricsAddr,
	)

	<-ctx.Done()
	logger.Info("shutting down...")
	<-purgeDone
	return nil
}

type purger interface {
	PurgeExpired(ctx context.Context, retention time.Duration) (int64, error)
}

// purgeLoop deletes expired refresh tokens now and then every interval
// until ctx ends. An interval of zero disables purging.
func purgeLoop(ctx context.Context, p purger, interval, retention time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	purge := func() {
		n, err := p.PurgeExpired(ctx, retention)
		if err != nil {
			if ctx.Err() == nil {
				errutil.LogBestEffort(ctx, logger, "purge_expired_tokens", err)
			}
			return
		}
		if n > 0 {
			logger.InfoContext(ctx, "purged expired refresh tokens", "count", n, "retention", retention)
		}
	}

	purge()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purge()
		}
	}
}

// monitorServerErrors cancels the context when the server reports an error.
// It exits when either an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
