// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package mail

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/authd/pkg/errutil"
)

// Retry defaults.
const (
	DefaultRetryBase  = 200 * time.Millisecond
	DefaultMaxRetries = 3
)

// RetryingSender retries a Sender with exponential backoff.
type RetryingSender struct {
	next       Sender
	base       time.Duration
	maxRetries uint64
	logger     *slog.Logger
}

// NewRetryingSender wraps next. base <= 0 means DefaultRetryBase.
func NewRetryingSender(next Sender, base time.Duration, maxRetries uint64, logger *slog.Logger) *RetryingSender {
	if base <= 0 {
		base = DefaultRetryBase
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryingSender{next: next, base: base, maxRetries: maxRetries, logger: logger}
}

// Send delivers msg, retrying failures until the retries run out or ctx ends.
func (s *RetryingSender) Send(ctx context.Context, msg Message) error {
	backoff := retry.WithMaxRetries(s.maxRetries, retry.NewExponential(s.base))
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := s.next.Send(ctx, msg)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		errutil.LogBestEffort(ctx, s.logger, "send_mail_attempt", err,
			"kind", string(msg.Kind), "attempt", attempt)
		return retry.RetryableError(err)
	})
	if err != nil {
		return oops.Code("MAIL_RETRIES_EXHAUSTED").
			With("kind", string(msg.Kind)).
			With("attempts", attempt).
			Wrap(err)
	}
	return nil
}
