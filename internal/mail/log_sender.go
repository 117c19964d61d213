// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package mail

import (
	"context"
	"log/slog"

	"github.com/holomush/authd/internal/logging"
)

// LogSender writes messages to a logger instead of delivering them. It is
// meant for development. Bodies carry secrets and are only logged when
// reveal is set.
type LogSender struct {
	logger *slog.Logger
	reveal bool
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *slog.Logger, reveal bool) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger, reveal: reveal}
}

// Send logs msg.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	attrs := []any{
		"kind", string(msg.Kind),
		logging.Identifier("to", msg.To),
		"subject", msg.Subject,
	}
	if s.reveal {
		attrs = append(attrs, "body", msg.Body)
	}
	s.logger.InfoContext(ctx, "mail delivered to log", attrs...)
	return nil
}
