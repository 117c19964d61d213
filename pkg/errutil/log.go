// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package errutil provides oops-aware helpers for logging and asserting errors.
package errutil

import (
	"context"
	"log/slog"

	"github.com/samber/oops"

	"github.com/holomush/authd/internal/logging"
)

// errorAttrs extracts message, code, and context from err. Context values under
// identifier-like keys are redacted.
func errorAttrs(err error) []any {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return []any{"error", err}
	}
	attrs := []any{"error", oopsErr.Error()}
	if code := oopsErr.Code(); code != nil && code != "" {
		attrs = append(attrs, "code", code)
	}
	if ctx := oopsErr.Context(); len(ctx) > 0 {
		attrs = append(attrs, "context", logging.RedactContext(ctx))
	}
	return attrs
}

// LogError logs an error with structured context if it's an oops error.
// For standard errors, it logs the error string.
func LogError(logger *slog.Logger, msg string, err error) {
	LogErrorContext(context.Background(), logger, msg, err)
}

// LogErrorContext is LogError with a context for trace correlation.
func LogErrorContext(ctx context.Context, logger *slog.Logger, msg string, err error) {
	logger.ErrorContext(ctx, msg, errorAttrs(err)...)
}

// LogBestEffort logs a failed side effect that does not fail the calling
// operation. The record is a WARN whose message contains "best-effort" and
// which carries the operation name.
func LogBestEffort(ctx context.Context, logger *slog.Logger, operation string, err error, attrs ...any) {
	args := append([]any{"operation", operation}, errorAttrs(err)...)
	args = append(args, attrs...)
	logger.WarnContext(ctx, "best-effort "+operation+" failed", args...)
}
