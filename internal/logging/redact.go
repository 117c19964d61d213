// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"unicode/utf8"
)

// Redact masks a login identifier or email for logging. The result keeps the
// first character, the email domain if any, and a short digest so repeated
// attempts for the same identifier can be correlated.
func Redact(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(strings.ToLower(value)))
	digest := hex.EncodeToString(sum[:3])

	local, domain, isEmail := strings.Cut(value, "@")
	if isEmail && local != "" && domain != "" {
		return firstRune(local) + "***@" + domain + "#" + digest
	}
	return firstRune(value) + "***#" + digest
}

func firstRune(s string) string {
	_, size := utf8.DecodeRuneInString(s)
	return s[:size]
}

// Identifier returns a slog attribute holding the redacted value.
func Identifier(key, value string) slog.Attr {
	return slog.String(key, Redact(value))
}

// sensitiveKeys are context keys whose values are redacted by RedactContext.
var sensitiveKeys = map[string]bool{
	"identifier": true,
	"email":      true,
	"username":   true,
	"to":         true,
}

// IsSensitiveKey reports whether key names an identifier-like value.
func IsSensitiveKey(key string) bool {
	return sensitiveKeys[strings.ToLower(key)]
}

// RedactContext returns a copy of ctx with string values of sensitive keys redacted.
func RedactContext(ctx map[string]any) map[string]any {
	if len(ctx) == 0 {
		return ctx
	}
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		if s, ok := v.(string); ok && IsSensitiveKey(k) {
			out[k] = Redact(s)
			continue
		}
		out[k] = v
	}
	return out
}
