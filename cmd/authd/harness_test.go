// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/holomush/authd/internal/config"
	"github.com/holomush/authd/internal/mail"
)

var testSecret = strings.Repeat("k", 32)

// mailbox records every message it is asked to send.
type mailbox struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (m *mailbox) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mailbox) last(t *testing.T, kind mail.Kind) mail.Message {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].Kind == kind {
			return m.sent[i]
		}
	}
	t.Fatalf("no %s message sent", kind)
	return mail.Message{}
}

var resetCodePattern = regexp.MustCompile(`Reset code: (\S+)`)

// resetCode extracts the code from a password reset message.
func resetCode(t *testing.T, msg mail.Message) string {
	t.Helper()
	m := resetCodePattern.FindStringSubmatch(msg.Body)
	require.Len(t, m, 2, "reset code in body")
	return m[1]
}

// bodyLine returns line n of a message body.
func bodyLine(t *testing.T, msg mail.Message, n int) string {
	t.Helper()
	lines := strings.Split(msg.Body, "\r\n")
	require.Greater(t, len(lines), n)
	return lines[n]
}

// harness runs CLI commands against one in-memory stack shared across
// invocations.
type harness struct {
	t     *testing.T
	deps  *Deps
	mail  *mailbox
	stack *Stack
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	env := map[string]string{config.EnvJWTSecret: testSecret}
	h := &harness{t: t, mail: &mailbox{}}

	cfg := config.Default()
	cfg.JWT.Secret = testSecret
	st, err := BuildStack(context.Background(), cfg, slog.New(slog.DiscardHandler), StackOptions{Sender: h.mail})
	require.NoError(t, err)
	h.stack = st
	t.Cleanup(func() { _ = st.Close(context.Background()) })

	h.deps = &Deps{
		StackFactory: func(context.Context, *config.Config, *slog.Logger, StackOptions) (*Stack, error) {
			return h.stack, nil
		},
		Getenv: func(key string) string { return env[key] },
	}
	return h
}

// run executes args and returns stdout.
func (h *harness) run(args ...string) (string, error) {
	return h.runWithInput("", args...)
}

func (h *harness) runWithInput(stdin string, args ...string) (string, error) {
	cmd := newRootCmd(h.deps)
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// mustRun executes args, requires success and decodes the JSON output into v
// when v is non-nil.
func (h *harness) mustRun(v any, args ...string) string {
	h.t.Helper()
	out, err := h.run(args...)
	require.NoError(h.t, err, "authd %s", strings.Join(args, " "))
	if v != nil {
		require.NoError(h.t, json.Unmarshal([]byte(out), v), "output: %s", out)
	}
	return out
}
