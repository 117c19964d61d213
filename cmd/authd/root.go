// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/authd/internal/config"
	"github.com/holomush/authd/internal/logging"
)

// NewRootCmd creates the root command for the authd CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(nil)
}

func newRootCmd(deps *Deps) *cobra.Command {
	deps = deps.withDefaults()

	cmd := &cobra.Command{
		Use:   "authd",
		Short: "authd - account authentication and session lifecycle",
		Long: `authd verifies credentials, issues access and refresh tokens, rotates
refresh tokens and runs password resets. "authd serve" runs the background
process; the other commands operate on the configured store directly.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "config file path (default: XDG_CONFIG_HOME/authd/config.yaml)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(newServeCmd(deps))
	cmd.AddCommand(newMigrateCmd(deps))
	cmd.AddCommand(newAccountCmd(deps))
	cmd.AddCommand(newSessionCmd(deps))
	cmd.AddCommand(newPasswordCmd(deps))
	cmd.AddCommand(newTokenCmd(deps))
	cmd.AddCommand(newConfigCmd(deps))

	return cmd
}

// loadConfig loads the configuration for cmd without validating it.
func loadConfig(cmd *cobra.Command, deps *Deps) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	return config.Load(config.LoadOptions{Path: path, Flags: cmd.Flags(), Getenv: deps.Getenv})
}

func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	return logging.New(logging.Options{
		Service: "authd",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
	}, cmd.ErrOrStderr())
}

// withStack loads and validates the config, builds a one-shot stack, runs
// fn and closes the stack.
func withStack(cmd *cobra.Command, deps *Deps, fn func(ctx context.Context, st *Stack) error) error {
	cfg, err := loadConfig(cmd, deps)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)
	ctx := cmd.Context()

	st, err := deps.StackFactory(ctx, cfg, logger, StackOptions{})
	if err != nil {
		return oops.With("operation", "build stack").Wrap(err)
	}
	defer func() {
		if closeErr := st.Close(context.WithoutCancel(ctx)); closeErr != nil {
			logger.Warn("failed to close stack", "error", closeErr)
		}
	}()
	return fn(ctx, st)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return oops.Code("OUTPUT_FAILED").Wrap(err)
	}
	return nil
}

// addPasswordFlags registers --<name> and --<name>-stdin on cmd.
func addPasswordFlags(cmd *cobra.Command, name, usage string) {
	cmd.Flags().String(name, "", usage)
	cmd.Flags().Bool(name+"-stdin", false, "read "+name+" from the first line of stdin")
}

// readPassword returns the value of --<name>, or the first stdin line when
// --<name>-stdin is set.
func readPassword(cmd *cobra.Command, name string) (string, error) {
	fromStdin, err := cmd.Flags().GetBool(name + "-stdin")
	if err != nil {
		return "", oops.Code("CONFIG_INVALID").Wrap(err)
	}
	if !fromStdin {
		value, err := cmd.Flags().GetString(name)
		if err != nil {
			return "", oops.Code("CONFIG_INVALID").Wrap(err)
		}
		return value, nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", oops.Code("INPUT_FAILED").With("flag", name+"-stdin").Wrap(err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
