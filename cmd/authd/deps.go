// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/holomush/authd/internal/config"
	"github.com/holomush/authd/internal/store"
)

// Migrator is the subset of *store.Migrator used by the migrate command.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Force(version int) error
	Status() (*store.Status, error)
	Close() error
}

// Deps contains injectable dependencies for the commands.
// All fields with nil values will use their default implementations.
type Deps struct {
	// StackFactory builds the service stack.
	// Default: BuildStack
	StackFactory func(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts StackOptions) (*Stack, error)

	// MigratorFactory opens a migrator.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string, logger *slog.Logger) (Migrator, error)

	// Getenv reads environment variables.
	// Default: os.Getenv
	Getenv func(string) string
}

func (d *Deps) withDefaults() *Deps {
	out := Deps{}
	if d != nil {
		out = *d
	}
	if out.StackFactory == nil {
		out.StackFactory = BuildStack
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = func(databaseURL string, logger *slog.Logger) (Migrator, error) {
			return store.NewMigrator(databaseURL, logger)
		}
	}
	if out.Getenv == nil {
		out.Getenv = os.Getenv
	}
	return &out
}
