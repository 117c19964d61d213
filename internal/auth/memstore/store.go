// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package memstore provides in-memory implementations of the auth
// repositories, Transactor and Cache for development mode and tests.
package memstore

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/authd/internal/auth"
)

type attempt struct {
	count    int
	lastFail time.Time
}

// Store holds accounts, login attempts and refresh tokens behind one mutex.
// Mutations made inside InTransaction are undone if the transaction fails.
type Store struct {
	mu       sync.Mutex
	accounts map[string]*auth.Account
	attempts map[string]attempt
	tokens   map[string]*auth.RefreshToken
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		accounts: make(map[string]*auth.Account),
		attempts: make(map[string]attempt),
		tokens:   make(map[string]*auth.RefreshToken),
	}
}

// Accounts returns the store's auth.AccountRepository.
func (s *Store) Accounts() *Accounts { return &Accounts{s: s} }

// Tokens returns the store's auth.RefreshTokenRepository.
func (s *Store) Tokens() *Tokens { return &Tokens{s: s} }

type txKey struct{}

// journal collects undo steps for one transaction.
type journal struct {
	mu   sync.Mutex
	undo []func()
}

func (j *journal) add(fn func()) {
	j.mu.Lock()
	j.undo = append(j.undo, fn)
	j.mu.Unlock()
}

// InTransaction implements auth.Transactor. A context cancelled before fn
// returns aborts the transaction with TX_ABORTED.
func (s *Store) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*journal); ok {
		return fn(ctx)
	}

	j := &journal{}
	err := fn(context.WithValue(ctx, txKey{}, j))
	if err == nil && ctx.Err() != nil {
		err = oops.Code(auth.CodeTransactionAborted).
			With("operation", "commit").
			Wrap(ctx.Err())
	}
	if err != nil {
		s.rollback(j)
		return err
	}
	return nil
}

func (s *Store) rollback(j *journal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
}

// record registers undo with the transaction in ctx, if any. Callers hold s.mu
// and undo runs with s.mu held.
func record(ctx context.Context, undo func()) {
	if j, ok := ctx.Value(txKey{}).(*journal); ok {
		j.add(undo)
	}
}

func cloneAccount(a *auth.Account) *auth.Account {
	c := *a
	c.Roles = slices.Clone(a.Roles)
	if a.LastLoginAt != nil {
		t := *a.LastLoginAt
		c.LastLoginAt = &t
	}
	if a.LastFailedLoginAt != nil {
		t := *a.LastFailedLoginAt
		c.LastFailedLoginAt = &t
	}
	return &c
}

func cloneToken(t *auth.RefreshToken) *auth.RefreshToken {
	c := *t
	if t.RevokedAt != nil {
		at := *t.RevokedAt
		c.RevokedAt = &at
	}
	if t.ReplacedByTokenID != nil {
		id := *t.ReplacedByTokenID
		c.ReplacedByTokenID = &id
	}
	return &c
}

func lower(s string) string { return strings.ToLower(s) }
