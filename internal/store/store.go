// Package store defines account persistence for one executor layer.
// Implementations include PostgreSQL (base ledger of record), Redis (rollup
// hot state, and a read-through cache over the base), and in-memory (for
// testing and development).
package store

import (
	"context"
	"fmt"

	"github.com/atmx/league-engine/internal/model"
)

// Write is one account mutation inside an atomic batch.
type Write struct {
	// Key identifies the account.
	Key string
	// Account is the new value. Ignored when Delete is set.
	Account *model.Account
	// ExpectVersion is the version the caller read; 0 means the account
	// must not exist yet.
	ExpectVersion int64
	Delete        bool
}

// Put builds an upsert of acct expecting version expect.
func Put(acct *model.Account, expect int64) Write {
	return Write{Key: acct.Key, Account: acct, ExpectVersion: expect}
}

// Del builds a delete of key expecting version expect.
func Del(key string, expect int64) Write {
	return Write{Key: key, ExpectVersion: expect, Delete: true}
}

// Store is the persistence interface of an executor layer.
type Store interface {
	// GetAccount returns the account at key or an error wrapping
	// model.ErrNotFound.
	GetAccount(ctx context.Context, key string) (*model.Account, error)

	// ListAccounts returns all accounts of kind whose key starts with prefix,
	// ordered by key.
	ListAccounts(ctx context.Context, kind model.Kind, prefix string) ([]*model.Account, error)

	// Apply persists writes atomically. Every written account gets version
	// ExpectVersion+1. If any account's stored version differs from its
	// ExpectVersion nothing is written and the error wraps model.ErrConflict.
	Apply(ctx context.Context, writes []Write) error
}

func notFound(key string) error {
	return fmt.Errorf("%w: account %s", model.ErrNotFound, key)
}

func conflict(key string, expect int64) error {
	return fmt.Errorf("%w: account %s expected version %d", model.ErrConflict, key, expect)
}
