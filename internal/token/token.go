// Package token is the token ledger collaborator: entry-fee escrow and
// reward payout move balances through it. Mint creation is out of scope.
package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrInsufficientBalance = errors.New("token: insufficient balance")
	ErrInvalidAmount       = errors.New("token: invalid amount")
)

// Ledger moves fungible token balances between owners.
type Ledger interface {
	Transfer(ctx context.Context, mint, from, to string, amount int64) error
	BalanceOf(ctx context.Context, mint, owner string) (int64, error)
}

// MemoryLedger implements Ledger with in-memory maps.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]map[string]int64 // mint -> owner -> amount
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[string]map[string]int64)}
}

// Mint credits amount of mint to owner.
func (l *MemoryLedger) Mint(mint, owner string, amount int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.account(mint)[owner] += amount
}

func (l *MemoryLedger) Transfer(_ context.Context, mint, from, to string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	acct := l.account(mint)
	if acct[from] < amount {
		return fmt.Errorf("%w: %s has %d %s, needs %d", ErrInsufficientBalance, from, acct[from], mint, amount)
	}
	acct[from] -= amount
	acct[to] += amount
	return nil
}

func (l *MemoryLedger) BalanceOf(_ context.Context, mint, owner string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[mint][owner], nil
}

func (l *MemoryLedger) account(mint string) map[string]int64 {
	acct, ok := l.balances[mint]
	if !ok {
		acct = make(map[string]int64)
		l.balances[mint] = acct
	}
	return acct
}
