package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/atmx/league-engine/internal/model"
)

// MemoryStore implements Store with an in-memory map. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*model.Account
	now      func() time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*model.Account),
		now:      time.Now,
	}
}

func (s *MemoryStore) GetAccount(_ context.Context, key string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[key]
	if !ok {
		return nil, notFound(key)
	}
	// Hand out a copy to avoid external mutation.
	return a.Clone(), nil
}

func (s *MemoryStore) ListAccounts(_ context.Context, kind model.Kind, prefix string) ([]*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Account
	for k, a := range s.accounts {
		if a.Kind == kind && strings.HasPrefix(k, prefix) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemoryStore) Apply(_ context.Context, writes []Write) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Check every version before touching anything.
	for _, w := range writes {
		var current int64
		if a, ok := s.accounts[w.Key]; ok {
			current = a.Version
		}
		if current != w.ExpectVersion {
			return conflict(w.Key, w.ExpectVersion)
		}
	}

	now := s.now()
	for _, w := range writes {
		if w.Delete {
			delete(s.accounts, w.Key)
			continue
		}
		a := w.Account.Clone()
		a.Key = w.Key
		a.Version = w.ExpectVersion + 1
		a.UpdatedAt = now
		s.accounts[w.Key] = a
	}
	return nil
}

// Len returns the number of stored accounts.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}
