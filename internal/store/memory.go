package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gerenciadorbet/ledger-engine/internal/model"
)

// MemoryStore implements Store with an in-memory map. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	ledgers map[string]*model.Ledger
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ledgers: make(map[string]*model.Ledger),
	}
}

func (s *MemoryStore) Load(_ context.Context, userID string) (*model.Ledger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.ledgers[userID]
	if !ok {
		return emptyLedger(userID), nil
	}
	return l.Clone(), nil
}

func (s *MemoryStore) Commit(_ context.Context, l *model.Ledger) error {
	if l == nil || l.UserID == "" {
		return fmt.Errorf("store: commit requires a user id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if existing, ok := s.ledgers[l.UserID]; ok {
		current = existing.Version
	}
	if current != l.Version {
		return fmt.Errorf("%w: user %s at version %d, commit based on %d", ErrConflict, l.UserID, current, l.Version)
	}

	// Store a copy to avoid external mutation.
	stored := l.Clone()
	stored.Version = current + 1
	s.ledgers[l.UserID] = stored
	l.Version = stored.Version
	return nil
}

func (s *MemoryStore) ListUsers(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]string, 0, len(s.ledgers))
	for id := range s.ledgers {
		users = append(users, id)
	}
	sort.Strings(users)
	return users, nil
}
