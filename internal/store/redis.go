package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gerenciadorbet/ledger-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache of whole snapshots. Commits go to the primary store and invalidate
// the cache; loads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     redis.Cmdable
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb redis.Cmdable, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) Load(ctx context.Context, userID string) (*model.Ledger, error) {
	data, err := s.rdb.Get(ctx, ledgerKey(userID)).Bytes()
	if err == nil {
		var l model.Ledger
		if json.Unmarshal(data, &l) == nil {
			return &l, nil
		}
	}

	// Cache miss: read from primary.
	l, err := s.primary.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cacheLedger(ctx, l)
	return l, nil
}

func (s *CachedStore) Commit(ctx context.Context, l *model.Ledger) error {
	err := s.primary.Commit(ctx, l)
	// Invalidate on conflict too, otherwise the retry reloads the same
	// stale snapshot until the TTL expires.
	s.rdb.Del(ctx, ledgerKey(l.UserID))
	return err
}

func (s *CachedStore) ListUsers(ctx context.Context) ([]string, error) {
	return s.primary.ListUsers(ctx)
}

func (s *CachedStore) cacheLedger(ctx context.Context, l *model.Ledger) {
	if data, err := json.Marshal(l); err == nil {
		s.rdb.Set(ctx, ledgerKey(l.UserID), data, s.ttl)
	}
}

func ledgerKey(userID string) string { return fmt.Sprintf("ledger:%s", userID) }
