// Package store defines the persistence interface for the ledger engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and local use).
package store

import (
	"context"
	"errors"

	"github.com/gerenciadorbet/ledger-engine/internal/model"
)

// ErrConflict is returned by Commit when the stored snapshot changed since it
// was loaded. The caller must reload and reapply its mutation.
var ErrConflict = errors.New("store: concurrent mutation conflict")

// Store persists one snapshot per user. Every collection of a user (settings,
// bets, withdrawals, goals, day statuses, categories, notifications) is
// replaced together, so readers never observe a half-written replay.
type Store interface {
	// Load returns a private copy of the user's snapshot. An unknown user
	// yields an empty snapshot with Version 0 and nil Settings.
	Load(ctx context.Context, userID string) (*model.Ledger, error)

	// Commit atomically replaces the user's snapshot if the stored version
	// still equals l.Version, then increments l.Version. Otherwise it
	// returns ErrConflict and leaves the stored snapshot untouched.
	Commit(ctx context.Context, l *model.Ledger) error

	// ListUsers returns every user with a stored snapshot.
	ListUsers(ctx context.Context) ([]string, error)
}

func emptyLedger(userID string) *model.Ledger {
	return &model.Ledger{UserID: userID}
}
