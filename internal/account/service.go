// Package account is the entry point to a user's betting ledger. Every
// mutation loads the user's snapshot, applies the change, replays the full
// history, refreshes day statuses, stop limits and goals, and commits the
// result as one unit.
//
// All monetary values use shopspring/decimal, never float64.
package account

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gerenciadorbet/ledger-engine/internal/goals"
	"github.com/gerenciadorbet/ledger-engine/internal/ledger"
	"github.com/gerenciadorbet/ledger-engine/internal/limits"
	"github.com/gerenciadorbet/ledger-engine/internal/metrics"
	"github.com/gerenciadorbet/ledger-engine/internal/model"
	"github.com/gerenciadorbet/ledger-engine/internal/notify"
	"github.com/gerenciadorbet/ledger-engine/internal/store"
)

var (
	// ErrValidation wraps malformed input. Nothing is stored.
	ErrValidation = errors.New("account: validation failed")

	// ErrInsufficientBalance is returned when a withdrawal exceeds the
	// current balance.
	ErrInsufficientBalance = errors.New("account: insufficient balance")

	// ErrNotFound is returned for an unknown bet, withdrawal, goal, category
	// or notification id.
	ErrNotFound = errors.New("account: not found")
)

// maxCommitAttempts bounds the load→mutate→replay→commit cycle when the
// store reports a concurrent commit.
const maxCommitAttempts = 3

// Service owns the ledger operations of all users. Operations for one user
// are serialized in-process; the store's version check covers multiple
// instances.
type Service struct {
	store      store.Store
	reconciler ledger.Reconciler
	limits     *limits.Evaluator
	goals      *goals.Tracker
	emitter    *notify.Emitter
	defaults   model.AdminDefaults
	loc        *time.Location
	now        func() time.Time
	log        *zap.Logger
	locks      userLocks
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the wall clock used for "today" and completion times.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithReconciler replaces the full-replay reconciler.
func WithReconciler(r ledger.Reconciler) Option {
	return func(s *Service) { s.reconciler = r }
}

// WithLogger sets the service logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Service) { s.log = log }
}

// NewService creates the account service. Calendar days, goal windows and
// "today" are evaluated in loc.
func NewService(st store.Store, emitter *notify.Emitter, defaults model.AdminDefaults, loc *time.Location, opts ...Option) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if emitter == nil {
		emitter = notify.NewEmitter(nil)
	}
	s := &Service{
		store:      st,
		reconciler: ledger.NewReplay(),
		limits:     limits.NewEvaluator(loc),
		goals:      goals.NewTracker(loc),
		emitter:    emitter,
		defaults:   defaults,
		loc:        loc,
		now:        time.Now,
		log:        zap.NewNop(),
		locks:      userLocks{held: make(map[string]*userLock)},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Defaults returns the admin defaults used for new users and resets.
func (s *Service) Defaults() model.AdminDefaults { return s.defaults }

// session is one attempt of a mutation.
type session struct {
	ledger  *model.Ledger
	now     time.Time
	today   string
	emitted []model.Notification
}

// mutate runs fn against a fresh snapshot and commits it. On a version
// conflict the whole cycle is retried against the latest state; no write is
// dropped silently. Notifications emitted by fn are published only after a
// successful commit.
func (s *Service) mutate(ctx context.Context, op, userID string, fn func(*session) error) (*model.Ledger, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	var err error
	for attempt := 1; attempt <= maxCommitAttempts; attempt++ {
		var l *model.Ledger
		l, err = s.store.Load(ctx, userID)
		if err != nil {
			break
		}

		now := s.now()
		ss := &session{ledger: l, now: now, today: model.DayKey(now, s.loc)}
		if err = fn(ss); err != nil {
			break
		}

		err = s.store.Commit(ctx, l)
		if errors.Is(err, store.ErrConflict) {
			metrics.StoreConflicts.Inc()
			s.log.Warn("ledger commit conflict, retrying",
				zap.String("op", op),
				zap.String("user_id", userID),
				zap.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			break
		}

		metrics.LedgerMutationsTotal.WithLabelValues(op, "ok").Inc()
		s.log.Debug("ledger committed",
			zap.String("op", op),
			zap.String("user_id", userID),
			zap.Int64("version", l.Version),
		)
		s.emitter.Publish(ctx, ss.emitted)
		return l, nil
	}

	metrics.LedgerMutationsTotal.WithLabelValues(op, "error").Inc()
	return nil, fmt.Errorf("%s %s: %w", op, userID, err)
}

// load returns a read-only snapshot.
func (s *Service) load(ctx context.Context, userID string) (*model.Ledger, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	return s.store.Load(ctx, userID)
}

// notify appends a notification when the user has notifications enabled.
func (s *Service) notify(ss *session, kind model.NotificationKind, title, message string) {
	st := ss.ledger.Settings
	if st == nil || !st.NotificationsEnabled {
		return
	}
	ss.emitted = append(ss.emitted, s.emitter.Emit(ss.ledger, kind, title, message))
}

// userLocks is a keyed mutex. Entries are dropped once no goroutine holds or
// waits on them.
type userLocks struct {
	mu   sync.Mutex
	held map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func (u *userLocks) lock(userID string) func() {
	u.mu.Lock()
	l, ok := u.held[userID]
	if !ok {
		l = &userLock{}
		u.held[userID] = l
	}
	l.refs++
	u.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		u.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(u.held, userID)
		}
		u.mu.Unlock()
	}
}
