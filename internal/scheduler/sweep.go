package scheduler

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/gerenciadorbet/ledger-engine/internal/ledger"
	"github.com/gerenciadorbet/ledger-engine/internal/metrics"
)

// UserLister enumerates the users with stored ledgers.
type UserLister interface {
	ListUsers(ctx context.Context) ([]string, error)
}

// Reconciler rebuilds one user's derived state.
type Reconciler interface {
	Reconcile(ctx context.Context, userID string) (bool, error)
}

// Report summarises one sweep.
type Report struct {
	Users   int `json:"users"`
	Drifted int `json:"drifted"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Sweep reconciles every stored user. Users without settings are skipped and
// a failure for one user does not stop the rest.
type Sweep struct {
	users UserLister
	rec   Reconciler
	log   *zap.Logger
}

func NewSweep(users UserLister, rec Reconciler, log *zap.Logger) *Sweep {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweep{users: users, rec: rec, log: log}
}

// Run performs one sweep.
func (s *Sweep) Run(ctx context.Context) (Report, error) {
	ids, err := s.users.ListUsers(ctx)
	if err != nil {
		metrics.SweepRuns.WithLabelValues("error").Inc()
		return Report{}, err
	}

	rep := Report{Users: len(ids)}
	for _, id := range ids {
		if ctx.Err() != nil {
			metrics.SweepRuns.WithLabelValues("error").Inc()
			return rep, ctx.Err()
		}
		drifted, err := s.rec.Reconcile(ctx, id)
		switch {
		case errors.Is(err, ledger.ErrSettingsMissing):
			rep.Skipped++
		case err != nil:
			rep.Failed++
			s.log.Error("reconcile failed", zap.String("user_id", id), zap.Error(err))
		case drifted:
			rep.Drifted++
		}
	}

	outcome := "ok"
	if rep.Failed > 0 {
		outcome = "partial"
	}
	metrics.SweepRuns.WithLabelValues(outcome).Inc()
	return rep, nil
}

// Job adapts Run to a Runner job, logging the report.
func (s *Sweep) Job(ctx context.Context) {
	rep, err := s.Run(ctx)
	if err != nil {
		s.log.Error("reconcile sweep failed", zap.Error(err))
		return
	}
	s.log.Info("reconcile sweep finished",
		zap.Int("users", rep.Users),
		zap.Int("drifted", rep.Drifted),
		zap.Int("skipped", rep.Skipped),
		zap.Int("failed", rep.Failed),
	)
}
