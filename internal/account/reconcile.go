package account

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/gerenciadorbet/ledger-engine/internal/daystatus"
	"github.com/gerenciadorbet/ledger-engine/internal/ledger"
	"github.com/gerenciadorbet/ledger-engine/internal/limits"
	"github.com/gerenciadorbet/ledger-engine/internal/metrics"
	"github.com/gerenciadorbet/ledger-engine/internal/model"
)

// dayUpdate selects how day statuses follow a bet mutation.
type dayUpdate struct {
	// added is the id of a freshly added bet; its outcome is accumulated
	// onto the existing day record.
	added string
	// rebuild recomputes every day from the remaining bets.
	rebuild bool
}

// replay runs the reconciler over the snapshot in place.
func (s *Service) replay(l *model.Ledger) (*ledger.Result, error) {
	start := time.Now()
	res, err := ledger.Apply(s.reconciler, l)
	if err != nil {
		return nil, err
	}
	metrics.ReplayDuration.Observe(time.Since(start).Seconds())
	metrics.ReplayEntries.Observe(float64(len(res.Timeline)))
	return res, nil
}

// settle brings every derived collection in line with the bets after a bet
// mutation: balances, day statuses, today's stop limits and goals.
func (s *Service) settle(ss *session, days dayUpdate) error {
	l := ss.ledger
	if _, err := s.replay(l); err != nil {
		return err
	}

	switch {
	case days.rebuild:
		l.DayStatuses = daystatus.Rebuild(l.DayStatuses, s.outcomes(l.Bets, ss.today))
	case days.added != "":
		s.recordAdded(l, days.added, ss.today)
	}

	if _, err := s.applyLimits(ss); err != nil {
		return err
	}
	return s.refreshGoals(ss)
}

// recordAdded accumulates a freshly added bet onto its day. When the day's
// record does not already account for every other bet on that day (a bet
// entered while the day was still in the future), all days are rebuilt
// from the bets instead.
func (s *Service) recordAdded(l *model.Ledger, betID, today string) {
	var added *model.Bet
	for i := range l.Bets {
		if l.Bets[i].ID == betID {
			added = &l.Bets[i]
			break
		}
	}
	if added == nil {
		return
	}
	day := model.DayKey(added.Date, s.loc)
	if day > today {
		return
	}

	others := decimal.Zero
	var n int
	for _, b := range l.Bets {
		if b.ID != betID && model.DayKey(b.Date, s.loc) == day {
			others = others.Add(b.Profit)
			n++
		}
	}

	agg := daystatus.New(l.DayStatuses)
	current, exists := agg.Get(day)
	if (!exists && n > 0) || (exists && !current.Profit.Equal(others)) {
		l.DayStatuses = daystatus.Rebuild(l.DayStatuses, s.outcomes(l.Bets, today))
		return
	}
	agg.RecordBetOutcome(day, added.Profit)
	l.DayStatuses = agg.Days()
}

// outcomes lists bet profits for days up to and including today. Later days
// never receive a status.
func (s *Service) outcomes(bets []model.Bet, today string) []daystatus.Outcome {
	out := make([]daystatus.Outcome, 0, len(bets))
	for _, b := range bets {
		day := model.DayKey(b.Date, s.loc)
		if day > today {
			continue
		}
		out = append(out, daystatus.Outcome{Date: day, Profit: b.Profit})
	}
	return out
}

// applyLimits evaluates today's stop limits and, on a crossing the day does
// not already carry, flags the day and notifies the user.
func (s *Service) applyLimits(ss *session) (limits.Result, error) {
	l := ss.ledger
	res, err := s.limits.CheckLimits(l.Settings, l.Bets, ss.now)
	if err != nil {
		return res, err
	}

	flag, ok := res.Flag()
	if !ok {
		return res, nil
	}

	agg := daystatus.New(l.DayStatuses)
	if current, exists := agg.Get(res.Day); exists && current.Status == flag {
		return res, nil
	}
	if err := agg.MarkStop(res.Day, flag); err != nil {
		return res, err
	}
	l.DayStatuses = agg.Days()
	metrics.LimitCrossings.WithLabelValues(string(flag)).Inc()
	s.log.Info("stop limit crossed",
		zap.String("user_id", l.UserID),
		zap.String("day", res.Day),
		zap.String("flag", string(flag)),
		zap.String("today_profit", res.TodayProfit.StringFixed(2)),
	)

	if flag == model.DayStopWin {
		s.notify(ss, model.NotifyStopWin, "Stop win reached",
			fmt.Sprintf("Today's profit of %s reached your stop win of %s. Time to stop for the day.",
				res.TodayProfit.StringFixed(2), l.Settings.StopWin.StringFixed(2)))
	} else {
		s.notify(ss, model.NotifyStopLoss, "Stop loss reached",
			fmt.Sprintf("Today's loss of %s reached your stop loss of %s. Time to stop for the day.",
				res.TodayProfit.Neg().StringFixed(2), l.Settings.StopLoss.StringFixed(2)))
	}
	return res, nil
}

// refreshGoals recomputes every goal and notifies on first completions.
func (s *Service) refreshGoals(ss *session) error {
	l := ss.ledger
	for i, g := range l.Goals {
		updated, done, err := s.goals.Recompute(g, l.Bets, ss.now)
		if err != nil {
			return fmt.Errorf("goal %s: %w", g.ID, err)
		}
		l.Goals[i] = updated
		if !done {
			continue
		}
		metrics.GoalsCompleted.WithLabelValues(string(g.Type)).Inc()
		s.notify(ss, model.NotifyGoal, "Goal completed", goalMessage(updated))
	}
	return nil
}

func goalMessage(g model.Goal) string {
	name := g.Description
	if name == "" {
		name = string(g.Type) + " goal"
	}
	return fmt.Sprintf("%s reached %s of %s.", name, g.CurrentValue.StringFixed(2), g.TargetValue.StringFixed(2))
}

// Reconcile replays a user's full history and rebuilds every derived
// collection. Used by the scheduled sweep and the admin CLI: it repairs
// drifted annotations and gives a status to days that have arrived since the
// last mutation. The returned bool reports whether stored balances had
// drifted.
func (s *Service) Reconcile(ctx context.Context, userID string) (bool, error) {
	var drifted bool
	_, err := s.mutate(ctx, "reconcile", userID, func(ss *session) error {
		drifted = false
		if ss.ledger.Settings == nil {
			return ledger.ErrSettingsMissing
		}
		if err := ledger.Verify(ss.ledger); err != nil {
			drifted = true
			s.log.Warn("ledger drift repaired", zap.String("user_id", userID), zap.Error(err))
		}
		return s.settle(ss, dayUpdate{rebuild: true})
	})
	return drifted, err
}
