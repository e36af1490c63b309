// Package goals computes progress of daily, weekly and monthly profit goals
// against a user's bets.
package goals

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gerenciadorbet/ledger-engine/internal/ledger"
	"github.com/gerenciadorbet/ledger-engine/internal/model"
)

// ErrUnknownGoalType is returned for a goal type other than daily, weekly or
// monthly.
var ErrUnknownGoalType = errors.New("goals: unknown goal type")

// Window returns the half-open interval [start, end) a goal of type t anchored
// at period is measured over, in loc:
//
//	daily:   the calendar day containing period
//	weekly:  the ISO week (Monday to Sunday) containing period
//	monthly: the calendar month containing period
func Window(t model.GoalType, period time.Time, loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	p := period.In(loc)
	day := time.Date(p.Year(), p.Month(), p.Day(), 0, 0, 0, 0, loc)

	switch t {
	case model.GoalDaily:
		return day, day.AddDate(0, 0, 1), nil
	case model.GoalWeekly:
		// time.Weekday has Sunday = 0; shift so Monday starts the week.
		offset := (int(day.Weekday()) + 6) % 7
		start := day.AddDate(0, 0, -offset)
		return start, start.AddDate(0, 0, 7), nil
	case model.GoalMonthly:
		start := time.Date(p.Year(), p.Month(), 1, 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 1, 0), nil
	}
	return time.Time{}, time.Time{}, fmt.Errorf("%w: %q", ErrUnknownGoalType, t)
}

// Tracker evaluates goals in a fixed time zone.
type Tracker struct {
	Loc *time.Location
}

// NewTracker creates a tracker for calendar windows in loc (UTC if nil).
func NewTracker(loc *time.Location) *Tracker {
	if loc == nil {
		loc = time.UTC
	}
	return &Tracker{Loc: loc}
}

// Progress sums the profit of bets inside the goal's window.
func (t *Tracker) Progress(g model.Goal, bets []model.Bet) (decimal.Decimal, error) {
	start, end, err := Window(g.Type, g.Period, t.Loc)
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, b := range bets {
		if b.Date.Before(start) || !b.Date.Before(end) {
			continue
		}
		sum = sum.Add(ledger.Profit(b.Amount, b.Multiplier, b.Result, b.MG))
	}
	return sum, nil
}

// Recompute refreshes CurrentValue and Completed. Completion is monotone: a
// goal that was completed stays completed with its original CompletedAt even
// if CurrentValue later drops below target. The second return value reports a
// first-time completion at now.
func (t *Tracker) Recompute(g model.Goal, bets []model.Bet, now time.Time) (model.Goal, bool, error) {
	value, err := t.Progress(g, bets)
	if err != nil {
		return g, false, err
	}
	g.CurrentValue = value

	if g.Completed || value.LessThan(g.TargetValue) {
		return g, false, nil
	}
	at := now
	g.Completed = true
	g.CompletedAt = &at
	return g, true, nil
}
