// Package daystatus maintains the per-calendar-day classification of a user's
// results (positive, negative, neutral, stop-win, stop-loss).
//
// The aggregator is date-naive: it accepts whatever day keys it is given.
// Callers must not feed it days after "today".
package daystatus

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/gerenciadorbet/ledger-engine/internal/model"
)

// ErrNotStopFlag is returned by MarkStop for a status other than stop-win or
// stop-loss.
var ErrNotStopFlag = errors.New("daystatus: status is not a stop flag")

// Aggregator accumulates bet profit per day.
type Aggregator struct {
	days  []model.DayStatus
	index map[string]int
}

// New creates an aggregator seeded with existing day records. The input slice
// is copied.
func New(existing []model.DayStatus) *Aggregator {
	a := &Aggregator{
		days:  make([]model.DayStatus, 0, len(existing)),
		index: make(map[string]int, len(existing)),
	}
	for _, ds := range existing {
		if i, ok := a.index[ds.Date]; ok {
			a.days[i] = ds
			continue
		}
		a.index[ds.Date] = len(a.days)
		a.days = append(a.days, ds)
	}
	return a
}

// statusFor derives the state of a day from the sign of its profit.
func statusFor(profit decimal.Decimal) model.DayState {
	switch profit.Sign() {
	case 1:
		return model.DayPositive
	case -1:
		return model.DayNegative
	}
	return model.DayNeutral
}

// RecordBetOutcome adds a bet's profit to its day. A new day takes its status
// from the sign of profit; an existing day re-derives it from the cumulative
// total unless it is already flagged stop-win or stop-loss, in which case the
// flag stays and only the profit accumulates.
func (a *Aggregator) RecordBetOutcome(date string, profit decimal.Decimal) {
	i, ok := a.index[date]
	if !ok {
		a.index[date] = len(a.days)
		a.days = append(a.days, model.DayStatus{
			Date:   date,
			Status: statusFor(profit),
			Profit: profit,
		})
		return
	}

	ds := &a.days[i]
	ds.Profit = ds.Profit.Add(profit)
	if !ds.Status.IsStop() {
		ds.Status = statusFor(ds.Profit)
	}
}

// MarkStop overwrites a day's status with a stop flag, creating the day with
// zero profit if needed.
func (a *Aggregator) MarkStop(date string, status model.DayState) error {
	if !status.IsStop() {
		return fmt.Errorf("%w: %s", ErrNotStopFlag, status)
	}
	i, ok := a.index[date]
	if !ok {
		a.index[date] = len(a.days)
		a.days = append(a.days, model.DayStatus{Date: date, Status: status, Profit: decimal.Zero})
		return nil
	}
	a.days[i].Status = status
	return nil
}

// Get returns the record for date.
func (a *Aggregator) Get(date string) (model.DayStatus, bool) {
	i, ok := a.index[date]
	if !ok {
		return model.DayStatus{}, false
	}
	return a.days[i], true
}

// Days returns a copy of all records sorted by date.
func (a *Aggregator) Days() []model.DayStatus {
	out := append([]model.DayStatus(nil), a.days...)
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// Outcome is one bet's contribution to a day.
type Outcome struct {
	Date   string
	Profit decimal.Decimal
}

// Rebuild recomputes all days from outcomes after an edit or delete. Stop
// flags recorded in previous are carried over for days that still have at
// least one outcome.
func Rebuild(previous []model.DayStatus, outcomes []Outcome) []model.DayStatus {
	a := New(nil)
	for _, o := range outcomes {
		a.RecordBetOutcome(o.Date, o.Profit)
	}
	for _, ds := range previous {
		if !ds.Status.IsStop() {
			continue
		}
		if _, ok := a.Get(ds.Date); ok {
			_ = a.MarkStop(ds.Date, ds.Status)
		}
	}
	return a.Days()
}

// Summary aggregates the days of one month.
type Summary struct {
	Month    string            `json:"month"` // YYYY-MM
	Positive int               `json:"positive"`
	Negative int               `json:"negative"`
	Neutral  int               `json:"neutral"`
	StopWin  int               `json:"stop_win"`
	StopLoss int               `json:"stop_loss"`
	Profit   decimal.Decimal   `json:"profit"`
	Days     []model.DayStatus `json:"days"`
}

// MonthSummary aggregates the records of month (YYYY-MM), ignoring any day
// after today (YYYY-MM-DD).
func MonthSummary(days []model.DayStatus, month, today string) Summary {
	s := Summary{Month: month, Profit: decimal.Zero, Days: []model.DayStatus{}}
	prefix := month + "-"
	for _, ds := range days {
		if !strings.HasPrefix(ds.Date, prefix) || ds.Date > today {
			continue
		}
		s.Days = append(s.Days, ds)
		s.Profit = s.Profit.Add(ds.Profit)
		switch ds.Status {
		case model.DayPositive:
			s.Positive++
		case model.DayNegative:
			s.Negative++
		case model.DayNeutral:
			s.Neutral++
		case model.DayStopWin:
			s.StopWin++
		case model.DayStopLoss:
			s.StopLoss++
		}
	}
	sort.Slice(s.Days, func(i, j int) bool { return s.Days[i].Date < s.Days[j].Date })
	return s
}
