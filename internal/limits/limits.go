// Package limits evaluates the daily stop-loss and stop-win thresholds of a
// user against the profit of bets placed on a given calendar day.
//
// Only bets count. Withdrawals reduce the balance but are never a loss for
// the purpose of stop limits.
package limits

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/gerenciadorbet/ledger-engine/internal/ledger"
	"github.com/gerenciadorbet/ledger-engine/internal/model"
)

// Result reports the day's profit and which thresholds it crossed. Both
// flags are computed independently.
type Result struct {
	Day         string          `json:"day"`
	TodayProfit decimal.Decimal `json:"today_profit"`
	StopLoss    bool            `json:"stop_loss"`
	StopWin     bool            `json:"stop_win"`
}

// Flag returns the day-status flag to apply for this result. Stop-win takes
// precedence when both thresholds are crossed at once, which can only happen
// with non-positive thresholds.
func (r Result) Flag() (model.DayState, bool) {
	switch {
	case r.StopWin:
		return model.DayStopWin, true
	case r.StopLoss:
		return model.DayStopLoss, true
	}
	return "", false
}

// Evaluator checks limits in a fixed time zone so that "today" lines up with
// the user's calendar.
type Evaluator struct {
	Loc *time.Location
}

// NewEvaluator creates an evaluator for calendar days in loc (UTC if nil).
func NewEvaluator(loc *time.Location) *Evaluator {
	if loc == nil {
		loc = time.UTC
	}
	return &Evaluator{Loc: loc}
}

// CheckLimits sums the profit of bets dated on the same calendar day as today
// and compares it to the configured thresholds:
//
//	stopLoss = todayProfit <= -settings.StopLoss
//	stopWin  = todayProfit >= settings.StopWin
//
// Bet profit is derived from the bet fields rather than trusted from storage.
func (e *Evaluator) CheckLimits(settings *model.Settings, bets []model.Bet, today time.Time) (Result, error) {
	if settings == nil {
		return Result{}, ledger.ErrSettingsMissing
	}

	day := model.DayKey(today, e.Loc)
	profit := decimal.Zero
	for _, b := range bets {
		if model.DayKey(b.Date, e.Loc) != day {
			continue
		}
		profit = profit.Add(ledger.Profit(b.Amount, b.Multiplier, b.Result, b.MG))
	}

	return Result{
		Day:         day,
		TodayProfit: profit,
		StopLoss:    profit.LessThanOrEqual(settings.StopLoss.Neg()),
		StopWin:     profit.GreaterThanOrEqual(settings.StopWin),
	}, nil
}
