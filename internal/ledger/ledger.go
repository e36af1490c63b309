// Package ledger implements the chronological replay that assigns profit and
// running balances to every bet and withdrawal of a user.
//
// Replay is pure: it never touches storage. Callers compute a full Result in
// memory and commit it as a unit, so a failure mid-computation never leaves a
// partially annotated history behind.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gerenciadorbet/ledger-engine/internal/model"
)

var (
	// ErrSettingsMissing is returned when a user has no settings (and so no
	// initial balance) to replay from. There is no implicit zero default.
	ErrSettingsMissing = errors.New("ledger: settings missing")

	// ErrBalanceMismatch is returned by Verify when stored annotations drift
	// from what a replay would produce.
	ErrBalanceMismatch = errors.New("ledger: balance invariant violated")
)

// mgFactor is the fixed loss multiplier applied when the MG flag is set.
var mgFactor = decimal.NewFromInt(3)

// currencyPlaces is the number of decimal places kept for computed profit.
const currencyPlaces = 2

// Profit computes the outcome of a bet:
//
//	win:       amount*multiplier - amount
//	loss:      -amount
//	loss + MG: -amount*3
//
// The result is rounded to the currency minor unit.
func Profit(amount, multiplier decimal.Decimal, result model.Result, mg bool) decimal.Decimal {
	var p decimal.Decimal
	switch {
	case result == model.ResultWin:
		p = amount.Mul(multiplier).Sub(amount)
	case mg:
		p = amount.Mul(mgFactor).Neg()
	default:
		p = amount.Neg()
	}
	return p.Round(currencyPlaces)
}

// EntryKind distinguishes timeline entries.
type EntryKind string

const (
	KindBet        EntryKind = "bet"
	KindWithdrawal EntryKind = "withdrawal"
)

// Entry is one row of the reconciled timeline. Export collaborators read
// these fields as-is and never recompute them.
type Entry struct {
	Kind            EntryKind       `json:"kind"`
	ID              string          `json:"id"`
	Date            time.Time       `json:"date"`
	Amount          decimal.Decimal `json:"amount"`
	Profit          decimal.Decimal `json:"profit"` // zero for withdrawals
	PreviousBalance decimal.Decimal `json:"previous_balance"`
	CurrentBalance  decimal.Decimal `json:"current_balance"`
}

// Result is the outcome of a replay. Bets and Withdrawals keep the input
// order; Timeline is sorted chronologically.
type Result struct {
	Bets         []model.Bet
	Withdrawals  []model.Withdrawal
	Timeline     []Entry
	FinalBalance decimal.Decimal
}

// Reconciler recomputes a user's annotated history. Replay is the full
// recompute; an incremental implementation can satisfy the same contract.
type Reconciler interface {
	Recompute(settings *model.Settings, bets []model.Bet, withdrawals []model.Withdrawal) (*Result, error)
}

// Replay is the full-history Reconciler.
type Replay struct{}

// NewReplay returns the full-history reconciler.
func NewReplay() Replay { return Replay{} }

type ref struct {
	kind EntryKind
	idx  int
	date time.Time
}

// Recompute sorts all events by date and walks them from the initial balance.
// Events with identical timestamps keep their input order (bets before
// withdrawals, each in stored order), so repeated runs over the same data
// yield identical annotations.
func (Replay) Recompute(settings *model.Settings, bets []model.Bet, withdrawals []model.Withdrawal) (*Result, error) {
	if settings == nil {
		return nil, ErrSettingsMissing
	}

	refs := make([]ref, 0, len(bets)+len(withdrawals))
	for i, b := range bets {
		refs = append(refs, ref{kind: KindBet, idx: i, date: b.Date})
	}
	for i, w := range withdrawals {
		refs = append(refs, ref{kind: KindWithdrawal, idx: i, date: w.Date})
	}
	sort.SliceStable(refs, func(i, j int) bool {
		return refs[i].date.Before(refs[j].date)
	})

	res := &Result{
		Bets:        append([]model.Bet(nil), bets...),
		Withdrawals: append([]model.Withdrawal(nil), withdrawals...),
		Timeline:    make([]Entry, 0, len(refs)),
	}

	running := settings.InitialBalance
	for _, r := range refs {
		switch r.kind {
		case KindBet:
			b := &res.Bets[r.idx]
			b.Profit = Profit(b.Amount, b.Multiplier, b.Result, b.MG)
			b.PreviousBalance = running
			running = running.Add(b.Profit)
			b.CurrentBalance = running
			res.Timeline = append(res.Timeline, Entry{
				Kind:            KindBet,
				ID:              b.ID,
				Date:            b.Date,
				Amount:          b.Amount,
				Profit:          b.Profit,
				PreviousBalance: b.PreviousBalance,
				CurrentBalance:  b.CurrentBalance,
			})
		case KindWithdrawal:
			w := &res.Withdrawals[r.idx]
			w.PreviousBalance = running
			running = running.Sub(w.Amount)
			w.CurrentBalance = running
			res.Timeline = append(res.Timeline, Entry{
				Kind:            KindWithdrawal,
				ID:              w.ID,
				Date:            w.Date,
				Amount:          w.Amount,
				PreviousBalance: w.PreviousBalance,
				CurrentBalance:  w.CurrentBalance,
			})
		}
	}

	res.FinalBalance = running
	return res, nil
}

// Apply replays l in place: bets, withdrawals and the cached current balance
// are replaced with the recomputed values.
func Apply(r Reconciler, l *model.Ledger) (*Result, error) {
	res, err := r.Recompute(l.Settings, l.Bets, l.Withdrawals)
	if err != nil {
		return nil, err
	}
	l.Bets = res.Bets
	l.Withdrawals = res.Withdrawals
	l.Settings.CurrentBalance = res.FinalBalance
	return res, nil
}

// Verify checks that the stored annotations of l match a fresh replay and that
// the cached balance equals initial + Σ profit − Σ withdrawals.
func Verify(l *model.Ledger) error {
	if l.Settings == nil {
		return ErrSettingsMissing
	}
	res, err := Replay{}.Recompute(l.Settings, l.Bets, l.Withdrawals)
	if err != nil {
		return err
	}

	expected := l.Settings.InitialBalance
	for _, b := range res.Bets {
		expected = expected.Add(b.Profit)
	}
	for _, w := range res.Withdrawals {
		expected = expected.Sub(w.Amount)
	}
	if !expected.Equal(res.FinalBalance) || !l.Settings.CurrentBalance.Equal(expected) {
		return fmt.Errorf("%w: cached %s, expected %s", ErrBalanceMismatch,
			l.Settings.CurrentBalance.StringFixed(currencyPlaces), expected.StringFixed(currencyPlaces))
	}

	for i, b := range l.Bets {
		want := res.Bets[i]
		if !b.Profit.Equal(want.Profit) || !b.PreviousBalance.Equal(want.PreviousBalance) ||
			!b.CurrentBalance.Equal(want.CurrentBalance) {
			return fmt.Errorf("%w: bet %s", ErrBalanceMismatch, b.ID)
		}
	}
	for i, w := range l.Withdrawals {
		want := res.Withdrawals[i]
		if !w.PreviousBalance.Equal(want.PreviousBalance) || !w.CurrentBalance.Equal(want.CurrentBalance) {
			return fmt.Errorf("%w: withdrawal %s", ErrBalanceMismatch, w.ID)
		}
	}
	return nil
}
