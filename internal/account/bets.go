package account

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gerenciadorbet/ledger-engine/internal/ledger"
	"github.com/gerenciadorbet/ledger-engine/internal/model"
)

// BetInput is the caller-supplied part of a bet. Profit and balances are
// always derived.
type BetInput struct {
	Date       time.Time       `json:"date"`
	CategoryID string          `json:"category_id"`
	Amount     decimal.Decimal `json:"amount"`
	Result     model.Result    `json:"result"`
	Period     model.Period    `json:"period"`
	Multiplier decimal.Decimal `json:"multiplier"`
	MG         bool            `json:"mg"`
}

// Validate checks the input before it reaches the reconciler.
func (in BetInput) Validate() error {
	var problems []string
	if in.Date.IsZero() {
		problems = append(problems, "date is required")
	}
	if strings.TrimSpace(in.CategoryID) == "" {
		problems = append(problems, "category_id is required")
	}
	if !in.Amount.IsPositive() {
		problems = append(problems, "amount must be positive")
	}
	if !in.Multiplier.IsPositive() {
		problems = append(problems, "multiplier must be positive")
	}
	if !in.Result.Valid() {
		problems = append(problems, fmt.Sprintf("unknown result %q", in.Result))
	}
	if !in.Period.Valid() {
		problems = append(problems, fmt.Sprintf("unknown period %q", in.Period))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

func (in BetInput) apply(b *model.Bet) {
	b.Date = in.Date
	b.CategoryID = in.CategoryID
	b.Amount = in.Amount
	b.Result = in.Result
	b.Period = in.Period
	b.Multiplier = in.Multiplier
	b.MG = in.MG
}

// AddBet records a bet under a fresh id and replays the user's history.
func (s *Service) AddBet(ctx context.Context, userID string, in BetInput) (model.Bet, error) {
	if err := in.Validate(); err != nil {
		return model.Bet{}, err
	}

	var id string
	l, err := s.mutate(ctx, "add_bet", userID, func(ss *session) error {
		if ss.ledger.Settings == nil {
			return ledger.ErrSettingsMissing
		}
		id = uuid.New().String()
		b := model.Bet{ID: id, UserID: userID, CreatedAt: ss.now.UTC()}
		in.apply(&b)
		ss.ledger.Bets = append(ss.ledger.Bets, b)
		return s.settle(ss, dayUpdate{added: id})
	})
	if err != nil {
		return model.Bet{}, err
	}
	b, _ := findBet(l.Bets, id)
	return b, nil
}

// UpdateBet replaces the editable fields of a bet and replays.
func (s *Service) UpdateBet(ctx context.Context, userID, betID string, in BetInput) (model.Bet, error) {
	if err := in.Validate(); err != nil {
		return model.Bet{}, err
	}

	l, err := s.mutate(ctx, "update_bet", userID, func(ss *session) error {
		if ss.ledger.Settings == nil {
			return ledger.ErrSettingsMissing
		}
		i := indexOfBet(ss.ledger.Bets, betID)
		if i < 0 {
			return fmt.Errorf("%w: bet %s", ErrNotFound, betID)
		}
		in.apply(&ss.ledger.Bets[i])
		return s.settle(ss, dayUpdate{rebuild: true})
	})
	if err != nil {
		return model.Bet{}, err
	}
	b, _ := findBet(l.Bets, betID)
	return b, nil
}

// DeleteBet removes a bet and replays.
func (s *Service) DeleteBet(ctx context.Context, userID, betID string) error {
	_, err := s.mutate(ctx, "delete_bet", userID, func(ss *session) error {
		if ss.ledger.Settings == nil {
			return ledger.ErrSettingsMissing
		}
		i := indexOfBet(ss.ledger.Bets, betID)
		if i < 0 {
			return fmt.Errorf("%w: bet %s", ErrNotFound, betID)
		}
		ss.ledger.Bets = append(ss.ledger.Bets[:i], ss.ledger.Bets[i+1:]...)
		return s.settle(ss, dayUpdate{rebuild: true})
	})
	return err
}

// ListBets returns the user's bets in chronological order.
func (s *Service) ListBets(ctx context.Context, userID string) ([]model.Bet, error) {
	l, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	bets := append([]model.Bet{}, l.Bets...)
	sort.SliceStable(bets, func(i, j int) bool { return bets[i].Date.Before(bets[j].Date) })
	return bets, nil
}

func indexOfBet(bets []model.Bet, id string) int {
	for i := range bets {
		if bets[i].ID == id {
			return i
		}
	}
	return -1
}

func findBet(bets []model.Bet, id string) (model.Bet, bool) {
	if i := indexOfBet(bets, id); i >= 0 {
		return bets[i], true
	}
	return model.Bet{}, false
}

// WithdrawalInput is the caller-supplied part of a withdrawal.
type WithdrawalInput struct {
	Date        time.Time       `json:"date"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// Validate checks the input before it reaches the reconciler.
func (in WithdrawalInput) Validate() error {
	var problems []string
	if in.Date.IsZero() {
		problems = append(problems, "date is required")
	}
	if !in.Amount.IsPositive() {
		problems = append(problems, "amount must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

// AddWithdrawal records a withdrawal. It is rejected when amount exceeds the
// current balance; nothing is stored in that case.
func (s *Service) AddWithdrawal(ctx context.Context, userID string, in WithdrawalInput) (model.Withdrawal, error) {
	if err := in.Validate(); err != nil {
		return model.Withdrawal{}, err
	}

	var id string
	l, err := s.mutate(ctx, "add_withdrawal", userID, func(ss *session) error {
		st := ss.ledger.Settings
		if st == nil {
			return ledger.ErrSettingsMissing
		}
		if in.Amount.GreaterThan(st.CurrentBalance) {
			return fmt.Errorf("%w: withdrawal of %s exceeds balance of %s",
				ErrInsufficientBalance, in.Amount.StringFixed(2), st.CurrentBalance.StringFixed(2))
		}
		id = uuid.New().String()
		ss.ledger.Withdrawals = append(ss.ledger.Withdrawals, model.Withdrawal{
			ID:          id,
			UserID:      userID,
			Date:        in.Date,
			Amount:      in.Amount,
			Description: in.Description,
			CreatedAt:   ss.now.UTC(),
		})
		_, err := s.replay(ss.ledger)
		return err
	})
	if err != nil {
		return model.Withdrawal{}, err
	}
	w, _ := findWithdrawal(l.Withdrawals, id)
	return w, nil
}

// UpdateWithdrawal replaces a withdrawal's fields and replays. The new amount
// may use the funds the old amount had taken out.
func (s *Service) UpdateWithdrawal(ctx context.Context, userID, withdrawalID string, in WithdrawalInput) (model.Withdrawal, error) {
	if err := in.Validate(); err != nil {
		return model.Withdrawal{}, err
	}

	l, err := s.mutate(ctx, "update_withdrawal", userID, func(ss *session) error {
		st := ss.ledger.Settings
		if st == nil {
			return ledger.ErrSettingsMissing
		}
		i := indexOfWithdrawal(ss.ledger.Withdrawals, withdrawalID)
		if i < 0 {
			return fmt.Errorf("%w: withdrawal %s", ErrNotFound, withdrawalID)
		}
		w := &ss.ledger.Withdrawals[i]
		available := st.CurrentBalance.Add(w.Amount)
		if in.Amount.GreaterThan(available) {
			return fmt.Errorf("%w: withdrawal of %s exceeds available %s",
				ErrInsufficientBalance, in.Amount.StringFixed(2), available.StringFixed(2))
		}
		w.Date = in.Date
		w.Amount = in.Amount
		w.Description = in.Description
		_, err := s.replay(ss.ledger)
		return err
	})
	if err != nil {
		return model.Withdrawal{}, err
	}
	w, _ := findWithdrawal(l.Withdrawals, withdrawalID)
	return w, nil
}

// DeleteWithdrawal removes a withdrawal and replays.
func (s *Service) DeleteWithdrawal(ctx context.Context, userID, withdrawalID string) error {
	_, err := s.mutate(ctx, "delete_withdrawal", userID, func(ss *session) error {
		if ss.ledger.Settings == nil {
			return ledger.ErrSettingsMissing
		}
		i := indexOfWithdrawal(ss.ledger.Withdrawals, withdrawalID)
		if i < 0 {
			return fmt.Errorf("%w: withdrawal %s", ErrNotFound, withdrawalID)
		}
		ss.ledger.Withdrawals = append(ss.ledger.Withdrawals[:i], ss.ledger.Withdrawals[i+1:]...)
		_, err := s.replay(ss.ledger)
		return err
	})
	return err
}

// ListWithdrawals returns the user's withdrawals in chronological order.
func (s *Service) ListWithdrawals(ctx context.Context, userID string) ([]model.Withdrawal, error) {
	l, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	ws := append([]model.Withdrawal{}, l.Withdrawals...)
	sort.SliceStable(ws, func(i, j int) bool { return ws[i].Date.Before(ws[j].Date) })
	return ws, nil
}

func indexOfWithdrawal(ws []model.Withdrawal, id string) int {
	for i := range ws {
		if ws[i].ID == id {
			return i
		}
	}
	return -1
}

func findWithdrawal(ws []model.Withdrawal, id string) (model.Withdrawal, bool) {
	if i := indexOfWithdrawal(ws, id); i >= 0 {
		return ws[i], true
	}
	return model.Withdrawal{}, false
}

// Timeline returns the reconciled chronological history for export. It is a
// read: the replay runs on a private copy and nothing is committed.
func (s *Service) Timeline(ctx context.Context, userID string) ([]ledger.Entry, error) {
	l, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	res, err := s.reconciler.Recompute(l.Settings, l.Bets, l.Withdrawals)
	if err != nil {
		return nil, err
	}
	return res.Timeline, nil
}
