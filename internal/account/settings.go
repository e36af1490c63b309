package account

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/gerenciadorbet/ledger-engine/internal/daystatus"
	"github.com/gerenciadorbet/ledger-engine/internal/ledger"
	"github.com/gerenciadorbet/ledger-engine/internal/limits"
	"github.com/gerenciadorbet/ledger-engine/internal/model"
)

// SettingsPatch is a partial settings update. Nil fields are left unchanged.
// CurrentBalance is derived and cannot be patched.
type SettingsPatch struct {
	InitialBalance       *decimal.Decimal `json:"initial_balance,omitempty"`
	StopLoss             *decimal.Decimal `json:"stop_loss,omitempty"`
	StopWin              *decimal.Decimal `json:"stop_win,omitempty"`
	NotificationsEnabled *bool            `json:"notifications_enabled,omitempty"`
	Theme                *model.Theme     `json:"theme,omitempty"`
}

// Validate checks the patched values.
func (p SettingsPatch) Validate() error {
	var problems []string
	if p.InitialBalance != nil && p.InitialBalance.IsNegative() {
		problems = append(problems, "initial_balance must not be negative")
	}
	if p.StopLoss != nil && !p.StopLoss.IsPositive() {
		problems = append(problems, "stop_loss must be positive")
	}
	if p.StopWin != nil && !p.StopWin.IsPositive() {
		problems = append(problems, "stop_win must be positive")
	}
	if p.Theme != nil && *p.Theme != model.ThemeLight && *p.Theme != model.ThemeDark {
		problems = append(problems, fmt.Sprintf("unknown theme %q", *p.Theme))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

// GetSettings returns the user's settings.
func (s *Service) GetSettings(ctx context.Context, userID string) (model.Settings, error) {
	l, err := s.load(ctx, userID)
	if err != nil {
		return model.Settings{}, err
	}
	if l.Settings == nil {
		return model.Settings{}, ledger.ErrSettingsMissing
	}
	return *l.Settings, nil
}

// InitializeSettings creates settings from the admin defaults the first time
// a user is seen. Existing settings are returned untouched.
func (s *Service) InitializeSettings(ctx context.Context, userID string) (model.Settings, error) {
	l, err := s.mutate(ctx, "initialize_settings", userID, func(ss *session) error {
		if ss.ledger.Settings != nil {
			return nil
		}
		ss.ledger.Settings = s.defaults.NewSettings(userID)
		_, err := s.replay(ss.ledger)
		return err
	})
	if err != nil {
		return model.Settings{}, err
	}
	return *l.Settings, nil
}

// UpdateSettings applies a partial update. A changed initial balance shifts
// the current balance by the same delta, preserving accumulated results, and
// triggers a full replay.
func (s *Service) UpdateSettings(ctx context.Context, userID string, patch SettingsPatch) (model.Settings, error) {
	if err := patch.Validate(); err != nil {
		return model.Settings{}, err
	}

	l, err := s.mutate(ctx, "update_settings", userID, func(ss *session) error {
		st := ss.ledger.Settings
		if st == nil {
			return ledger.ErrSettingsMissing
		}
		if patch.StopLoss != nil {
			st.StopLoss = *patch.StopLoss
		}
		if patch.StopWin != nil {
			st.StopWin = *patch.StopWin
		}
		if patch.NotificationsEnabled != nil {
			st.NotificationsEnabled = *patch.NotificationsEnabled
		}
		if patch.Theme != nil {
			st.Theme = *patch.Theme
		}
		if patch.InitialBalance == nil || patch.InitialBalance.Equal(st.InitialBalance) {
			return nil
		}

		delta := patch.InitialBalance.Sub(st.InitialBalance)
		st.InitialBalance = *patch.InitialBalance
		st.CurrentBalance = st.CurrentBalance.Add(delta)
		_, err := s.replay(ss.ledger)
		return err
	})
	if err != nil {
		return model.Settings{}, err
	}
	return *l.Settings, nil
}

// ResetAllUserData clears the user's bets, withdrawals, categories, goals, day
// statuses and notifications and reinitializes settings from the admin
// defaults. Only the theme preference survives.
func (s *Service) ResetAllUserData(ctx context.Context, userID string) (model.Settings, error) {
	l, err := s.mutate(ctx, "reset", userID, func(ss *session) error {
		l := ss.ledger
		theme := s.defaults.Theme
		if l.Settings != nil && l.Settings.Theme != "" {
			theme = l.Settings.Theme
		}

		l.Bets = nil
		l.Withdrawals = nil
		l.Categories = nil
		l.Goals = nil
		l.DayStatuses = nil
		l.Notifications = nil
		l.Settings = s.defaults.NewSettings(userID)
		l.Settings.Theme = theme
		_, err := s.replay(l)
		return err
	})
	if err != nil {
		return model.Settings{}, err
	}
	s.log.Info("user data reset", zap.String("user_id", userID))
	return *l.Settings, nil
}

// CheckStopLimits reports whether today's bets crossed the stop-loss or
// stop-win threshold, with today taken from the wall clock at call time.
// A crossing the day does not carry yet is flagged and notified; otherwise
// nothing is written.
func (s *Service) CheckStopLimits(ctx context.Context, userID string) (limits.Result, error) {
	l, err := s.load(ctx, userID)
	if err != nil {
		return limits.Result{}, err
	}
	now := s.now()
	res, err := s.limits.CheckLimits(l.Settings, l.Bets, now)
	if err != nil {
		return res, err
	}
	flag, ok := res.Flag()
	if !ok || dayCarries(l.DayStatuses, res.Day, flag) {
		return res, nil
	}

	_, err = s.mutate(ctx, "check_limits", userID, func(ss *session) error {
		res, err = s.applyLimits(ss)
		return err
	})
	return res, err
}

func dayCarries(days []model.DayStatus, day string, flag model.DayState) bool {
	for _, ds := range days {
		if ds.Date == day {
			return ds.Status == flag
		}
	}
	return false
}

// MonthSummary classifies the days of month (YYYY-MM, current month when
// empty) up to today.
func (s *Service) MonthSummary(ctx context.Context, userID, month string) (daystatus.Summary, error) {
	today := model.DayKey(s.now(), s.loc)
	if month == "" {
		month = today[:7]
	}
	if _, err := time.Parse("2006-01", month); err != nil {
		return daystatus.Summary{}, fmt.Errorf("%w: month must be YYYY-MM", ErrValidation)
	}

	l, err := s.load(ctx, userID)
	if err != nil {
		return daystatus.Summary{}, err
	}
	return daystatus.MonthSummary(l.DayStatuses, month, today), nil
}

// ListDayStatuses returns every day record up to today, sorted by date.
func (s *Service) ListDayStatuses(ctx context.Context, userID string) ([]model.DayStatus, error) {
	l, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	today := model.DayKey(s.now(), s.loc)
	days := daystatus.New(l.DayStatuses).Days()
	out := days[:0]
	for _, ds := range days {
		if ds.Date <= today {
			out = append(out, ds)
		}
	}
	return out, nil
}
