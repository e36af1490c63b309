// Package model defines the core domain types shared across the ledger engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DayLayout is the calendar-day key format used by DayStatus.
const DayLayout = "2006-01-02"

// Result is the outcome of a bet.
type Result string

const (
	ResultWin  Result = "win"
	ResultLoss Result = "loss"
)

// Period is the segment of the day a bet was placed in.
type Period string

const (
	PeriodMorning   Period = "morning"
	PeriodAfternoon Period = "afternoon"
	PeriodNight     Period = "night"
	PeriodDawn      Period = "dawn"
)

// Valid reports whether r is a known result.
func (r Result) Valid() bool { return r == ResultWin || r == ResultLoss }

// Valid reports whether p is one of the four day segments.
func (p Period) Valid() bool {
	switch p {
	case PeriodMorning, PeriodAfternoon, PeriodNight, PeriodDawn:
		return true
	}
	return false
}

// Bet is one wagering event. Profit, PreviousBalance and CurrentBalance are
// derived by the ledger replay and must not be set by callers.
type Bet struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	Date            time.Time       `json:"date"`
	CategoryID      string          `json:"category_id"`
	Amount          decimal.Decimal `json:"amount"`
	Result          Result          `json:"result"`
	Period          Period          `json:"period"`
	Multiplier      decimal.Decimal `json:"multiplier"`
	MG              bool            `json:"mg"` // loss tripling modifier
	Profit          decimal.Decimal `json:"profit"`
	PreviousBalance decimal.Decimal `json:"previous_balance"`
	CurrentBalance  decimal.Decimal `json:"current_balance"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Withdrawal removes funds from the balance. It is not a bet outcome and never
// counts towards day status or stop limits.
type Withdrawal struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	Date            time.Time       `json:"date"`
	Amount          decimal.Decimal `json:"amount"`
	Description     string          `json:"description"`
	PreviousBalance decimal.Decimal `json:"previous_balance"`
	CurrentBalance  decimal.Decimal `json:"current_balance"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Theme is the UI theme preference. It survives a data reset.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// Settings holds per-user balance and risk configuration.
// CurrentBalance is a cache of the last replay.
type Settings struct {
	UserID               string          `json:"user_id"`
	InitialBalance       decimal.Decimal `json:"initial_balance"`
	CurrentBalance       decimal.Decimal `json:"current_balance"`
	StopLoss             decimal.Decimal `json:"stop_loss"`
	StopWin              decimal.Decimal `json:"stop_win"`
	NotificationsEnabled bool            `json:"notifications_enabled"`
	Theme                Theme           `json:"theme"`
}

// DayState classifies a calendar day.
type DayState string

const (
	DayPositive DayState = "positive"
	DayNegative DayState = "negative"
	DayNeutral  DayState = "neutral"
	DayStopWin  DayState = "stop-win"
	DayStopLoss DayState = "stop-loss"
)

// IsStop reports whether the state is a stop-limit flag.
func (s DayState) IsStop() bool { return s == DayStopWin || s == DayStopLoss }

// DayStatus is the derived classification of one calendar day, fed by bet
// profits only.
type DayStatus struct {
	Date   string          `json:"date"` // DayLayout
	Status DayState        `json:"status"`
	Profit decimal.Decimal `json:"profit"`
}

// GoalType selects the window a goal is measured over.
type GoalType string

const (
	GoalDaily   GoalType = "daily"
	GoalWeekly  GoalType = "weekly"
	GoalMonthly GoalType = "monthly"
)

// Valid reports whether t is a known goal type.
func (t GoalType) Valid() bool {
	return t == GoalDaily || t == GoalWeekly || t == GoalMonthly
}

// Goal is a profit target over a day, ISO week or calendar month anchored at
// Period. Completed is monotone: once set it stays set and CompletedAt keeps
// the first completion time.
type Goal struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	Type         GoalType        `json:"type"`
	Description  string          `json:"description,omitempty"`
	TargetValue  decimal.Decimal `json:"target_value"`
	CurrentValue decimal.Decimal `json:"current_value"`
	Period       time.Time       `json:"period"`
	Completed    bool            `json:"completed"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// Category groups bets (e.g. by sport or house).
type Category struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

// NotificationKind tags the source of an alert.
type NotificationKind string

const (
	NotifyStopLoss NotificationKind = "stop-loss"
	NotifyStopWin  NotificationKind = "stop-win"
	NotifyGoal     NotificationKind = "goal"
	NotifyInfo     NotificationKind = "info"
)

// Notification is a user-facing alert.
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Kind      NotificationKind `json:"kind"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	CreatedAt time.Time        `json:"created_at"`
	Read      bool             `json:"read"`
}

// Ledger is everything owned by one user. The store loads and commits it as a
// unit; Version is the optimistic concurrency token.
// Notifications are ordered most recent first.
type Ledger struct {
	UserID        string         `json:"user_id"`
	Version       int64          `json:"version"`
	Settings      *Settings      `json:"settings,omitempty"`
	Bets          []Bet          `json:"bets"`
	Withdrawals   []Withdrawal   `json:"withdrawals"`
	Goals         []Goal         `json:"goals"`
	DayStatuses   []DayStatus    `json:"day_statuses"`
	Categories    []Category     `json:"categories"`
	Notifications []Notification `json:"notifications"`
}

// Clone returns a deep copy so callers never alias stored state.
func (l *Ledger) Clone() *Ledger {
	if l == nil {
		return nil
	}
	c := &Ledger{
		UserID:        l.UserID,
		Version:       l.Version,
		Bets:          append([]Bet(nil), l.Bets...),
		Withdrawals:   append([]Withdrawal(nil), l.Withdrawals...),
		Goals:         make([]Goal, len(l.Goals)),
		DayStatuses:   append([]DayStatus(nil), l.DayStatuses...),
		Categories:    append([]Category(nil), l.Categories...),
		Notifications: append([]Notification(nil), l.Notifications...),
	}
	if l.Settings != nil {
		s := *l.Settings
		c.Settings = &s
	}
	for i, g := range l.Goals {
		if g.CompletedAt != nil {
			t := *g.CompletedAt
			g.CompletedAt = &t
		}
		c.Goals[i] = g
	}
	return c
}

// AdminDefaults seeds settings for new users and for data resets.
type AdminDefaults struct {
	InitialBalance       decimal.Decimal `json:"initial_balance"`
	StopLoss             decimal.Decimal `json:"stop_loss"`
	StopWin              decimal.Decimal `json:"stop_win"`
	NotificationsEnabled bool            `json:"notifications_enabled"`
	Theme                Theme           `json:"theme"`
}

// NewSettings builds default settings for a user.
func (d AdminDefaults) NewSettings(userID string) *Settings {
	theme := d.Theme
	if theme == "" {
		theme = ThemeLight
	}
	return &Settings{
		UserID:               userID,
		InitialBalance:       d.InitialBalance,
		CurrentBalance:       d.InitialBalance,
		StopLoss:             d.StopLoss,
		StopWin:              d.StopWin,
		NotificationsEnabled: d.NotificationsEnabled,
		Theme:                theme,
	}
}

// DayKey returns the calendar day of t in loc, formatted with DayLayout.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DayLayout)
}
