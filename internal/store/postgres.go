package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/gerenciadorbet/ledger-engine/internal/model"
)

// Schema creates the ledger tables. Every collection row carries a seq column
// holding its insertion position so replays see the same tie order after a
// reload.
const Schema = `
CREATE TABLE IF NOT EXISTS ledger_users (
	user_id TEXT PRIMARY KEY,
	version BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS settings (
	user_id               TEXT PRIMARY KEY REFERENCES ledger_users(user_id),
	initial_balance       NUMERIC NOT NULL,
	current_balance       NUMERIC NOT NULL,
	stop_loss             NUMERIC NOT NULL,
	stop_win              NUMERIC NOT NULL,
	notifications_enabled BOOLEAN NOT NULL,
	theme                 TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS bets (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL REFERENCES ledger_users(user_id),
	seq              INT NOT NULL,
	date             TIMESTAMPTZ NOT NULL,
	category_id      TEXT NOT NULL,
	amount           NUMERIC NOT NULL,
	result           TEXT NOT NULL,
	period           TEXT NOT NULL,
	multiplier       NUMERIC NOT NULL,
	mg               BOOLEAN NOT NULL,
	profit           NUMERIC NOT NULL,
	previous_balance NUMERIC NOT NULL,
	current_balance  NUMERIC NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS bets_user_seq ON bets (user_id, seq);

CREATE TABLE IF NOT EXISTS withdrawals (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL REFERENCES ledger_users(user_id),
	seq              INT NOT NULL,
	date             TIMESTAMPTZ NOT NULL,
	amount           NUMERIC NOT NULL,
	description      TEXT NOT NULL,
	previous_balance NUMERIC NOT NULL,
	current_balance  NUMERIC NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS withdrawals_user_seq ON withdrawals (user_id, seq);

CREATE TABLE IF NOT EXISTS goals (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL REFERENCES ledger_users(user_id),
	seq           INT NOT NULL,
	type          TEXT NOT NULL,
	description   TEXT NOT NULL,
	target_value  NUMERIC NOT NULL,
	current_value NUMERIC NOT NULL,
	period        TIMESTAMPTZ NOT NULL,
	completed     BOOLEAN NOT NULL,
	completed_at  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS day_statuses (
	user_id TEXT NOT NULL REFERENCES ledger_users(user_id),
	date    TEXT NOT NULL,
	status  TEXT NOT NULL,
	profit  NUMERIC NOT NULL,
	PRIMARY KEY (user_id, date)
);

CREATE TABLE IF NOT EXISTS categories (
	id      TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES ledger_users(user_id),
	seq     INT NOT NULL,
	name    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL REFERENCES ledger_users(user_id),
	seq        INT NOT NULL,
	kind       TEXT NOT NULL,
	title      TEXT NOT NULL,
	message    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	read       BOOLEAN NOT NULL
);
`

// collections are replaced wholesale on every commit.
var collections = []string{"bets", "withdrawals", "goals", "day_statuses", "categories", "notifications", "settings"}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates any missing tables.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, userID string) (*model.Ledger, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", userID, err)
	}
	defer tx.Rollback(ctx)

	l := emptyLedger(userID)
	err = tx.QueryRow(ctx, `SELECT version FROM ledger_users WHERE user_id = $1`, userID).Scan(&l.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s version: %w", userID, err)
	}

	loaders := []struct {
		name string
		fn   func(context.Context, pgx.Tx, *model.Ledger) error
	}{
		{"settings", loadSettings},
		{"bets", loadBets},
		{"withdrawals", loadWithdrawals},
		{"goals", loadGoals},
		{"day_statuses", loadDayStatuses},
		{"categories", loadCategories},
		{"notifications", loadNotifications},
	}
	for _, ld := range loaders {
		if err := ld.fn(ctx, tx, l); err != nil {
			return nil, fmt.Errorf("load %s %s: %w", userID, ld.name, err)
		}
	}
	return l, tx.Commit(ctx)
}

func (s *PostgresStore) Commit(ctx context.Context, l *model.Ledger) error {
	if l == nil || l.UserID == "" {
		return fmt.Errorf("store: commit requires a user id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("commit %s: %w", l.UserID, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO ledger_users (user_id, version) VALUES ($1, 0) ON CONFLICT (user_id) DO NOTHING`,
		l.UserID); err != nil {
		return fmt.Errorf("commit %s: %w", l.UserID, err)
	}

	// Row lock serializes concurrent commits for the same user.
	var current int64
	if err := tx.QueryRow(ctx,
		`SELECT version FROM ledger_users WHERE user_id = $1 FOR UPDATE`, l.UserID).Scan(&current); err != nil {
		return fmt.Errorf("commit %s lock: %w", l.UserID, err)
	}
	if current != l.Version {
		return fmt.Errorf("%w: user %s at version %d, commit based on %d", ErrConflict, l.UserID, current, l.Version)
	}

	for _, table := range collections {
		if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE user_id = $1`, l.UserID); err != nil {
			return fmt.Errorf("commit %s clear %s: %w", l.UserID, table, err)
		}
	}

	batch := &pgx.Batch{}
	queueLedger(batch, l)
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("commit %s write: %w", l.UserID, err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE ledger_users SET version = version + 1 WHERE user_id = $1`, l.UserID); err != nil {
		return fmt.Errorf("commit %s version: %w", l.UserID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit %s: %w", l.UserID, err)
	}
	l.Version = current + 1
	return nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_id FROM ledger_users ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

func queueLedger(b *pgx.Batch, l *model.Ledger) {
	if st := l.Settings; st != nil {
		b.Queue(`INSERT INTO settings (user_id, initial_balance, current_balance, stop_loss, stop_win, notifications_enabled, theme)
			 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6, $7)`,
			l.UserID, st.InitialBalance.String(), st.CurrentBalance.String(),
			st.StopLoss.String(), st.StopWin.String(), st.NotificationsEnabled, string(st.Theme))
	}
	for i, bet := range l.Bets {
		b.Queue(`INSERT INTO bets (id, user_id, seq, date, category_id, amount, result, period, multiplier, mg,
			                       profit, previous_balance, current_balance, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, $8, $9::NUMERIC, $10, $11::NUMERIC, $12::NUMERIC, $13::NUMERIC, $14)`,
			bet.ID, l.UserID, i, bet.Date, bet.CategoryID, bet.Amount.String(), string(bet.Result), string(bet.Period),
			bet.Multiplier.String(), bet.MG, bet.Profit.String(), bet.PreviousBalance.String(), bet.CurrentBalance.String(),
			bet.CreatedAt)
	}
	for i, w := range l.Withdrawals {
		b.Queue(`INSERT INTO withdrawals (id, user_id, seq, date, amount, description, previous_balance, current_balance, created_at)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7::NUMERIC, $8::NUMERIC, $9)`,
			w.ID, l.UserID, i, w.Date, w.Amount.String(), w.Description,
			w.PreviousBalance.String(), w.CurrentBalance.String(), w.CreatedAt)
	}
	for i, g := range l.Goals {
		b.Queue(`INSERT INTO goals (id, user_id, seq, type, description, target_value, current_value, period, completed, completed_at)
			 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8, $9, $10)`,
			g.ID, l.UserID, i, string(g.Type), g.Description, g.TargetValue.String(), g.CurrentValue.String(),
			g.Period, g.Completed, g.CompletedAt)
	}
	for _, ds := range l.DayStatuses {
		b.Queue(`INSERT INTO day_statuses (user_id, date, status, profit) VALUES ($1, $2, $3, $4::NUMERIC)`,
			l.UserID, ds.Date, string(ds.Status), ds.Profit.String())
	}
	for i, c := range l.Categories {
		b.Queue(`INSERT INTO categories (id, user_id, seq, name) VALUES ($1, $2, $3, $4)`,
			c.ID, l.UserID, i, c.Name)
	}
	for i, n := range l.Notifications {
		b.Queue(`INSERT INTO notifications (id, user_id, seq, kind, title, message, created_at, read)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			n.ID, l.UserID, i, string(n.Kind), n.Title, n.Message, n.CreatedAt, n.Read)
	}
}

func loadSettings(ctx context.Context, tx pgx.Tx, l *model.Ledger) error {
	var st model.Settings
	var initial, current, stopLoss, stopWin, theme string
	err := tx.QueryRow(ctx,
		`SELECT initial_balance::TEXT, current_balance::TEXT, stop_loss::TEXT, stop_win::TEXT,
		        notifications_enabled, theme
		 FROM settings WHERE user_id = $1`, l.UserID).
		Scan(&initial, &current, &stopLoss, &stopWin, &st.NotificationsEnabled, &theme)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	st.UserID = l.UserID
	st.Theme = model.Theme(theme)
	if err := parseDecimals(
		dec{initial, &st.InitialBalance}, dec{current, &st.CurrentBalance},
		dec{stopLoss, &st.StopLoss}, dec{stopWin, &st.StopWin},
	); err != nil {
		return err
	}
	l.Settings = &st
	return nil
}

func loadBets(ctx context.Context, tx pgx.Tx, l *model.Ledger) error {
	rows, err := tx.Query(ctx,
		`SELECT id, date, category_id, amount::TEXT, result, period, multiplier::TEXT, mg,
		        profit::TEXT, previous_balance::TEXT, current_balance::TEXT, created_at
		 FROM bets WHERE user_id = $1 ORDER BY seq`, l.UserID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var b model.Bet
		var amount, result, period, mult, profit, prev, cur string
		if err := rows.Scan(&b.ID, &b.Date, &b.CategoryID, &amount, &result, &period, &mult, &b.MG,
			&profit, &prev, &cur, &b.CreatedAt); err != nil {
			return err
		}
		b.UserID = l.UserID
		b.Result = model.Result(result)
		b.Period = model.Period(period)
		if err := parseDecimals(
			dec{amount, &b.Amount}, dec{mult, &b.Multiplier}, dec{profit, &b.Profit},
			dec{prev, &b.PreviousBalance}, dec{cur, &b.CurrentBalance},
		); err != nil {
			return err
		}
		l.Bets = append(l.Bets, b)
	}
	return rows.Err()
}

func loadWithdrawals(ctx context.Context, tx pgx.Tx, l *model.Ledger) error {
	rows, err := tx.Query(ctx,
		`SELECT id, date, amount::TEXT, description, previous_balance::TEXT, current_balance::TEXT, created_at
		 FROM withdrawals WHERE user_id = $1 ORDER BY seq`, l.UserID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var w model.Withdrawal
		var amount, prev, cur string
		if err := rows.Scan(&w.ID, &w.Date, &amount, &w.Description, &prev, &cur, &w.CreatedAt); err != nil {
			return err
		}
		w.UserID = l.UserID
		if err := parseDecimals(dec{amount, &w.Amount}, dec{prev, &w.PreviousBalance}, dec{cur, &w.CurrentBalance}); err != nil {
			return err
		}
		l.Withdrawals = append(l.Withdrawals, w)
	}
	return rows.Err()
}

func loadGoals(ctx context.Context, tx pgx.Tx, l *model.Ledger) error {
	rows, err := tx.Query(ctx,
		`SELECT id, type, description, target_value::TEXT, current_value::TEXT, period, completed, completed_at
		 FROM goals WHERE user_id = $1 ORDER BY seq`, l.UserID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var g model.Goal
		var typ, target, current string
		var completedAt *time.Time
		if err := rows.Scan(&g.ID, &typ, &g.Description, &target, &current, &g.Period, &g.Completed, &completedAt); err != nil {
			return err
		}
		g.UserID = l.UserID
		g.Type = model.GoalType(typ)
		g.CompletedAt = completedAt
		if err := parseDecimals(dec{target, &g.TargetValue}, dec{current, &g.CurrentValue}); err != nil {
			return err
		}
		l.Goals = append(l.Goals, g)
	}
	return rows.Err()
}

func loadDayStatuses(ctx context.Context, tx pgx.Tx, l *model.Ledger) error {
	rows, err := tx.Query(ctx,
		`SELECT date, status, profit::TEXT FROM day_statuses WHERE user_id = $1 ORDER BY date`, l.UserID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var ds model.DayStatus
		var status, profit string
		if err := rows.Scan(&ds.Date, &status, &profit); err != nil {
			return err
		}
		ds.Status = model.DayState(status)
		if err := parseDecimals(dec{profit, &ds.Profit}); err != nil {
			return err
		}
		l.DayStatuses = append(l.DayStatuses, ds)
	}
	return rows.Err()
}

func loadCategories(ctx context.Context, tx pgx.Tx, l *model.Ledger) error {
	rows, err := tx.Query(ctx, `SELECT id, name FROM categories WHERE user_id = $1 ORDER BY seq`, l.UserID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		c := model.Category{UserID: l.UserID}
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return err
		}
		l.Categories = append(l.Categories, c)
	}
	return rows.Err()
}

func loadNotifications(ctx context.Context, tx pgx.Tx, l *model.Ledger) error {
	rows, err := tx.Query(ctx,
		`SELECT id, kind, title, message, created_at, read FROM notifications WHERE user_id = $1 ORDER BY seq`, l.UserID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		n := model.Notification{UserID: l.UserID}
		var kind string
		if err := rows.Scan(&n.ID, &kind, &n.Title, &n.Message, &n.CreatedAt, &n.Read); err != nil {
			return err
		}
		n.Kind = model.NotificationKind(kind)
		l.Notifications = append(l.Notifications, n)
	}
	return rows.Err()
}

// dec pairs a NUMERIC::TEXT column with its destination.
type dec struct {
	s   string
	dst *decimal.Decimal
}

func parseDecimals(ds ...dec) error {
	for _, d := range ds {
		v, err := decimal.NewFromString(d.s)
		if err != nil {
			return fmt.Errorf("parse numeric %q: %w", d.s, err)
		}
		*d.dst = v
	}
	return nil
}
