package account_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gerenciadorbet/ledger-engine/internal/account"
	"github.com/gerenciadorbet/ledger-engine/internal/ledger"
	"github.com/gerenciadorbet/ledger-engine/internal/model"
	"github.com/gerenciadorbet/ledger-engine/internal/notify"
	"github.com/gerenciadorbet/ledger-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// now is a Wednesday afternoon.
var now = time.Date(2026, 3, 18, 15, 0, 0, 0, time.UTC)

type recordingSink struct {
	mu  sync.Mutex
	got []model.Notification
}

func (s *recordingSink) Publish(_ context.Context, n model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, n)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

type testEnv struct {
	svc   *account.Service
	store store.Store
	mem   *store.MemoryStore
	sink  *recordingSink
	clock *time.Time
}

func testDefaults() model.AdminDefaults {
	return model.AdminDefaults{
		InitialBalance:       d(1000),
		StopLoss:             d(300),
		StopWin:              d(500),
		NotificationsEnabled: true,
		Theme:                model.ThemeLight,
	}
}

// newTestEnv creates a Service over an in-memory store with a controllable
// clock. wrap optionally decorates the store.
func newTestEnv(t *testing.T, wrap func(*store.MemoryStore) store.Store) *testEnv {
	t.Helper()
	mem := store.NewMemoryStore()
	var st store.Store = mem
	if wrap != nil {
		st = wrap(mem)
	}

	clock := now
	sink := &recordingSink{}
	emitter := notify.NewEmitter(nil, sink)
	emitter.Now = func() time.Time { return clock }
	svc := account.NewService(st, emitter, testDefaults(), time.UTC,
		account.WithClock(func() time.Time { return clock }))

	return &testEnv{svc: svc, store: st, mem: mem, sink: sink, clock: &clock}
}

func (e *testEnv) init(t *testing.T, userID string) {
	t.Helper()
	if _, err := e.svc.InitializeSettings(context.Background(), userID); err != nil {
		t.Fatalf("initialize settings: %v", err)
	}
}

func betAt(at time.Time, amount, multiplier float64, result model.Result, mg bool) account.BetInput {
	return account.BetInput{
		Date:       at,
		CategoryID: "cat-1",
		Amount:     d(amount),
		Result:     result,
		Period:     model.PeriodAfternoon,
		Multiplier: d(multiplier),
		MG:         mg,
	}
}

func mustBalance(t *testing.T, svc *account.Service, userID string, want float64) {
	t.Helper()
	st, err := svc.GetSettings(context.Background(), userID)
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if !st.CurrentBalance.Equal(d(want)) {
		t.Errorf("expected balance %v, got %s", want, st.CurrentBalance)
	}
}

// checkInvariant verifies current = initial + Σ profit − Σ withdrawals and
// that stored annotations match a fresh replay.
func checkInvariant(t *testing.T, st store.Store, userID string) {
	t.Helper()
	l, err := st.Load(context.Background(), userID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := ledger.Verify(l); err != nil {
		t.Errorf("balance invariant violated: %v", err)
	}
}

// --- Settings ---

func TestAddBet_RequiresSettings(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.svc.AddBet(context.Background(), "u1", betAt(now, 100, 2, model.ResultWin, false))
	if !errors.Is(err, ledger.ErrSettingsMissing) {
		t.Fatalf("expected ErrSettingsMissing, got %v", err)
	}
}

func TestInitializeSettings_UsesDefaultsOnce(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	st, err := env.svc.InitializeSettings(ctx, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !st.InitialBalance.Equal(d(1000)) || !st.CurrentBalance.Equal(d(1000)) || st.Theme != model.ThemeLight {
		t.Errorf("unexpected defaults %+v", st)
	}

	dark := model.ThemeDark
	if _, err := env.svc.UpdateSettings(ctx, "u1", account.SettingsPatch{Theme: &dark}); err != nil {
		t.Fatalf("update: %v", err)
	}
	again, err := env.svc.InitializeSettings(ctx, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again.Theme != model.ThemeDark {
		t.Error("initialize must not overwrite existing settings")
	}
}

func TestUpdateSettings_InitialBalanceShiftsCurrent(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.init(t, "u1")

	if _, err := env.svc.AddBet(ctx, "u1", betAt(now.Add(-24*time.Hour), 100, 2, model.ResultWin, false)); err != nil {
		t.Fatalf("add bet: %v", err)
	}
	mustBalance(t, env.svc, "u1", 1100)

	initial := d(2000)
	st, err := env.svc.UpdateSettings(ctx, "u1", account.SettingsPatch{InitialBalance: &initial})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !st.CurrentBalance.Equal(d(2100)) || !st.InitialBalance.Equal(d(2000)) {
		t.Errorf("expected 2000/2100, got %s/%s", st.InitialBalance, st.CurrentBalance)
	}

	bets, _ := env.svc.ListBets(ctx, "u1")
	if !bets[0].PreviousBalance.Equal(d(2000)) || !bets[0].CurrentBalance.Equal(d(2100)) {
		t.Errorf("bet annotations not replayed: %+v", bets[0])
	}
	checkInvariant(t, env.store, "u1")
}

func TestUpdateSettings_Validation(t *testing.T) {
	env := newTestEnv(t, nil)
	env.init(t, "u1")

	zero := d(0)
	_, err := env.svc.UpdateSettings(context.Background(), "u1", account.SettingsPatch{StopLoss: &zero})
	if !errors.Is(err, account.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

// --- Reconciliation ---

func TestAddBet_ProfitTable(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.init(t, "u1")

	base := now.Add(-48 * time.Hour)
	tests := []struct {
		in   account.BetInput
		want float64
	}{
		{betAt(base, 100, 2.0, model.ResultWin, false), 100},
		{betAt(base.Add(time.Hour), 50, 1.5, model.ResultWin, false), 25},
		{betAt(base.Add(2*time.Hour), 100, 1, model.ResultLoss, false), -100},
		{betAt(base.Add(3*time.Hour), 100, 1, model.ResultLoss, true), -300},
	}

	for _, tt := range tests {
		bet, err := env.svc.AddBet(ctx, "u1", tt.in)
		if err != nil {
			t.Fatalf("add bet: %v", err)
		}
		if !bet.Profit.Equal(d(tt.want)) {
			t.Errorf("expected profit %v, got %s", tt.want, bet.Profit)
		}
		if !bet.CurrentBalance.Equal(bet.PreviousBalance.Add(bet.Profit)) {
			t.Errorf("current != previous + profit for %s", bet.ID)
		}
	}

	mustBalance(t, env.svc, "u1", 725)
	checkInvariant(t, env.store, "u1")
}

func TestAddBet_OutOfOrderIsReplayedChronologically(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.init(t, "u1")

	late, err := env.svc.AddBet(ctx, "u1", betAt(now.Add(-24*time.Hour), 100, 2, model.ResultWin, false))
	if err != nil {
		t.Fatal(err)
	}
	early, err := env.svc.AddBet(ctx, "u1", betAt(now.Add(-72*time.Hour), 50, 1, model.ResultLoss, false))
	if err != nil {
		t.Fatal(err)
	}

	bets, _ := env.svc.ListBets(ctx, "u1")
	if len(bets) != 2 || bets[0].ID != early.ID || bets[1].ID != late.ID {
		t.Fatalf("expected chronological order, got %+v", bets)
	}
	if !bets[0].PreviousBalance.Equal(d(1000)) || !bets[0].CurrentBalance.Equal(d(950)) {
		t.Errorf("early bet: %s -> %s", bets[0].PreviousBalance, bets[0].CurrentBalance)
	}
	if !bets[1].PreviousBalance.Equal(d(950)) || !bets[1].CurrentBalance.Equal(d(1050)) {
		t.Errorf("late bet must be re-annotated: %s -> %s", bets[1].PreviousBalance, bets[1].CurrentBalance)
	}
	mustBalance(t, env.svc, "u1", 1050)
}

func TestUpdateAndDeleteBet_KeepInvariant(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.init(t, "u1")

	a, _ := env.svc.AddBet(ctx, "u1", betAt(now.Add(-50*time.Hour), 100, 2, model.ResultWin, false))
	b, _ := env.svc.AddBet(ctx, "u1", betAt(now.Add(-49*time.Hour), 100, 1, model.ResultLoss, false))
	if _, err := env.svc.AddWithdrawal(ctx, "u1", account.WithdrawalInput{Date: now.Add(-48 * time.Hour), Amount: d(200)}); err != nil {
		t.Fatal(err)
	}
	mustBalance(t, env.svc, "u1", 800)

	// Make the first bet an MG loss: every later event shifts by -400.
	updated, err := env.svc.UpdateBet(ctx, "u1", a.ID, betAt(a.Date, 100, 2, model.ResultLoss, true))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.Profit.Equal(d(-300)) {
		t.Errorf("expected -300, got %s", updated.Profit)
	}
	mustBalance(t, env.svc, "u1", 400)
	checkInvariant(t, env.store, "u1")

	if err := env.svc.DeleteBet(ctx, "u1", b.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	mustBalance(t, env.svc, "u1", 500)
	checkInvariant(t, env.store, "u1")

	ws, _ := env.svc.ListWithdrawals(ctx, "u1")
	if !ws[0].PreviousBalance.Equal(d(700)) || !ws[0].CurrentBalance.Equal(d(500)) {
		t.Errorf("withdrawal not re-annotated: %+v", ws[0])
	}
}

func TestUpdateBet_NotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	env.init(t, "u1")
	_, err := env.svc.UpdateBet(context.Background(), "u1", "missing", betAt(now, 10, 2, model.ResultWin, false))
	if !errors.Is(err, account.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := env.svc.DeleteBet(context.Background(), "u1", "missing"); !errors.Is(err, account.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAddBet_Validation(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.init(t, "u1")

	valid := betAt(now, 10, 2, model.ResultWin, false)
	tests := map[string]func(*account.BetInput){
		"zero amount":      func(in *account.BetInput) { in.Amount = d(0) },
		"negative amount":  func(in *account.BetInput) { in.Amount = d(-5) },
		"zero multiplier":  func(in *account.BetInput) { in.Multiplier = d(0) },
		"missing category": func(in *account.BetInput) { in.CategoryID = " " },
		"missing date":     func(in *account.BetInput) { in.Date = time.Time{} },
		"unknown result":   func(in *account.BetInput) { in.Result = "draw" },
		"unknown period":   func(in *account.BetInput) { in.Period = "brunch" },
	}
	for name, mutate := range tests {
		in := valid
		mutate(&in)
		if _, err := env.svc.AddBet(ctx, "u1", in); !errors.Is(err, account.ErrValidation) {
			t.Errorf("%s: expected ErrValidation, got %v", name, err)
		}
	}

	bets, _ := env.svc.ListBets(ctx, "u1")
	if len(bets) != 0 {
		t.Errorf("rejected bets must not be stored, got %d", len(bets))
	}
}

func TestMutation_RequiresUserID(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.svc.InitializeSettings(context.Background(), ""); !errors.Is(err, account.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

// --- Withdrawals ---

func TestAddWithdrawal_Bound(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.init(t, "u1")

	_, err := env.svc.AddWithdrawal(ctx, "u1", account.WithdrawalInput{Date: now, Amount: d(1500)})
	if !errors.Is(err, account.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	mustBalance(t, env.svc, "u1", 1000)
	ws, _ := env.svc.ListWithdrawals(ctx, "u1")
	if len(ws) != 0 {
		t.Fatalf("rejected withdrawal was stored")
	}

	w, err := env.svc.AddWithdrawal(ctx, "u1", account.WithdrawalInput{Date: now, Amount: d(200), Description: "rent"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !w.PreviousBalance.Equal(d(1000)) || !w.CurrentBalance.Equal(d(800)) {
		t.Errorf("unexpected annotations %+v", w)
	}
	mustBalance(t, env.svc, "u1", 800)

	// The old amount is available again when editing.
	if _, err := env.svc.UpdateWithdrawal(ctx, "u1", w.ID, account.WithdrawalInput{Date: now, Amount: d(1000)}); err != nil {
		t.Fatalf("update to full balance: %v", err)
	}
	mustBalance(t, env.svc, "u1", 0)

	_, err = env.svc.UpdateWithdrawal(ctx, "u1", w.ID, account.WithdrawalInput{Date: now, Amount: d(1000.01)})
	if !errors.Is(err, account.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
	mustBalance(t, env.svc, "u1", 0)
	checkInvariant(t, env.store, "u1")
}

func TestWithdrawal_NeverAffectsDayStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.init(t, "u1")

	if _, err := env.svc.AddWithdrawal(ctx, "u1", account.WithdrawalInput{Date: now, Amount: d(900)}); err != nil {
		t.Fatal(err)
	}
	days, _ := env.svc.ListDayStatuses(ctx, "u1")
	if len(days) != 0 {
		t.Errorf("withdrawal created day status %+v", days)
	}
	res, _ := env.svc.CheckStopLimits(ctx, "u1")
	if res.StopLoss || !res.TodayProfit.IsZero() {
		t.Errorf("withdrawal counted towards stop limits: %+v", res)
	}
}

func TestDeleteWithdrawal(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.init(t, "u1")

	w, _ := env.svc.AddWithdrawal(ctx, "u1", account.WithdrawalInput{Date: now, Amount: d(300)})
	if err := env.svc.DeleteWithdrawal(ctx, "u1", w.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	mustBalance(t, env.svc, "u1", 1000)
	if err := env.svc.DeleteWithdrawal(ctx, "u1", w.ID); !errors.Is(err, account.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// --- Stop limits and day status ---

func TestStopLoss_ThreeLossesToday(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.init(t, "u1")

	for i := 3; i >= 1; i-- {
		if _, err := env.svc.AddBet(ctx, "u1", betAt(now.Add(-time.Duration(i)*time.Hour), 100, 1, model.ResultLoss, false)); err != nil {
			t.Fatal(err)
		}
	}

	res, err := env.svc.CheckStopLimits(ctx, "u1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.StopLoss || res.StopWin || !res.TodayProfit.Equal(d(-300)) {
		t.Errorf("expected stop loss only at -300, got %+v", res)
	}

	days, _ := env.svc.ListDayStatuses(ctx, "u1")
	if len(days) != 1 || days[0].Date != "2026-03-18" || days[0].Status != model.DayStopLoss || !days[0].Profit.Equal(d(-300)) {
		t.Errorf("unexpected day status %+v", days)
	}

	// A further loss keeps the flag and does not notify again.
	if _, err := env.svc.AddBet(ctx, "u1", betAt(now, 100, 1, model.ResultLoss, false)); err != nil {
		t.Fatal(err)
	}
	ns, _ := env.svc.ListNotifications(ctx, "u1")
	if len(ns) != 1 || ns[0].Kind != model.NotifyStopLoss {
		t.Errorf("expected a single stop-loss notification, got %+v", ns)
	}
	days, _ = env.svc.ListDayStatuses(ctx, "u1")
	if days[0].Status != model.DayStopLoss || !days[0].Profit.Equal(d(-400)) {
		t.Errorf("flag must stay while profit accumulates, got %+v", days[0])
	}
	if env.sink.count() != 1 {
		t.Errorf("expected 1 published notification, got %d", env.sink.count())
	}
}

func TestStopWin_Today(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.init(t, "u1")

	if _, err := env.svc.AddBet(ctx, "u1", betAt(now.Add(-time.Hour), 250, 3, model.ResultWin, false)); err != nil {
		t.Fatal(err)
	}

	res, err := env.svc.CheckStopLimits(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.StopWin || res.StopLoss || !res.TodayProfit.Equal(d(500)) {
		t.Errorf("expected stop win only at 500, got %+v", res)
	}
	ns, _ := env.svc.ListNotifications(ctx, "u1")
	if len(ns) != 1 || ns[0].Kind != model.NotifyStopWin {
		t.Errorf("expected a stop-win notification, got %+v", ns)
	}
}

func TestCheckStopLimits_FlagsNewCrossingOnce(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.init(t, "u1")

	if _, err := env.svc.AddBet(ctx, "u1", betAt(now.Add(-time.Hour), 100, 1, model.ResultLoss, false)); err != nil {
		t.Fatal(err)
	}
	// Lowering the threshold does not evaluate limits by itself.
	lower := d(100)
	if _, err := env.svc.UpdateSettings(ctx, "u1", account.SettingsPatch{StopLoss: &lower}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		res, err := env.svc.CheckStopLimits(ctx, "u1")
		if err != nil {
			t.Fatal(err)
		}
		if !res.StopLoss {
			t.Fatalf("expected stop loss, got %+v", res)
		}
	}

	ns, _ := env.svc.ListNotifications(ctx, "u1")
	if len(ns) != 1 {
		t.Errorf("expected exactly one notification, got %d", len(ns))
	}
	days, _ := env.svc.ListDayStatuses(ctx, "u1")
	if days[0].Status != model.DayStopLoss {
		t.Errorf("expected stop-loss day, got %s", days[0].Status)
	}
}

func TestNotificationsDisabled(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.init(t, "u1")

	off := false
	if _, err := env.svc.UpdateSettings(ctx, "u1", account.SettingsPatch{NotificationsEnabled: &off}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.svc.AddBet(ctx, "u1", betAt(now, 300, 1, model.ResultLoss, false)); err != nil {
		t.Fatal(err)
	}

	ns, _ := env.svc.ListNotifications(ctx, "u1")
	if len(ns) != 0 || env.sink.count() != 0 {
		t.Errorf("expected no notifications, got %d stored / %d published", len(ns), env.sink.count())
	}
	days, _ := env.svc.ListDayStatuses(ctx, "u1")
	if days[0].Status != model.DayStopLoss {
		t.Errorf("day must still be flagged, got %s", days[0].Status)
	}
}

func TestFutureBet_HasNoDayStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.init(t, "u1")

	if _, err := env.svc.AddBet(ctx, "u1", betAt(now.Add(48*time.Hour), 100, 2, model.ResultWin, false)); err != nil {
		t.Fatal(err)
	}
	mustBalance(t, env.svc, "u1", 1100)

	days, _ := env.svc.ListDayStatuses(ctx, "u1")
	if len(days) != 0 {
		t.Errorf("future day received a status: %+v", days)
	}
	sum, err := env.svc.MonthSummary(ctx, "u1", "2026-03")
	if err != nil {
		t.Fatal(err)
	}
	if len(sum.Days) != 0 || !sum.Profit.IsZero() {
		t.Errorf("future day counted in month summary: %+v", sum)
	}

	// Once the day arrives, the sweep gives it a status.
	*env.clock = now.Add(72 * time.Hour)
	if _, err := env.svc.Reconcile(ctx, "u1"); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	days, _ = env.svc.ListDayStatuses(ctx, "u1")
	if len(days) != 1 || days[0].Date != "2026-03-20" || days[0].Status != model.DayPositive {
		t.Errorf("expected positive 2026-03-20, got %+v", days)
	}
}

func TestFutureBet_CountedWhenDayArrivesAndAnotherBetIsAdded(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.init(t, "u1")

	tomorrow := now.Add(24 * time.Hour)
	if _, err := env.svc.AddBet(ctx, "u1", betAt(tomorrow, 100, 2, model.ResultWin, false)); err != nil {
		t.Fatal(err)
	}

	*env.clock = tomorrow
	if _, err := env.svc.AddBet(ctx, "u1", betAt(tomorrow.Add(time.Hour), 50, 1, model.ResultLoss, false)); err != nil {
		t.Fatal(err)
	}

	days, _ := env.svc.ListDayStatuses(ctx, "u1")
	if len(days) != 1 || days[0].Date != "2026-03-19" {
		t.Fatalf("expected one record for 2026-03-19, got %+v", days)
	}
	if days[0].Status != model.DayPositive || !days[0].Profit.Equal(d(50)) {
		t.Errorf("expected positive 50, got %+v", days[0])
	}

	res, err := env.svc.CheckStopLimits(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.TodayProfit.Equal(days[0].Profit) {
		t.Errorf("limits see %s but the day records %s", res.TodayProfit, days[0].Profit)
	}

	// Later same-day adds keep accumulating on the repaired record.
	if _, err := env.svc.AddBet(ctx, "u1", betAt(tomorrow.Add(2*time.Hour), 20, 1, model.ResultLoss, false)); err != nil {
		t.Fatal(err)
	}
	days, _ = env.svc.ListDayStatuses(ctx, "u1")
	if len(days) != 1 || !days[0].Profit.Equal(d(30)) {
		t.Errorf("expected 30 after another loss, got %+v", days)
	}
	checkInvariant(t, env.store, "u1")
}

func TestMonthSummary_Validation(t *testing.T) {
	env := newTestEnv(t, nil)
	env.init(t, "u1")
	if _, err := env.svc.MonthSummary(context.Background(), "u1", "March"); !errors.Is(err, account.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestDeleteBet_RebuildsDay(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.init(t, "u1")

	yesterday := now.Add(-24 * time.Hour)
	win, _ := env.svc.AddBet(ctx, "u1", betAt(yesterday, 100, 2, model.ResultWin, false))
	if _, err := env.svc.AddBet(ctx, "u1", betAt(yesterday.Add(time.Hour), 50, 1, model.ResultLoss, false)); err != nil {
		t.Fatal(err)
	}
	days, _ := env.svc.ListDayStatuses(ctx, "u1")
	if days[0].Status != model.DayPositive || !days[0].Profit.Equal(d(50)) {
		t.Fatalf("unexpected day %+v", days[0])
	}

	if err := env.svc.DeleteBet(ctx, "u1", win.ID); err != nil {
		t.Fatal(err)
	}
	days, _ = env.svc.ListDayStatuses(ctx, "u1")
	if days[0].Status != model.DayNegative || !days[0].Profit.Equal(d(-50)) {
		t.Errorf("expected negative -50 after delete, got %+v", days[0])
	}
}

// --- Goals ---

func TestGoal_CompletionIsMonotone(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.init(t, "u1")

	g, err := env.svc.AddGoal(ctx, "u1", account.GoalInput{Type: model.GoalDaily, TargetValue: d(100), Period: now})
	if err != nil {
		t.Fatalf("add goal: %v", err)
	}
	if g.Completed {
		t.Fatal("new goal must not be completed")
	}

	bet, err := env.svc.AddBet(ctx, "u1", betAt(now.Add(-time.Hour), 100, 2.5, model.ResultWin, false))
	if err != nil {
		t.Fatal(err)
	}
	goals, _ := env.svc.ListGoals(ctx, "u1")
	if !goals[0].Completed || goals[0].CompletedAt == nil || !goals[0].CompletedAt.Equal(now) {
		t.Fatalf("expected completion at %s, got %+v", now, goals[0])
	}
	if !goals[0].CurrentValue.Equal(d(150)) {
		t.Errorf("expected 150, got %s", goals[0].CurrentValue)
	}

	*env.clock = now.Add(2 * time.Hour)
	if _, err := env.svc.UpdateBet(ctx, "u1", bet.ID, betAt(bet.Date, 100, 1, model.ResultLoss, false)); err != nil {
		t.Fatal(err)
	}
	goals, _ = env.svc.ListGoals(ctx, "u1")
	if !goals[0].Completed || !goals[0].CompletedAt.Equal(now) {
		t.Errorf("completion must be kept with original time, got %+v", goals[0])
	}
	if !goals[0].CurrentValue.Equal(d(-100)) {
		t.Errorf("expected -100, got %s", goals[0].CurrentValue)
	}

	var goalNotes int
	ns, _ := env.svc.ListNotifications(ctx, "u1")
	for _, n := range ns {
		if n.Kind == model.NotifyGoal {
			goalNotes++
		}
	}
	if goalNotes != 1 {
		t.Errorf("expected one goal notification, got %d", goalNotes)
	}
}

func TestGoal_UpdateAndDelete(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.init(t, "u1")

	if _, err := env.svc.AddBet(ctx, "u1", betAt(now.Add(-24*time.Hour), 100, 2, model.ResultWin, false)); err != nil {
		t.Fatal(err)
	}
	g, _ := env.svc.AddGoal(ctx, "u1", account.GoalInput{Type: model.GoalDaily, TargetValue: d(50), Period: now})
	if g.Completed || !g.CurrentValue.IsZero() {
		t.Fatalf("yesterday's bet must not count for today's goal: %+v", g)
	}

	g, err := env.svc.UpdateGoal(ctx, "u1", g.ID, account.GoalInput{Type: model.GoalWeekly, TargetValue: d(50), Period: now})
	if err != nil {
		t.Fatal(err)
	}
	if !g.Completed || !g.CurrentValue.Equal(d(100)) {
		t.Errorf("weekly window should include yesterday: %+v", g)
	}

	if err := env.svc.DeleteGoal(ctx, "u1", g.ID); err != nil {
		t.Fatal(err)
	}
	if err := env.svc.DeleteGoal(ctx, "u1", g.ID); !errors.Is(err, account.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := env.svc.AddGoal(ctx, "u1", account.GoalInput{Type: "yearly", TargetValue: d(1), Period: now}); !errors.Is(err, account.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestUpdateGoal_NewWindowClearsCompletion(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.init(t, "u1")

	if _, err := env.svc.AddBet(ctx, "u1", betAt(now.Add(-time.Hour), 100, 2, model.ResultWin, false)); err != nil {
		t.Fatal(err)
	}
	g, _ := env.svc.AddGoal(ctx, "u1", account.GoalInput{Type: model.GoalDaily, Description: "today", TargetValue: d(50), Period: now})
	if !g.Completed || g.CompletedAt == nil {
		t.Fatalf("expected completed goal, got %+v", g)
	}

	// Same window, new description and target: completion survives.
	*env.clock = now.Add(time.Hour)
	g, err := env.svc.UpdateGoal(ctx, "u1", g.ID, account.GoalInput{Type: model.GoalDaily, Description: "renamed", TargetValue: d(500), Period: now.Add(-2 * time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	if !g.Completed || !g.CompletedAt.Equal(now) {
		t.Errorf("completion must survive a same-window edit, got %+v", g)
	}

	// A day without bets: the goal starts over.
	g, err = env.svc.UpdateGoal(ctx, "u1", g.ID, account.GoalInput{Type: model.GoalDaily, TargetValue: d(50), Period: now.Add(-48 * time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	if g.Completed || g.CompletedAt != nil || !g.CurrentValue.IsZero() {
		t.Errorf("moving the window must clear completion, got %+v", g)
	}

	// Back to a window that reaches the target: completed again, at the new time.
	g, err = env.svc.UpdateGoal(ctx, "u1", g.ID, account.GoalInput{Type: model.GoalMonthly, TargetValue: d(50), Period: now})
	if err != nil {
		t.Fatal(err)
	}
	if !g.Completed || !g.CompletedAt.Equal(now.Add(time.Hour)) {
		t.Errorf("expected completion at %s, got %+v", now.Add(time.Hour), g)
	}
}

// --- Reset ---

func TestResetAllUserData(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.init(t, "u1")

	dark := model.ThemeDark
	initial := d(5000)
	if _, err := env.svc.UpdateSettings(ctx, "u1", account.SettingsPatch{Theme: &dark, InitialBalance: &initial}); err != nil {
		t.Fatal(err)
	}
	env.svc.AddCategory(ctx, "u1", "Football")
	env.svc.AddBet(ctx, "u1", betAt(now, 400, 1, model.ResultLoss, false))
	env.svc.AddWithdrawal(ctx, "u1", account.WithdrawalInput{Date: now, Amount: d(100)})
	env.svc.AddGoal(ctx, "u1", account.GoalInput{Type: model.GoalMonthly, TargetValue: d(10), Period: now})

	st, err := env.svc.ResetAllUserData(ctx, "u1")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !st.InitialBalance.Equal(d(1000)) || !st.CurrentBalance.Equal(d(1000)) {
		t.Errorf("expected defaults 1000/1000, got %s/%s", st.InitialBalance, st.CurrentBalance)
	}
	if st.Theme != model.ThemeDark {
		t.Errorf("theme must survive reset, got %s", st.Theme)
	}

	l, _ := env.store.Load(ctx, "u1")
	if len(l.Bets)+len(l.Withdrawals)+len(l.Goals)+len(l.DayStatuses)+len(l.Categories)+len(l.Notifications) != 0 {
		t.Errorf("expected all collections empty, got %+v", l)
	}
}

// --- Categories and notifications ---

func TestCategories(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	c, err := env.svc.AddCategory(ctx, "u1", " Football ")
	if err != nil {
		t.Fatal(err)
	}
	if c.Name != "Football" || c.ID == "" {
		t.Errorf("unexpected category %+v", c)
	}
	if _, err := env.svc.AddCategory(ctx, "u1", "football"); !errors.Is(err, account.ErrValidation) {
		t.Errorf("expected duplicate to fail, got %v", err)
	}
	if _, err := env.svc.AddCategory(ctx, "u1", ""); !errors.Is(err, account.ErrValidation) {
		t.Errorf("expected empty name to fail, got %v", err)
	}

	if err := env.svc.DeleteCategory(ctx, "u1", c.ID); err != nil {
		t.Fatal(err)
	}
	cs, _ := env.svc.ListCategories(ctx, "u1")
	if len(cs) != 0 {
		t.Errorf("expected no categories, got %+v", cs)
	}
	if err := env.svc.DeleteCategory(ctx, "u1", c.ID); !errors.Is(err, account.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestNotifications_MarkReadAndClear(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.init(t, "u1")
	env.svc.AddBet(ctx, "u1", betAt(now, 300, 1, model.ResultLoss, false))

	ns, _ := env.svc.ListNotifications(ctx, "u1")
	if len(ns) != 1 || ns[0].Read {
		t.Fatalf("expected one unread notification, got %+v", ns)
	}
	if err := env.svc.MarkNotificationRead(ctx, "u1", ns[0].ID); err != nil {
		t.Fatal(err)
	}
	ns, _ = env.svc.ListNotifications(ctx, "u1")
	if !ns[0].Read {
		t.Error("expected notification to be read")
	}
	if err := env.svc.MarkNotificationRead(ctx, "u1", "missing"); !errors.Is(err, account.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := env.svc.ClearNotifications(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	ns, _ = env.svc.ListNotifications(ctx, "u1")
	if len(ns) != 0 {
		t.Errorf("expected empty inbox, got %d", len(ns))
	}
}

// --- Timeline ---

func TestTimeline_IsSortedAndIdempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.init(t, "u1")

	env.svc.AddBet(ctx, "u1", betAt(now.Add(-2*time.Hour), 100, 2, model.ResultWin, false))
	env.svc.AddWithdrawal(ctx, "u1", account.WithdrawalInput{Date: now.Add(-3 * time.Hour), Amount: d(100)})

	first, err := env.svc.Timeline(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 2 || first[0].Kind != ledger.KindWithdrawal || first[1].Kind != ledger.KindBet {
		t.Fatalf("unexpected timeline %+v", first)
	}
	second, _ := env.svc.Timeline(ctx, "u1")
	for i := range first {
		if !first[i].CurrentBalance.Equal(second[i].CurrentBalance) || first[i].ID != second[i].ID {
			t.Errorf("timeline not stable at %d", i)
		}
	}
}

// --- Concurrency and atomicity ---

func TestConcurrentAdds_SameUser(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.init(t, "u1")

	base := now.Add(-24 * time.Hour)
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.svc.AddBet(ctx, "u1", betAt(base.Add(time.Duration(i)*time.Minute), 1, 1, model.ResultLoss, false))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent add: %v", err)
		}
	}

	bets, _ := env.svc.ListBets(ctx, "u1")
	if len(bets) != 20 {
		t.Fatalf("expected 20 bets, got %d", len(bets))
	}
	mustBalance(t, env.svc, "u1", 980)
	checkInvariant(t, env.store, "u1")

	days, _ := env.svc.ListDayStatuses(ctx, "u1")
	if len(days) != 1 || !days[0].Profit.Equal(d(-20)) {
		t.Errorf("unexpected day %+v", days)
	}
}

// racingStore commits a competing change right before the next commit,
// as a second service instance would.
type racingStore struct {
	*store.MemoryStore
	armed bool
}

func (s *racingStore) Commit(ctx context.Context, l *model.Ledger) error {
	if s.armed {
		s.armed = false
		rival, err := s.MemoryStore.Load(ctx, l.UserID)
		if err != nil {
			return err
		}
		rival.Categories = append(rival.Categories, model.Category{ID: "rival", UserID: l.UserID, Name: "rival"})
		if err := s.MemoryStore.Commit(ctx, rival); err != nil {
			return err
		}
	}
	return s.MemoryStore.Commit(ctx, l)
}

func TestConflict_RetriesAgainstLatestState(t *testing.T) {
	var rs *racingStore
	env := newTestEnv(t, func(m *store.MemoryStore) store.Store {
		rs = &racingStore{MemoryStore: m}
		return rs
	})
	ctx := context.Background()
	env.init(t, "u1")

	rs.armed = true
	if _, err := env.svc.AddBet(ctx, "u1", betAt(now.Add(-24*time.Hour), 100, 2, model.ResultWin, false)); err != nil {
		t.Fatalf("add bet: %v", err)
	}

	l, _ := env.store.Load(ctx, "u1")
	if len(l.Bets) != 1 || len(l.Categories) != 1 {
		t.Errorf("neither write may be dropped: %d bets, %d categories", len(l.Bets), len(l.Categories))
	}
	checkInvariant(t, env.store, "u1")
}

type conflictStore struct {
	*store.MemoryStore
	commits int
}

func (s *conflictStore) Commit(context.Context, *model.Ledger) error {
	s.commits++
	return store.ErrConflict
}

func TestConflict_GivesUpAfterRetries(t *testing.T) {
	var cs *conflictStore
	env := newTestEnv(t, func(m *store.MemoryStore) store.Store {
		cs = &conflictStore{MemoryStore: m}
		return cs
	})

	_, err := env.svc.InitializeSettings(context.Background(), "u1")
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if cs.commits != 3 {
		t.Errorf("expected 3 attempts, got %d", cs.commits)
	}
}

type failingStore struct {
	*store.MemoryStore
	fail bool
}

func (s *failingStore) Commit(ctx context.Context, l *model.Ledger) error {
	if s.fail {
		return errors.New("disk full")
	}
	return s.MemoryStore.Commit(ctx, l)
}

func TestCommitFailure_LeavesPreviousState(t *testing.T) {
	var fs *failingStore
	env := newTestEnv(t, func(m *store.MemoryStore) store.Store {
		fs = &failingStore{MemoryStore: m}
		return fs
	})
	ctx := context.Background()
	env.init(t, "u1")

	fs.fail = true
	if _, err := env.svc.AddBet(ctx, "u1", betAt(now, 300, 1, model.ResultLoss, false)); err == nil {
		t.Fatal("expected commit error")
	}
	fs.fail = false

	l, _ := env.store.Load(ctx, "u1")
	if len(l.Bets) != 0 || len(l.DayStatuses) != 0 || len(l.Notifications) != 0 {
		t.Errorf("failed commit leaked state: %+v", l)
	}
	if env.sink.count() != 0 {
		t.Errorf("notifications must not be published for a failed commit")
	}
	mustBalance(t, env.svc, "u1", 1000)
}

// --- Sweep ---

func TestReconcile_RepairsDrift(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.init(t, "u1")
	env.svc.AddBet(ctx, "u1", betAt(now.Add(-24*time.Hour), 100, 2, model.ResultWin, false))

	l, _ := env.mem.Load(ctx, "u1")
	l.Settings.CurrentBalance = d(5)
	l.Bets[0].CurrentBalance = d(0)
	if err := env.mem.Commit(ctx, l); err != nil {
		t.Fatal(err)
	}

	drifted, err := env.svc.Reconcile(ctx, "u1")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !drifted {
		t.Error("expected drift to be reported")
	}
	checkInvariant(t, env.store, "u1")
	mustBalance(t, env.svc, "u1", 1100)

	drifted, err = env.svc.Reconcile(ctx, "u1")
	if err != nil || drifted {
		t.Errorf("second reconcile should be clean, got %v / %v", drifted, err)
	}
}

func TestReconcile_RequiresSettings(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.svc.Reconcile(context.Background(), "ghost"); !errors.Is(err, ledger.ErrSettingsMissing) {
		t.Errorf("expected ErrSettingsMissing, got %v", err)
	}
}
