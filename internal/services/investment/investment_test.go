package investment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/apperr"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/config"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/db/dbtest"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/events"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/models"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/realtime"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/services/ledger"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/services/payment"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/services/referral"
)

var start = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	gdb := dbtest.Open(t)
	system := dbtest.CreateUser(t, gdb, "system@platform.local", 0)
	l := ledger.NewService(gdb, realtime.NewRecorder(), &events.Recorder{}, zap.NewNop(), system.ID)
	engine := referral.NewEngine(gdb, l, config.DefaultCommission(), system.ID, zap.NewNop())
	s := NewService(gdb, l, engine, zap.NewNop())
	s.Now = func() time.Time { return start }
	return s, gdb
}

func monthlyPlan(t *testing.T, s *Service) *models.InvestmentPlan {
	t.Helper()
	p, err := s.CreatePlan(context.Background(), PlanInput{
		Name:            "Quarterly Lagos Rentals",
		MinAmount:       decimal.NewFromInt(10000),
		MaxAmount:       decimal.NewFromInt(1000000),
		ROIPercent:      decimal.NewFromInt(12),
		DurationDays:    90,
		PayoutFrequency: models.PayoutMonthly,
	})
	if err != nil {
		t.Fatalf("CreatePlan failed: %v", err)
	}
	return p
}

func fund(t *testing.T, s *Service, userID uuid.UUID, amount int64) {
	t.Helper()
	if _, err := s.Ledger.Fund(context.Background(), ledger.FundInput{UserID: userID, Amount: decimal.NewFromInt(amount)}); err != nil {
		t.Fatalf("Fund failed: %v", err)
	}
}

func TestCreatePlan_Validation(t *testing.T) {
	s, _ := setup(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   PlanInput
	}{
		{"no name", PlanInput{MinAmount: decimal.NewFromInt(100), MaxAmount: decimal.NewFromInt(200), ROIPercent: decimal.NewFromInt(5), DurationDays: 30}},
		{"max below min", PlanInput{Name: "x", MinAmount: decimal.NewFromInt(500), MaxAmount: decimal.NewFromInt(200), ROIPercent: decimal.NewFromInt(5), DurationDays: 30}},
		{"zero roi", PlanInput{Name: "x", MinAmount: decimal.NewFromInt(100), MaxAmount: decimal.NewFromInt(200), DurationDays: 30}},
		{"zero duration", PlanInput{Name: "x", MinAmount: decimal.NewFromInt(100), MaxAmount: decimal.NewFromInt(200), ROIPercent: decimal.NewFromInt(5)}},
		{"bad frequency", PlanInput{Name: "x", MinAmount: decimal.NewFromInt(100), MaxAmount: decimal.NewFromInt(200), ROIPercent: decimal.NewFromInt(5), DurationDays: 30, PayoutFrequency: "weekly"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := s.CreatePlan(ctx, tc.in); apperr.Status(err) != 400 {
				t.Errorf("expected 400, got %v", err)
			}
		})
	}

	p := monthlyPlan(t, s)
	plans, err := s.ListPlans(ctx, true)
	if err != nil || len(plans) != 1 || plans[0].ID != p.ID {
		t.Fatalf("expected the plan to be listed, got %v %v", plans, err)
	}
}

func TestInvest_DebitsWalletAndPaysCommission(t *testing.T) {
	s, gdb := setup(t)
	referrer := dbtest.CreateUser(t, gdb, "referrer@test.com", 0)
	investor := dbtest.CreateUser(t, gdb, "investor@test.com", 0)
	dbtest.Refer(t, gdb, referrer.ID, investor.ID)
	fund(t, s, investor.ID, 150000)
	p := monthlyPlan(t, s)

	inv, err := s.Invest(context.Background(), investor.ID, p.ID, decimal.NewFromInt(100000))
	if err != nil {
		t.Fatalf("Invest failed: %v", err)
	}
	if inv.Status != models.InvestmentActive || inv.PayoutsTotal != 3 {
		t.Errorf("expected active with 3 payouts, got %s/%d", inv.Status, inv.PayoutsTotal)
	}
	dbtest.AssertAmount(t, "expected return", inv.ExpectedReturn, 12000)
	if !inv.NextPayoutAt.Equal(start.Add(30 * 24 * time.Hour)) {
		t.Errorf("unexpected first payout date %v", inv.NextPayoutAt)
	}

	w := dbtest.Wallet(t, gdb, investor.ID)
	dbtest.AssertAmount(t, "investor balance", w.Balance, 50000)
	dbtest.AssertAmount(t, "investor available", w.AvailableBalance, 50000)
	dbtest.AssertAmount(t, "referrer balance", dbtest.Wallet(t, gdb, referrer.ID).Balance, 10000)

	var debit models.Transaction
	if err := gdb.Where("investment_id = ? AND direction = ?", inv.ID, models.DirectionDebit).First(&debit).Error; err != nil {
		t.Fatalf("Failed to find investment debit: %v", err)
	}
	if debit.Type != models.TxInvestment || debit.Status != models.TransactionStatusCompleted {
		t.Errorf("unexpected debit row %s/%s", debit.Type, debit.Status)
	}
}

func TestInvest_Rejections(t *testing.T) {
	s, gdb := setup(t)
	investor := dbtest.CreateUser(t, gdb, "investor@test.com", 5000)
	p := monthlyPlan(t, s)
	ctx := context.Background()

	if _, err := s.Invest(ctx, investor.ID, p.ID, decimal.NewFromInt(500)); !errors.Is(err, apperr.ErrAmountOutOfRange) {
		t.Errorf("expected ErrAmountOutOfRange, got %v", err)
	}
	if _, err := s.Invest(ctx, investor.ID, p.ID, decimal.NewFromInt(20000)); !errors.Is(err, apperr.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
	if _, err := s.Invest(ctx, investor.ID, uuid.New(), decimal.NewFromInt(20000)); apperr.Status(err) != 404 {
		t.Errorf("expected 404 for unknown plan, got %v", err)
	}

	gdb.Model(p).Update("is_active", false)
	if _, err := s.Invest(ctx, investor.ID, p.ID, decimal.NewFromInt(20000)); !errors.Is(err, apperr.ErrPlanInactive) {
		t.Errorf("expected ErrPlanInactive, got %v", err)
	}
	dbtest.AssertAmount(t, "balance", dbtest.Wallet(t, gdb, investor.ID).Balance, 5000)
}

func TestProcessDuePayouts_MonthlyToMaturity(t *testing.T) {
	s, gdb := setup(t)
	investor := dbtest.CreateUser(t, gdb, "investor@test.com", 0)
	fund(t, s, investor.ID, 100000)
	p := monthlyPlan(t, s)
	ctx := context.Background()

	inv, err := s.Invest(ctx, investor.ID, p.ID, decimal.NewFromInt(100000))
	if err != nil {
		t.Fatalf("Invest failed: %v", err)
	}

	if n, err := s.ProcessDuePayouts(ctx, start.Add(24*time.Hour)); err != nil || n != 0 {
		t.Fatalf("expected nothing due, got %d %v", n, err)
	}

	n, err := s.ProcessDuePayouts(ctx, start.Add(31*24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("expected one payout, got %d %v", n, err)
	}
	dbtest.AssertAmount(t, "after first payout", dbtest.Wallet(t, gdb, investor.ID).Balance, 4000)

	// both remaining installments are overdue
	n, err = s.ProcessDuePayouts(ctx, start.Add(100*24*time.Hour))
	if err != nil || n != 2 {
		t.Fatalf("expected two payouts, got %d %v", n, err)
	}
	dbtest.AssertAmount(t, "after maturity", dbtest.Wallet(t, gdb, investor.ID).Balance, 112000)

	var got models.UserInvestment
	gdb.First(&got, "id = ?", inv.ID)
	if got.Status != models.InvestmentCompleted || got.PayoutsMade != 3 || got.NextPayoutAt != nil {
		t.Errorf("expected completed investment, got %s %d %v", got.Status, got.PayoutsMade, got.NextPayoutAt)
	}
	dbtest.AssertAmount(t, "actual return", got.ActualReturn, 12000)

	if n, _ := s.ProcessDuePayouts(ctx, start.Add(200*24*time.Hour)); n != 0 {
		t.Errorf("completed investment must not pay again, paid %d", n)
	}

	schedule, err := s.Schedule(ctx, investor.ID, inv.ID)
	if err != nil || len(schedule) != 3 {
		t.Fatalf("expected 3 scheduled payouts, got %v %v", schedule, err)
	}
	dbtest.AssertAmount(t, "final installment", schedule[2].Amount, 104000)
	if !schedule[2].Principal || !schedule[0].Paid || !schedule[2].Paid {
		t.Errorf("unexpected schedule %+v", schedule)
	}

	rec, err := s.Ledger.Reconcile(ctx, investor.ID)
	if err != nil || !rec.Balanced {
		t.Errorf("expected balanced ledger, got %+v %v", rec, err)
	}
}

func TestSchedule_OtherUsersInvestment(t *testing.T) {
	s, gdb := setup(t)
	investor := dbtest.CreateUser(t, gdb, "investor@test.com", 50000)
	other := dbtest.CreateUser(t, gdb, "other@test.com", 0)
	p := monthlyPlan(t, s)

	inv, err := s.Invest(context.Background(), investor.ID, p.ID, decimal.NewFromInt(30000))
	if err != nil {
		t.Fatalf("Invest failed: %v", err)
	}
	if _, err := s.Schedule(context.Background(), other.ID, inv.ID); apperr.Status(err) != 404 {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestGatewayInvestment_ActivateAndCancel(t *testing.T) {
	s, gdb := setup(t)
	investor := dbtest.CreateUser(t, gdb, "investor@test.com", 0)
	p := monthlyPlan(t, s)
	pid := p.ID

	prepare := func() *models.Transaction {
		tx := &models.Transaction{UserID: investor.ID, Type: models.TxInvestment, Direction: models.DirectionDebit}
		if err := s.Prepare(gdb, tx, payment.Intent{Type: models.TxInvestment, PlanID: &pid, Amount: decimal.NewFromInt(20000)}); err != nil {
			t.Fatalf("Prepare failed: %v", err)
		}
		return tx
	}
	load := func(id uuid.UUID) models.UserInvestment {
		var inv models.UserInvestment
		if err := gdb.First(&inv, "id = ?", id).Error; err != nil {
			t.Fatalf("Failed to load investment: %v", err)
		}
		return inv
	}

	failed := prepare()
	if got := load(*failed.InvestmentID); got.Status != models.InvestmentPending || got.FundingSource != models.FundingGateway {
		t.Fatalf("expected pending gateway investment, got %s/%s", got.Status, got.FundingSource)
	}
	if err := s.Fail(gdb, failed); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if got := load(*failed.InvestmentID); got.Status != models.InvestmentCancelled {
		t.Errorf("expected cancelled, got %s", got.Status)
	}

	paid := prepare()
	dbtest.AssertAmount(t, "checkout amount", paid.Amount, 20000)
	if err := s.Fulfill(gdb, paid); err != nil {
		t.Fatalf("Fulfill: %v", err)
	}
	got := load(*paid.InvestmentID)
	if got.Status != models.InvestmentActive || got.NextPayoutAt == nil {
		t.Errorf("expected active with a payout date, got %s", got.Status)
	}
	if err := s.Fulfill(gdb, paid); !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("expected second Fulfill to fail, got %v", err)
	}
}

func TestApproveAndCancel(t *testing.T) {
	s, gdb := setup(t)
	admin := dbtest.CreateUser(t, gdb, "admin@test.com", 0)
	investor := dbtest.CreateUser(t, gdb, "investor@test.com", 0)
	fund(t, s, investor.ID, 40000)
	p := monthlyPlan(t, s)
	pid := p.ID
	ctx := context.Background()

	pending := &models.Transaction{UserID: investor.ID}
	if err := s.Prepare(gdb, pending, payment.Intent{PlanID: &pid, Amount: decimal.NewFromInt(15000)}); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	approved, err := s.Approve(ctx, *pending.InvestmentID, admin.ID)
	if err != nil || approved.Status != models.InvestmentActive {
		t.Fatalf("Approve failed: %v", err)
	}
	if _, err := s.Approve(ctx, approved.ID, admin.ID); !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState on second approve, got %v", err)
	}

	inv, err := s.Invest(ctx, investor.ID, p.ID, decimal.NewFromInt(40000))
	if err != nil {
		t.Fatalf("Invest failed: %v", err)
	}
	dbtest.AssertAmount(t, "after invest", dbtest.Wallet(t, gdb, investor.ID).Balance, 0)

	cancelled, err := s.Cancel(ctx, inv.ID, admin.ID)
	if err != nil || cancelled.Status != models.InvestmentCancelled {
		t.Fatalf("Cancel failed: %v", err)
	}
	dbtest.AssertAmount(t, "after refund", dbtest.Wallet(t, gdb, investor.ID).Balance, 40000)
	if _, err := s.Cancel(ctx, inv.ID, admin.ID); !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState on second cancel, got %v", err)
	}

	rec, err := s.Ledger.Reconcile(ctx, investor.ID)
	if err != nil || !rec.Balanced {
		t.Errorf("expected balanced ledger, got %+v %v", rec, err)
	}
}

func TestCancel_AfterPayoutRefused(t *testing.T) {
	s, gdb := setup(t)
	investor := dbtest.CreateUser(t, gdb, "investor@test.com", 50000)
	p := monthlyPlan(t, s)
	ctx := context.Background()

	inv, err := s.Invest(ctx, investor.ID, p.ID, decimal.NewFromInt(30000))
	if err != nil {
		t.Fatalf("Invest failed: %v", err)
	}
	if _, err := s.ProcessDuePayouts(ctx, start.Add(31*24*time.Hour)); err != nil {
		t.Fatalf("ProcessDuePayouts failed: %v", err)
	}
	if _, err := s.Cancel(ctx, inv.ID, investor.ID); !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}

func TestGatewayInvestment_Revive(t *testing.T) {
	s, gdb := setup(t)
	investor := dbtest.CreateUser(t, gdb, "investor@test.com", 0)
	p := monthlyPlan(t, s)
	pid := p.ID

	prepare := func() *models.Transaction {
		tx := &models.Transaction{UserID: investor.ID, Type: models.TxInvestment, Direction: models.DirectionDebit}
		if err := s.Prepare(gdb, tx, payment.Intent{Type: models.TxInvestment, PlanID: &pid, Amount: decimal.NewFromInt(20000)}); err != nil {
			t.Fatalf("Prepare failed: %v", err)
		}
		return tx
	}
	status := func(id uuid.UUID) models.InvestmentStatus {
		var inv models.UserInvestment
		if err := gdb.First(&inv, "id = ?", id).Error; err != nil {
			t.Fatalf("Failed to load investment: %v", err)
		}
		return inv.Status
	}

	late := prepare()
	if err := s.Fail(gdb, late); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if err := s.Revive(gdb, late); err != nil {
		t.Fatalf("Revive: %v", err)
	}
	if got := status(*late.InvestmentID); got != models.InvestmentPending {
		t.Fatalf("expected pending after revive, got %s", got)
	}
	if err := s.Fulfill(gdb, late); err != nil {
		t.Fatalf("Fulfill: %v", err)
	}
	if got := status(*late.InvestmentID); got != models.InvestmentActive {
		t.Errorf("expected active, got %s", got)
	}

	// cancelled by an admin while the checkout was open
	dropped := prepare()
	if _, err := s.Cancel(context.Background(), *dropped.InvestmentID, uuid.New()); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := s.Fulfill(gdb, dropped); !errors.Is(err, apperr.ErrReservationLost) {
		t.Errorf("expected ErrReservationLost, got %v", err)
	}

	closed := prepare()
	if err := s.Fail(gdb, closed); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	gdb.Model(&models.InvestmentPlan{}).Where("id = ?", pid).Update("is_active", false)
	if err := s.Revive(gdb, closed); !errors.Is(err, apperr.ErrReservationLost) {
		t.Errorf("inactive plan: expected ErrReservationLost, got %v", err)
	}
}
