package withdrawal

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/apperr"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/db/dbtest"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/events"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/models"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/realtime"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/services/ledger"
)

type fixture struct {
	wf     *Workflow
	db     *gorm.DB
	escrow uuid.UUID
	admin  uuid.UUID
	user   models.User
	bank   models.BankAccount
}

func setup(t *testing.T, balance int64) *fixture {
	t.Helper()
	gdb := dbtest.Open(t)
	escrow := dbtest.CreateUser(t, gdb, "escrow@platform.local", 0)
	admin := dbtest.CreateUser(t, gdb, "admin@test.com", 0)
	user := dbtest.CreateUser(t, gdb, "user@test.com", balance)

	bank := models.BankAccount{UserID: user.ID, BankName: "Test Bank", AccountNumber: "0123456789", AccountName: "User"}
	if err := gdb.Create(&bank).Error; err != nil {
		t.Fatalf("Failed to create bank account: %v", err)
	}

	l := ledger.NewService(gdb, realtime.NewRecorder(), &events.Recorder{}, zap.NewNop(), escrow.ID)
	return &fixture{
		wf:     NewWorkflow(gdb, l, zap.NewNop()),
		db:     gdb,
		escrow: escrow.ID,
		admin:  admin.ID,
		user:   user,
		bank:   bank,
	}
}

func (f *fixture) create(t *testing.T, amount int64) *models.Transaction {
	t.Helper()
	tx, err := f.wf.Create(context.Background(), ledger.WithdrawInput{
		UserID:        f.user.ID,
		Amount:        decimal.NewFromInt(amount),
		BankAccountID: f.bank.ID,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return tx
}

func TestReject_RestoresBalances(t *testing.T) {
	f := setup(t, 10000)
	before := dbtest.Wallet(t, f.db, f.user.ID)
	tx := f.create(t, 4000)

	got, err := f.wf.Reject(context.Background(), tx.ID, f.admin, "account name mismatch")
	if err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if got.Status != models.TransactionStatusFailed {
		t.Errorf("expected failed, got %s", got.Status)
	}

	after := dbtest.Wallet(t, f.db, f.user.ID)
	if !after.Balance.Equal(before.Balance) || !after.AvailableBalance.Equal(before.AvailableBalance) || !after.PendingBalance.Equal(before.PendingBalance) {
		t.Errorf("balances not restored: before %+v after %+v", before, after)
	}
	dbtest.AssertAmount(t, "escrow pending", dbtest.Wallet(t, f.db, f.escrow).PendingBalance, 0)

	var refund models.Transaction
	if err := f.db.Where("reference = ? AND type = ?", tx.Reference+"-RFD", models.TxRefund).First(&refund).Error; err != nil {
		t.Fatalf("refund memo not found: %v", err)
	}
	if refund.Status != models.TransactionStatusCompleted || refund.Direction != models.DirectionMemo {
		t.Errorf("unexpected refund row %s/%s", refund.Status, refund.Direction)
	}
}

func TestReject_RequiresNote(t *testing.T) {
	f := setup(t, 10000)
	tx := f.create(t, 4000)

	_, err := f.wf.Reject(context.Background(), tx.ID, f.admin, "   ")
	if !errors.Is(err, apperr.ErrRejectionNoteRequired) {
		t.Fatalf("expected ErrRejectionNoteRequired, got %v", err)
	}
	dbtest.AssertAmount(t, "pending", dbtest.Wallet(t, f.db, f.user.ID).PendingBalance, 4000)
}

func TestApprove_SettlesPayout(t *testing.T) {
	f := setup(t, 10000)
	tx := f.create(t, 4000)

	got, err := f.wf.Approve(context.Background(), tx.ID, f.admin)
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if got.Status != models.TransactionStatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}

	w := dbtest.Wallet(t, f.db, f.user.ID)
	dbtest.AssertAmount(t, "balance", w.Balance, 6000)
	dbtest.AssertAmount(t, "available", w.AvailableBalance, 6000)
	dbtest.AssertAmount(t, "pending", w.PendingBalance, 0)

	e := dbtest.Wallet(t, f.db, f.escrow)
	dbtest.AssertAmount(t, "escrow pending", e.PendingBalance, 0)
	dbtest.AssertAmount(t, "escrow balance", e.Balance, 4000)

	var n int64
	f.db.Model(&models.Transaction{}).Where("user_id = ? AND reference = ? AND status = ?", f.escrow, tx.Reference, models.TransactionStatusCompleted).Count(&n)
	if n != 1 {
		t.Errorf("expected one escrow payout row, got %d", n)
	}
}

func TestTerminalStatesRejectTransitions(t *testing.T) {
	f := setup(t, 10000)
	ctx := context.Background()
	approved := f.create(t, 1000)
	rejected := f.create(t, 1000)

	if _, err := f.wf.Approve(ctx, approved.ID, f.admin); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if _, err := f.wf.Reject(ctx, rejected.ID, f.admin, "duplicate"); err != nil {
		t.Fatalf("Reject failed: %v", err)
	}

	for _, id := range []uuid.UUID{approved.ID, rejected.ID} {
		if _, err := f.wf.Approve(ctx, id, f.admin); !errors.Is(err, apperr.ErrNotPending) {
			t.Errorf("Approve %s: expected ErrNotPending, got %v", id, err)
		}
		if _, err := f.wf.Reject(ctx, id, f.admin, "again"); !errors.Is(err, apperr.ErrNotPending) {
			t.Errorf("Reject %s: expected ErrNotPending, got %v", id, err)
		}
	}

	w := dbtest.Wallet(t, f.db, f.user.ID)
	dbtest.AssertAmount(t, "balance", w.Balance, 9000)
	dbtest.AssertAmount(t, "available", w.AvailableBalance, 9000)
}

func TestApprove_EscrowShortHold(t *testing.T) {
	f := setup(t, 10000)
	tx := f.create(t, 4000)

	if err := f.db.Model(&models.Wallet{}).Where("user_id = ?", f.escrow).Update("pending_balance", decimal.NewFromInt(1000)).Error; err != nil {
		t.Fatalf("update escrow: %v", err)
	}

	_, err := f.wf.Approve(context.Background(), tx.ID, f.admin)
	if !errors.Is(err, apperr.ErrEscrowInsufficientHold) {
		t.Fatalf("expected ErrEscrowInsufficientHold, got %v", err)
	}
	var reloaded models.Transaction
	f.db.First(&reloaded, "id = ?", tx.ID)
	if reloaded.Status != models.TransactionStatusPending {
		t.Errorf("expected pending after failed approval, got %s", reloaded.Status)
	}
	dbtest.AssertAmount(t, "user pending", dbtest.Wallet(t, f.db, f.user.ID).PendingBalance, 4000)
}

func TestApprove_NotAWithdrawal(t *testing.T) {
	f := setup(t, 0)
	l := f.wf.Ledger
	dep, err := l.Fund(context.Background(), ledger.FundInput{UserID: f.user.ID, Amount: decimal.NewFromInt(500)})
	if err != nil {
		t.Fatalf("Fund failed: %v", err)
	}
	if _, err := f.wf.Approve(context.Background(), dep.ID, f.admin); !errors.Is(err, apperr.ErrNotWithdrawal) {
		t.Errorf("expected ErrNotWithdrawal, got %v", err)
	}
	if _, err := f.wf.Approve(context.Background(), uuid.New(), f.admin); !errors.Is(err, apperr.ErrTransactionNotFound) {
		t.Errorf("expected ErrTransactionNotFound, got %v", err)
	}
}

// fund 5000, withdraw 2000, approve.
func TestFundWithdrawApproveScenario(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()

	if _, err := f.wf.Ledger.Fund(ctx, ledger.FundInput{UserID: f.user.ID, Amount: decimal.NewFromInt(5000)}); err != nil {
		t.Fatalf("Fund failed: %v", err)
	}
	w := dbtest.Wallet(t, f.db, f.user.ID)
	dbtest.AssertAmount(t, "balance after fund", w.Balance, 5000)
	dbtest.AssertAmount(t, "available after fund", w.AvailableBalance, 5000)

	tx := f.create(t, 2000)
	w = dbtest.Wallet(t, f.db, f.user.ID)
	dbtest.AssertAmount(t, "available after withdraw", w.AvailableBalance, 3000)
	dbtest.AssertAmount(t, "pending after withdraw", w.PendingBalance, 2000)
	dbtest.AssertAmount(t, "escrow pending", dbtest.Wallet(t, f.db, f.escrow).PendingBalance, 2000)

	if _, err := f.wf.Approve(ctx, tx.ID, f.admin); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	w = dbtest.Wallet(t, f.db, f.user.ID)
	dbtest.AssertAmount(t, "balance after approve", w.Balance, 3000)
	dbtest.AssertAmount(t, "available after approve", w.AvailableBalance, 3000)
	dbtest.AssertAmount(t, "pending after approve", w.PendingBalance, 0)
	dbtest.AssertAmount(t, "escrow pending after approve", dbtest.Wallet(t, f.db, f.escrow).PendingBalance, 0)

	rec, err := f.wf.Ledger.Reconcile(ctx, f.user.ID)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if !rec.Balanced {
		t.Errorf("expected balanced ledger, got %+v", rec)
	}
}

func TestListPending(t *testing.T) {
	f := setup(t, 10000)
	first := f.create(t, 1000)
	f.create(t, 1000)

	if _, err := f.wf.Approve(context.Background(), first.ID, f.admin); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	page, err := f.wf.ListPending(context.Background(), ledger.Filter{})
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if page.Total != 1 {
		t.Errorf("expected 1 pending withdrawal, got %d", page.Total)
	}
}

func TestReconcile_EscrowTracksOpenHolds(t *testing.T) {
	f := setup(t, 10000)
	ctx := context.Background()
	l := f.wf.Ledger

	paid := f.create(t, 3000)
	f.create(t, 2000)
	rejected := f.create(t, 1000)
	if _, err := f.wf.Approve(ctx, paid.ID, f.admin); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if _, err := f.wf.Reject(ctx, rejected.ID, f.admin, "wrong account"); err != nil {
		t.Fatalf("Reject failed: %v", err)
	}

	rec, err := l.Reconcile(ctx, f.escrow)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if !rec.Balanced {
		t.Errorf("expected balanced escrow wallet, got %+v", rec)
	}
	dbtest.AssertAmount(t, "expected balance", rec.ExpectedBalance, 3000)
	dbtest.AssertAmount(t, "expected available", rec.ExpectedAvailable, 0)
	dbtest.AssertAmount(t, "expected pending", rec.ExpectedPending, 2000)

	// a hold moved outside the workflow shows up as drift
	if err := f.db.Model(&models.Wallet{}).Where("user_id = ?", f.escrow).Update("pending_balance", decimal.NewFromInt(500)).Error; err != nil {
		t.Fatalf("Failed to tamper with escrow wallet: %v", err)
	}
	rec, err = l.Reconcile(ctx, f.escrow)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if rec.Balanced {
		t.Errorf("expected drift to be reported, got %+v", rec)
	}
}
