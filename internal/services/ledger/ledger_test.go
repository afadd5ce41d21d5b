package ledger

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
)

type fixture struct {
	svc    *Service
	db     *gorm.DB
	escrow models.User
	notes  *realtime.Recorder
	events *events.Recorder
}

func setup(t *testing.T) *fixture {
	t.Helper()
	gdb := dbtest.Open(t)
	escrow := dbtest.CreateUser(t, gdb, "escrow@platform.local", 0)
	notes := realtime.NewRecorder()
	rec := &events.Recorder{}
	return &fixture{
		svc:    NewService(gdb, notes, rec, zap.NewNop(), escrow.ID),
		db:     gdb,
		escrow: escrow,
		notes:  notes,
		events: rec,
	}
}

func (f *fixture) bankAccount(t *testing.T, userID uuid.UUID) models.BankAccount {
	t.Helper()
	b := models.BankAccount{UserID: userID, BankName: "Test Bank", BankCode: "058", AccountNumber: "0123456789", AccountName: "Test User"}
	if err := f.db.Create(&b).Error; err != nil {
		t.Fatalf("Failed to create bank account: %v", err)
	}
	return b
}

func countTx(t *testing.T, gdb *gorm.DB, userID uuid.UUID) int64 {
	t.Helper()
	var n int64
	if err := gdb.Model(&models.Transaction{}).Where("user_id = ?", userID).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestFund_RejectsAmountBelowMinimum(t *testing.T) {
	f := setup(t)
	u := dbtest.CreateUser(t, f.db, "a@test.com", 0)

	_, err := f.svc.Fund(context.Background(), FundInput{UserID: u.ID, Amount: decimal.RequireFromString("99.99")})
	if !errors.Is(err, apperr.ErrAmountTooSmall) {
		t.Fatalf("expected ErrAmountTooSmall, got %v", err)
	}

	w := dbtest.Wallet(t, f.db, u.ID)
	dbtest.AssertAmount(t, "balance", w.Balance, 0)
	if n := countTx(t, f.db, u.ID); n != 0 {
		t.Errorf("expected no transactions, got %d", n)
	}
	if len(f.notes.Sent[u.ID]) != 0 {
		t.Errorf("expected no notification")
	}
}

func TestFund_CreditsWallet(t *testing.T) {
	f := setup(t)
	u := dbtest.CreateUser(t, f.db, "a@test.com", 0)

	tx, err := f.svc.Fund(context.Background(), FundInput{UserID: u.ID, Amount: decimal.NewFromInt(100), Reference: "PSK-1"})
	if err != nil {
		t.Fatalf("Fund failed: %v", err)
	}
	if tx.Status != models.TransactionStatusCompleted || tx.Type != models.TxDeposit {
		t.Errorf("unexpected transaction %s/%s", tx.Type, tx.Status)
	}

	w := dbtest.Wallet(t, f.db, u.ID)
	dbtest.AssertAmount(t, "balance", w.Balance, 100)
	dbtest.AssertAmount(t, "available", w.AvailableBalance, 100)
	if w.Version != 1 {
		t.Errorf("expected version 1, got %d", w.Version)
	}
	if len(f.notes.Sent[u.ID]) != 1 {
		t.Errorf("expected one notification, got %d", len(f.notes.Sent[u.ID]))
	}
	if f.events.Count(events.TransactionCompleted) != 1 {
		t.Errorf("expected one completed event")
	}
}

func TestFund_DuplicateReference(t *testing.T) {
	f := setup(t)
	u := dbtest.CreateUser(t, f.db, "a@test.com", 0)
	ctx := context.Background()

	if _, err := f.svc.Fund(ctx, FundInput{UserID: u.ID, Amount: decimal.NewFromInt(5000), Reference: "REF-1"}); err != nil {
		t.Fatalf("first Fund failed: %v", err)
	}
	_, err := f.svc.Fund(ctx, FundInput{UserID: u.ID, Amount: decimal.NewFromInt(5000), Reference: "REF-1"})
	if !errors.Is(err, apperr.ErrDuplicateReference) {
		t.Fatalf("expected ErrDuplicateReference, got %v", err)
	}
	if apperr.Status(err) != 409 {
		t.Errorf("expected 409, got %d", apperr.Status(err))
	}

	w := dbtest.Wallet(t, f.db, u.ID)
	dbtest.AssertAmount(t, "balance", w.Balance, 5000)
}

func TestFund_UnknownUser(t *testing.T) {
	f := setup(t)
	_, err := f.svc.Fund(context.Background(), FundInput{UserID: uuid.New(), Amount: decimal.NewFromInt(500)})
	if !errors.Is(err, apperr.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestTransfer_ConservesTotal(t *testing.T) {
	f := setup(t)
	a := dbtest.CreateUser(t, f.db, "a@test.com", 10000)
	b := dbtest.CreateUser(t, f.db, "b@test.com", 1000)

	res, err := f.svc.Transfer(context.Background(), TransferInput{SenderID: a.ID, RecipientID: b.ID, Amount: decimal.NewFromInt(2500), Note: "rent"})
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if res.Debit.Reference != res.Credit.Reference {
		t.Errorf("transfer rows must share a reference: %s vs %s", res.Debit.Reference, res.Credit.Reference)
	}

	wa := dbtest.Wallet(t, f.db, a.ID)
	wb := dbtest.Wallet(t, f.db, b.ID)
	dbtest.AssertAmount(t, "sender balance", wa.Balance, 7500)
	dbtest.AssertAmount(t, "sender available", wa.AvailableBalance, 7500)
	dbtest.AssertAmount(t, "recipient balance", wb.Balance, 3500)
	dbtest.AssertAmount(t, "recipient available", wb.AvailableBalance, 3500)
	dbtest.AssertAmount(t, "total", wa.Balance.Add(wb.Balance), 11000)
}

func TestTransfer_Rejections(t *testing.T) {
	f := setup(t)
	a := dbtest.CreateUser(t, f.db, "a@test.com", 1000)
	b := dbtest.CreateUser(t, f.db, "b@test.com", 0)
	ctx := context.Background()

	tests := []struct {
		name string
		in   TransferInput
		want error
	}{
		{"self", TransferInput{SenderID: a.ID, RecipientID: a.ID, Amount: decimal.NewFromInt(500)}, apperr.ErrSelfTransfer},
		{"unknown recipient", TransferInput{SenderID: a.ID, RecipientID: uuid.New(), Amount: decimal.NewFromInt(500)}, apperr.ErrUserNotFound},
		{"below minimum", TransferInput{SenderID: a.ID, RecipientID: b.ID, Amount: decimal.NewFromInt(50)}, apperr.ErrAmountTooSmall},
		{"insufficient", TransferInput{SenderID: a.ID, RecipientID: b.ID, Amount: decimal.NewFromInt(1001)}, apperr.ErrInsufficientBalance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Transfer(ctx, tt.in)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	dbtest.AssertAmount(t, "sender balance", dbtest.Wallet(t, f.db, a.ID).Balance, 1000)
	if n := countTx(t, f.db, a.ID); n != 0 {
		t.Errorf("expected no transactions, got %d", n)
	}
}

func TestWithdraw_HoldsFundsAndEarmarksEscrow(t *testing.T) {
	f := setup(t)
	u := dbtest.CreateUser(t, f.db, "a@test.com", 10000)
	bank := f.bankAccount(t, u.ID)

	tx, err := f.svc.Withdraw(context.Background(), WithdrawInput{UserID: u.ID, Amount: decimal.NewFromInt(3000), BankAccountID: bank.ID})
	if err != nil {
		t.Fatalf("Withdraw failed: %v", err)
	}
	if tx.Status != models.TransactionStatusPending {
		t.Errorf("expected pending, got %s", tx.Status)
	}

	w := dbtest.Wallet(t, f.db, u.ID)
	dbtest.AssertAmount(t, "balance", w.Balance, 10000)
	dbtest.AssertAmount(t, "available", w.AvailableBalance, 7000)
	dbtest.AssertAmount(t, "pending", w.PendingBalance, 3000)

	e := dbtest.Wallet(t, f.db, f.escrow.ID)
	dbtest.AssertAmount(t, "escrow pending", e.PendingBalance, 3000)
	if f.events.Count(events.TransactionPending) != 1 {
		t.Errorf("expected one pending event")
	}
}

func TestWithdraw_RejectsAmountBelowMinimum(t *testing.T) {
	f := setup(t)
	u := dbtest.CreateUser(t, f.db, "a@test.com", 10000)
	bank := f.bankAccount(t, u.ID)

	_, err := f.svc.Withdraw(context.Background(), WithdrawInput{UserID: u.ID, Amount: decimal.RequireFromString("99.99"), BankAccountID: bank.ID})
	if !errors.Is(err, apperr.ErrAmountTooSmall) {
		t.Fatalf("expected ErrAmountTooSmall, got %v", err)
	}

	w := dbtest.Wallet(t, f.db, u.ID)
	dbtest.AssertAmount(t, "balance", w.Balance, 10000)
	dbtest.AssertAmount(t, "available", w.AvailableBalance, 10000)
	dbtest.AssertAmount(t, "pending", w.PendingBalance, 0)

	var escrow models.Wallet
	err = f.db.Where("user_id = ?", f.escrow.ID).First(&escrow).Error
	if err != nil {
		t.Fatalf("Failed to load escrow wallet: %v", err)
	}
	dbtest.AssertAmount(t, "escrow balance", escrow.Balance, 0)
	dbtest.AssertAmount(t, "escrow pending", escrow.PendingBalance, 0)

	if n := countTx(t, f.db, u.ID); n != 0 {
		t.Errorf("expected no transactions, got %d", n)
	}
	if f.events.Count(events.TransactionPending) != 0 {
		t.Errorf("expected no pending event")
	}
}

func TestWithdraw_NeverOverdraws(t *testing.T) {
	f := setup(t)
	u := dbtest.CreateUser(t, f.db, "a@test.com", 10000)
	bank := f.bankAccount(t, u.ID)
	ctx := context.Background()

	if _, err := f.svc.Withdraw(ctx, WithdrawInput{UserID: u.ID, Amount: decimal.NewFromInt(6000), BankAccountID: bank.ID}); err != nil {
		t.Fatalf("first Withdraw failed: %v", err)
	}
	_, err := f.svc.Withdraw(ctx, WithdrawInput{UserID: u.ID, Amount: decimal.NewFromInt(6000), BankAccountID: bank.ID})
	if !errors.Is(err, apperr.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	w := dbtest.Wallet(t, f.db, u.ID)
	dbtest.AssertAmount(t, "available", w.AvailableBalance, 4000)
	dbtest.AssertAmount(t, "pending", w.PendingBalance, 6000)
	if w.AvailableBalance.IsNegative() || w.PendingBalance.IsNegative() || w.Balance.IsNegative() {
		t.Errorf("negative balance: %+v", w)
	}
}

func TestWithdraw_BankAccountChecks(t *testing.T) {
	f := setup(t)
	u := dbtest.CreateUser(t, f.db, "a@test.com", 10000)
	other := dbtest.CreateUser(t, f.db, "b@test.com", 0)
	foreign := f.bankAccount(t, other.ID)
	ctx := context.Background()

	_, err := f.svc.Withdraw(ctx, WithdrawInput{UserID: u.ID, Amount: decimal.NewFromInt(500), BankAccountID: foreign.ID})
	if !errors.Is(err, apperr.ErrBankAccountNotOwned) {
		t.Errorf("expected ErrBankAccountNotOwned, got %v", err)
	}
	_, err = f.svc.Withdraw(ctx, WithdrawInput{UserID: u.ID, Amount: decimal.NewFromInt(500), BankAccountID: uuid.New()})
	if !errors.Is(err, apperr.ErrBankAccountNotFound) {
		t.Errorf("expected ErrBankAccountNotFound, got %v", err)
	}
	dbtest.AssertAmount(t, "available", dbtest.Wallet(t, f.db, u.ID).AvailableBalance, 10000)
}

func TestGetTransactions_Pagination(t *testing.T) {
	f := setup(t)
	u := dbtest.CreateUser(t, f.db, "a@test.com", 0)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		if _, err := f.svc.Fund(ctx, FundInput{UserID: u.ID, Amount: decimal.NewFromInt(100)}); err != nil {
			t.Fatalf("Fund %d failed: %v", i, err)
		}
	}

	page, err := f.svc.GetTransactions(ctx, u.ID, Filter{})
	if err != nil {
		t.Fatalf("GetTransactions failed: %v", err)
	}
	if page.Total != 25 || len(page.Items) != DefaultPageSize {
		t.Errorf("expected 25 total and %d items, got %d/%d", DefaultPageSize, page.Total, len(page.Items))
	}

	page, err = f.svc.GetTransactions(ctx, u.ID, Filter{Page: 2, Limit: 500})
	if err != nil {
		t.Fatalf("GetTransactions failed: %v", err)
	}
	if page.Limit != MaxPageSize || len(page.Items) != 0 {
		t.Errorf("expected clamped limit and empty page 2, got limit %d items %d", page.Limit, len(page.Items))
	}

	page, err = f.svc.GetTransactions(ctx, u.ID, Filter{Type: models.TxWithdrawal})
	if err != nil {
		t.Fatalf("GetTransactions failed: %v", err)
	}
	if page.Total != 0 {
		t.Errorf("expected no withdrawals, got %d", page.Total)
	}
}

func TestReconcile_Balanced(t *testing.T) {
	f := setup(t)
	a := dbtest.CreateUser(t, f.db, "a@test.com", 0)
	b := dbtest.CreateUser(t, f.db, "b@test.com", 0)
	bank := f.bankAccount(t, a.ID)
	ctx := context.Background()

	if _, err := f.svc.Fund(ctx, FundInput{UserID: a.ID, Amount: decimal.NewFromInt(10000)}); err != nil {
		t.Fatalf("Fund failed: %v", err)
	}
	if _, err := f.svc.Transfer(ctx, TransferInput{SenderID: a.ID, RecipientID: b.ID, Amount: decimal.NewFromInt(1500)}); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if _, err := f.svc.Withdraw(ctx, WithdrawInput{UserID: a.ID, Amount: decimal.NewFromInt(2000), BankAccountID: bank.ID}); err != nil {
		t.Fatalf("Withdraw failed: %v", err)
	}

	rec, err := f.svc.Reconcile(ctx, a.ID)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if !rec.Balanced {
		t.Errorf("expected balanced wallet, got %+v", rec)
	}
	dbtest.AssertAmount(t, "expected available", rec.ExpectedAvailable, 6500)
	dbtest.AssertAmount(t, "expected pending", rec.ExpectedPending, 2000)
}

func TestBootstrapSystemAccount_Idempotent(t *testing.T) {
	gdb := dbtest.Open(t)
	ctx := context.Background()

	id1, err := BootstrapSystemAccount(ctx, gdb, "", "system@platform.local")
	if err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	id2, err := BootstrapSystemAccount(ctx, gdb, "", "system@platform.local")
	if err != nil {
		t.Fatalf("second bootstrap failed: %v", err)
	}
	if id1 != id2 {
		t.Errorf("expected same account, got %s and %s", id1, id2)
	}
	id3, err := BootstrapSystemAccount(ctx, gdb, id1.String(), "")
	if err != nil || id3 != id1 {
		t.Errorf("configured id lookup failed: %v", err)
	}
	dbtest.Wallet(t, gdb, id1)
}
