package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/apperr"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/db/dbtest"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/models"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/services/paystack"
)

func (f *fixture) fund(ref string, amount int64) (*models.Transaction, error) {
	return f.svc.Fund(context.Background(), FundInput{UserID: f.user.ID, Amount: decimal.NewFromInt(amount), Reference: ref})
}

func TestFund_CreditsVerifiedReferenceOnce(t *testing.T) {
	f := setup(t)
	f.gw.succeed("PSK-1", 2500)
	f.gw.results["PSK-1"].CustomerEmail = "Buyer@Test.com"

	tx, err := f.fund("PSK-1", 2500)
	if err != nil {
		t.Fatalf("Fund failed: %v", err)
	}
	if tx.Type != models.TxDeposit || tx.Status != models.TransactionStatusCompleted || tx.PaymentMethod != "paystack" {
		t.Errorf("unexpected transaction %+v", tx)
	}
	dbtest.AssertAmount(t, "balance", dbtest.Wallet(t, f.db, f.user.ID).Balance, 2500)

	if _, err := f.fund("PSK-1", 2500); !errors.Is(err, apperr.ErrDuplicateReference) {
		t.Errorf("expected ErrDuplicateReference on replay, got %v", err)
	}
	if f.gw.verifyCalls != 1 {
		t.Errorf("expected replay to stop before the gateway, got %d verifies", f.gw.verifyCalls)
	}
	dbtest.AssertAmount(t, "balance after replay", dbtest.Wallet(t, f.db, f.user.ID).Balance, 2500)
}

func TestFund_RejectsUnconfirmedPayments(t *testing.T) {
	f := setup(t)
	f.gw.succeed("PSK-short", 1000)
	f.gw.succeed("PSK-foreign", 2500)
	f.gw.results["PSK-foreign"].CustomerEmail = "someone@else.com"
	f.gw.results["PSK-open"] = &paystack.Verification{Reference: "PSK-open", Status: paystack.StatusOngoing}

	cases := []struct {
		ref  string
		want error
	}{
		{"PSK-short", apperr.ErrPaymentFailed},
		{"PSK-foreign", ErrForeignPayment},
		{"PSK-open", apperr.ErrPaymentPending},
		{"PSK-never-seen", apperr.ErrPaymentFailed},
	}
	for _, tc := range cases {
		if _, err := f.fund(tc.ref, 2500); !errors.Is(err, tc.want) {
			t.Errorf("%s: expected %v, got %v", tc.ref, tc.want, err)
		}
	}
	if _, err := f.fund("", 2500); apperr.Status(err) != 400 {
		t.Errorf("expected 400 without a reference, got %v", err)
	}
	if _, err := f.fund("PSK-tiny", 50); !errors.Is(err, apperr.ErrAmountTooSmall) {
		t.Errorf("expected ErrAmountTooSmall, got %v", err)
	}

	var n int64
	f.db.Model(&models.Transaction{}).Count(&n)
	if n != 0 {
		t.Errorf("expected no ledger rows, got %d", n)
	}
	dbtest.AssertAmount(t, "balance", dbtest.Wallet(t, f.db, f.user.ID).Balance, 0)
}
