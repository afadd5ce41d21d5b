package investment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/apperr"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/events"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/metrics"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/models"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/realtime"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/services/ledger"
)

// ScheduledPayout is one installment of an investment's return.
type ScheduledPayout struct {
	Number    int             `json:"number"`
	DueAt     time.Time       `json:"due_at"`
	Amount    decimal.Decimal `json:"amount"`
	Principal bool            `json:"includes_principal"`
	Paid      bool            `json:"paid"`
}

// Schedule lists every payout of an active or finished investment.
func (s *Service) Schedule(ctx context.Context, userID, id uuid.UUID) ([]ScheduledPayout, error) {
	var inv models.UserInvestment
	err := s.DB.WithContext(ctx).First(&inv, "id = ? AND user_id = ?", id, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("investment not found")
	}
	if err != nil {
		return nil, err
	}
	if inv.StartDate == nil || inv.EndDate == nil {
		return []ScheduledPayout{}, nil
	}

	out := make([]ScheduledPayout, 0, inv.PayoutsTotal)
	for n := 1; n <= inv.PayoutsTotal; n++ {
		due := inv.StartDate.Add(time.Duration(n) * payoutPeriod)
		if n == inv.PayoutsTotal {
			due = *inv.EndDate
		}
		out = append(out, ScheduledPayout{
			Number:    n,
			DueAt:     due,
			Amount:    installment(&inv, n),
			Principal: n == inv.PayoutsTotal,
			Paid:      n <= inv.PayoutsMade,
		})
	}
	return out, nil
}

// installment returns what payout n pays. The last one carries the rounding
// remainder of the return plus the principal.
func installment(inv *models.UserInvestment, n int) decimal.Decimal {
	total := decimal.NewFromInt(int64(inv.PayoutsTotal))
	each := inv.ExpectedReturn.Div(total).RoundDown(2)
	if n < inv.PayoutsTotal {
		return each
	}
	rest := inv.ExpectedReturn.Sub(each.Mul(total.Sub(decimal.NewFromInt(1))))
	return rest.Add(inv.Amount)
}

// ProcessDuePayouts pays every installment due at or before now and returns
// how many were paid. A failing investment is logged and skipped.
func (s *Service) ProcessDuePayouts(ctx context.Context, now time.Time) (int, error) {
	var due []uuid.UUID
	err := s.DB.WithContext(ctx).Model(&models.UserInvestment{}).
		Where("status = ? AND next_payout_at IS NOT NULL AND next_payout_at <= ?", models.InvestmentActive, now).
		Order("next_payout_at ASC").
		Pluck("id", &due).Error
	if err != nil {
		return 0, err
	}

	paid := 0
	for _, id := range due {
		for {
			t, err := s.payNext(ctx, id, now)
			metrics.LedgerOperations.WithLabelValues("investment_payout", metrics.Outcome(err)).Inc()
			if err != nil {
				s.Log.Error("Investment payout failed", zap.String("investment_id", id.String()), zap.Error(err))
				break
			}
			if t == nil {
				break
			}
			paid++
		}
	}
	return paid, nil
}

// payNext pays the next installment of id when it is due; it returns nil
// when nothing is due.
func (s *Service) payNext(ctx context.Context, id uuid.UUID, now time.Time) (*models.Transaction, error) {
	var (
		t   *models.Transaction
		inv *models.UserInvestment
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		inv, err = lockInvestment(tx, id)
		if err != nil {
			return err
		}
		if inv.Status != models.InvestmentActive || inv.NextPayoutAt == nil || inv.NextPayoutAt.After(now) {
			return nil
		}

		n := inv.PayoutsMade + 1
		amount := installment(inv, n)
		final := n >= inv.PayoutsTotal

		w, err := s.Ledger.FindOrCreateWallet(tx, inv.UserID)
		if err != nil {
			return err
		}
		iid := inv.ID
		t = &models.Transaction{
			UserID:       inv.UserID,
			WalletID:     &w.ID,
			Type:         models.TxInvestment,
			Direction:    models.DirectionCredit,
			Amount:       amount,
			Status:       models.TransactionStatusCompleted,
			Reference:    fmt.Sprintf("ROI-%s-%d", inv.ID, n),
			Description:  fmt.Sprintf("Return %d of %d on %s", n, inv.PayoutsTotal, inv.Plan.Name),
			InvestmentID: &iid,
			Metadata: ledger.Metadata(map[string]interface{}{
				"payout_number":      n,
				"includes_principal": final,
			}),
		}
		if err := s.Ledger.CreateTransaction(tx, t); err != nil {
			return err
		}
		if err := s.Ledger.Credit(tx, inv.UserID, amount); err != nil {
			return err
		}

		returned := amount
		if final {
			returned = amount.Sub(inv.Amount)
		}
		inv.PayoutsMade = n
		inv.ActualReturn = inv.ActualReturn.Add(returned)
		if final {
			inv.Status = models.InvestmentCompleted
			inv.NextPayoutAt = nil
		} else {
			next := inv.NextPayoutAt.Add(payoutPeriod)
			if n+1 == inv.PayoutsTotal || next.After(*inv.EndDate) {
				next = *inv.EndDate
			}
			inv.NextPayoutAt = &next
		}
		return tx.Model(inv).Select("payouts_made", "actual_return", "status", "next_payout_at").Updates(inv).Error
	})
	if err != nil || t == nil {
		return nil, err
	}

	s.Log.Info("Investment payout",
		zap.String("investment_id", id.String()),
		zap.String("reference", t.Reference),
		zap.String("amount", t.Amount.StringFixed(2)))

	msg := realtime.Message{
		Kind:    "investment_payout",
		Title:   "Investment return paid",
		Message: fmt.Sprintf("NGN %s was credited to your wallet", t.Amount.StringFixed(2)),
		Data:    map[string]interface{}{"investment_id": id.String(), "reference": t.Reference},
	}
	if inv.Status == models.InvestmentCompleted {
		msg.Kind = "investment_completed"
		msg.Title = "Investment matured"
	}
	s.Ledger.After(ctx, t, events.TransactionCompleted, msg)
	return t, nil
}

// Run processes due payouts every interval until ctx is done.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Log.Info("Investment payout runner started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			s.Log.Info("Investment payout runner stopped")
			return
		case <-ticker.C:
			n, err := s.ProcessDuePayouts(ctx, s.Now().UTC())
			if err != nil {
				s.Log.Error("Processing due payouts failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.Log.Info("Processed due payouts", zap.Int("count", n))
			}
		}
	}
}
