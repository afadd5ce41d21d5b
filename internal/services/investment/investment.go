// Package investment sells investment plans and pays their returns.
package investment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/apperr"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/events"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/metrics"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/models"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/realtime"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/services/ledger"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/services/payment"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/services/referral"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/utils"
)

// payoutPeriod is the interval between monthly payouts.
const payoutPeriod = 30 * 24 * time.Hour

type Service struct {
	DB          *gorm.DB
	Ledger      *ledger.Service
	Commissions payment.Commissioner
	Log         *zap.Logger

	Now func() time.Time
}

func NewService(db *gorm.DB, l *ledger.Service, commissions payment.Commissioner, log *zap.Logger) *Service {
	return &Service{DB: db, Ledger: l, Commissions: commissions, Log: log, Now: time.Now}
}

type PlanInput struct {
	Name            string
	Description     string
	MinAmount       decimal.Decimal
	MaxAmount       decimal.Decimal
	ROIPercent      decimal.Decimal
	DurationDays    int
	PayoutFrequency models.PayoutFrequency
}

func (s *Service) CreatePlan(ctx context.Context, in PlanInput) (*models.InvestmentPlan, error) {
	switch {
	case strings.TrimSpace(in.Name) == "":
		return nil, apperr.BadRequest("name is required")
	case in.MinAmount.LessThan(ledger.MinAmount):
		return nil, apperr.ErrAmountTooSmall
	case in.MaxAmount.LessThan(in.MinAmount):
		return nil, apperr.BadRequest("max_amount must not be below min_amount")
	case !in.ROIPercent.IsPositive():
		return nil, apperr.BadRequest("roi_percent must be positive")
	case in.DurationDays < 1:
		return nil, apperr.BadRequest("duration_days must be at least 1")
	}
	if in.PayoutFrequency == "" {
		in.PayoutFrequency = models.PayoutMaturity
	}
	if in.PayoutFrequency != models.PayoutMaturity && in.PayoutFrequency != models.PayoutMonthly {
		return nil, apperr.BadRequest("payout_frequency must be monthly or maturity")
	}

	p := models.InvestmentPlan{
		Name:            strings.TrimSpace(in.Name),
		Description:     in.Description,
		MinAmount:       in.MinAmount.Round(2),
		MaxAmount:       in.MaxAmount.Round(2),
		ROIPercent:      in.ROIPercent.Round(2),
		DurationDays:    in.DurationDays,
		PayoutFrequency: in.PayoutFrequency,
		IsActive:        true,
	}
	if err := s.DB.WithContext(ctx).Create(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Service) ListPlans(ctx context.Context, activeOnly bool) ([]models.InvestmentPlan, error) {
	q := s.DB.WithContext(ctx).Model(&models.InvestmentPlan{})
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	plans := []models.InvestmentPlan{}
	if err := q.Order("min_amount ASC").Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID, f ledger.Filter) ([]models.UserInvestment, int64, error) {
	f.Normalize()
	q := s.DB.WithContext(ctx).Model(&models.UserInvestment{}).Where("user_id = ?", userID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	items := []models.UserInvestment{}
	if err := q.Preload("Plan").Order("created_at DESC").Offset((f.Page - 1) * f.Limit).Limit(f.Limit).Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Invest buys into planID with the user's wallet; the investment starts
// immediately.
func (s *Service) Invest(ctx context.Context, userID, planID uuid.UUID, amount decimal.Decimal) (*models.UserInvestment, error) {
	var (
		inv models.UserInvestment
		t   models.Transaction
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plan, err := loadPlan(tx, planID, amount)
		if err != nil {
			return err
		}
		amount = amount.Round(2)

		w, err := s.Ledger.LockWallet(tx, userID)
		if err != nil {
			return err
		}
		if w.AvailableBalance.LessThan(amount) {
			return apperr.ErrInsufficientBalance
		}
		if err := s.Ledger.Debit(tx, userID, amount); err != nil {
			return err
		}

		inv = newInvestment(userID, plan, amount, models.FundingWallet)
		if err := tx.Create(&inv).Error; err != nil {
			return err
		}
		if err := s.activate(tx, &inv, plan); err != nil {
			return err
		}

		iid := inv.ID
		t = models.Transaction{
			UserID:        userID,
			WalletID:      &w.ID,
			Type:          models.TxInvestment,
			Direction:     models.DirectionDebit,
			Amount:        amount,
			Status:        models.TransactionStatusCompleted,
			Reference:     utils.NewReference("INV"),
			Description:   "Investment in " + plan.Name,
			PaymentMethod: "wallet",
			InvestmentID:  &iid,
		}
		return s.Ledger.CreateTransaction(tx, &t)
	})
	metrics.LedgerOperations.WithLabelValues("invest", metrics.Outcome(err)).Inc()
	if err != nil {
		return nil, err
	}

	s.Log.Info("Investment started",
		zap.String("investment_id", inv.ID.String()),
		zap.String("user_id", userID.String()),
		zap.String("amount", amount.StringFixed(2)))

	if _, err := s.Commissions.Disburse(ctx, referral.Trigger{
		UserID:     userID,
		Amount:     t.Amount,
		SourceType: t.Type,
		Reference:  t.Reference,
		PaymentID:  t.ID,
	}); err != nil {
		s.Log.Error("Commission disbursement failed", zap.String("reference", t.Reference), zap.Error(err))
	}
	s.Ledger.After(ctx, &t, events.TransactionCompleted, realtime.Message{
		Kind:    "investment_started",
		Title:   "Investment active",
		Message: fmt.Sprintf("Your investment of NGN %s is now active", amount.StringFixed(2)),
		Data:    map[string]interface{}{"investment_id": inv.ID.String(), "reference": t.Reference},
	})
	return &inv, nil
}

// Prepare creates a pending investment for a gateway checkout.
func (s *Service) Prepare(tx *gorm.DB, t *models.Transaction, in payment.Intent) error {
	if in.PlanID == nil {
		return apperr.BadRequest("plan_id is required")
	}
	plan, err := loadPlan(tx, *in.PlanID, in.Amount)
	if err != nil {
		return err
	}
	inv := newInvestment(t.UserID, plan, in.Amount.Round(2), models.FundingGateway)
	if err := tx.Create(&inv).Error; err != nil {
		return err
	}
	iid := inv.ID
	t.Amount = inv.Amount
	t.InvestmentID = &iid
	t.Description = "Investment in " + plan.Name
	return nil
}

// Fulfill activates the investment paid for by t.
func (s *Service) Fulfill(tx *gorm.DB, t *models.Transaction) error {
	if t.InvestmentID == nil {
		return apperr.ErrInvalidState
	}
	inv, err := lockInvestment(tx, *t.InvestmentID)
	if err != nil {
		return err
	}
	switch inv.Status {
	case models.InvestmentPending:
		return s.activate(tx, inv, inv.Plan)
	case models.InvestmentCancelled:
		return apperr.ErrReservationLost
	}
	return apperr.ErrInvalidState
}

// Revive reopens the investment of a checkout that was failed before its
// payment arrived, provided the plan still accepts it.
func (s *Service) Revive(tx *gorm.DB, t *models.Transaction) error {
	if t.InvestmentID == nil {
		return apperr.ErrInvalidState
	}
	inv, err := lockInvestment(tx, *t.InvestmentID)
	if err != nil {
		return err
	}
	if inv.Status != models.InvestmentCancelled || !inv.Plan.IsActive {
		return apperr.ErrReservationLost
	}
	return tx.Model(&models.UserInvestment{}).Where("id = ?", inv.ID).Update("status", models.InvestmentPending).Error
}

// Fail cancels the pending investment of an unpaid checkout.
func (s *Service) Fail(tx *gorm.DB, t *models.Transaction) error {
	if t.InvestmentID == nil {
		return nil
	}
	return tx.Model(&models.UserInvestment{}).
		Where("id = ? AND status = ?", *t.InvestmentID, models.InvestmentPending).
		Update("status", models.InvestmentCancelled).Error
}

// Approve activates a pending investment funded outside the platform.
func (s *Service) Approve(ctx context.Context, id, adminID uuid.UUID) (*models.UserInvestment, error) {
	var inv *models.UserInvestment
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		inv, err = lockInvestment(tx, id)
		if err != nil {
			return err
		}
		if inv.Status != models.InvestmentPending {
			return apperr.ErrInvalidState
		}
		return s.activate(tx, inv, inv.Plan)
	})
	if err != nil {
		return nil, err
	}

	s.Log.Info("Investment approved", zap.String("investment_id", id.String()), zap.String("admin_id", adminID.String()))
	if s.Ledger.Notifier != nil {
		s.Ledger.Notifier.Notify(ctx, inv.UserID, realtime.Message{
			Kind:    "investment_started",
			Title:   "Investment active",
			Message: fmt.Sprintf("Your investment of NGN %s is now active", inv.Amount.StringFixed(2)),
			Data:    map[string]interface{}{"investment_id": inv.ID.String()},
		})
	}
	return inv, nil
}

// Cancel stops an investment. A pending one is simply cancelled; an active
// one with no payouts yet, however it was funded, gets its principal
// refunded to the wallet.
func (s *Service) Cancel(ctx context.Context, id, adminID uuid.UUID) (*models.UserInvestment, error) {
	var (
		inv    *models.UserInvestment
		refund *models.Transaction
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		inv, err = lockInvestment(tx, id)
		if err != nil {
			return err
		}

		switch {
		case inv.Status == models.InvestmentPending:
		case inv.Status == models.InvestmentActive && inv.PayoutsMade == 0:
			w, err := s.Ledger.FindOrCreateWallet(tx, inv.UserID)
			if err != nil {
				return err
			}
			iid := inv.ID
			refund = &models.Transaction{
				UserID:       inv.UserID,
				WalletID:     &w.ID,
				Type:         models.TxRefund,
				Direction:    models.DirectionCredit,
				Amount:       inv.Amount,
				Status:       models.TransactionStatusCompleted,
				Reference:    "RFD-INV-" + inv.ID.String(),
				Description:  "Investment cancelled",
				InvestmentID: &iid,
				Metadata:     ledger.Metadata(map[string]interface{}{"cancelled_by": adminID.String()}),
			}
			if err := s.Ledger.CreateTransaction(tx, refund); err != nil {
				return err
			}
			if err := s.Ledger.Credit(tx, inv.UserID, inv.Amount); err != nil {
				return err
			}
		default:
			return apperr.ErrInvalidState
		}

		inv.Status = models.InvestmentCancelled
		inv.NextPayoutAt = nil
		return tx.Model(inv).Select("status", "next_payout_at").Updates(inv).Error
	})
	if err != nil {
		return nil, err
	}

	s.Log.Info("Investment cancelled", zap.String("investment_id", id.String()), zap.String("admin_id", adminID.String()))
	if refund != nil {
		s.Ledger.After(ctx, refund, events.TransactionCompleted, realtime.Message{
			Kind:    "investment_cancelled",
			Title:   "Investment cancelled",
			Message: fmt.Sprintf("NGN %s was refunded to your wallet", refund.Amount.StringFixed(2)),
			Data:    map[string]interface{}{"investment_id": inv.ID.String()},
		})
	}
	return inv, nil
}

func (s *Service) activate(tx *gorm.DB, inv *models.UserInvestment, plan *models.InvestmentPlan) error {
	start := s.Now().UTC()
	end := start.Add(time.Duration(plan.DurationDays) * 24 * time.Hour)
	next := end
	if plan.PayoutFrequency == models.PayoutMonthly && inv.PayoutsTotal > 1 {
		next = start.Add(payoutPeriod)
	}

	inv.Status = models.InvestmentActive
	inv.StartDate = &start
	inv.EndDate = &end
	inv.NextPayoutAt = &next
	return tx.Model(inv).Select("status", "start_date", "end_date", "next_payout_at").Updates(inv).Error
}

func newInvestment(userID uuid.UUID, plan *models.InvestmentPlan, amount decimal.Decimal, source models.FundingSource) models.UserInvestment {
	return models.UserInvestment{
		UserID:         userID,
		PlanID:         plan.ID,
		Amount:         amount,
		ExpectedReturn: amount.Mul(plan.ROIPercent).Div(decimal.NewFromInt(100)).Round(2),
		ActualReturn:   decimal.Zero,
		Status:         models.InvestmentPending,
		FundingSource:  source,
		PayoutsTotal:   payoutCount(plan),
	}
}

func payoutCount(plan *models.InvestmentPlan) int {
	if plan.PayoutFrequency != models.PayoutMonthly {
		return 1
	}
	n := plan.DurationDays / 30
	if n < 1 {
		n = 1
	}
	return n
}

func loadPlan(tx *gorm.DB, id uuid.UUID, amount decimal.Decimal) (*models.InvestmentPlan, error) {
	var plan models.InvestmentPlan
	if err := tx.First(&plan, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("investment plan not found")
		}
		return nil, err
	}
	if !plan.IsActive {
		return nil, apperr.ErrPlanInactive
	}
	if amount.LessThan(plan.MinAmount) || amount.GreaterThan(plan.MaxAmount) {
		return nil, apperr.ErrAmountOutOfRange
	}
	return &plan, nil
}

func lockInvestment(tx *gorm.DB, id uuid.UUID) (*models.UserInvestment, error) {
	var inv models.UserInvestment
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&inv, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("investment not found")
	}
	if err != nil {
		return nil, err
	}
	var plan models.InvestmentPlan
	if err := tx.First(&plan, "id = ?", inv.PlanID).Error; err != nil {
		return nil, err
	}
	inv.Plan = &plan
	return &inv, nil
}
