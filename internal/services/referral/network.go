package referral

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/apperr"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/models"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/services/ledger"
)

var ErrInvalidReferralCode = apperr.BadRequest("invalid referral code")

// Register links newUser under the owner of code. An empty code is a no-op.
// This should be called within the registration DB transaction.
func (e *Engine) Register(tx *gorm.DB, code string, newUser *models.User) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil
	}

	var referrer models.User
	if err := tx.Where("referral_code = ?", code).First(&referrer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInvalidReferralCode
		}
		return err
	}
	if referrer.ID == newUser.ID {
		return ErrInvalidReferralCode
	}

	edge := models.Referral{
		ReferrerID: referrer.ID,
		ReferredID: newUser.ID,
		Status:     models.ReferralPending,
		Earnings:   decimal.Zero,
	}
	if err := tx.Create(&edge).Error; err != nil {
		return err
	}

	newUser.ReferredBy = &referrer.ID
	return tx.Model(newUser).Update("referred_by", referrer.ID).Error
}

type Stats struct {
	ReferralCode    string                  `json:"referral_code"`
	Rank            models.Rank             `json:"rank"`
	DirectReferrals int64                   `json:"direct_referrals"`
	ActiveReferrals int64                   `json:"active_referrals"`
	TotalEarnings   decimal.Decimal         `json:"total_earnings"`
	EarningsByLevel map[int]decimal.Decimal `json:"earnings_by_level"`
	DownlineByLevel map[int]int             `json:"downline_by_level"`
	NextRank        models.Rank             `json:"next_rank,omitempty"`
	NextThreshold   *decimal.Decimal        `json:"next_rank_threshold,omitempty"`
}

type levelSum struct {
	CommissionLevel int
	Total           decimal.Decimal
}

func (e *Engine) Stats(ctx context.Context, userID uuid.UUID) (*Stats, error) {
	db := e.DB.WithContext(ctx)

	var u models.User
	if err := db.First(&u, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrUserNotFound
		}
		return nil, err
	}

	st := &Stats{
		ReferralCode:    u.ReferralCode,
		Rank:            u.Rank,
		TotalEarnings:   decimal.Zero,
		EarningsByLevel: map[int]decimal.Decimal{},
		DownlineByLevel: map[int]int{},
	}

	if err := db.Model(&models.Referral{}).Where("referrer_id = ?", userID).Count(&st.DirectReferrals).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Referral{}).
		Where("referrer_id = ? AND status = ?", userID, models.ReferralActive).
		Count(&st.ActiveReferrals).Error; err != nil {
		return nil, err
	}

	var sums []levelSum
	if err := db.Model(&models.Transaction{}).
		Select("commission_level, COALESCE(SUM(amount), 0) AS total").
		Where("user_id = ? AND type = ? AND status = ?", userID, models.TxReferral, models.TransactionStatusCompleted).
		Group("commission_level").
		Scan(&sums).Error; err != nil {
		return nil, err
	}
	for _, s := range sums {
		st.EarningsByLevel[s.CommissionLevel] = s.Total
		st.TotalEarnings = st.TotalEarnings.Add(s.Total)
	}

	frontier := []uuid.UUID{userID}
	for level := 1; level <= len(e.Config.LevelRates) && len(frontier) > 0; level++ {
		var next []uuid.UUID
		if err := db.Model(&models.Referral{}).
			Where("referrer_id IN ?", frontier).
			Pluck("referred_id", &next).Error; err != nil {
			return nil, err
		}
		st.DownlineByLevel[level] = len(next)
		frontier = next
	}

	for _, r := range e.Config.Ranks {
		rank := models.Rank(r.Rank)
		if rank.Level() > u.Rank.Level() {
			th := r.Threshold
			st.NextRank = rank
			st.NextThreshold = &th
			break
		}
	}
	return st, nil
}

// ListFailed returns queued commission failures, newest first.
func (e *Engine) ListFailed(ctx context.Context, resolved bool, f ledger.Filter) ([]models.FailedCommission, int64, error) {
	f.Normalize()
	q := e.DB.WithContext(ctx).Model(&models.FailedCommission{}).Where("resolved = ?", resolved)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	items := []models.FailedCommission{}
	if err := q.Order("created_at DESC").Offset((f.Page - 1) * f.Limit).Limit(f.Limit).Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// RetryFailed pays a queued level again and marks it resolved. A level that
// was paid in the meantime is resolved without paying twice.
func (e *Engine) RetryFailed(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var fc models.FailedCommission
	if err := e.DB.WithContext(ctx).First(&fc, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	if fc.Resolved {
		return nil, apperr.Conflict("failed commission is already resolved")
	}
	if fc.Level < 1 || fc.Level > len(e.Config.LevelRates) {
		return nil, apperr.ErrInvalidState
	}

	chain, err := e.Chain(ctx, fc.SourceUserID)
	if err != nil {
		return nil, err
	}
	var anc *Ancestor
	for i := range chain {
		if chain[i].Level == fc.Level && chain[i].UserID == fc.BeneficiaryID {
			anc = &chain[i]
		}
	}
	if anc == nil {
		return nil, apperr.Conflict("referral chain changed since the commission failed")
	}

	trig := Trigger{
		UserID:     fc.SourceUserID,
		Amount:     fc.BaseAmount,
		SourceType: fc.SourceType,
		Reference:  fc.Reference,
		PaymentID:  fc.PaymentID,
	}
	markResolved := func(tx *gorm.DB) error {
		return tx.Model(&models.FailedCommission{}).
			Where("id = ? AND resolved = ?", fc.ID, false).
			Update("resolved", true).Error
	}

	t, err := e.pay(ctx, trig, *anc, fc.Amount, markResolved)
	if errors.Is(err, apperr.ErrDuplicateReference) {
		if err := markResolved(e.DB.WithContext(ctx)); err != nil {
			return nil, err
		}
		return nil, apperr.ErrDuplicateReference
	}
	if err != nil {
		return nil, err
	}

	e.Log.Info("Failed commission replayed",
		zap.String("failed_commission_id", fc.ID.String()),
		zap.String("reference", t.Reference))
	if _, _, err := e.PromoteRank(ctx, fc.BeneficiaryID); err != nil {
		e.Log.Warn("Rank promotion failed", zap.String("user_id", fc.BeneficiaryID.String()), zap.Error(err))
	}
	return t, nil
}
