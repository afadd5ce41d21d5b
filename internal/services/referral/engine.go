// Package referral pays multi-level commissions up a user's referral chain
// and promotes ranks from indirect earnings.
package referral

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/apperr"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/config"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/events"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/metrics"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/models"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/realtime"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/services/ledger"
)

const maxAttempts = 3

type Engine struct {
	DB     *gorm.DB
	Ledger *ledger.Service
	Config config.CommissionConfig
	Log    *zap.Logger

	// SystemID ends a chain: the platform account never earns commission.
	SystemID   uuid.UUID
	RetryDelay time.Duration
}

func NewEngine(db *gorm.DB, l *ledger.Service, cfg config.CommissionConfig, systemID uuid.UUID, log *zap.Logger) *Engine {
	return &Engine{
		DB:         db,
		Ledger:     l,
		Config:     cfg,
		Log:        log,
		SystemID:   systemID,
		RetryDelay: 200 * time.Millisecond,
	}
}

// Trigger is a completed purchase that pays commission up the chain.
type Trigger struct {
	UserID     uuid.UUID
	Amount     decimal.Decimal
	SourceType models.TransactionType
	Reference  string
	// PaymentID is the purchase transaction; when set, failed levels are
	// queued as FailedCommission rows.
	PaymentID uuid.UUID
}

// Ancestor is one step of the chain. EdgeID is the referral edge whose
// referrer is UserID, i.e. the edge traversed to reach this ancestor.
type Ancestor struct {
	Level  int
	UserID uuid.UUID
	EdgeID uuid.UUID
}

type Payout struct {
	Level       int                 `json:"level"`
	Beneficiary uuid.UUID           `json:"beneficiary_id"`
	Amount      decimal.Decimal     `json:"amount"`
	Transaction *models.Transaction `json:"transaction,omitempty"`
}

type Result struct {
	Paid   []Payout `json:"paid"`
	Failed []int    `json:"failed_levels,omitempty"`
}

// Chain walks referred -> referrer up to len(LevelRates) ancestors.
func (e *Engine) Chain(ctx context.Context, userID uuid.UUID) ([]Ancestor, error) {
	return e.chain(e.DB.WithContext(ctx), userID)
}

func (e *Engine) chain(db *gorm.DB, userID uuid.UUID) ([]Ancestor, error) {
	visited := map[uuid.UUID]bool{userID: true}
	current := userID
	var out []Ancestor

	for level := 1; level <= len(e.Config.LevelRates); level++ {
		var edge models.Referral
		err := db.Where("referred_id = ?", current).First(&edge).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		if edge.ReferrerID == e.SystemID || visited[edge.ReferrerID] {
			break
		}
		visited[edge.ReferrerID] = true
		out = append(out, Ancestor{Level: level, UserID: edge.ReferrerID, EdgeID: edge.ID})
		current = edge.ReferrerID
	}
	return out, nil
}

// Commission is amount x rate for level, rounded half-up to kobo.
func (e *Engine) Commission(level int, amount decimal.Decimal) decimal.Decimal {
	if level < 1 || level > len(e.Config.LevelRates) {
		return decimal.Zero
	}
	return amount.Mul(e.Config.LevelRates[level-1]).Round(2)
}

// Disburse pays every level of the chain above trig.UserID. Each level is its
// own DB transaction: a failing level is logged and queued, the others still
// pay. Levels already paid for trig.Reference are skipped.
func (e *Engine) Disburse(ctx context.Context, trig Trigger) (*Result, error) {
	if !trig.Amount.IsPositive() {
		return nil, apperr.BadRequest("commission base amount must be positive")
	}
	chain, err := e.Chain(ctx, trig.UserID)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for _, anc := range chain {
		amount := e.Commission(anc.Level, trig.Amount)
		if !amount.IsPositive() {
			continue
		}
		label := strconv.Itoa(anc.Level)

		t, err := e.payWithRetry(ctx, trig, anc, amount)
		switch {
		case errors.Is(err, apperr.ErrDuplicateReference):
			metrics.CommissionPayouts.WithLabelValues(label, "duplicate").Inc()
			continue
		case err != nil:
			metrics.CommissionPayouts.WithLabelValues(label, "error").Inc()
			e.Log.Error("Commission level failed",
				zap.String("reference", trig.Reference),
				zap.Int("level", anc.Level),
				zap.String("beneficiary_id", anc.UserID.String()),
				zap.Error(err))
			res.Failed = append(res.Failed, anc.Level)
			e.queueFailure(ctx, trig, anc, amount, err)
			continue
		}

		metrics.CommissionPayouts.WithLabelValues(label, "ok").Inc()
		res.Paid = append(res.Paid, Payout{Level: anc.Level, Beneficiary: anc.UserID, Amount: amount, Transaction: t})
		e.Ledger.After(ctx, t, events.CommissionPaid, realtime.Message{
			Kind:    "referral_commission",
			Title:   "Referral commission earned",
			Message: fmt.Sprintf("You earned NGN %s level %d commission", amount.StringFixed(2), anc.Level),
			Data: map[string]interface{}{
				"reference": t.Reference,
				"level":     anc.Level,
				"amount":    amount.StringFixed(2),
			},
		})
	}

	for _, p := range res.Paid {
		if _, _, err := e.PromoteRank(ctx, p.Beneficiary); err != nil {
			e.Log.Warn("Rank promotion failed", zap.String("user_id", p.Beneficiary.String()), zap.Error(err))
		}
	}

	e.Log.Info("Commission disbursed",
		zap.String("reference", trig.Reference),
		zap.String("user_id", trig.UserID.String()),
		zap.Int("paid", len(res.Paid)),
		zap.Int("failed", len(res.Failed)))
	return res, nil
}

func (e *Engine) payWithRetry(ctx context.Context, trig Trigger, anc Ancestor, amount decimal.Decimal) (*models.Transaction, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		t, err := e.pay(ctx, trig, anc, amount, nil)
		if err == nil {
			return t, nil
		}
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return nil, err
		}
		lastErr = err
		if attempt < maxAttempts && e.RetryDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(e.RetryDelay * time.Duration(attempt)):
			}
		}
	}
	return nil, fmt.Errorf("after %d attempts: %w", maxAttempts, lastErr)
}

// pay credits one level. extra runs inside the same DB transaction.
func (e *Engine) pay(ctx context.Context, trig Trigger, anc Ancestor, amount decimal.Decimal, extra func(tx *gorm.DB) error) (*models.Transaction, error) {
	l := e.Ledger
	var t models.Transaction
	err := e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		w, err := l.FindOrCreateWallet(tx, anc.UserID)
		if err != nil {
			return err
		}

		source := trig.UserID
		md := map[string]interface{}{
			"source_type":        string(trig.SourceType),
			"original_reference": trig.Reference,
			"base_amount":        trig.Amount.StringFixed(2),
			"rate":               e.Config.LevelRates[anc.Level-1].String(),
		}
		if trig.PaymentID != uuid.Nil {
			md["payment_id"] = trig.PaymentID.String()
		}
		t = models.Transaction{
			UserID:          anc.UserID,
			WalletID:        &w.ID,
			Type:            models.TxReferral,
			Direction:       models.DirectionCredit,
			Amount:          amount,
			Status:          models.TransactionStatusCompleted,
			Reference:       fmt.Sprintf("%s-L%d", trig.Reference, anc.Level),
			Description:     fmt.Sprintf("Level %d referral commission", anc.Level),
			SourceUserID:    &source,
			CommissionLevel: anc.Level,
			Metadata:        ledger.Metadata(md),
		}
		if err := l.CreateTransaction(tx, &t); err != nil {
			return err
		}
		if err := l.Credit(tx, anc.UserID, amount); err != nil {
			return err
		}

		if err := tx.Model(&models.Referral{}).Where("id = ?", anc.EdgeID).
			Update("earnings", gorm.Expr("earnings + ?", amount)).Error; err != nil {
			return err
		}
		if anc.Level == 1 {
			if err := tx.Model(&models.Referral{}).
				Where("id = ? AND status = ?", anc.EdgeID, models.ReferralPending).
				Update("status", models.ReferralActive).Error; err != nil {
				return err
			}
		}

		if extra != nil {
			return extra(tx)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (e *Engine) queueFailure(ctx context.Context, trig Trigger, anc Ancestor, amount decimal.Decimal, cause error) {
	if trig.PaymentID == uuid.Nil {
		return
	}
	fc := models.FailedCommission{
		PaymentID:     trig.PaymentID,
		BeneficiaryID: anc.UserID,
		SourceUserID:  trig.UserID,
		Level:         anc.Level,
		BaseAmount:    trig.Amount,
		Amount:        amount,
		SourceType:    trig.SourceType,
		Reference:     trig.Reference,
		Error:         cause.Error(),
	}
	if err := e.DB.WithContext(ctx).Create(&fc).Error; err != nil {
		e.Log.Error("Failed to queue failed commission",
			zap.String("reference", trig.Reference), zap.Int("level", anc.Level), zap.Error(err))
	}
}

// PromoteRank recomputes the indirect earnings of userID (completed level 2
// and 3 commissions) and raises the rank to the highest tier reached. Ranks
// never go down.
func (e *Engine) PromoteRank(ctx context.Context, userID uuid.UUID) (models.Rank, bool, error) {
	db := e.DB.WithContext(ctx)

	var u models.User
	if err := db.First(&u, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, apperr.ErrUserNotFound
		}
		return "", false, err
	}

	var indirect decimal.NullDecimal
	if err := db.Model(&models.Transaction{}).
		Select("SUM(amount)").
		Where("user_id = ? AND type = ? AND status = ? AND commission_level IN ?",
			userID, models.TxReferral, models.TransactionStatusCompleted, []int{2, 3}).
		Row().Scan(&indirect); err != nil {
		return "", false, err
	}

	target := e.RankFor(indirect.Decimal)
	if target.Level() <= u.Rank.Level() {
		return u.Rank, false, nil
	}

	result := db.Model(&models.User{}).
		Where("id = ? AND rank = ?", userID, u.Rank).
		Update("rank", target)
	if result.Error != nil {
		return "", false, result.Error
	}
	if result.RowsAffected == 0 {
		// raced with another promotion; it holds the newer rank
		return u.Rank, false, nil
	}

	e.Log.Info("Rank promoted",
		zap.String("user_id", userID.String()),
		zap.String("from", string(u.Rank)),
		zap.String("to", string(target)),
		zap.String("indirect_earnings", indirect.Decimal.StringFixed(2)))
	if e.Ledger.Notifier != nil {
		e.Ledger.Notifier.Notify(ctx, userID, realtime.Message{
			Kind:    "rank_promoted",
			Title:   "Rank promoted",
			Message: fmt.Sprintf("Congratulations, you are now %s", target),
			Data:    map[string]interface{}{"rank": string(target)},
		})
	}
	return target, true, nil
}

// RankFor returns the highest configured tier whose threshold is <= earnings.
func (e *Engine) RankFor(earnings decimal.Decimal) models.Rank {
	best := models.RankBronze
	for _, r := range e.Config.Ranks {
		rank := models.Rank(r.Rank)
		if rank.Level() < 0 {
			continue
		}
		if earnings.GreaterThanOrEqual(r.Threshold) && rank.Level() > best.Level() {
			best = rank
		}
	}
	return best
}
