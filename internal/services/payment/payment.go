// Package payment starts gateway checkouts and completes them exactly once,
// whether the confirmation arrives by redirect (Verify) or by webhook.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
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
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/services/paystack"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/services/referral"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/utils"
)

type Gateway interface {
	Initialize(ctx context.Context, email string, amount decimal.Decimal, reference string, metadata map[string]interface{}) (*paystack.InitializeResponse, error)
	Verify(ctx context.Context, reference string) (*paystack.Verification, error)
	ValidateSignature(incomingSig string, body []byte) bool
}

type Commissioner interface {
	Disburse(ctx context.Context, trig referral.Trigger) (*referral.Result, error)
}

// Intent describes what a gateway checkout pays for.
type Intent struct {
	Type       models.TransactionType
	Amount     decimal.Decimal
	PropertyID *uuid.UUID
	ListingID  *uuid.UUID
	PlanID     *uuid.UUID
	Quantity   int
}

// Fulfiller completes one transaction type. Prepare and Fulfill run inside
// the DB transaction of Initialize and Verify; Fail releases whatever Prepare
// reserved.
type Fulfiller interface {
	Prepare(tx *gorm.DB, t *models.Transaction, in Intent) error
	Fulfill(tx *gorm.DB, t *models.Transaction) error
	Fail(tx *gorm.DB, t *models.Transaction) error
}

// Reviver re-takes what Prepare reserved for a transaction that was failed
// before its payment arrived. It returns apperr.ErrReservationLost when that
// is no longer possible; the payment is then refunded to the wallet.
type Reviver interface {
	Revive(tx *gorm.DB, t *models.Transaction) error
}

type Service struct {
	DB          *gorm.DB
	Ledger      *ledger.Service
	Gateway     Gateway
	Commissions Commissioner
	RDB         *redis.Client
	Log         *zap.Logger
	Now         func() time.Time

	fulfillers map[models.TransactionType]Fulfiller
}

func NewService(db *gorm.DB, l *ledger.Service, gw Gateway, commissions Commissioner, rdb *redis.Client, log *zap.Logger) *Service {
	s := &Service{
		DB:          db,
		Ledger:      l,
		Gateway:     gw,
		Commissions: commissions,
		RDB:         rdb,
		Log:         log,
		Now:         time.Now,
		fulfillers:  map[models.TransactionType]Fulfiller{},
	}
	s.Register(models.TxDeposit, &depositFulfiller{ledger: l})
	return s
}

// Register routes verified payments of type typ to f.
func (s *Service) Register(typ models.TransactionType, f Fulfiller) {
	s.fulfillers[typ] = f
}

var referencePrefix = map[models.TransactionType]string{
	models.TxDeposit:          "DEP",
	models.TxPropertyPurchase: "PRP",
	models.TxInvestment:       "INV",
	models.TxPayment:          "MKT",
}

type Checkout struct {
	Reference        string              `json:"reference"`
	AuthorizationURL string              `json:"authorization_url"`
	AccessCode       string              `json:"access_code"`
	Transaction      *models.Transaction `json:"transaction"`
}

// Initialize records a pending transaction for in and opens a gateway checkout.
func (s *Service) Initialize(ctx context.Context, userID uuid.UUID, in Intent) (*Checkout, error) {
	f, ok := s.fulfillers[in.Type]
	if !ok {
		return nil, apperr.BadRequest("unsupported payment type")
	}

	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrUserNotFound
		}
		return nil, err
	}

	direction := models.DirectionDebit
	if in.Type == models.TxDeposit {
		direction = models.DirectionCredit
	}
	t := models.Transaction{
		UserID:        userID,
		Type:          in.Type,
		Direction:     direction,
		Status:        models.TransactionStatusPending,
		Reference:     utils.NewReference(referencePrefix[in.Type]),
		PaymentMethod: "paystack",
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := f.Prepare(tx, &t, in); err != nil {
			return err
		}
		return s.Ledger.CreateTransaction(tx, &t)
	})
	if err != nil {
		return nil, err
	}

	resp, err := s.Gateway.Initialize(ctx, user.Email, t.Amount, t.Reference, map[string]interface{}{
		"transaction_id": t.ID.String(),
		"type":           string(t.Type),
	})
	if err != nil {
		s.Log.Error("Gateway initialize failed", zap.String("reference", t.Reference), zap.Error(err))
		if ferr := s.markFailed(ctx, t.Reference, "initialize failed"); ferr != nil {
			s.Log.Error("Failed to release checkout", zap.String("reference", t.Reference), zap.Error(ferr))
		}
		return nil, fmt.Errorf("%w: %v", apperr.ErrGateway, err)
	}

	s.Log.Info("Checkout initialized",
		zap.String("user_id", userID.String()),
		zap.String("reference", t.Reference),
		zap.String("type", string(t.Type)),
		zap.String("amount", t.Amount.StringFixed(2)))
	return &Checkout{
		Reference:        t.Reference,
		AuthorizationURL: resp.Data.AuthorizationURL,
		AccessCode:       resp.Data.AccessCode,
		Transaction:      &t,
	}, nil
}

// Verify completes the transaction with reference once the gateway confirms
// it. Repeated calls on a completed transaction return it unchanged. A
// checkout the customer has not finished is left pending.
func (s *Service) Verify(ctx context.Context, reference string) (*models.Transaction, error) {
	t, outcome, err := s.verify(ctx, reference)
	metrics.PaymentVerifications.WithLabelValues(outcome).Inc()
	if err != nil {
		return nil, err
	}
	if outcome != "completed" {
		return t, nil
	}

	s.Log.Info("Payment verified",
		zap.String("reference", t.Reference),
		zap.String("type", string(t.Type)),
		zap.String("user_id", t.UserID.String()),
		zap.String("amount", t.Amount.StringFixed(2)))

	if t.IsPurchase() && s.Commissions != nil {
		if _, err := s.Commissions.Disburse(ctx, referral.Trigger{
			UserID:     t.UserID,
			Amount:     t.Amount,
			SourceType: t.Type,
			Reference:  t.Reference,
			PaymentID:  t.ID,
		}); err != nil {
			s.Log.Error("Commission disbursement failed", zap.String("reference", t.Reference), zap.Error(err))
		}
	}
	s.Ledger.After(ctx, t, events.TransactionCompleted, realtime.Message{
		Kind:    "payment_verified",
		Title:   "Payment successful",
		Message: fmt.Sprintf("Your payment of NGN %s was confirmed", t.Amount.StringFixed(2)),
		Data:    map[string]interface{}{"reference": t.Reference, "type": string(t.Type)},
	})
	return t, nil
}

func (s *Service) verify(ctx context.Context, reference string) (*models.Transaction, string, error) {
	t, err := s.find(s.DB.WithContext(ctx), reference, false)
	if err != nil {
		return nil, "not_found", err
	}
	if t.Status == models.TransactionStatusCompleted {
		return t, "already_completed", nil
	}
	if refundReference(t) != "" {
		return nil, "refunded", apperr.ErrPaymentRefunded
	}

	// failed rows are asked again: a checkout failed early can still be paid
	v, err := s.Gateway.Verify(ctx, reference)
	if err != nil {
		s.Log.Error("Gateway verify failed", zap.String("reference", reference), zap.Error(err))
		return nil, "gateway_error", fmt.Errorf("%w: %v", apperr.ErrGateway, err)
	}

	if v.InProgress() {
		s.Log.Info("Payment still in progress", zap.String("reference", reference), zap.String("gateway_status", v.Status))
		return nil, "pending", apperr.ErrPaymentPending
	}
	if !v.Succeeded() || !v.Amount.Equal(t.Amount) {
		s.Log.Warn("Payment not successful",
			zap.String("reference", reference),
			zap.String("gateway_status", v.Status),
			zap.String("paid", v.Amount.StringFixed(2)),
			zap.String("expected", t.Amount.StringFixed(2)))
		if t.Status != models.TransactionStatusPending {
			return nil, "failed", apperr.ErrPaymentFailed
		}
		reason := "gateway status " + v.Status
		if v.Succeeded() {
			reason = "amount mismatch: paid " + v.Amount.StringFixed(2)
		}
		if err := s.markFailed(ctx, reference, reason); err != nil {
			return nil, "failed", err
		}
		t.Status = models.TransactionStatusFailed
		s.Ledger.After(ctx, t, events.TransactionFailed, realtime.Message{})
		return nil, "failed", apperr.ErrPaymentFailed
	}

	outcome := "completed"
	var refund *models.Transaction
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.find(tx, reference, true)
		if err != nil {
			return err
		}
		t = locked
		if t.Status == models.TransactionStatusCompleted {
			outcome = "already_completed"
			return nil
		}
		if refundReference(t) != "" {
			outcome = "refunded"
			return nil
		}

		f, ok := s.fulfillers[t.Type]
		if !ok {
			return apperr.BadRequest("unsupported payment type")
		}
		prior := t.Status
		lapsed := prior != models.TransactionStatusPending
		t.Status = models.TransactionStatusCompleted

		// savepoint: a lost reservation rolls back only the fulfilment
		err = tx.Transaction(func(inner *gorm.DB) error {
			if r, ok := f.(Reviver); ok && lapsed {
				if err := r.Revive(inner, t); err != nil {
					return err
				}
			}
			return f.Fulfill(inner, t)
		})
		if errors.Is(err, apperr.ErrReservationLost) {
			t.Status = prior
			outcome = "refunded"
			refund, err = s.refundLapsed(tx, t)
			return err
		}
		if err != nil {
			return err
		}

		md := map[string]interface{}{
			"channel":          v.Channel,
			"gateway_response": v.GatewayResponse,
			"verified_at":      s.Now().UTC().Format(time.RFC3339),
		}
		if lapsed {
			md["revived_from"] = string(prior)
		}
		t.Metadata = ledger.MergeMetadata(t.Metadata, md)
		return tx.Save(t).Error
	})
	if err != nil {
		return nil, "error", err
	}
	if outcome == "refunded" {
		if refund != nil {
			s.Log.Warn("Late payment refunded to wallet",
				zap.String("reference", reference),
				zap.String("refund_reference", refund.Reference),
				zap.String("amount", refund.Amount.StringFixed(2)))
			s.Ledger.After(ctx, refund, events.TransactionCompleted, realtime.Message{
				Kind:    "payment_refunded",
				Title:   "Payment refunded",
				Message: fmt.Sprintf("NGN %s was refunded to your wallet because the item is no longer available", refund.Amount.StringFixed(2)),
				Data:    map[string]interface{}{"reference": reference, "refund_reference": refund.Reference},
			})
		}
		return nil, outcome, apperr.ErrPaymentRefunded
	}
	return t, outcome, nil
}

// refundLapsed credits the payer's wallet for a payment that landed after its
// order was released and can no longer be fulfilled. The payment row stays
// failed and records the refund reference.
func (s *Service) refundLapsed(tx *gorm.DB, t *models.Transaction) (*models.Transaction, error) {
	w, err := s.Ledger.FindOrCreateWallet(tx, t.UserID)
	if err != nil {
		return nil, err
	}
	refund := &models.Transaction{
		UserID:        t.UserID,
		WalletID:      &w.ID,
		Type:          models.TxRefund,
		Direction:     models.DirectionCredit,
		Amount:        t.Amount,
		Status:        models.TransactionStatusCompleted,
		Reference:     "RFD-" + t.Reference,
		Description:   "Refund: " + t.Description,
		PaymentMethod: "wallet",
		PropertyID:    t.PropertyID,
		ListingID:     t.ListingID,
		InvestmentID:  t.InvestmentID,
		Metadata:      ledger.Metadata(map[string]interface{}{"payment_reference": t.Reference}),
	}
	if err := s.Ledger.CreateTransaction(tx, refund); err != nil {
		return nil, err
	}
	if err := s.Ledger.Credit(tx, t.UserID, t.Amount); err != nil {
		return nil, err
	}

	t.Status = models.TransactionStatusFailed
	t.Metadata = ledger.MergeMetadata(t.Metadata, map[string]interface{}{
		"refund_reference": refund.Reference,
		"refunded_at":      s.Now().UTC().Format(time.RFC3339),
	})
	if err := tx.Model(t).Select("status", "metadata").Updates(t).Error; err != nil {
		return nil, err
	}
	return refund, nil
}

func refundReference(t *models.Transaction) string {
	var md struct {
		RefundReference string `json:"refund_reference"`
	}
	if len(t.Metadata) > 0 {
		_ = json.Unmarshal(t.Metadata, &md)
	}
	return md.RefundReference
}

// Lookup returns the gateway transaction with reference without contacting
// the gateway.
func (s *Service) Lookup(ctx context.Context, reference string) (*models.Transaction, error) {
	return s.find(s.DB.WithContext(ctx), reference, false)
}

// markFailed fails a still-pending transaction and releases its reservation.
func (s *Service) markFailed(ctx context.Context, reference, reason string) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := s.find(tx, reference, true)
		if err != nil {
			return err
		}
		if t.Status != models.TransactionStatusPending {
			return nil
		}
		if f, ok := s.fulfillers[t.Type]; ok {
			if err := f.Fail(tx, t); err != nil {
				return err
			}
		}
		t.Status = models.TransactionStatusFailed
		t.Metadata = ledger.MergeMetadata(t.Metadata, map[string]interface{}{"failure_reason": reason})
		return tx.Model(t).Select("status", "metadata").Updates(t).Error
	})
}

func (s *Service) find(db *gorm.DB, reference string, lock bool) (*models.Transaction, error) {
	if lock {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var t models.Transaction
	err := db.Where("reference = ? AND payment_method = ?", reference, "paystack").First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// depositFulfiller funds the wallet with a verified gateway payment.
type depositFulfiller struct {
	ledger *ledger.Service
}

func (d *depositFulfiller) Prepare(tx *gorm.DB, t *models.Transaction, in Intent) error {
	if in.Amount.LessThan(ledger.MinAmount) {
		return apperr.ErrAmountTooSmall
	}
	t.Amount = in.Amount.Round(2)
	t.Description = "Wallet funding via Paystack"
	return nil
}

func (d *depositFulfiller) Fulfill(tx *gorm.DB, t *models.Transaction) error {
	w, err := d.ledger.FindOrCreateWallet(tx, t.UserID)
	if err != nil {
		return err
	}
	t.WalletID = &w.ID
	return d.ledger.Credit(tx, t.UserID, t.Amount)
}

func (d *depositFulfiller) Fail(tx *gorm.DB, t *models.Transaction) error { return nil }
