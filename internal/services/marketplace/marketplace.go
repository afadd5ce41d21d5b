// Package marketplace sells quantity-tracked listings between users.
package marketplace

import (
	"context"
	"encoding/json"
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

const DefaultPurchaseTimeout = 30 * time.Second

type Service struct {
	DB          *gorm.DB
	Ledger      *ledger.Service
	Commissions payment.Commissioner
	Log         *zap.Logger

	// PurchaseTimeout bounds the purchase DB transaction.
	PurchaseTimeout time.Duration
}

func NewService(db *gorm.DB, l *ledger.Service, commissions payment.Commissioner, log *zap.Logger) *Service {
	return &Service{DB: db, Ledger: l, Commissions: commissions, Log: log, PurchaseTimeout: DefaultPurchaseTimeout}
}

type CreateListingInput struct {
	PropertyID  *uuid.UUID
	Title       string
	Description string
	UnitPrice   decimal.Decimal
	Quantity    int
}

func (s *Service) CreateListing(ctx context.Context, sellerID uuid.UUID, in CreateListingInput) (*models.MarketplaceListing, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, apperr.BadRequest("title is required")
	}
	if in.Quantity < 1 {
		return nil, apperr.BadRequest("quantity must be at least 1")
	}
	if !in.UnitPrice.IsPositive() {
		return nil, apperr.BadRequest("unit price must be positive")
	}

	l := models.MarketplaceListing{
		SellerID:    sellerID,
		PropertyID:  in.PropertyID,
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		UnitPrice:   in.UnitPrice.Round(2),
		Quantity:    in.Quantity,
		Status:      models.ListingActive,
	}
	if err := s.DB.WithContext(ctx).Create(&l).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Service) List(ctx context.Context, status models.ListingStatus, f ledger.Filter) ([]models.MarketplaceListing, int64, error) {
	f.Normalize()
	q := s.DB.WithContext(ctx).Model(&models.MarketplaceListing{})
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	items := []models.MarketplaceListing{}
	if err := q.Order("created_at DESC").Offset((f.Page - 1) * f.Limit).Limit(f.Limit).Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Get returns the listing with its purchase history.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.MarketplaceListing, error) {
	var l models.MarketplaceListing
	err := s.DB.WithContext(ctx).
		Preload("Purchases", func(db *gorm.DB) *gorm.DB { return db.Order("created_at DESC") }).
		First(&l, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("listing not found")
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

type PurchaseResult struct {
	Purchase    *models.MarketplacePurchase `json:"purchase"`
	Transaction *models.Transaction         `json:"transaction"`
}

// Purchase buys quantity units with the buyer's wallet. The whole DB
// transaction must finish within PurchaseTimeout or it is rolled back.
func (s *Service) Purchase(ctx context.Context, buyerID, listingID uuid.UUID, quantity int) (*PurchaseResult, error) {
	res, err := s.purchase(ctx, buyerID, listingID, quantity)
	metrics.LedgerOperations.WithLabelValues("marketplace_purchase", metrics.Outcome(err)).Inc()
	if err != nil {
		return nil, err
	}

	t := res.Transaction
	s.Log.Info("Marketplace purchase completed",
		zap.String("listing_id", listingID.String()),
		zap.String("buyer_id", buyerID.String()),
		zap.Int("quantity", quantity),
		zap.String("reference", t.Reference))

	if _, err := s.Commissions.Disburse(ctx, referral.Trigger{
		UserID:     buyerID,
		Amount:     t.Amount,
		SourceType: t.Type,
		Reference:  t.Reference,
		PaymentID:  t.ID,
	}); err != nil {
		s.Log.Error("Commission disbursement failed", zap.String("reference", t.Reference), zap.Error(err))
	}
	s.Ledger.After(ctx, t, events.TransactionCompleted, realtime.Message{
		Kind:    "marketplace_purchase",
		Title:   "Purchase successful",
		Message: fmt.Sprintf("You bought %d unit(s) for NGN %s", quantity, t.Amount.StringFixed(2)),
		Data:    map[string]interface{}{"reference": t.Reference, "listing_id": listingID.String()},
	})
	return res, nil
}

func (s *Service) purchase(ctx context.Context, buyerID, listingID uuid.UUID, quantity int) (*PurchaseResult, error) {
	if quantity < 1 {
		return nil, apperr.BadRequest("quantity must be at least 1")
	}

	ctx, cancel := context.WithTimeout(ctx, s.PurchaseTimeout)
	defer cancel()

	res := &PurchaseResult{}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		l, err := lockListing(tx, listingID, buyerID, quantity)
		if err != nil {
			return err
		}
		total := l.UnitPrice.Mul(decimal.NewFromInt(int64(quantity))).Round(2)

		w, err := s.Ledger.LockWallet(tx, buyerID)
		if err != nil {
			return err
		}
		if w.AvailableBalance.LessThan(total) {
			return apperr.ErrInsufficientBalance
		}
		if err := s.Ledger.Debit(tx, buyerID, total); err != nil {
			return err
		}
		if err := takeStock(tx, l.ID, quantity); err != nil {
			return err
		}

		lid := l.ID
		res.Transaction = &models.Transaction{
			UserID:        buyerID,
			WalletID:      &w.ID,
			Type:          models.TxPayment,
			Direction:     models.DirectionDebit,
			Amount:        total,
			Status:        models.TransactionStatusCompleted,
			Reference:     utils.NewReference("MKT"),
			Description:   fmt.Sprintf("%d x %s", quantity, l.Title),
			PaymentMethod: "wallet",
			ListingID:     &lid,
			PropertyID:    l.PropertyID,
			Metadata:      ledger.Metadata(map[string]interface{}{"quantity": quantity}),
		}
		if err := s.Ledger.CreateTransaction(tx, res.Transaction); err != nil {
			return err
		}

		res.Purchase, err = s.settle(tx, l, res.Transaction, quantity)
		return err
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			s.Log.Error("Marketplace purchase timed out", zap.String("listing_id", listingID.String()))
			return nil, apperr.ErrTimeout
		}
		return nil, err
	}
	return res, nil
}

// settle pays the seller, records the purchase and closes the listing when
// the last unit is gone.
func (s *Service) settle(tx *gorm.DB, l *models.MarketplaceListing, t *models.Transaction, quantity int) (*models.MarketplacePurchase, error) {
	sw, err := s.Ledger.FindOrCreateWallet(tx, l.SellerID)
	if err != nil {
		return nil, err
	}
	if err := s.Ledger.Credit(tx, l.SellerID, t.Amount); err != nil {
		return nil, err
	}
	buyer, lid := t.UserID, l.ID
	sale := models.Transaction{
		UserID:      l.SellerID,
		WalletID:    &sw.ID,
		Type:        models.TxPayment,
		Direction:   models.DirectionCredit,
		Amount:      t.Amount,
		Status:      models.TransactionStatusCompleted,
		Reference:   t.Reference,
		Description: fmt.Sprintf("Sale of %d x %s", quantity, l.Title),
		SenderID:    &buyer,
		ListingID:   &lid,
		PropertyID:  l.PropertyID,
	}
	if err := s.Ledger.CreateTransaction(tx, &sale); err != nil {
		return nil, err
	}

	if err := tx.Model(&models.MarketplaceListing{}).Where("id = ?", l.ID).
		Update("sold_quantity", gorm.Expr("sold_quantity + ?", quantity)).Error; err != nil {
		return nil, err
	}
	if err := tx.Model(&models.MarketplaceListing{}).
		Where("id = ? AND quantity = 0 AND status = ?", l.ID, models.ListingActive).
		Update("status", models.ListingSoldOut).Error; err != nil {
		return nil, err
	}

	p := models.MarketplacePurchase{
		ListingID:     l.ID,
		BuyerID:       t.UserID,
		Quantity:      quantity,
		UnitPrice:     l.UnitPrice,
		Total:         t.Amount,
		TransactionID: t.ID,
		Status:        models.TransactionStatusCompleted,
	}
	if err := tx.Create(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// Prepare holds stock for a gateway checkout.
func (s *Service) Prepare(tx *gorm.DB, t *models.Transaction, in payment.Intent) error {
	if in.ListingID == nil {
		return apperr.BadRequest("listing_id is required")
	}
	if in.Quantity < 1 {
		return apperr.BadRequest("quantity must be at least 1")
	}
	l, err := lockListing(tx, *in.ListingID, t.UserID, in.Quantity)
	if err != nil {
		return err
	}
	if err := takeStock(tx, l.ID, in.Quantity); err != nil {
		return err
	}

	lid := l.ID
	t.Amount = l.UnitPrice.Mul(decimal.NewFromInt(int64(in.Quantity))).Round(2)
	t.ListingID = &lid
	t.PropertyID = l.PropertyID
	t.Description = fmt.Sprintf("%d x %s", in.Quantity, l.Title)
	t.Metadata = ledger.Metadata(map[string]interface{}{"quantity": in.Quantity})
	return nil
}

// Fulfill settles a verified gateway purchase whose stock Prepare held.
func (s *Service) Fulfill(tx *gorm.DB, t *models.Transaction) error {
	if t.ListingID == nil {
		return apperr.ErrInvalidState
	}
	var l models.MarketplaceListing
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&l, "id = ?", *t.ListingID).Error; err != nil {
		return err
	}
	_, err := s.settle(tx, &l, t, heldQuantity(t))
	return err
}

// Revive holds the stock again for a payment that arrived after its checkout
// was failed.
func (s *Service) Revive(tx *gorm.DB, t *models.Transaction) error {
	q := heldQuantity(t)
	if t.ListingID == nil || q < 1 {
		return apperr.ErrInvalidState
	}
	var l models.MarketplaceListing
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&l, "id = ?", *t.ListingID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.ErrReservationLost
		}
		return err
	}
	if l.Status != models.ListingActive {
		return apperr.ErrReservationLost
	}
	if err := takeStock(tx, l.ID, q); err != nil {
		if errors.Is(err, apperr.ErrQuantityUnavailable) {
			return apperr.ErrReservationLost
		}
		return err
	}
	return nil
}

// Fail returns held stock to the listing.
func (s *Service) Fail(tx *gorm.DB, t *models.Transaction) error {
	if t.ListingID == nil {
		return nil
	}
	q := heldQuantity(t)
	if q < 1 {
		return nil
	}
	return tx.Model(&models.MarketplaceListing{}).Where("id = ?", *t.ListingID).
		Updates(map[string]interface{}{
			"quantity": gorm.Expr("quantity + ?", q),
			"status": gorm.Expr("CASE WHEN status = ? THEN ? ELSE status END",
				models.ListingSoldOut, models.ListingActive),
		}).Error
}

func lockListing(tx *gorm.DB, id, buyerID uuid.UUID, quantity int) (*models.MarketplaceListing, error) {
	var l models.MarketplaceListing
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&l, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("listing not found")
	}
	if err != nil {
		return nil, err
	}
	if l.Status != models.ListingActive {
		return nil, apperr.ErrListingUnavailable
	}
	if l.SellerID == buyerID {
		return nil, apperr.BadRequest("cannot buy your own listing")
	}
	if quantity > l.Quantity {
		return nil, apperr.ErrQuantityUnavailable
	}
	return &l, nil
}

func takeStock(tx *gorm.DB, id uuid.UUID, quantity int) error {
	result := tx.Model(&models.MarketplaceListing{}).
		Where("id = ? AND quantity >= ?", id, quantity).
		Update("quantity", gorm.Expr("quantity - ?", quantity))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.ErrQuantityUnavailable
	}
	return nil
}

func heldQuantity(t *models.Transaction) int {
	var md struct {
		Quantity int `json:"quantity"`
	}
	if len(t.Metadata) > 0 {
		_ = json.Unmarshal(t.Metadata, &md)
	}
	return md.Quantity
}
