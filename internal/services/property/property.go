package property

import (
	"context"
	"errors"
	"fmt"
	"strings"

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

type Service struct {
	DB          *gorm.DB
	Ledger      *ledger.Service
	Commissions payment.Commissioner
	Log         *zap.Logger
}

func NewService(db *gorm.DB, l *ledger.Service, commissions payment.Commissioner, log *zap.Logger) *Service {
	return &Service{DB: db, Ledger: l, Commissions: commissions, Log: log}
}

type CreateInput struct {
	Title       string
	Description string
	Location    string
	Price       decimal.Decimal
}

func (s *Service) Create(ctx context.Context, adminID uuid.UUID, in CreateInput) (*models.Property, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, apperr.BadRequest("title is required")
	}
	if in.Price.LessThan(ledger.MinAmount) {
		return nil, apperr.ErrAmountTooSmall
	}
	p := models.Property{
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Location:    in.Location,
		Price:       in.Price.Round(2),
		Status:      models.PropertyAvailable,
		ListedBy:    adminID,
	}
	if err := s.DB.WithContext(ctx).Create(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Service) List(ctx context.Context, status models.PropertyStatus, f ledger.Filter) ([]models.Property, int64, error) {
	f.Normalize()
	q := s.DB.WithContext(ctx).Model(&models.Property{})
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	items := []models.Property{}
	if err := q.Order("created_at DESC").Offset((f.Page - 1) * f.Limit).Limit(f.Limit).Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Locations lists the distinct locations that still have properties for sale.
func (s *Service) Locations(ctx context.Context) ([]string, error) {
	locations := []string{}
	err := s.DB.WithContext(ctx).
		Model(&models.Property{}).
		Where("status = ? AND location <> ''", models.PropertyAvailable).
		Distinct("location").
		Order("location").
		Pluck("location", &locations).
		Error
	return locations, err
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Property, error) {
	var p models.Property
	if err := s.DB.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("property not found")
		}
		return nil, err
	}
	return &p, nil
}

// PurchaseWithWallet buys an available property with the buyer's wallet.
func (s *Service) PurchaseWithWallet(ctx context.Context, buyerID, propertyID uuid.UUID) (*models.Transaction, error) {
	var (
		t     models.Transaction
		title string
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := lockAvailable(tx, propertyID)
		if err != nil {
			return err
		}
		title = p.Title
		w, err := s.Ledger.LockWallet(tx, buyerID)
		if err != nil {
			return err
		}
		if w.AvailableBalance.LessThan(p.Price) {
			return apperr.ErrInsufficientBalance
		}
		if err := s.Ledger.Debit(tx, buyerID, p.Price); err != nil {
			return err
		}

		pid := p.ID
		t = models.Transaction{
			UserID:        buyerID,
			WalletID:      &w.ID,
			Type:          models.TxPropertyPurchase,
			Direction:     models.DirectionDebit,
			Amount:        p.Price,
			Status:        models.TransactionStatusCompleted,
			Reference:     utils.NewReference("PRP"),
			Description:   "Purchase of " + p.Title,
			PaymentMethod: "wallet",
			PropertyID:    &pid,
		}
		if err := s.Ledger.CreateTransaction(tx, &t); err != nil {
			return err
		}
		return markSold(tx, p.ID, buyerID, models.PropertyAvailable)
	})
	metrics.LedgerOperations.WithLabelValues("property_purchase", metrics.Outcome(err)).Inc()
	if err != nil {
		return nil, err
	}

	s.Log.Info("Property purchased",
		zap.String("property_id", propertyID.String()),
		zap.String("buyer_id", buyerID.String()),
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
	s.Ledger.After(ctx, &t, events.TransactionCompleted, realtime.Message{
		Kind:    "property_purchased",
		Title:   "Property purchased",
		Message: fmt.Sprintf("You bought %s for NGN %s", title, t.Amount.StringFixed(2)),
		Data:    map[string]interface{}{"reference": t.Reference, "property_id": propertyID.String()},
	})
	return &t, nil
}

// Prepare reserves the property for a gateway checkout.
func (s *Service) Prepare(tx *gorm.DB, t *models.Transaction, in payment.Intent) error {
	if in.PropertyID == nil {
		return apperr.BadRequest("property_id is required")
	}
	p, err := lockAvailable(tx, *in.PropertyID)
	if err != nil {
		return err
	}
	if err := tx.Model(&models.Property{}).Where("id = ?", p.ID).Update("status", models.PropertyReserved).Error; err != nil {
		return err
	}
	pid := p.ID
	t.Amount = p.Price
	t.PropertyID = &pid
	t.Description = "Purchase of " + p.Title
	return nil
}

// Fulfill hands a reserved property to the payer.
func (s *Service) Fulfill(tx *gorm.DB, t *models.Transaction) error {
	if t.PropertyID == nil {
		return apperr.ErrInvalidState
	}
	return markSold(tx, *t.PropertyID, t.UserID, models.PropertyReserved)
}

// Revive reserves the property again for a payment that arrived after its
// checkout was failed.
func (s *Service) Revive(tx *gorm.DB, t *models.Transaction) error {
	if t.PropertyID == nil {
		return apperr.ErrInvalidState
	}
	result := tx.Model(&models.Property{}).
		Where("id = ? AND status = ?", *t.PropertyID, models.PropertyAvailable).
		Update("status", models.PropertyReserved)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.ErrReservationLost
	}
	return nil
}

// Fail puts a reserved property back on sale.
func (s *Service) Fail(tx *gorm.DB, t *models.Transaction) error {
	if t.PropertyID == nil {
		return nil
	}
	return tx.Model(&models.Property{}).
		Where("id = ? AND status = ?", *t.PropertyID, models.PropertyReserved).
		Update("status", models.PropertyAvailable).Error
}

func lockAvailable(tx *gorm.DB, id uuid.UUID) (*models.Property, error) {
	var p models.Property
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("property not found")
	}
	if err != nil {
		return nil, err
	}
	if p.Status != models.PropertyAvailable {
		return nil, apperr.ErrPropertyUnavailable
	}
	return &p, nil
}

func markSold(tx *gorm.DB, id, ownerID uuid.UUID, from models.PropertyStatus) error {
	result := tx.Model(&models.Property{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{"status": models.PropertySold, "owner_id": ownerID})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.ErrPropertyUnavailable
	}
	return nil
}
