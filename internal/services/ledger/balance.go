package ledger

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/apperr"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/models"
)

// MinAmount is the smallest amount accepted for fund, withdraw and transfer.
var MinAmount = decimal.NewFromInt(100)

// Delta is a signed change to the three cached aggregates of a wallet.
type Delta struct {
	Balance   decimal.Decimal
	Available decimal.Decimal
	Pending   decimal.Decimal
}

// FindOrCreateWallet returns the wallet of userID, creating an empty one.
// This should be called within a DB transaction.
func (s *Service) FindOrCreateWallet(tx *gorm.DB, userID uuid.UUID) (*models.Wallet, error) {
	var w models.Wallet
	err := tx.Where("user_id = ?", userID).
		Attrs(models.Wallet{
			UserID:           userID,
			Balance:          decimal.Zero,
			AvailableBalance: decimal.Zero,
			PendingBalance:   decimal.Zero,
		}).
		FirstOrCreate(&w).Error
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// LockWallet loads the wallet of userID with SELECT ... FOR UPDATE.
func (s *Service) LockWallet(tx *gorm.DB, userID uuid.UUID) (*models.Wallet, error) {
	var w models.Wallet
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// Apply changes the wallet of userID by d in one conditional UPDATE. Every
// negative component becomes a "col >= amount" guard; when a guard fails the
// row is left untouched and short is returned.
// This should be called within a DB transaction.
func (s *Service) Apply(tx *gorm.DB, userID uuid.UUID, d Delta, short error) error {
	updates := map[string]interface{}{
		"version": gorm.Expr("version + 1"),
	}
	q := tx.Model(&models.Wallet{}).Where("user_id = ?", userID)

	for col, v := range map[string]decimal.Decimal{
		"balance":           d.Balance,
		"available_balance": d.Available,
		"pending_balance":   d.Pending,
	} {
		switch v.Sign() {
		case 1:
			updates[col] = gorm.Expr(col+" + ?", v)
		case -1:
			updates[col] = gorm.Expr(col+" - ?", v.Abs())
			q = q.Where(col+" >= ?", v.Abs())
		}
	}

	result := q.Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var n int64
		if err := tx.Model(&models.Wallet{}).Where("user_id = ?", userID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return apperr.ErrWalletNotFound
		}
		return short
	}
	return nil
}

// Credit adds amount to balance and availableBalance.
func (s *Service) Credit(tx *gorm.DB, userID uuid.UUID, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperr.BadRequest("amount to credit must be greater than zero")
	}
	return s.Apply(tx, userID, Delta{Balance: amount, Available: amount}, apperr.ErrInsufficientBalance)
}

// Debit removes amount from balance and availableBalance.
func (s *Service) Debit(tx *gorm.DB, userID uuid.UUID, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperr.BadRequest("amount to debit must be greater than zero")
	}
	return s.Apply(tx, userID, Delta{Balance: amount.Neg(), Available: amount.Neg()}, apperr.ErrInsufficientBalance)
}

// Hold earmarks amount: availableBalance -> pendingBalance, balance unchanged.
func (s *Service) Hold(tx *gorm.DB, userID uuid.UUID, amount decimal.Decimal) error {
	return s.Apply(tx, userID, Delta{Available: amount.Neg(), Pending: amount}, apperr.ErrInsufficientBalance)
}

// Release returns a hold: pendingBalance -> availableBalance.
func (s *Service) Release(tx *gorm.DB, userID uuid.UUID, amount decimal.Decimal) error {
	return s.Apply(tx, userID, Delta{Available: amount, Pending: amount.Neg()}, apperr.ErrInvalidState)
}

// Settle consumes a hold: pendingBalance and balance both drop by amount.
func (s *Service) Settle(tx *gorm.DB, userID uuid.UUID, amount decimal.Decimal) error {
	return s.Apply(tx, userID, Delta{Balance: amount.Neg(), Pending: amount.Neg()}, apperr.ErrInvalidState)
}

// CreateTransaction inserts a ledger row. A reference already used by the same
// owner is reported as ErrDuplicateReference.
func (s *Service) CreateTransaction(tx *gorm.DB, t *models.Transaction) error {
	if err := tx.Create(t).Error; err != nil {
		if isDuplicate(err) {
			return apperr.ErrDuplicateReference
		}
		return err
	}
	return nil
}

// ReferenceExists reports whether any ledger row carries reference.
func (s *Service) ReferenceExists(tx *gorm.DB, reference string) (bool, error) {
	var n int64
	if err := tx.Model(&models.Transaction{}).Where("reference = ?", reference).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "SQLSTATE 23505")
}

// Metadata encodes kv as a JSON column value.
func Metadata(kv map[string]interface{}) datatypes.JSON {
	b, err := json.Marshal(kv)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

// MergeMetadata returns raw with the keys of kv added or replaced.
func MergeMetadata(raw datatypes.JSON, kv map[string]interface{}) datatypes.JSON {
	md := map[string]interface{}{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &md)
	}
	for k, v := range kv {
		md[k] = v
	}
	return Metadata(md)
}
