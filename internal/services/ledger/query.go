package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/apperr"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/models"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type Filter struct {
	Type   models.TransactionType
	Status models.TransactionStatus
	From   *time.Time
	To     *time.Time
	Page   int
	Limit  int
}

// Normalize clamps Page and Limit to their allowed range.
func (f *Filter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
}

type Page struct {
	Items []models.Transaction `json:"transactions"`
	Total int64                `json:"total"`
	Page  int                  `json:"page"`
	Limit int                  `json:"limit"`
}

// GetTransactions lists the ledger rows of userID, newest first.
func (s *Service) GetTransactions(ctx context.Context, userID uuid.UUID, f Filter) (*Page, error) {
	f.Normalize()

	q := s.DB.WithContext(ctx).Model(&models.Transaction{}).Where("user_id = ?", userID)
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at <= ?", *f.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, err
	}

	items := []models.Transaction{}
	if err := q.Order("created_at DESC").
		Offset((f.Page - 1) * f.Limit).
		Limit(f.Limit).
		Find(&items).Error; err != nil {
		return nil, err
	}

	return &Page{Items: items, Total: total, Page: f.Page, Limit: f.Limit}, nil
}

// Reconciliation compares the cached wallet aggregates with the values implied
// by the ledger rows that moved the wallet.
type Reconciliation struct {
	UserID            uuid.UUID       `json:"user_id"`
	Balance           decimal.Decimal `json:"balance"`
	ExpectedBalance   decimal.Decimal `json:"expected_balance"`
	Available         decimal.Decimal `json:"available_balance"`
	ExpectedAvailable decimal.Decimal `json:"expected_available_balance"`
	Pending           decimal.Decimal `json:"pending_balance"`
	ExpectedPending   decimal.Decimal `json:"expected_pending_balance"`
	Balanced          bool            `json:"balanced"`
}

type sumRow struct {
	Type      models.TransactionType
	Direction models.Direction
	Status    models.TransactionStatus
	Total     decimal.Decimal
}

// Reconcile recomputes a user's balances from the ledger. Only rows carrying a
// wallet id moved the wallet; gateway-paid purchases do not.
//
// The escrow wallet owns no row for the holds it earmarks: its pending balance
// is the sum of every user's open withdrawal, and a payout raises its balance
// without making it available.
func (s *Service) Reconcile(ctx context.Context, userID uuid.UUID) (*Reconciliation, error) {
	var w models.Wallet
	if err := s.DB.WithContext(ctx).Where("user_id = ?", userID).First(&w).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrWalletNotFound
		}
		return nil, err
	}

	var rows []sumRow
	err := s.DB.WithContext(ctx).Model(&models.Transaction{}).
		Select("type, direction, status, COALESCE(SUM(amount), 0) AS total").
		Where("user_id = ? AND wallet_id IS NOT NULL", userID).
		Group("type, direction, status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	escrow := userID == s.EscrowID && s.EscrowID != uuid.Nil
	balance, pending, payouts := decimal.Zero, decimal.Zero, decimal.Zero
	for _, r := range rows {
		switch {
		case r.Status == models.TransactionStatusCompleted && r.Direction == models.DirectionCredit:
			balance = balance.Add(r.Total)
			if r.Type == models.TxWithdrawal {
				payouts = payouts.Add(r.Total)
			}
		case r.Status == models.TransactionStatusCompleted && r.Direction == models.DirectionDebit:
			balance = balance.Sub(r.Total)
		case r.Status == models.TransactionStatusPending && r.Direction == models.DirectionDebit && !escrow:
			pending = pending.Add(r.Total)
		}
	}

	available := balance.Sub(pending)
	if escrow {
		if pending, err = s.openWithdrawals(ctx); err != nil {
			return nil, err
		}
		available = balance.Sub(payouts)
	}

	rec := &Reconciliation{
		UserID:            userID,
		Balance:           w.Balance,
		ExpectedBalance:   balance,
		Available:         w.AvailableBalance,
		ExpectedAvailable: available,
		Pending:           w.PendingBalance,
		ExpectedPending:   pending,
	}
	rec.Balanced = rec.Balance.Equal(rec.ExpectedBalance) &&
		rec.Available.Equal(rec.ExpectedAvailable) &&
		rec.Pending.Equal(rec.ExpectedPending)
	return rec, nil
}

// openWithdrawals sums the holds still earmarked on the escrow wallet.
func (s *Service) openWithdrawals(ctx context.Context) (decimal.Decimal, error) {
	var row struct{ Total decimal.Decimal }
	err := s.DB.WithContext(ctx).Model(&models.Transaction{}).
		Select("COALESCE(SUM(amount), 0) AS total").
		Where("type = ? AND direction = ? AND status = ? AND wallet_id IS NOT NULL",
			models.TxWithdrawal, models.DirectionDebit, models.TransactionStatusPending).
		Scan(&row).Error
	return row.Total, err
}
