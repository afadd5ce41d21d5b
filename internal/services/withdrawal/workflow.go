// Package withdrawal moves a withdrawal from pending to completed (approve)
// or failed (reject). Creation is ledger.Service.Withdraw.
package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/apperr"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/events"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/metrics"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/models"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/realtime"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/services/ledger"
)

type Workflow struct {
	DB     *gorm.DB
	Ledger *ledger.Service
	Log    *zap.Logger
}

func NewWorkflow(db *gorm.DB, l *ledger.Service, log *zap.Logger) *Workflow {
	return &Workflow{DB: db, Ledger: l, Log: log}
}

// Create opens a pending withdrawal.
func (w *Workflow) Create(ctx context.Context, in ledger.WithdrawInput) (*models.Transaction, error) {
	return w.Ledger.Withdraw(ctx, in)
}

// Approve settles a pending withdrawal: the user's hold is consumed and the
// escrow records the payout.
func (w *Workflow) Approve(ctx context.Context, txID, adminID uuid.UUID) (*models.Transaction, error) {
	t, err := w.approve(ctx, txID, adminID)
	metrics.WithdrawalTransitions.WithLabelValues("approve", metrics.Outcome(err)).Inc()
	if err != nil {
		return nil, err
	}

	w.Log.Info("Withdrawal approved",
		zap.String("transaction_id", t.ID.String()),
		zap.String("user_id", t.UserID.String()),
		zap.String("admin_id", adminID.String()),
		zap.String("amount", t.Amount.StringFixed(2)))
	w.Ledger.After(ctx, t, events.TransactionCompleted, realtime.Message{
		Kind:    "withdrawal_approved",
		Title:   "Withdrawal approved",
		Message: fmt.Sprintf("Your withdrawal of NGN %s has been paid out", t.Amount.StringFixed(2)),
		Data:    map[string]interface{}{"reference": t.Reference, "transaction_id": t.ID.String()},
	})
	return t, nil
}

func (w *Workflow) approve(ctx context.Context, txID, adminID uuid.UUID) (*models.Transaction, error) {
	l := w.Ledger
	var t models.Transaction
	err := w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := loadPending(tx, txID, &t); err != nil {
			return err
		}

		ew, err := l.LockWallet(tx, l.EscrowID)
		if err != nil {
			return err
		}
		if ew.PendingBalance.LessThan(t.Amount) {
			return apperr.ErrEscrowInsufficientHold
		}
		if _, err := l.LockWallet(tx, t.UserID); err != nil {
			return err
		}

		if err := l.Apply(tx, l.EscrowID, ledger.Delta{Pending: t.Amount.Neg(), Balance: t.Amount}, apperr.ErrEscrowInsufficientHold); err != nil {
			return err
		}
		if err := l.Settle(tx, t.UserID, t.Amount); err != nil {
			return err
		}

		t.Status = models.TransactionStatusCompleted
		t.Metadata = ledger.MergeMetadata(t.Metadata, map[string]interface{}{
			"approved_by": adminID.String(),
		})
		if err := tx.Model(&t).Select("status", "metadata").Updates(&t).Error; err != nil {
			return err
		}

		source := t.UserID
		payout := models.Transaction{
			UserID:        l.EscrowID,
			WalletID:      &ew.ID,
			Type:          models.TxWithdrawal,
			Direction:     models.DirectionCredit,
			Amount:        t.Amount,
			Status:        models.TransactionStatusCompleted,
			Reference:     t.Reference,
			Description:   "Withdrawal payout",
			PaymentMethod: t.PaymentMethod,
			SourceUserID:  &source,
			Metadata: ledger.Metadata(map[string]interface{}{
				"original_transaction_id": t.ID.String(),
				"approved_by":             adminID.String(),
			}),
		}
		return l.CreateTransaction(tx, &payout)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Reject fails a pending withdrawal and returns the held amount to the user's
// availableBalance. note is mandatory.
func (w *Workflow) Reject(ctx context.Context, txID, adminID uuid.UUID, note string) (*models.Transaction, error) {
	t, err := w.reject(ctx, txID, adminID, strings.TrimSpace(note))
	metrics.WithdrawalTransitions.WithLabelValues("reject", metrics.Outcome(err)).Inc()
	if err != nil {
		return nil, err
	}

	w.Log.Info("Withdrawal rejected",
		zap.String("transaction_id", t.ID.String()),
		zap.String("user_id", t.UserID.String()),
		zap.String("admin_id", adminID.String()),
		zap.String("note", note))
	w.Ledger.After(ctx, t, events.TransactionFailed, realtime.Message{
		Kind:    "withdrawal_rejected",
		Title:   "Withdrawal rejected",
		Message: fmt.Sprintf("Your withdrawal of NGN %s was rejected: %s", t.Amount.StringFixed(2), strings.TrimSpace(note)),
		Data:    map[string]interface{}{"reference": t.Reference, "transaction_id": t.ID.String()},
	})
	return t, nil
}

func (w *Workflow) reject(ctx context.Context, txID, adminID uuid.UUID, note string) (*models.Transaction, error) {
	if note == "" {
		return nil, apperr.ErrRejectionNoteRequired
	}

	l := w.Ledger
	var t models.Transaction
	err := w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := loadPending(tx, txID, &t); err != nil {
			return err
		}
		if _, err := l.LockWallet(tx, l.EscrowID); err != nil {
			return err
		}
		if _, err := l.LockWallet(tx, t.UserID); err != nil {
			return err
		}

		if err := l.Release(tx, t.UserID, t.Amount); err != nil {
			return err
		}
		if err := l.Apply(tx, l.EscrowID, ledger.Delta{Pending: t.Amount.Neg()}, apperr.ErrEscrowInsufficientHold); err != nil {
			return err
		}

		t.Status = models.TransactionStatusFailed
		t.Metadata = ledger.MergeMetadata(t.Metadata, map[string]interface{}{
			"rejected_by":    adminID.String(),
			"rejection_note": note,
		})
		if err := tx.Model(&t).Select("status", "metadata").Updates(&t).Error; err != nil {
			return err
		}

		refund := models.Transaction{
			UserID:      t.UserID,
			WalletID:    t.WalletID,
			Type:        models.TxRefund,
			Direction:   models.DirectionMemo,
			Amount:      t.Amount,
			Status:      models.TransactionStatusCompleted,
			Reference:   t.Reference + "-RFD",
			Description: "Withdrawal rejected: " + note,
			Metadata: ledger.Metadata(map[string]interface{}{
				"original_transaction_id": t.ID.String(),
				"rejection_note":          note,
			}),
		}
		return l.CreateTransaction(tx, &refund)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListPending returns the admin approval queue, oldest first.
func (w *Workflow) ListPending(ctx context.Context, f ledger.Filter) (*ledger.Page, error) {
	f.Normalize()

	q := w.DB.WithContext(ctx).Model(&models.Transaction{}).
		Where("type = ? AND status = ? AND direction = ?", models.TxWithdrawal, models.TransactionStatusPending, models.DirectionDebit)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, err
	}
	items := []models.Transaction{}
	if err := q.Order("created_at ASC").Offset((f.Page - 1) * f.Limit).Limit(f.Limit).Find(&items).Error; err != nil {
		return nil, err
	}
	return &ledger.Page{Items: items, Total: total, Page: f.Page, Limit: f.Limit}, nil
}

func loadPending(tx *gorm.DB, id uuid.UUID, t *models.Transaction) error {
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(t, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.ErrTransactionNotFound
	}
	if err != nil {
		return err
	}
	if t.Type != models.TxWithdrawal || t.Direction != models.DirectionDebit {
		return apperr.ErrNotWithdrawal
	}
	if t.Status != models.TransactionStatusPending {
		return apperr.ErrNotPending
	}
	return nil
}
