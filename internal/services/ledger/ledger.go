// Package ledger owns wallet balances and the transactions table. Every
// balance change happens here, inside the caller's DB transaction, as an
// atomic conditional update next to the ledger row that explains it.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/apperr"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/events"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/metrics"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/models"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/realtime"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/utils"
)

type Service struct {
	DB       *gorm.DB
	Notifier realtime.Sender
	Events   events.Publisher
	Log      *zap.Logger

	// EscrowID is the system account whose wallet earmarks pending withdrawals.
	EscrowID uuid.UUID
}

func NewService(db *gorm.DB, notifier realtime.Sender, pub events.Publisher, log *zap.Logger, escrowID uuid.UUID) *Service {
	return &Service{DB: db, Notifier: notifier, Events: pub, Log: log, EscrowID: escrowID}
}

type FundInput struct {
	UserID      uuid.UUID
	Amount      decimal.Decimal
	Reference   string
	Method      string
	Description string
}

// Fund credits the wallet of in.UserID and records a completed deposit.
func (s *Service) Fund(ctx context.Context, in FundInput) (*models.Transaction, error) {
	t, err := s.fund(ctx, in)
	metrics.LedgerOperations.WithLabelValues("fund", metrics.Outcome(err)).Inc()
	if err != nil {
		return nil, err
	}

	s.Log.Info("Wallet funded",
		zap.String("user_id", in.UserID.String()),
		zap.String("reference", t.Reference),
		zap.String("amount", t.Amount.StringFixed(2)))
	s.After(ctx, t, events.TransactionCompleted, realtime.Message{
		Kind:    "wallet_funded",
		Title:   "Wallet funded",
		Message: fmt.Sprintf("Your wallet was credited with NGN %s", t.Amount.StringFixed(2)),
		Data:    map[string]interface{}{"reference": t.Reference, "amount": t.Amount.StringFixed(2)},
	})
	return t, nil
}

func (s *Service) fund(ctx context.Context, in FundInput) (*models.Transaction, error) {
	if in.Amount.LessThan(MinAmount) {
		return nil, apperr.ErrAmountTooSmall
	}
	ref := strings.TrimSpace(in.Reference)
	if ref == "" {
		ref = utils.NewReference("DEP")
	}
	method := in.Method
	if method == "" {
		method = "wallet"
	}
	desc := in.Description
	if desc == "" {
		desc = "Wallet funding"
	}

	var t models.Transaction
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureUser(tx, in.UserID); err != nil {
			return err
		}
		exists, err := s.ReferenceExists(tx, ref)
		if err != nil {
			return err
		}
		if exists {
			return apperr.ErrDuplicateReference
		}

		w, err := s.FindOrCreateWallet(tx, in.UserID)
		if err != nil {
			return err
		}

		t = models.Transaction{
			UserID:        in.UserID,
			WalletID:      &w.ID,
			Type:          models.TxDeposit,
			Direction:     models.DirectionCredit,
			Amount:        in.Amount.Round(2),
			Status:        models.TransactionStatusCompleted,
			Reference:     ref,
			Description:   desc,
			PaymentMethod: method,
		}
		if err := s.CreateTransaction(tx, &t); err != nil {
			return err
		}
		return s.Credit(tx, in.UserID, t.Amount)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

type TransferInput struct {
	SenderID    uuid.UUID
	RecipientID uuid.UUID
	Amount      decimal.Decimal
	Note        string
}

// TransferResult holds both rows of a transfer; they share one reference.
type TransferResult struct {
	Reference string              `json:"reference"`
	Debit     *models.Transaction `json:"debit"`
	Credit    *models.Transaction `json:"credit"`
}

// Transfer moves amount between two users' wallets in one DB transaction.
func (s *Service) Transfer(ctx context.Context, in TransferInput) (*TransferResult, error) {
	res, err := s.transfer(ctx, in)
	metrics.LedgerOperations.WithLabelValues("transfer", metrics.Outcome(err)).Inc()
	if err != nil {
		return nil, err
	}

	s.Log.Info("Transfer completed",
		zap.String("sender_id", in.SenderID.String()),
		zap.String("recipient_id", in.RecipientID.String()),
		zap.String("reference", res.Reference),
		zap.String("amount", res.Debit.Amount.StringFixed(2)))

	amount := res.Debit.Amount.StringFixed(2)
	s.After(ctx, res.Debit, events.TransactionCompleted, realtime.Message{
		Kind:    "transfer_sent",
		Title:   "Transfer sent",
		Message: fmt.Sprintf("You sent NGN %s", amount),
		Data:    map[string]interface{}{"reference": res.Reference, "amount": amount},
	})
	s.After(ctx, res.Credit, events.TransactionCompleted, realtime.Message{
		Kind:    "transfer_received",
		Title:   "Transfer received",
		Message: fmt.Sprintf("You received NGN %s", amount),
		Data:    map[string]interface{}{"reference": res.Reference, "amount": amount},
	})
	return res, nil
}

func (s *Service) transfer(ctx context.Context, in TransferInput) (*TransferResult, error) {
	if in.SenderID == in.RecipientID {
		return nil, apperr.ErrSelfTransfer
	}
	if in.Amount.LessThan(MinAmount) {
		return nil, apperr.ErrAmountTooSmall
	}
	amount := in.Amount.Round(2)
	ref := utils.NewReference("TRF")
	note := strings.TrimSpace(in.Note)
	if note == "" {
		note = "Wallet transfer"
	}

	res := &TransferResult{Reference: ref}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureUser(tx, in.RecipientID); err != nil {
			return err
		}
		if _, err := s.FindOrCreateWallet(tx, in.RecipientID); err != nil {
			return err
		}

		// lock in id order so opposite transfers cannot deadlock
		first, second := in.SenderID, in.RecipientID
		if strings.Compare(first.String(), second.String()) > 0 {
			first, second = second, first
		}
		locked := make(map[uuid.UUID]*models.Wallet, 2)
		for _, id := range []uuid.UUID{first, second} {
			w, err := s.LockWallet(tx, id)
			if err != nil {
				return err
			}
			locked[id] = w
		}

		sw := locked[in.SenderID]
		if sw.AvailableBalance.LessThan(amount) {
			return apperr.ErrInsufficientBalance
		}

		if err := s.Debit(tx, in.SenderID, amount); err != nil {
			return err
		}
		if err := s.Credit(tx, in.RecipientID, amount); err != nil {
			return err
		}

		sender, recipient := in.SenderID, in.RecipientID
		res.Debit = &models.Transaction{
			UserID:      in.SenderID,
			WalletID:    &sw.ID,
			Type:        models.TxTransfer,
			Direction:   models.DirectionDebit,
			Amount:      amount,
			Status:      models.TransactionStatusCompleted,
			Reference:   ref,
			Description: note,
			SenderID:    &sender,
			RecipientID: &recipient,
		}
		if err := s.CreateTransaction(tx, res.Debit); err != nil {
			return err
		}
		res.Credit = &models.Transaction{
			UserID:      in.RecipientID,
			WalletID:    &locked[in.RecipientID].ID,
			Type:        models.TxTransfer,
			Direction:   models.DirectionCredit,
			Amount:      amount,
			Status:      models.TransactionStatusCompleted,
			Reference:   ref,
			Description: note,
			SenderID:    &sender,
			RecipientID: &recipient,
		}
		return s.CreateTransaction(tx, res.Credit)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

type WithdrawInput struct {
	UserID        uuid.UUID
	Amount        decimal.Decimal
	BankAccountID uuid.UUID
	Note          string
}

// Withdraw opens a pending withdrawal: the amount moves from the user's
// availableBalance to pendingBalance and the escrow wallet earmarks it.
// Approval and rejection live in the withdrawal package.
func (s *Service) Withdraw(ctx context.Context, in WithdrawInput) (*models.Transaction, error) {
	t, err := s.withdraw(ctx, in)
	metrics.LedgerOperations.WithLabelValues("withdraw", metrics.Outcome(err)).Inc()
	if err != nil {
		return nil, err
	}

	s.Log.Info("Withdrawal requested",
		zap.String("user_id", in.UserID.String()),
		zap.String("reference", t.Reference),
		zap.String("amount", t.Amount.StringFixed(2)))
	s.After(ctx, t, events.TransactionPending, realtime.Message{
		Kind:    "withdrawal_pending",
		Title:   "Withdrawal requested",
		Message: fmt.Sprintf("Your withdrawal of NGN %s is awaiting approval", t.Amount.StringFixed(2)),
		Data:    map[string]interface{}{"reference": t.Reference, "transaction_id": t.ID.String()},
	})
	return t, nil
}

func (s *Service) withdraw(ctx context.Context, in WithdrawInput) (*models.Transaction, error) {
	if in.Amount.LessThan(MinAmount) {
		return nil, apperr.ErrAmountTooSmall
	}
	if s.EscrowID == uuid.Nil {
		return nil, errors.New("escrow account is not configured")
	}
	amount := in.Amount.Round(2)

	var t models.Transaction
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var bank models.BankAccount
		if err := tx.First(&bank, "id = ?", in.BankAccountID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.ErrBankAccountNotFound
			}
			return err
		}
		if bank.UserID != in.UserID {
			return apperr.ErrBankAccountNotOwned
		}

		w, err := s.LockWallet(tx, in.UserID)
		if err != nil {
			return err
		}
		if w.AvailableBalance.LessThan(amount) {
			return apperr.ErrInsufficientBalance
		}
		if _, err := s.FindOrCreateWallet(tx, s.EscrowID); err != nil {
			return err
		}
		if _, err := s.LockWallet(tx, s.EscrowID); err != nil {
			return err
		}

		if err := s.Hold(tx, in.UserID, amount); err != nil {
			return err
		}
		if err := s.Apply(tx, s.EscrowID, Delta{Pending: amount}, apperr.ErrInvalidState); err != nil {
			return err
		}

		desc := strings.TrimSpace(in.Note)
		if desc == "" {
			desc = "Withdrawal to " + bank.BankName
		}
		t = models.Transaction{
			UserID:        in.UserID,
			WalletID:      &w.ID,
			Type:          models.TxWithdrawal,
			Direction:     models.DirectionDebit,
			Amount:        amount,
			Status:        models.TransactionStatusPending,
			Reference:     utils.NewReference("WDR"),
			Description:   desc,
			PaymentMethod: "bank_transfer",
			Metadata: Metadata(map[string]interface{}{
				"bank_account_id": bank.ID.String(),
				"bank_name":       bank.BankName,
				"bank_code":       bank.BankCode,
				"account_number":  bank.AccountNumber,
				"account_name":    bank.AccountName,
			}),
		}
		return s.CreateTransaction(tx, &t)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetWallet returns the wallet of userID, creating it on first access.
func (s *Service) GetWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	var w *models.Wallet
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		w, err = s.FindOrCreateWallet(tx, userID)
		return err
	})
	return w, err
}

// After runs the post-commit side effects of t: user notification and ledger
// event. Failures are logged only.
func (s *Service) After(ctx context.Context, t *models.Transaction, eventType string, msg realtime.Message) {
	if s.Notifier != nil && msg.Kind != "" {
		s.Notifier.Notify(ctx, t.UserID, msg)
	}
	if s.Events != nil {
		if err := s.Events.Publish(ctx, events.FromTransaction(eventType, t)); err != nil {
			s.Log.Warn("Failed to publish transaction event",
				zap.String("reference", t.Reference), zap.String("event", eventType), zap.Error(err))
		}
	}
}

func (s *Service) ensureUser(tx *gorm.DB, userID uuid.UUID) error {
	var n int64
	if err := tx.Model(&models.User{}).Where("id = ?", userID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return apperr.ErrUserNotFound
	}
	return nil
}
