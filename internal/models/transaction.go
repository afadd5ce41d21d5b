package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type TransactionType string

const (
	TxDeposit          TransactionType = "deposit"
	TxWithdrawal       TransactionType = "withdrawal"
	TxTransfer         TransactionType = "transfer"
	TxPayment          TransactionType = "payment" // marketplace purchase
	TxRefund           TransactionType = "refund"
	TxReferral         TransactionType = "referral"
	TxInvestment       TransactionType = "investment"
	TxPropertyPurchase TransactionType = "property_purchase"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusCancelled TransactionStatus = "cancelled"
)

// Direction says how a row moves the owner's balance. Memo rows move nothing,
// they only document an event (e.g. a rejected withdrawal being released).
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
	DirectionMemo   Direction = "memo"
)

// Transaction is one row of the ledger. Rows are never deleted; only Status,
// Description and Metadata change after creation.
type Transaction struct {
	ID        uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID         `gorm:"type:uuid;not null;index;uniqueIndex:idx_tx_reference_owner,priority:2" json:"user_id"`
	WalletID  *uuid.UUID        `gorm:"type:uuid;index" json:"wallet_id,omitempty"`
	Type      TransactionType   `gorm:"type:varchar(30);not null;index" json:"type"`
	Direction Direction         `gorm:"type:varchar(10);not null" json:"direction"`
	Amount    decimal.Decimal   `gorm:"type:numeric(20,2);not null" json:"amount"`
	Status    TransactionStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	Reference string            `gorm:"type:varchar(80);not null;uniqueIndex:idx_tx_reference_owner,priority:1" json:"reference"`

	Description   string `gorm:"type:text" json:"description"`
	PaymentMethod string `gorm:"type:varchar(40)" json:"payment_method,omitempty"`

	SenderID     *uuid.UUID `gorm:"type:uuid" json:"sender_id,omitempty"`
	RecipientID  *uuid.UUID `gorm:"type:uuid" json:"recipient_id,omitempty"`
	PropertyID   *uuid.UUID `gorm:"type:uuid;index" json:"property_id,omitempty"`
	InvestmentID *uuid.UUID `gorm:"type:uuid;index" json:"investment_id,omitempty"`
	ListingID    *uuid.UUID `gorm:"type:uuid;index" json:"listing_id,omitempty"`

	// referral commissions only
	SourceUserID    *uuid.UUID `gorm:"type:uuid" json:"source_user_id,omitempty"`
	CommissionLevel int        `gorm:"not null;default:0" json:"commission_level,omitempty"`

	Metadata datatypes.JSON `json:"metadata,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"date"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (t *Transaction) BeforeCreate(tx *gorm.DB) (err error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Status == "" {
		t.Status = TransactionStatusPending
	}
	return
}

// IsPurchase reports whether completing t should trigger referral commissions.
func (t *Transaction) IsPurchase() bool {
	switch t.Type {
	case TxPropertyPurchase, TxInvestment, TxPayment:
		return t.Direction == DirectionDebit
	}
	return false
}
