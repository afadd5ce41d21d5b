package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Wallet holds cached aggregates of a user's ledger rows.
// Balance = AvailableBalance + PendingBalance for regular users; the escrow
// wallet uses Balance to accumulate settled payouts.
type Wallet struct {
	ID               uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	UserID           uuid.UUID       `gorm:"type:uuid;uniqueIndex;not null" json:"user_id"`
	Balance          decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0;check:chk_wallet_balance,balance >= 0" json:"balance"`
	AvailableBalance decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0;check:chk_wallet_available,available_balance >= 0" json:"availableBalance"`
	PendingBalance   decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0;check:chk_wallet_pending,pending_balance >= 0" json:"pendingBalance"`
	Currency         string          `gorm:"type:varchar(3);not null;default:'NGN'" json:"currency"`
	Version          int64           `gorm:"not null;default:0" json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (w *Wallet) BeforeCreate(tx *gorm.DB) (err error) {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	if w.Currency == "" {
		w.Currency = "NGN"
	}
	return
}

// Notification is a persisted user notification; it is also pushed over
// websocket and Redis when created.
type Notification struct {
	ID      uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID  uuid.UUID      `gorm:"type:uuid;index;not null" json:"user_id"`
	Kind    string         `gorm:"type:varchar(40);not null" json:"kind"`
	Title   string         `gorm:"type:varchar(150)" json:"title"`
	Message string         `gorm:"type:text" json:"message"`
	Data    datatypes.JSON `json:"data,omitempty"`

	ReadAt    *time.Time `json:"read_at"`
	CreatedAt time.Time  `json:"created_at"`
}

func (n *Notification) BeforeCreate(tx *gorm.DB) (err error) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return
}
