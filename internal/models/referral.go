package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type ReferralStatus string

const (
	ReferralPending  ReferralStatus = "pending"
	ReferralActive   ReferralStatus = "active"
	ReferralInactive ReferralStatus = "inactive"
)

// Referral is one referrer -> referred edge. A user is referred at most once,
// so walking ReferredID -> ReferrerID gives a single up-line.
type Referral struct {
	ID         uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	ReferrerID uuid.UUID       `gorm:"type:uuid;index;not null" json:"referrer_id"`
	ReferredID uuid.UUID       `gorm:"type:uuid;uniqueIndex;not null" json:"referred_id"`
	Status     ReferralStatus  `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	Earnings   decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0" json:"earnings"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Referrer *User `gorm:"foreignKey:ReferrerID" json:"referrer,omitempty"`
	Referred *User `gorm:"foreignKey:ReferredID" json:"referred,omitempty"`
}

func (r *Referral) BeforeCreate(tx *gorm.DB) (err error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return
}

// FailedCommission keeps a commission level that could not be paid so an
// admin can replay it.
type FailedCommission struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	PaymentID     uuid.UUID       `gorm:"type:uuid;index;not null" json:"payment_id"`
	BeneficiaryID uuid.UUID       `gorm:"type:uuid;index;not null" json:"beneficiary_id"`
	SourceUserID  uuid.UUID       `gorm:"type:uuid;not null" json:"source_user_id"`
	Level         int             `gorm:"not null" json:"level"`
	BaseAmount    decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"base_amount"`
	Amount        decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"amount"`
	SourceType    TransactionType `gorm:"type:varchar(30);not null" json:"source_type"`
	Reference     string          `gorm:"type:varchar(80);not null" json:"reference"`
	Error         string          `gorm:"type:text" json:"error"`
	Resolved      bool            `gorm:"default:false;index" json:"resolved"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (f *FailedCommission) BeforeCreate(tx *gorm.DB) (err error) {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return
}
