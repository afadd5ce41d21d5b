package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type PayoutFrequency string

const (
	PayoutMonthly  PayoutFrequency = "monthly"
	PayoutMaturity PayoutFrequency = "maturity"
)

type InvestmentPlan struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	Name            string          `gorm:"type:varchar(150);not null" json:"name"`
	Description     string          `gorm:"type:text" json:"description"`
	MinAmount       decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"min_amount"`
	MaxAmount       decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"max_amount"`
	ROIPercent      decimal.Decimal `gorm:"type:numeric(6,2);not null" json:"roi_percent"` // total return over the whole duration
	DurationDays    int             `gorm:"not null" json:"duration_days"`
	PayoutFrequency PayoutFrequency `gorm:"type:varchar(20);not null;default:'maturity'" json:"payout_frequency"`
	IsActive        bool            `gorm:"default:true" json:"is_active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p *InvestmentPlan) BeforeCreate(tx *gorm.DB) (err error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return
}

type InvestmentStatus string

const (
	InvestmentPending   InvestmentStatus = "pending"
	InvestmentActive    InvestmentStatus = "active"
	InvestmentCompleted InvestmentStatus = "completed"
	InvestmentCancelled InvestmentStatus = "cancelled"
)

type FundingSource string

const (
	FundingWallet  FundingSource = "wallet"
	FundingGateway FundingSource = "gateway"
	FundingManual  FundingSource = "manual"
)

type UserInvestment struct {
	ID             uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	UserID         uuid.UUID        `gorm:"type:uuid;index;not null" json:"user_id"`
	PlanID         uuid.UUID        `gorm:"type:uuid;index;not null" json:"plan_id"`
	Amount         decimal.Decimal  `gorm:"type:numeric(20,2);not null" json:"amount"`
	ExpectedReturn decimal.Decimal  `gorm:"type:numeric(20,2);not null" json:"expected_return"`
	ActualReturn   decimal.Decimal  `gorm:"type:numeric(20,2);not null;default:0" json:"actual_return"`
	Status         InvestmentStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	FundingSource  FundingSource    `gorm:"type:varchar(20);not null" json:"funding_source"`

	StartDate    *time.Time `json:"start_date,omitempty"`
	EndDate      *time.Time `json:"end_date,omitempty"`
	NextPayoutAt *time.Time `gorm:"index" json:"next_payout_at,omitempty"`
	PayoutsMade  int        `gorm:"not null;default:0" json:"payouts_made"`
	PayoutsTotal int        `gorm:"not null;default:0" json:"payouts_total"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Plan *InvestmentPlan `gorm:"foreignKey:PlanID" json:"plan,omitempty"`
}

func (i *UserInvestment) BeforeCreate(tx *gorm.DB) (err error) {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return
}

// AllModels is the migration list used by db.Migrate and the tests.
func AllModels() []interface{} {
	return []interface{}{
		&User{}, &BankAccount{}, &Wallet{}, &Transaction{}, &Referral{}, &FailedCommission{},
		&Property{}, &MarketplaceListing{}, &MarketplacePurchase{},
		&InvestmentPlan{}, &UserInvestment{}, &Notification{},
	}
}
