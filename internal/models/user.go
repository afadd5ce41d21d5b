package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Role string

const (
	RoleUser   Role = "user"
	RoleAdmin  Role = "admin"
	RoleSystem Role = "system" // escrow / platform account
)

// Rank is the referral tier of a user. Tiers are strictly ordered, see RankOrder.
type Rank string

const (
	RankBronze   Rank = "bronze"
	RankSilver   Rank = "silver"
	RankGold     Rank = "gold"
	RankPlatinum Rank = "platinum"
	RankDiamond  Rank = "diamond"
	RankMaster   Rank = "master"
)

// RankOrder lists ranks from lowest to highest.
var RankOrder = []Rank{RankBronze, RankSilver, RankGold, RankPlatinum, RankDiamond, RankMaster}

// Level returns the position of r in RankOrder, or -1 if unknown.
func (r Rank) Level() int {
	for i, v := range RankOrder {
		if v == r {
			return i
		}
	}
	return -1
}

// internal/models/user.go
type User struct {
	ID    uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name  string    `gorm:"not null" json:"name"`
	Email string    `gorm:"uniqueIndex;not null" json:"email"`
	Phone string    `gorm:"type:varchar(30)" json:"phone"`

	Password string `gorm:"not null" json:"-"`
	Role     Role   `gorm:"type:varchar(20);not null;index" json:"role"`
	IsActive bool   `gorm:"default:true" json:"is_active"`

	ReferralCode string     `gorm:"type:varchar(20);uniqueIndex" json:"referral_code"`
	ReferredBy   *uuid.UUID `gorm:"type:uuid;index" json:"referred_by,omitempty"`
	Rank         Rank       `gorm:"type:varchar(20);not null;default:'bronze'" json:"rank"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Wallet *Wallet `gorm:"foreignKey:UserID;references:ID" json:"wallet,omitempty"`
}

func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Rank == "" {
		u.Rank = RankBronze
	}
	return
}

// BankAccount is a payout destination owned by a user.
type BankAccount struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID        uuid.UUID `gorm:"type:uuid;index;not null" json:"user_id"`
	BankName      string    `gorm:"type:varchar(120);not null" json:"bank_name"`
	BankCode      string    `gorm:"type:varchar(20)" json:"bank_code"`
	AccountNumber string    `gorm:"type:varchar(20);not null" json:"account_number"`
	AccountName   string    `gorm:"type:varchar(150);not null" json:"account_name"`
	IsDefault     bool      `gorm:"default:false" json:"is_default"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (b *BankAccount) BeforeCreate(tx *gorm.DB) (err error) {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return
}
