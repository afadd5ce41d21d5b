package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type ListingStatus string

const (
	ListingActive   ListingStatus = "active"
	ListingSoldOut  ListingStatus = "sold_out"
	ListingInactive ListingStatus = "inactive"
)

// MarketplaceListing is quantity-tracked inventory, e.g. fractional units of a property.
type MarketplaceListing struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	SellerID     uuid.UUID       `gorm:"type:uuid;index;not null" json:"seller_id"`
	PropertyID   *uuid.UUID      `gorm:"type:uuid;index" json:"property_id,omitempty"`
	Title        string          `gorm:"type:varchar(200);not null" json:"title"`
	Description  string          `gorm:"type:text" json:"description"`
	UnitPrice    decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"unit_price"`
	Quantity     int             `gorm:"not null;check:chk_listing_quantity,quantity >= 0" json:"quantity"`
	SoldQuantity int             `gorm:"not null;default:0" json:"sold_quantity"`
	Status       ListingStatus   `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Purchases []MarketplacePurchase `gorm:"foreignKey:ListingID" json:"purchases,omitempty"`
}

func (l *MarketplaceListing) BeforeCreate(tx *gorm.DB) (err error) {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return
}

type MarketplacePurchase struct {
	ID            uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	ListingID     uuid.UUID         `gorm:"type:uuid;index;not null" json:"listing_id"`
	BuyerID       uuid.UUID         `gorm:"type:uuid;index;not null" json:"buyer_id"`
	Quantity      int               `gorm:"not null" json:"quantity"`
	UnitPrice     decimal.Decimal   `gorm:"type:numeric(20,2);not null" json:"unit_price"`
	Total         decimal.Decimal   `gorm:"type:numeric(20,2);not null" json:"total"`
	TransactionID uuid.UUID         `gorm:"type:uuid;index;not null" json:"transaction_id"`
	Status        TransactionStatus `gorm:"type:varchar(20);not null" json:"status"`

	CreatedAt time.Time `json:"created_at"`
}

func (p *MarketplacePurchase) BeforeCreate(tx *gorm.DB) (err error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return
}
