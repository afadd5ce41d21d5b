package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type PropertyStatus string

const (
	PropertyAvailable PropertyStatus = "available"
	PropertyReserved  PropertyStatus = "reserved" // menunggu konfirmasi pembayaran gateway
	PropertySold      PropertyStatus = "sold"
)

type Property struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	Title       string          `gorm:"type:varchar(200);not null" json:"title"`
	Description string          `gorm:"type:text" json:"description"`
	Location    string          `gorm:"type:varchar(200)" json:"location"`
	Price       decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"price"`
	Status      PropertyStatus  `gorm:"type:varchar(20);not null;default:'available';index" json:"status"`
	OwnerID     *uuid.UUID      `gorm:"type:uuid;index" json:"owner_id,omitempty"`
	ListedBy    uuid.UUID       `gorm:"type:uuid;not null" json:"listed_by"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p *Property) BeforeCreate(tx *gorm.DB) (err error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return
}
