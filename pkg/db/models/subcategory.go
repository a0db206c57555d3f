package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Subcategory groups interchangeable inventory units sold at one price.
type Subcategory struct {
	ID           uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Name         string          `gorm:"column:name;not null"`
	Price        decimal.Decimal `gorm:"column:price;type:numeric(18,2);not null"`
	IsPhysical   bool            `gorm:"column:is_physical;not null;default:false"`
	ShippingCost decimal.Decimal `gorm:"column:shipping_cost;type:numeric(18,2);not null;default:0"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (s *Subcategory) BeforeCreate(tx *gorm.DB) error {
	ensureID(&s.ID)
	return nil
}
