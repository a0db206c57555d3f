package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Item is one sellable inventory unit. A unit with a non-null OrderID is
// reserved by that order; IsSold marks it as delivered to the buyer.
type Item struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	SubcategoryID uuid.UUID       `gorm:"column:subcategory_id;type:uuid;not null;index"`
	Price         decimal.Decimal `gorm:"column:price;type:numeric(18,2);not null"`
	IsPhysical    bool            `gorm:"column:is_physical;not null;default:false"`
	ShippingCost  decimal.Decimal `gorm:"column:shipping_cost;type:numeric(18,2);not null;default:0"`
	IsSold        bool            `gorm:"column:is_sold;not null;default:false"`
	OrderID       *uuid.UUID      `gorm:"column:order_id;type:uuid;index"`
	PrivateData   string          `gorm:"column:private_data;not null;default:''"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (i *Item) BeforeCreate(tx *gorm.DB) error {
	ensureID(&i.ID)
	return nil
}
