package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BuyRecord is the purchase history entry written once per sold unit.
type BuyRecord struct {
	ID       uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	UserID   uuid.UUID       `gorm:"column:user_id;type:uuid;not null;index"`
	OrderID  uuid.UUID       `gorm:"column:order_id;type:uuid;not null;index"`
	ItemID   uuid.UUID       `gorm:"column:item_id;type:uuid;not null;uniqueIndex"`
	Price    decimal.Decimal `gorm:"column:price;type:numeric(18,2);not null"`
	BoughtAt time.Time       `gorm:"column:bought_at;not null"`
}

func (b *BuyRecord) BeforeCreate(tx *gorm.DB) error {
	ensureID(&b.ID)
	return nil
}
