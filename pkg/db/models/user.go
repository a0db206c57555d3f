package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// User is the storefront customer together with the internal wallet counters.
// Balance is derived as top_up_amount minus consume_records.
type User struct {
	ID             uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	TopUpAmount    decimal.Decimal `gorm:"column:top_up_amount;type:numeric(18,2);not null;default:0"`
	ConsumeRecords decimal.Decimal `gorm:"column:consume_records;type:numeric(18,2);not null;default:0"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// Balance returns the spendable wallet amount.
func (u User) Balance() decimal.Decimal {
	return u.TopUpAmount.Sub(u.ConsumeRecords)
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	ensureID(&u.ID)
	return nil
}
