package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-engine/pkg/enums"
)

// Order is one checkout attempt and the owner of the wallet/crypto split.
type Order struct {
	ID                uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	UserID            uuid.UUID         `gorm:"column:user_id;type:uuid;not null;index"`
	Status            enums.OrderStatus `gorm:"column:status;type:text;not null"`
	TotalPrice        decimal.Decimal   `gorm:"column:total_price;type:numeric(18,2);not null"`
	ShippingCost      decimal.Decimal   `gorm:"column:shipping_cost;type:numeric(18,2);not null;default:0"`
	Currency          string            `gorm:"column:currency;type:text;not null"`
	HasPhysicalItems  bool              `gorm:"column:has_physical_items;not null;default:false"`
	ShippingAddress   *string           `gorm:"column:shipping_address"`
	TotalPaidCrypto   decimal.Decimal   `gorm:"column:total_paid_crypto;type:numeric(30,12);not null;default:0"`
	RetryCount        int               `gorm:"column:retry_count;not null;default:0"`
	WalletUsed        decimal.Decimal   `gorm:"column:wallet_used;type:numeric(18,2);not null;default:0"`
	NeedsReview       bool              `gorm:"column:needs_review;not null;default:false"`
	ReviewReason      *string           `gorm:"column:review_reason"`
	Version           int64             `gorm:"column:version;not null;default:1"`
	CreatedAt         time.Time         `gorm:"column:created_at"`
	ExpiresAt         time.Time         `gorm:"column:expires_at;not null;index"`
	OriginalExpiresAt time.Time         `gorm:"column:original_expires_at;not null"`
	PaidAt            *time.Time        `gorm:"column:paid_at"`
	CancelledAt       *time.Time        `gorm:"column:cancelled_at"`
	UpdatedAt         time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

// RemainingDue returns the part of the total not covered by the wallet.
func (o Order) RemainingDue() decimal.Decimal {
	return o.TotalPrice.Sub(o.WalletUsed)
}

// IsExpired reports whether the payment window closed before now.
func (o Order) IsExpired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	ensureID(&o.ID)
	return nil
}
