package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Invoice is one payment request for an order. The FiatAmount to
// PaymentAmountCrypto ratio is the exchange rate for every later conversion.
type Invoice struct {
	ID                    uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	OrderID               uuid.UUID       `gorm:"column:order_id;type:uuid;not null;index"`
	InvoiceNumber         string          `gorm:"column:invoice_number;not null;uniqueIndex"`
	PaymentAddress        *string         `gorm:"column:payment_address"`
	PaymentAmountCrypto   decimal.Decimal `gorm:"column:payment_amount_crypto;type:numeric(30,12);not null;default:0"`
	PaymentCryptoCurrency *string         `gorm:"column:payment_crypto_currency"`
	PaymentProcessingID   *string         `gorm:"column:payment_processing_id;uniqueIndex"`
	FiatAmount            decimal.Decimal `gorm:"column:fiat_amount;type:numeric(18,2);not null"`
	FiatCurrency          string          `gorm:"column:fiat_currency;type:text;not null"`
	IsActive              bool            `gorm:"column:is_active;not null;default:true"`
	IsWalletOnly          bool            `gorm:"column:is_wallet_only;not null;default:false"`
	CreatedAt             time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (i *Invoice) BeforeCreate(tx *gorm.DB) error {
	ensureID(&i.ID)
	return nil
}

// InvoiceSequence is the per-year counter behind invoice numbers.
type InvoiceSequence struct {
	Year      int `gorm:"column:year;primaryKey;autoIncrement:false"`
	LastValue int `gorm:"column:last_value;not null;default:0"`
}
