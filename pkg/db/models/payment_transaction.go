package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PaymentTransaction is the append-only audit record of one processor event.
type PaymentTransaction struct {
	ID                  uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	OrderID             uuid.UUID        `gorm:"column:order_id;type:uuid;not null;index"`
	InvoiceID           uuid.UUID        `gorm:"column:invoice_id;type:uuid;not null;index"`
	CryptoAmount        decimal.Decimal  `gorm:"column:crypto_amount;type:numeric(30,12);not null"`
	CryptoCurrency      string           `gorm:"column:crypto_currency;type:text;not null"`
	FiatAmount          decimal.Decimal  `gorm:"column:fiat_amount;type:numeric(18,2);not null"`
	TransactionHash     *string          `gorm:"column:transaction_hash"`
	PaymentProcessingID string           `gorm:"column:payment_processing_id;not null;uniqueIndex"`
	IsOverpayment       bool             `gorm:"column:is_overpayment;not null;default:false"`
	IsUnderpayment      bool             `gorm:"column:is_underpayment;not null;default:false"`
	IsLatePayment       bool             `gorm:"column:is_late_payment;not null;default:false"`
	IsCurrencyMismatch  bool             `gorm:"column:is_currency_mismatch;not null;default:false"`
	PenaltyApplied      bool             `gorm:"column:penalty_applied;not null;default:false"`
	PenaltyPercent      decimal.Decimal  `gorm:"column:penalty_percent;type:numeric(5,2);not null;default:0"`
	WalletCreditAmount  *decimal.Decimal `gorm:"column:wallet_credit_amount;type:numeric(18,2)"`
	ReceivedAt          time.Time        `gorm:"column:received_at;not null"`
}

func (p *PaymentTransaction) BeforeCreate(tx *gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
