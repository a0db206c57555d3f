package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-engine/pkg/enums"
)

// Audience values for NotificationRequestedEvent.
const (
	AudienceUser  = "user"
	AudienceAdmin = "admin"
)

// InvoiceDetails carries the payment instructions a buyer needs to pay.
type InvoiceDetails struct {
	InvoiceID      uuid.UUID       `json:"invoice_id"`
	InvoiceNumber  string          `json:"invoice_number"`
	PaymentAddress string          `json:"payment_address,omitempty"`
	CryptoAmount   decimal.Decimal `json:"crypto_amount"`
	CryptoCurrency string          `json:"crypto_currency,omitempty"`
	FiatAmount     decimal.Decimal `json:"fiat_amount"`
	FiatCurrency   string          `json:"fiat_currency"`
}

// NotificationRequestedEvent asks the delivery channel to message a buyer or the admins.
type NotificationRequestedEvent struct {
	Type      enums.NotificationType `json:"type"`
	Audience  string                 `json:"audience"`
	UserID    *uuid.UUID             `json:"user_id,omitempty"`
	OrderID   *uuid.UUID             `json:"order_id,omitempty"`
	Status    enums.OrderStatus      `json:"status,omitempty"`
	Amount    *decimal.Decimal       `json:"amount,omitempty"`
	Penalty   *decimal.Decimal       `json:"penalty,omitempty"`
	Currency  string                 `json:"currency,omitempty"`
	Reason    string                 `json:"reason,omitempty"`
	Invoice   *InvoiceDetails        `json:"invoice,omitempty"`
	ExpiresAt *time.Time             `json:"expires_at,omitempty"`
}

// OrderPaidEvent is emitted once an order reaches a paid status.
type OrderPaidEvent struct {
	OrderID     uuid.UUID         `json:"order_id"`
	UserID      uuid.UUID         `json:"user_id"`
	Status      enums.OrderStatus `json:"status"`
	TotalPrice  decimal.Decimal   `json:"total_price"`
	WalletUsed  decimal.Decimal   `json:"wallet_used"`
	Currency    string            `json:"currency"`
	PaidAt      time.Time         `json:"paid_at"`
	NeedsReview bool              `json:"needs_review"`
}

// OrderCancelledEvent is emitted whenever an order leaves the pending states without payment.
type OrderCancelledEvent struct {
	OrderID     uuid.UUID          `json:"order_id"`
	UserID      uuid.UUID          `json:"user_id"`
	Status      enums.OrderStatus  `json:"status"`
	Reason      enums.CancelReason `json:"reason"`
	Refund      decimal.Decimal    `json:"refund"`
	Penalty     decimal.Decimal    `json:"penalty"`
	Currency    string             `json:"currency"`
	CancelledAt time.Time          `json:"cancelled_at"`
}

// OrderFlaggedEvent reports that an order was parked for manual review.
type OrderFlaggedEvent struct {
	OrderID uuid.UUID         `json:"order_id"`
	UserID  uuid.UUID         `json:"user_id"`
	Status  enums.OrderStatus `json:"status"`
	Reason  string            `json:"reason"`
}

// PaymentRecordedEvent mirrors an appended payment transaction.
type PaymentRecordedEvent struct {
	TransactionID       uuid.UUID            `json:"transaction_id"`
	OrderID             uuid.UUID            `json:"order_id"`
	InvoiceID           uuid.UUID            `json:"invoice_id"`
	PaymentProcessingID string               `json:"payment_processing_id"`
	Outcome             enums.PaymentOutcome `json:"outcome"`
	CryptoAmount        decimal.Decimal      `json:"crypto_amount"`
	CryptoCurrency      string               `json:"crypto_currency"`
	FiatAmount          decimal.Decimal      `json:"fiat_amount"`
	PenaltyApplied      bool                 `json:"penalty_applied"`
	WalletCreditAmount  *decimal.Decimal     `json:"wallet_credit_amount,omitempty"`
	ReceivedAt          time.Time            `json:"received_at"`
}
