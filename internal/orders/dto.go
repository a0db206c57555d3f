package orders

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
)

// CartLine is one requested subcategory and quantity.
type CartLine struct {
	SubcategoryID uuid.UUID `json:"subcategory_id"`
	Quantity      int       `json:"quantity"`
}

// CreateOrderInput carries the cart being checked out.
type CreateOrderInput struct {
	UserID uuid.UUID
	Lines  []CartLine
}

// Adjustment reports a cart line that could only be partially reserved.
type Adjustment struct {
	SubcategoryID uuid.UUID `json:"subcategory_id"`
	Requested     int       `json:"requested"`
	Reserved      int       `json:"reserved"`
}

// CreateOrderResult is the created order plus every line reserved short.
type CreateOrderResult struct {
	Order       *models.Order `json:"order"`
	Adjustments []Adjustment  `json:"adjustments"`
}

// ProcessPaymentInput selects the order and the coin used for the crypto remainder.
type ProcessPaymentInput struct {
	OrderID        uuid.UUID
	UserID         uuid.UUID
	CryptoCurrency string
}

// PaymentResult describes how the order total was split between wallet and crypto.
type PaymentResult struct {
	Order          *models.Order   `json:"order"`
	Invoice        *models.Invoice `json:"invoice"`
	WalletDeducted decimal.Decimal `json:"wallet_deducted"`
	Completed      bool            `json:"completed"`
}

// CancelInput names who cancels and why. ActorUserID is required for USER.
type CancelInput struct {
	Reason      enums.CancelReason
	ActorUserID uuid.UUID
}

// CancelOptions tune CancelInTx for callers that already settled the money.
type CancelOptions struct {
	SkipRefund bool
}

// CancelResult reports the terminal order and the wallet movement.
type CancelResult struct {
	Order   *models.Order   `json:"order"`
	Refund  decimal.Decimal `json:"refund"`
	Penalty decimal.Decimal `json:"penalty"`
}

// OrderDetail is an order with its active invoice and bound units.
type OrderDetail struct {
	Order         *models.Order   `json:"order"`
	ActiveInvoice *models.Invoice `json:"active_invoice,omitempty"`
	Items         []ItemView      `json:"items"`
}

// ItemView hides the unit's private payload until the order is paid.
type ItemView struct {
	ID            uuid.UUID       `json:"id"`
	SubcategoryID uuid.UUID       `json:"subcategory_id"`
	Price         decimal.Decimal `json:"price"`
	IsPhysical    bool            `json:"is_physical"`
	IsSold        bool            `json:"is_sold"`
	PrivateData   string          `json:"private_data,omitempty"`
}
