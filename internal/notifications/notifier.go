// Package notifications queues buyer and admin messages. Delivery itself
// happens downstream of the notification topic.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	"github.com/angelmondragon/settlement-engine/pkg/outbox"
	"github.com/angelmondragon/settlement-engine/pkg/outbox/payloads"
)

// Notifier is the engine's outbound message port. Every call runs inside the
// transaction of the state change it reports.
type Notifier interface {
	PaymentSuccess(ctx context.Context, tx *gorm.DB, order *models.Order) error
	UnderpaymentRetry(ctx context.Context, tx *gorm.DB, order *models.Order, invoice *models.Invoice) error
	OrderCancelled(ctx context.Context, tx *gorm.DB, order *models.Order, reason enums.CancelReason, refund, penalty decimal.Decimal) error
	WalletCredited(ctx context.Context, tx *gorm.DB, order *models.Order, amount, penalty decimal.Decimal, reason string) error
	ManualReview(ctx context.Context, tx *gorm.DB, order *models.Order, reason string) error
}

type emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type outboxNotifier struct {
	outbox emitter
}

// NewOutboxNotifier builds the default Notifier on top of the outbox.
func NewOutboxNotifier(out emitter) (Notifier, error) {
	if out == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &outboxNotifier{outbox: out}, nil
}

// ErrOrderRequired is returned when a notification is asked for without the
// persisted order it reports on.
var ErrOrderRequired = errors.New("persisted order required")

func (n *outboxNotifier) PaymentSuccess(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	return n.emit(ctx, tx, enums.NotificationTypePaymentSuccess, order, func(o *models.Order) (payloads.NotificationRequestedEvent, error) {
		return payloads.NotificationRequestedEvent{
			Audience: payloads.AudienceUser,
			Amount:   decimalPtr(o.TotalPrice),
			Currency: o.Currency,
		}, nil
	})
}

func (n *outboxNotifier) UnderpaymentRetry(ctx context.Context, tx *gorm.DB, order *models.Order, invoice *models.Invoice) error {
	return n.emit(ctx, tx, enums.NotificationTypeUnderpaymentRetry, order, func(o *models.Order) (payloads.NotificationRequestedEvent, error) {
		if invoice == nil {
			return payloads.NotificationRequestedEvent{}, fmt.Errorf("retry invoice required")
		}
		expires := o.ExpiresAt
		return payloads.NotificationRequestedEvent{
			Audience:  payloads.AudienceUser,
			Amount:    decimalPtr(invoice.FiatAmount),
			Currency:  invoice.FiatCurrency,
			Invoice:   invoiceDetails(invoice),
			ExpiresAt: &expires,
		}, nil
	})
}

func (n *outboxNotifier) OrderCancelled(ctx context.Context, tx *gorm.DB, order *models.Order, reason enums.CancelReason, refund, penalty decimal.Decimal) error {
	return n.emit(ctx, tx, enums.NotificationTypeOrderCancelled, order, func(o *models.Order) (payloads.NotificationRequestedEvent, error) {
		return payloads.NotificationRequestedEvent{
			Audience: payloads.AudienceUser,
			Amount:   decimalPtr(refund),
			Penalty:  decimalPtr(penalty),
			Currency: o.Currency,
			Reason:   string(reason),
		}, nil
	})
}

func (n *outboxNotifier) WalletCredited(ctx context.Context, tx *gorm.DB, order *models.Order, amount, penalty decimal.Decimal, reason string) error {
	return n.emit(ctx, tx, enums.NotificationTypeWalletCredited, order, func(o *models.Order) (payloads.NotificationRequestedEvent, error) {
		return payloads.NotificationRequestedEvent{
			Audience: payloads.AudienceUser,
			Amount:   decimalPtr(amount),
			Penalty:  decimalPtr(penalty),
			Currency: o.Currency,
			Reason:   reason,
		}, nil
	})
}

func (n *outboxNotifier) ManualReview(ctx context.Context, tx *gorm.DB, order *models.Order, reason string) error {
	return n.emit(ctx, tx, enums.NotificationTypeManualReview, order, func(*models.Order) (payloads.NotificationRequestedEvent, error) {
		return payloads.NotificationRequestedEvent{
			Audience: payloads.AudienceAdmin,
			Reason:   strings.TrimSpace(reason),
		}, nil
	})
}

// emit validates order before build reads it, then stamps the order identity
// and status onto the payload.
func (n *outboxNotifier) emit(ctx context.Context, tx *gorm.DB, kind enums.NotificationType, order *models.Order, build func(*models.Order) (payloads.NotificationRequestedEvent, error)) error {
	if order == nil || order.ID == uuid.Nil {
		return fmt.Errorf("%s notification: %w", kind, ErrOrderRequired)
	}
	event, err := build(order)
	if err != nil {
		return fmt.Errorf("%s notification: %w", kind, err)
	}
	orderID, userID := order.ID, order.UserID
	event.Type = kind
	event.Status = order.Status
	event.OrderID = &orderID
	event.UserID = &userID
	return n.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventNotificationRequested,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Data:          event,
	})
}

func invoiceDetails(invoice *models.Invoice) *payloads.InvoiceDetails {
	details := &payloads.InvoiceDetails{
		InvoiceID:     invoice.ID,
		InvoiceNumber: invoice.InvoiceNumber,
		CryptoAmount:  invoice.PaymentAmountCrypto,
		FiatAmount:    invoice.FiatAmount,
		FiatCurrency:  invoice.FiatCurrency,
	}
	if invoice.PaymentAddress != nil {
		details.PaymentAddress = *invoice.PaymentAddress
	}
	if invoice.PaymentCryptoCurrency != nil {
		details.CryptoCurrency = *invoice.PaymentCryptoCurrency
	}
	return details
}

func decimalPtr(v decimal.Decimal) *decimal.Decimal {
	return &v
}
