package orders

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	"github.com/angelmondragon/settlement-engine/pkg/outbox"
	"github.com/angelmondragon/settlement-engine/pkg/outbox/payloads"
)

func (s *service) emitPaid(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	paidAt := time.Time{}
	if order.PaidAt != nil {
		paidAt = *order.PaidAt
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Data: payloads.OrderPaidEvent{
			OrderID:     order.ID,
			UserID:      order.UserID,
			Status:      order.Status,
			TotalPrice:  order.TotalPrice,
			WalletUsed:  order.WalletUsed,
			Currency:    order.Currency,
			PaidAt:      paidAt,
			NeedsReview: order.NeedsReview,
		},
	})
}

func (s *service) emitCancelled(ctx context.Context, tx *gorm.DB, order *models.Order, reason enums.CancelReason, refund, penalty decimal.Decimal, actor *outbox.ActorRef) error {
	cancelledAt := time.Time{}
	if order.CancelledAt != nil {
		cancelledAt = *order.CancelledAt
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderCancelled,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actor,
		Data: payloads.OrderCancelledEvent{
			OrderID:     order.ID,
			UserID:      order.UserID,
			Status:      order.Status,
			Reason:      reason,
			Refund:      refund,
			Penalty:     penalty,
			Currency:    order.Currency,
			CancelledAt: cancelledAt,
		},
	})
}

func (s *service) emitFlagged(ctx context.Context, tx *gorm.DB, order *models.Order, reason string) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderFlagged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Data: payloads.OrderFlaggedEvent{
			OrderID: order.ID,
			UserID:  order.UserID,
			Status:  order.Status,
			Reason:  reason,
		},
	})
}
