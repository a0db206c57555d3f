package enums

import "fmt"

// OrderStatus tracks the lifecycle of a checkout order.
type OrderStatus string

const (
	OrderStatusPendingPayment           OrderStatus = "PENDING_PAYMENT"
	OrderStatusPendingPaymentAndAddress OrderStatus = "PENDING_PAYMENT_AND_ADDRESS"
	OrderStatusPendingPaymentPartial    OrderStatus = "PENDING_PAYMENT_PARTIAL"
	OrderStatusPaid                     OrderStatus = "PAID"
	OrderStatusPaidAwaitingShipment     OrderStatus = "PAID_AWAITING_SHIPMENT"
	OrderStatusCancelledByUser          OrderStatus = "CANCELLED_BY_USER"
	OrderStatusCancelledByAdmin         OrderStatus = "CANCELLED_BY_ADMIN"
	OrderStatusTimeout                  OrderStatus = "TIMEOUT"
	OrderStatusCancelledBySystem        OrderStatus = "CANCELLED_BY_SYSTEM"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusPendingPayment,
	OrderStatusPendingPaymentAndAddress,
	OrderStatusPendingPaymentPartial,
	OrderStatusPaid,
	OrderStatusPaidAwaitingShipment,
	OrderStatusCancelledByUser,
	OrderStatusCancelledByAdmin,
	OrderStatusTimeout,
	OrderStatusCancelledBySystem,
}

// PendingOrderStatuses lists the statuses the timeout sweeper considers.
var PendingOrderStatuses = []OrderStatus{
	OrderStatusPendingPayment,
	OrderStatusPendingPaymentAndAddress,
	OrderStatusPendingPaymentPartial,
}

// orderTransitions is the only source of allowed status changes.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPendingPaymentAndAddress: {
		OrderStatusPendingPayment,
		OrderStatusCancelledByUser,
		OrderStatusCancelledByAdmin,
		OrderStatusTimeout,
		OrderStatusCancelledBySystem,
	},
	OrderStatusPendingPayment: {
		OrderStatusPendingPaymentPartial,
		OrderStatusPaid,
		OrderStatusPaidAwaitingShipment,
		OrderStatusCancelledByUser,
		OrderStatusCancelledByAdmin,
		OrderStatusTimeout,
		OrderStatusCancelledBySystem,
	},
	OrderStatusPendingPaymentPartial: {
		OrderStatusPaid,
		OrderStatusPaidAwaitingShipment,
		OrderStatusCancelledByUser,
		OrderStatusCancelledByAdmin,
		OrderStatusTimeout,
	},
}

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known OrderStatus.
func (s OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsPending reports whether the order is still awaiting payment.
func (s OrderStatus) IsPending() bool {
	for _, candidate := range PendingOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsPaid reports whether the order reached one of the paid statuses.
func (s OrderStatus) IsPaid() bool {
	return s == OrderStatusPaid || s == OrderStatusPaidAwaitingShipment
}

// IsTerminal reports whether no further lifecycle transition is allowed.
func (s OrderStatus) IsTerminal() bool {
	return len(orderTransitions[s]) == 0
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, candidate := range orderTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
