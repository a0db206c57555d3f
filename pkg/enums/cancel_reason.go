package enums

import "fmt"

// CancelReason identifies who or what initiated an order cancellation.
type CancelReason string

const (
	CancelReasonUser    CancelReason = "USER"
	CancelReasonTimeout CancelReason = "TIMEOUT"
	CancelReasonAdmin   CancelReason = "ADMIN"
)

var validCancelReasons = []CancelReason{
	CancelReasonUser,
	CancelReasonTimeout,
	CancelReasonAdmin,
}

// TargetStatus maps the reason onto the terminal order status it produces.
func (c CancelReason) TargetStatus() OrderStatus {
	switch c {
	case CancelReasonUser:
		return OrderStatusCancelledByUser
	case CancelReasonAdmin:
		return OrderStatusCancelledByAdmin
	default:
		return OrderStatusTimeout
	}
}

// IsValid reports whether the value is a known CancelReason.
func (c CancelReason) IsValid() bool {
	for _, candidate := range validCancelReasons {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseCancelReason converts raw input into a CancelReason.
func ParseCancelReason(value string) (CancelReason, error) {
	for _, candidate := range validCancelReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid cancel reason %q", value)
}
