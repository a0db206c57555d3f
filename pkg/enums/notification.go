package enums

import "fmt"

// NotificationType identifies the message an external delivery channel should send.
type NotificationType string

const (
	NotificationTypePaymentSuccess    NotificationType = "payment_success"
	NotificationTypeUnderpaymentRetry NotificationType = "underpayment_retry"
	NotificationTypeOrderCancelled    NotificationType = "order_cancelled"
	NotificationTypeWalletCredited    NotificationType = "wallet_credited"
	NotificationTypeManualReview      NotificationType = "manual_review"
)

var validNotificationTypes = []NotificationType{
	NotificationTypePaymentSuccess,
	NotificationTypeUnderpaymentRetry,
	NotificationTypeOrderCancelled,
	NotificationTypeWalletCredited,
	NotificationTypeManualReview,
}

// IsValid checks whether the given type matches the canonical enum.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw strings into NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}
