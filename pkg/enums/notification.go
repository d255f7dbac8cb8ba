package enums

import "fmt"

// NotificationKind maps to the notification_kind enum in Postgres.
type NotificationKind string

const (
	NotificationKindOrderPlaced    NotificationKind = "order_placed"
	NotificationKindOrderStatus    NotificationKind = "order_status"
	NotificationKindOrderCancelled NotificationKind = "order_cancelled"
	NotificationKindPayment        NotificationKind = "payment"
	NotificationKindRefund         NotificationKind = "refund"
)

var validNotificationKinds = []NotificationKind{
	NotificationKindOrderPlaced,
	NotificationKindOrderStatus,
	NotificationKindOrderCancelled,
	NotificationKindPayment,
	NotificationKindRefund,
}

// IsValid checks whether the given kind matches the canonical enum.
func (n NotificationKind) IsValid() bool {
	for _, candidate := range validNotificationKinds {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationKind converts raw strings into NotificationKind.
func ParseNotificationKind(value string) (NotificationKind, error) {
	for _, candidate := range validNotificationKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification kind %q", value)
}
