package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder   OutboxAggregateType = "order"
	AggregatePayment OutboxAggregateType = "payment"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregatePayment,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventOrderCreated           OutboxEventType = "order_created"
	EventOrderStatusChanged     OutboxEventType = "order_status_changed"
	EventOrderCancelled         OutboxEventType = "order_cancelled"
	EventPaymentSucceeded       OutboxEventType = "payment_succeeded"
	EventPaymentFailed          OutboxEventType = "payment_failed"
	EventPaymentCancelled       OutboxEventType = "payment_cancelled"
	EventPaymentRefundRequested OutboxEventType = "payment_refund_requested"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderStatusChanged,
	EventOrderCancelled,
	EventPaymentSucceeded,
	EventPaymentFailed,
	EventPaymentCancelled,
	EventPaymentRefundRequested,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// OutboxDLQReason explains why an event was moved to outbox_dlq.
type OutboxDLQReason string

const (
	OutboxDLQReasonMaxAttempts    OutboxDLQReason = "max_attempts"
	OutboxDLQReasonNonRetryable   OutboxDLQReason = "non_retryable"
	OutboxDLQReasonInvalidPayload OutboxDLQReason = "invalid_payload"
)

var validOutboxDLQReasons = []OutboxDLQReason{
	OutboxDLQReasonMaxAttempts,
	OutboxDLQReasonNonRetryable,
	OutboxDLQReasonInvalidPayload,
}

func (r OutboxDLQReason) IsValid() bool {
	for _, candidate := range validOutboxDLQReasons {
		if candidate == r {
			return true
		}
	}
	return false
}

func ParseOutboxDLQReason(value string) (OutboxDLQReason, error) {
	for _, candidate := range validOutboxDLQReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid dlq reason %q", value)
}
