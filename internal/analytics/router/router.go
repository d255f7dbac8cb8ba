package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/angelmondragon/pharmacy-backend/internal/analytics/types"
	"github.com/angelmondragon/pharmacy-backend/pkg/enums"
	"github.com/angelmondragon/pharmacy-backend/pkg/logger"
	"github.com/angelmondragon/pharmacy-backend/pkg/outbox/payloads"
)

var ErrUnsupportedEventType = errors.New("unsupported analytics event type")

// Writer delivers BigQuery rows produced by the router.
type Writer interface {
	InsertOrderFact(ctx context.Context, row types.OrderFactRow) error
	InsertPaymentFact(ctx context.Context, row types.PaymentFactRow) error
}

type entry struct {
	factory func() any
	handle  func(ctx context.Context, envelope types.Envelope, payload any) error
}

// Router decodes each domain event and writes the matching fact row.
type Router struct {
	entries map[enums.OutboxEventType]entry
	writer  Writer
	logg    *logger.Logger
}

func NewRouter(writer Writer, logg *logger.Logger) (*Router, error) {
	if writer == nil {
		return nil, errors.New("writer is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	r := &Router{writer: writer, logg: logg}
	paymentEntry := entry{
		factory: func() any { return &payloads.PaymentEvent{} },
		handle:  r.paymentStatus,
	}
	r.entries = map[enums.OutboxEventType]entry{
		enums.EventOrderCreated: {
			factory: func() any { return &payloads.OrderCreatedEvent{} },
			handle:  r.orderCreated,
		},
		enums.EventOrderStatusChanged: {
			factory: func() any { return &payloads.OrderStatusChangedEvent{} },
			handle:  r.orderStatusChanged,
		},
		enums.EventOrderCancelled: {
			factory: func() any { return &payloads.OrderCancelledEvent{} },
			handle:  r.orderCancelled,
		},
		enums.EventPaymentSucceeded: paymentEntry,
		enums.EventPaymentFailed:    paymentEntry,
		enums.EventPaymentCancelled: paymentEntry,
		enums.EventPaymentRefundRequested: {
			factory: func() any { return &payloads.PaymentRefundRequestedEvent{} },
			handle:  r.refundRequested,
		},
	}
	return r, nil
}

// Handle dispatches the envelope to its event handler.
func (r *Router) Handle(ctx context.Context, envelope types.Envelope) error {
	e, ok := r.entries[envelope.EventType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedEventType, envelope.EventType)
	}
	if len(envelope.Payload) == 0 {
		return fmt.Errorf("empty payload for %s", envelope.EventType)
	}
	payload := e.factory()
	if err := json.Unmarshal(envelope.Payload, payload); err != nil {
		return fmt.Errorf("decode %s payload: %w", envelope.EventType, err)
	}
	return e.handle(ctx, envelope, payload)
}

func stringPtr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func int64Ptr(v int64) *int64 {
	return &v
}
