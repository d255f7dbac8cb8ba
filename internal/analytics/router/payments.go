package router

import (
	"context"
	"fmt"

	"github.com/angelmondragon/pharmacy-backend/internal/analytics/types"
	"github.com/angelmondragon/pharmacy-backend/internal/analytics/writer"
	"github.com/angelmondragon/pharmacy-backend/pkg/enums"
	"github.com/angelmondragon/pharmacy-backend/pkg/outbox/payloads"
)

func (r *Router) paymentStatus(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.PaymentEvent)
	if !ok {
		return fmt.Errorf("invalid payload for %s", envelope.EventType)
	}
	payloadJSON, err := writer.EncodeJSON(event)
	if err != nil {
		return fmt.Errorf("encode payload json: %w", err)
	}
	return r.insertPayment(ctx, types.PaymentFactRow{
		EventID:       envelope.EventID,
		EventType:     string(envelope.EventType),
		OccurredAt:    envelope.OccurredAt,
		PaymentID:     event.PaymentID.String(),
		OrderID:       event.OrderID.String(),
		TransactionID: event.TransactionID,
		Status:        stringPtr(string(event.Status)),
		AmountCents:   event.AmountCents,
		Reason:        stringPtr(event.Reason),
		Payload:       payloadJSON,
	})
}

func (r *Router) refundRequested(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.PaymentRefundRequestedEvent)
	if !ok {
		return fmt.Errorf("invalid payload for %s", envelope.EventType)
	}
	payloadJSON, err := writer.EncodeJSON(event)
	if err != nil {
		return fmt.Errorf("encode payload json: %w", err)
	}
	return r.insertPayment(ctx, types.PaymentFactRow{
		EventID:       envelope.EventID,
		EventType:     string(envelope.EventType),
		OccurredAt:    envelope.OccurredAt,
		PaymentID:     event.PaymentID.String(),
		OrderID:       event.OrderID.String(),
		TransactionID: event.TransactionID,
		Status:        stringPtr(string(enums.PaymentStatusRefunded)),
		AmountCents:   event.AmountCents,
		RefundCents:   event.AmountCents,
		Reason:        stringPtr(event.Reason),
		Payload:       payloadJSON,
	})
}

func (r *Router) insertPayment(ctx context.Context, row types.PaymentFactRow) error {
	logCtx := r.logg.WithFields(ctx, map[string]any{
		"event_type":     row.EventType,
		"order_id":       row.OrderID,
		"transaction_id": row.TransactionID,
	})
	if err := r.writer.InsertPaymentFact(logCtx, row); err != nil {
		r.logg.Error(logCtx, "failed to insert payment fact", err)
		return err
	}
	r.logg.Info(logCtx, "payment fact inserted")
	return nil
}
