package router

import (
	"context"
	"fmt"

	"github.com/angelmondragon/pharmacy-backend/internal/analytics/types"
	"github.com/angelmondragon/pharmacy-backend/internal/analytics/writer"
	"github.com/angelmondragon/pharmacy-backend/pkg/enums"
	"github.com/angelmondragon/pharmacy-backend/pkg/outbox/payloads"
)

func (r *Router) orderCreated(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.OrderCreatedEvent)
	if !ok {
		return fmt.Errorf("invalid payload for %s", envelope.EventType)
	}
	row, err := baseOrderRow(envelope, event.OrderID.String(), event)
	if err != nil {
		return err
	}
	row.OrderNumber = stringPtr(event.OrderNumber)
	row.UserID = stringPtr(event.UserID.String())
	row.ShopID = stringPtr(event.ShopID.String())
	row.TotalCents = int64Ptr(event.TotalCents)
	row.ItemCount = int64Ptr(int64(event.ItemCount))
	return r.insertOrder(ctx, row)
}

func (r *Router) orderStatusChanged(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.OrderStatusChangedEvent)
	if !ok {
		return fmt.Errorf("invalid payload for %s", envelope.EventType)
	}
	row, err := baseOrderRow(envelope, event.OrderID.String(), event)
	if err != nil {
		return err
	}
	row.StatusFrom = stringPtr(string(event.From))
	row.StatusTo = stringPtr(string(event.To))
	row.Actor = stringPtr(event.Actor)
	return r.insertOrder(ctx, row)
}

func (r *Router) orderCancelled(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.OrderCancelledEvent)
	if !ok {
		return fmt.Errorf("invalid payload for %s", envelope.EventType)
	}
	row, err := baseOrderRow(envelope, event.OrderID.String(), event)
	if err != nil {
		return err
	}
	row.ShopID = stringPtr(event.ShopID.String())
	row.StatusTo = stringPtr(string(enums.OrderStatusCancelled))
	row.RestockedUnits = int64Ptr(int64(event.RestockedUnits))
	row.Reason = stringPtr(event.Reason)
	return r.insertOrder(ctx, row)
}

func baseOrderRow(envelope types.Envelope, orderID string, event any) (types.OrderFactRow, error) {
	payloadJSON, err := writer.EncodeJSON(event)
	if err != nil {
		return types.OrderFactRow{}, fmt.Errorf("encode payload json: %w", err)
	}
	return types.OrderFactRow{
		EventID:    envelope.EventID,
		EventType:  string(envelope.EventType),
		OccurredAt: envelope.OccurredAt,
		OrderID:    orderID,
		Payload:    payloadJSON,
	}, nil
}

func (r *Router) insertOrder(ctx context.Context, row types.OrderFactRow) error {
	logCtx := r.logg.WithFields(ctx, map[string]any{"event_type": row.EventType, "order_id": row.OrderID})
	if err := r.writer.InsertOrderFact(logCtx, row); err != nil {
		r.logg.Error(logCtx, "failed to insert order fact", err)
		return err
	}
	r.logg.Info(logCtx, "order fact inserted")
	return nil
}
