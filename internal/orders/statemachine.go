package orders

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmacy-backend/internal/notifications"
	"github.com/angelmondragon/pharmacy-backend/pkg/db/models"
	"github.com/angelmondragon/pharmacy-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pharmacy-backend/pkg/errors"
	"github.com/angelmondragon/pharmacy-backend/pkg/logger"
	"github.com/angelmondragon/pharmacy-backend/pkg/outbox"
	"github.com/angelmondragon/pharmacy-backend/pkg/outbox/payloads"
)

var orderTransitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPending:    {enums.OrderStatusConfirmed, enums.OrderStatusCancelled},
	enums.OrderStatusConfirmed:  {enums.OrderStatusProcessing, enums.OrderStatusCancelled},
	enums.OrderStatusProcessing: {enums.OrderStatusShipped},
	enums.OrderStatusShipped:    {enums.OrderStatusDelivered},
}

// CanTransition reports whether from -> to is a legal order status change.
// Staying in the same status is not a transition.
func CanTransition(from, to enums.OrderStatus) bool {
	return slices.Contains(orderTransitions[from], to)
}

// ActorKind identifies who drives a transition.
type ActorKind string

const (
	ActorCustomer  ActorKind = "customer"
	ActorShopOwner ActorKind = "shop_owner"
	ActorAdmin     ActorKind = "admin"
	ActorPayment   ActorKind = "payment"
	ActorSystem    ActorKind = "system"
)

// Actor is the party performing a transition. UserID is nil for payment and
// system actors.
type Actor struct {
	UserID uuid.UUID
	Kind   ActorKind
}

func (a Actor) permits(to enums.OrderStatus) bool {
	switch a.Kind {
	case ActorShopOwner, ActorAdmin:
		return true
	case ActorCustomer, ActorSystem:
		return to == enums.OrderStatusCancelled
	case ActorPayment:
		return to == enums.OrderStatusConfirmed
	default:
		return false
	}
}

func (a Actor) ref() *outbox.Actor {
	return &outbox.Actor{UserID: a.UserID, Role: string(a.Kind)}
}

// TransitionRequest describes one status change.
type TransitionRequest struct {
	To     enums.OrderStatus
	Actor  Actor
	Reason string
	// RestockedUnits is reported on cancellation events.
	RestockedUnits int
}

// StateMachine is the only writer of orders.status.
type StateMachine struct {
	repo     Repository
	notifier notifier
	outbox   outboxPublisher
	logg     *logger.Logger
	now      func() time.Time
}

func NewStateMachine(repo Repository, notifier notifier, publisher outboxPublisher, logg *logger.Logger) (*StateMachine, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &StateMachine{
		repo:     repo,
		notifier: notifier,
		outbox:   publisher,
		logg:     logg,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Transition moves order to req.To inside tx. The update is conditional on the
// status the caller observed, so a concurrent writer makes this call fail with
// a state conflict and nothing is written. On success exactly one
// notification and one outbox event are recorded, and order is updated in
// place.
func (m *StateMachine) Transition(ctx context.Context, tx *gorm.DB, order *models.Order, req TransitionRequest) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for order transition")
	}
	from := order.Status
	if !CanTransition(from, req.To) {
		return invalidTransition(from, req.To)
	}
	if !req.Actor.permits(req.To) {
		return pkgerrors.New(pkgerrors.CodeForbidden, fmt.Sprintf("%s cannot move an order to %s", req.Actor.Kind, req.To))
	}

	now := m.now()
	columns := map[string]any{"updated_at": now}
	stampTransition(columns, req.To, now)
	if req.To == enums.OrderStatusCancelled && req.Reason != "" {
		columns["cancel_reason"] = req.Reason
	}

	repo := m.repo.WithTx(tx)
	affected, err := repo.UpdateStatus(ctx, order.ID, from, req.To, columns)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	if affected != 1 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order status changed concurrently; reload and retry")
	}
	applyTransition(order, req, now)

	if err := m.notifyCounterParty(ctx, tx, repo, order, req); err != nil {
		return err
	}
	if err := m.outbox.Emit(ctx, tx, transitionEvent(order, from, req, now)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order status event")
	}

	if m.logg != nil {
		logCtx := m.logg.WithOrderID(ctx, order.ID.String())
		m.logg.Info(m.logg.WithFields(logCtx, map[string]any{
			"from":  from,
			"to":    req.To,
			"actor": req.Actor.Kind,
		}), "order status changed")
	}
	return nil
}

func (m *StateMachine) notifyCounterParty(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order, req TransitionRequest) error {
	msg := notifications.Message{
		UserID: order.UserID,
		Kind:   enums.NotificationKindOrderStatus,
		Link:   orderLink(order.ID),
	}
	if req.To == enums.OrderStatusCancelled {
		msg.Kind = enums.NotificationKindOrderCancelled
	}

	if req.Actor.Kind == ActorCustomer {
		shop, err := repo.FindShop(ctx, order.ShopID)
		if err != nil {
			return err
		}
		msg.UserID = shop.OwnerUserID
		msg.Title = "Order cancelled by customer"
		msg.Message = fmt.Sprintf("Order %s was cancelled by the customer.", order.OrderNumber)
		if req.Reason != "" {
			msg.Message += " Reason: " + req.Reason
		}
	} else {
		msg.Title, msg.Message = customerCopy(order, req)
	}

	if err := m.notifier.Notify(ctx, tx, msg); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "notify order status")
	}
	return nil
}

func customerCopy(order *models.Order, req TransitionRequest) (string, string) {
	switch req.To {
	case enums.OrderStatusConfirmed:
		return "Order confirmed", fmt.Sprintf("Your order %s is confirmed and will be prepared shortly.", order.OrderNumber)
	case enums.OrderStatusProcessing:
		return "Order processing", fmt.Sprintf("Your order %s is being prepared.", order.OrderNumber)
	case enums.OrderStatusShipped:
		return "Order shipped", fmt.Sprintf("Your order %s is on its way.", order.OrderNumber)
	case enums.OrderStatusDelivered:
		return "Order delivered", fmt.Sprintf("Your order %s was delivered.", order.OrderNumber)
	case enums.OrderStatusCancelled:
		msg := fmt.Sprintf("Your order %s was cancelled.", order.OrderNumber)
		if req.Actor.Kind == ActorSystem {
			msg = fmt.Sprintf("Your order %s was cancelled because payment was not completed in time.", order.OrderNumber)
		} else if req.Reason != "" {
			msg += " Reason: " + req.Reason
		}
		return "Order cancelled", msg
	default:
		return "Order updated", fmt.Sprintf("Your order %s is now %s.", order.OrderNumber, req.To)
	}
}

func transitionEvent(order *models.Order, from enums.OrderStatus, req TransitionRequest, at time.Time) outbox.DomainEvent {
	event := outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         req.Actor.ref(),
		OccurredAt:    at,
		Data: payloads.OrderStatusChangedEvent{
			OrderID:    order.ID,
			From:       from,
			To:         req.To,
			Actor:      string(req.Actor.Kind),
			OccurredAt: at,
		},
	}
	if req.To == enums.OrderStatusCancelled {
		event.EventType = enums.EventOrderCancelled
		event.Data = payloads.OrderCancelledEvent{
			OrderID:        order.ID,
			ShopID:         order.ShopID,
			Reason:         req.Reason,
			RestockedUnits: req.RestockedUnits,
			CancelledAt:    at,
		}
	}
	return event
}

func stampTransition(columns map[string]any, to enums.OrderStatus, at time.Time) {
	switch to {
	case enums.OrderStatusConfirmed:
		columns["confirmed_at"] = at
	case enums.OrderStatusProcessing:
		columns["processing_at"] = at
	case enums.OrderStatusShipped:
		columns["shipped_at"] = at
	case enums.OrderStatusDelivered:
		columns["delivered_at"] = at
	case enums.OrderStatusCancelled:
		columns["cancelled_at"] = at
	}
}

func applyTransition(order *models.Order, req TransitionRequest, at time.Time) {
	order.Status = req.To
	order.UpdatedAt = at
	switch req.To {
	case enums.OrderStatusConfirmed:
		order.ConfirmedAt = &at
	case enums.OrderStatusProcessing:
		order.ProcessingAt = &at
	case enums.OrderStatusShipped:
		order.ShippedAt = &at
	case enums.OrderStatusDelivered:
		order.DeliveredAt = &at
	case enums.OrderStatusCancelled:
		order.CancelledAt = &at
		if req.Reason != "" {
			reason := req.Reason
			order.CancelReason = &reason
		}
	}
}

func invalidTransition(from, to enums.OrderStatus) error {
	return pkgerrors.New(pkgerrors.CodeInvalidTransition, fmt.Sprintf("cannot change order status from %s to %s", from, to)).
		WithDetails(map[string]any{"from": from, "to": to})
}

func orderLink(id uuid.UUID) string {
	return "/orders/" + id.String()
}
