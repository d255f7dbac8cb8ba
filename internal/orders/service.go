package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmacy-backend/internal/inventory"
	"github.com/angelmondragon/pharmacy-backend/pkg/db/models"
	"github.com/angelmondragon/pharmacy-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pharmacy-backend/pkg/errors"
	"github.com/angelmondragon/pharmacy-backend/pkg/logger"
	"github.com/angelmondragon/pharmacy-backend/pkg/pagination"
)

// Caller is the authenticated user behind a request.
type Caller struct {
	UserID uuid.UUID
	Role   enums.ActorRole
}

// Service exposes order checkout, reads, and status changes.
type Service interface {
	CreateOrder(ctx context.Context, userID uuid.UUID, input CreateOrderInput) (*models.Order, error)
	CreateOrderFromCart(ctx context.Context, userID uuid.UUID, shipping ShippingInput) (*models.Order, error)
	GetOrder(ctx context.Context, caller Caller, orderID uuid.UUID) (*models.Order, error)
	ListOrders(ctx context.Context, caller Caller, params ListParams) (*ListResult, error)
	CancelOrder(ctx context.Context, caller Caller, orderID uuid.UUID, reason string) (*models.Order, error)
	UpdateStatus(ctx context.Context, caller Caller, orderID uuid.UUID, to enums.OrderStatus) (*models.Order, error)
	// ExpirePending cancels unpaid orders created before cutoff.
	ExpirePending(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// ListParams configures the order list.
type ListParams struct {
	Status *enums.OrderStatus
	pagination.Params
}

// ListResult wraps a page of orders.
type ListResult struct {
	Items  []models.Order
	Cursor string
}

// Deps wires the order service.
type Deps struct {
	Repo      Repository
	Tx        txRunner
	Inventory InventoryReserver
	Machine   *StateMachine
	Payments  PaymentCanceller
	Cart      CartSource
	Notifier  notifier
	Outbox    outboxPublisher
	Pricing   Pricing
	Logger    *logger.Logger
}

type service struct {
	repo      Repository
	tx        txRunner
	inventory InventoryReserver
	machine   *StateMachine
	payments  PaymentCanceller
	cart      CartSource
	builder   *builder
	logg      *logger.Logger
}

// NewService builds the order service with the required dependencies.
func NewService(deps Deps) (Service, error) {
	switch {
	case deps.Repo == nil:
		return nil, fmt.Errorf("orders repository required")
	case deps.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case deps.Inventory == nil:
		return nil, fmt.Errorf("inventory reserver required")
	case deps.Machine == nil:
		return nil, fmt.Errorf("state machine required")
	case deps.Payments == nil:
		return nil, fmt.Errorf("payment canceller required")
	case deps.Notifier == nil:
		return nil, fmt.Errorf("notifier required")
	case deps.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{
		repo:      deps.Repo,
		tx:        deps.Tx,
		inventory: deps.Inventory,
		machine:   deps.Machine,
		payments:  deps.Payments,
		cart:      deps.Cart,
		logg:      deps.Logger,
		builder: &builder{
			repo:      deps.Repo,
			inventory: deps.Inventory,
			notifier:  deps.Notifier,
			outbox:    deps.Outbox,
			pricing:   deps.Pricing,
		},
	}, nil
}

func (s *service) CreateOrder(ctx context.Context, userID uuid.UUID, input CreateOrderInput) (*models.Order, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		order, err = s.builder.build(ctx, tx, userID, input.Items, input.Shipping)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logCreated(ctx, order)
	return order, nil
}

func (s *service) CreateOrderFromCart(ctx context.Context, userID uuid.UUID, shipping ShippingInput) (*models.Order, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if s.cart == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "cart checkout unavailable")
	}

	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		lines, err := s.cart.Items(ctx, tx, userID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
		}
		items := make([]ItemInput, len(lines))
		for i, line := range lines {
			items[i] = ItemInput{ShopMedicineID: line.ShopMedicineID, Quantity: line.Quantity}
		}
		order, err = s.builder.build(ctx, tx, userID, items, shipping)
		return err
	})
	if err != nil {
		return nil, err
	}

	// The order is committed; a failed clear leaves stale cart lines only.
	if err := s.cart.Clear(ctx, userID); err != nil && s.logg != nil {
		s.logg.Warn(s.logg.WithFields(s.logg.WithOrderID(ctx, order.ID.String()), map[string]any{
			"error": err.Error(),
		}), "clear cart after checkout failed")
	}
	s.logCreated(ctx, order)
	return order, nil
}

func (s *service) GetOrder(ctx context.Context, caller Caller, orderID uuid.UUID) (*models.Order, error) {
	if caller.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if _, err := s.actorFor(ctx, s.repo, caller, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *service) ListOrders(ctx context.Context, caller Caller, params ListParams) (*ListResult, error) {
	if caller.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	query := listOrdersParams{Status: params.Status, Limit: params.Limit}
	switch caller.Role {
	case enums.ActorRoleAdmin:
	case enums.ActorRoleShopOwner:
		query.ShopOwnerID = &caller.UserID
	default:
		query.UserID = &caller.UserID
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	result := &ListResult{Items: rows}
	if next != nil {
		result.Cursor = next.Encode()
	}
	return result, nil
}

func (s *service) CancelOrder(ctx context.Context, caller Caller, orderID uuid.UUID, reason string) (*models.Order, error) {
	if caller.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		loaded, err := repo.LockByID(ctx, orderID)
		if err != nil {
			return err
		}
		actor, err := s.actorFor(ctx, repo, caller, loaded)
		if err != nil {
			return err
		}
		order = loaded
		return s.cancelLocked(ctx, tx, order, actor, reason)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// cancelLocked cancels an order already locked in tx: status first, then
// stock, then the payment.
func (s *service) cancelLocked(ctx context.Context, tx *gorm.DB, order *models.Order, actor Actor, reason string) error {
	if order.Status != enums.OrderStatusPending && order.Status != enums.OrderStatusConfirmed {
		return pkgerrors.New(pkgerrors.CodeInvalidTransition,
			fmt.Sprintf("order is %s and can no longer be cancelled", order.Status)).
			WithDetails(map[string]any{"from": order.Status, "to": enums.OrderStatusCancelled})
	}

	restore := make([]inventory.RestoreRequest, 0, len(order.Items))
	units := 0
	for _, item := range order.Items {
		restore = append(restore, inventory.RestoreRequest{ShopMedicineID: item.ShopMedicineID, Quantity: item.Quantity})
		units += item.Quantity
	}

	if err := s.machine.Transition(ctx, tx, order, TransitionRequest{
		To:             enums.OrderStatusCancelled,
		Actor:          actor,
		Reason:         strings.TrimSpace(reason),
		RestockedUnits: units,
	}); err != nil {
		return err
	}
	if err := s.inventory.Restore(ctx, tx, restore); err != nil {
		return err
	}
	return s.payments.CancelForOrder(ctx, tx, order, strings.TrimSpace(reason))
}

func (s *service) UpdateStatus(ctx context.Context, caller Caller, orderID uuid.UUID, to enums.OrderStatus) (*models.Order, error) {
	if caller.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if !to.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown order status")
	}

	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		loaded, err := repo.LockByID(ctx, orderID)
		if err != nil {
			return err
		}
		actor, err := s.actorFor(ctx, repo, caller, loaded)
		if err != nil {
			return err
		}
		if actor.Kind != ActorShopOwner && actor.Kind != ActorAdmin {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the shop owner or an admin can update order status")
		}
		order = loaded
		if to == enums.OrderStatusCancelled {
			return s.cancelLocked(ctx, tx, order, actor, "")
		}
		return s.machine.Transition(ctx, tx, order, TransitionRequest{To: to, Actor: actor})
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *service) ExpirePending(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	ids, err := s.repo.ListExpiredPending(ctx, cutoff, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list expired orders")
	}

	expired := 0
	var errs error
	for _, id := range ids {
		cancelled := false
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			order, err := s.repo.WithTx(tx).LockByID(ctx, id)
			if err != nil {
				return err
			}
			// Paid or cancelled since the scan.
			if order.Status != enums.OrderStatusPending || order.Payment == nil || !unpaid(order.Payment.Status) {
				return nil
			}
			cancelled = true
			return s.cancelLocked(ctx, tx, order, Actor{Kind: ActorSystem}, "payment not completed in time")
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire order %s: %w", id, err))
			continue
		}
		if cancelled {
			expired++
		}
	}
	return expired, errs
}

// actorFor resolves the caller's relation to order; unrelated callers are
// forbidden.
func (s *service) actorFor(ctx context.Context, repo Repository, caller Caller, order *models.Order) (Actor, error) {
	if caller.Role == enums.ActorRoleAdmin {
		return Actor{UserID: caller.UserID, Kind: ActorAdmin}, nil
	}
	if caller.Role == enums.ActorRoleShopOwner {
		shop, err := repo.FindShop(ctx, order.ShopID)
		if err != nil {
			return Actor{}, err
		}
		if shop.OwnerUserID == caller.UserID {
			return Actor{UserID: caller.UserID, Kind: ActorShopOwner}, nil
		}
	}
	if order.UserID == caller.UserID {
		return Actor{UserID: caller.UserID, Kind: ActorCustomer}, nil
	}
	return Actor{}, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to caller")
}

func (s *service) logCreated(ctx context.Context, order *models.Order) {
	if s.logg == nil {
		return
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"order_number": order.OrderNumber,
		"total_cents":  order.TotalCents,
		"items":        len(order.Items),
	}), "order created")
}
