package orders

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmacy-backend/internal/inventory"
	"github.com/angelmondragon/pharmacy-backend/internal/notifications"
	"github.com/angelmondragon/pharmacy-backend/pkg/db"
	"github.com/angelmondragon/pharmacy-backend/pkg/db/models"
	"github.com/angelmondragon/pharmacy-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pharmacy-backend/pkg/errors"
	"github.com/angelmondragon/pharmacy-backend/pkg/outbox"
	"github.com/angelmondragon/pharmacy-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/pharmacy-backend/pkg/types"
)

// Pricing holds the flat charges applied to every order.
type Pricing struct {
	ShippingFeeCents int64
	// TaxBPS is tax in basis points of (subtotal - discount).
	TaxBPS   int64
	Currency string
}

// ItemInput is one requested line.
type ItemInput struct {
	ShopMedicineID uuid.UUID `json:"shopMedicineId" validate:"required"`
	Quantity       int       `json:"quantity" validate:"required,min=1,max=100"`
}

// ShippingInput is the delivery contact captured on the order.
type ShippingInput struct {
	Name       string  `json:"name" validate:"required,max=120"`
	Phone      string  `json:"phone" validate:"required,phone"`
	Email      string  `json:"email" validate:"omitempty,email"`
	Line1      string  `json:"addressLine1" validate:"required,max=255"`
	Line2      string  `json:"addressLine2" validate:"omitempty,max=255"`
	City       string  `json:"city" validate:"required,max=100"`
	PostalCode string  `json:"postalCode" validate:"omitempty,max=20"`
	Country    string  `json:"country" validate:"omitempty,max=60"`
	Notes      *string `json:"notes" validate:"omitempty,max=500"`
}

func (s ShippingInput) snapshot() types.ShippingSnapshot {
	country := strings.TrimSpace(s.Country)
	if country == "" {
		country = "Bangladesh"
	}
	return types.ShippingSnapshot{
		Name:       strings.TrimSpace(s.Name),
		Phone:      strings.TrimSpace(s.Phone),
		Email:      strings.TrimSpace(s.Email),
		Line1:      strings.TrimSpace(s.Line1),
		Line2:      strings.TrimSpace(s.Line2),
		City:       strings.TrimSpace(s.City),
		PostalCode: strings.TrimSpace(s.PostalCode),
		Country:    country,
	}
}

func (s ShippingInput) validate() error {
	if strings.TrimSpace(s.Name) == "" || strings.TrimSpace(s.Phone) == "" ||
		strings.TrimSpace(s.Line1) == "" || strings.TrimSpace(s.City) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "shipping name, phone, address and city are required")
	}
	return nil
}

// CreateOrderInput is an explicit item list plus shipping details.
type CreateOrderInput struct {
	Items    []ItemInput   `json:"items" validate:"required,min=1,dive"`
	Shipping ShippingInput `json:"shipping" validate:"required"`
}

// builder assembles and persists a new order aggregate inside one transaction.
type builder struct {
	repo      Repository
	inventory InventoryReserver
	notifier  notifier
	outbox    outboxPublisher
	pricing   Pricing
}

// build reserves stock and writes order, items, the pending payment, the
// order_created event, and the shop owner notification through tx.
func (b *builder) build(ctx context.Context, tx *gorm.DB, userID uuid.UUID, items []ItemInput, shipping ShippingInput) (*models.Order, error) {
	if len(items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}
	if err := shipping.validate(); err != nil {
		return nil, err
	}
	repo := b.repo.WithTx(tx)

	shopID, err := repo.ListingShopID(ctx, items[0].ShopMedicineID)
	if err != nil {
		return nil, err
	}
	shop, err := repo.FindShop(ctx, shopID)
	if err != nil {
		return nil, err
	}
	if !shop.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "shop is not accepting orders")
	}

	requests := make([]inventory.ReservationRequest, len(items))
	for i, item := range items {
		requests[i] = inventory.ReservationRequest{ShopMedicineID: item.ShopMedicineID, Quantity: item.Quantity}
	}
	listings, err := b.inventory.Reserve(ctx, tx, shopID, requests)
	if err != nil {
		return nil, err
	}

	quantities := make(map[uuid.UUID]int, len(items))
	for _, item := range items {
		quantities[item.ShopMedicineID] += item.Quantity
	}

	order := &models.Order{
		ID:              uuid.New(),
		UserID:          userID,
		ShopID:          shopID,
		Status:          enums.OrderStatusPending,
		ShippingAddress: shipping.snapshot(),
		Notes:           trimmedPtr(shipping.Notes),
	}
	for _, listing := range listings {
		order.Items = append(order.Items, snapshotItem(order.ID, listing, quantities[listing.ID]))
	}
	applyTotals(order, b.pricing)

	if err := b.insertWithUniqueNumber(ctx, repo, order); err != nil {
		return nil, err
	}

	currency := b.pricing.Currency
	if currency == "" {
		currency = "BDT"
	}
	payment := &models.Payment{
		ID:          uuid.New(),
		OrderID:     order.ID,
		UserID:      userID,
		AmountCents: order.TotalCents,
		Currency:    currency,
		Status:      enums.PaymentStatusPending,
	}
	if err := repo.CreatePayment(ctx, payment); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
	}
	order.Payment = payment

	if err := b.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         Actor{UserID: userID, Kind: ActorCustomer}.ref(),
		Data: payloads.OrderCreatedEvent{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			UserID:      userID,
			ShopID:      shopID,
			TotalCents:  order.TotalCents,
			ItemCount:   len(order.Items),
		},
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order created event")
	}

	if err := b.notifier.Notify(ctx, tx, notifications.Message{
		UserID:  shop.OwnerUserID,
		Kind:    enums.NotificationKindOrderPlaced,
		Title:   "New order received",
		Message: fmt.Sprintf("Order %s was placed with %d item(s).", order.OrderNumber, len(order.Items)),
		Link:    orderLink(order.ID),
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "notify shop owner")
	}
	return order, nil
}

// insertWithUniqueNumber assigns an order number, retrying on collision.
// Collisions are pre-checked; a unique violation on insert (a concurrent
// checkout drew the same number) is rolled back to a savepoint and retried.
func (b *builder) insertWithUniqueNumber(ctx context.Context, repo Repository, order *models.Order) error {
	for attempt := 0; attempt < orderNumberAttempts; attempt++ {
		number, err := newOrderNumber()
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate order number")
		}
		exists, err := repo.OrderNumberExists(ctx, number)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check order number")
		}
		if exists {
			continue
		}
		order.OrderNumber = number
		err = repo.CreateOrder(ctx, order)
		if err == nil {
			return nil
		}
		if db.IsUniqueViolation(err, "orders_order_number_key") || db.IsUniqueViolation(err, "orders.order_number") {
			continue
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
	}
	return pkgerrors.New(pkgerrors.CodeConflict, "could not allocate a unique order number; retry")
}

func snapshotItem(orderID uuid.UUID, listing models.ShopMedicine, qty int) models.OrderItem {
	unit := listing.EffectiveUnitPriceCents()
	return models.OrderItem{
		ID:                 uuid.New(),
		OrderID:            orderID,
		ShopMedicineID:     listing.ID,
		MedicineName:       listing.Medicine.Name,
		Strength:           listing.Medicine.Strength,
		Form:               listing.Medicine.Form,
		Manufacturer:       listing.Medicine.Manufacturer,
		UnitPriceCents:     listing.PriceCents,
		DiscountPriceCents: listing.DiscountPriceCents,
		Quantity:           qty,
		LineTotalCents:     unit * int64(qty),
	}
}

// applyTotals computes subtotal, tax and total from the item snapshots.
func applyTotals(order *models.Order, pricing Pricing) {
	var subtotal int64
	for _, item := range order.Items {
		subtotal += item.LineTotalCents
	}
	order.SubtotalCents = subtotal
	order.DiscountCents = 0
	order.ShippingCents = pricing.ShippingFeeCents
	order.TaxCents = taxCents(subtotal-order.DiscountCents, pricing.TaxBPS)
	order.TotalCents = order.SubtotalCents - order.DiscountCents + order.ShippingCents + order.TaxCents
}

// taxCents rounds half up.
func taxCents(base, bps int64) int64 {
	if base <= 0 || bps <= 0 {
		return 0
	}
	return (base*bps + 5000) / 10000
}

func trimmedPtr(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
