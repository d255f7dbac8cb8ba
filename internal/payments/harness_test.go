package payments

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmacy-backend/internal/inventory"
	"github.com/angelmondragon/pharmacy-backend/internal/notifications"
	"github.com/angelmondragon/pharmacy-backend/internal/orders"
	"github.com/angelmondragon/pharmacy-backend/pkg/db"
	"github.com/angelmondragon/pharmacy-backend/pkg/db/dbtest"
	"github.com/angelmondragon/pharmacy-backend/pkg/db/models"
	"github.com/angelmondragon/pharmacy-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pharmacy-backend/pkg/errors"
	"github.com/angelmondragon/pharmacy-backend/pkg/outbox"
	"github.com/angelmondragon/pharmacy-backend/pkg/redis"
	"github.com/angelmondragon/pharmacy-backend/pkg/sslcommerz"
)

type fakeGateway struct {
	mu          sync.Mutex
	validations map[string]*sslcommerz.Validation
	queries     map[string][]sslcommerz.Validation
	sessionErr  error
	validateErr error
	sessions    []sslcommerz.SessionParams
	validated   int
	signature   struct{ ok, present bool }
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		validations: map[string]*sslcommerz.Validation{},
		queries:     map[string][]sslcommerz.Validation{},
	}
}

func (g *fakeGateway) InitiateSession(_ context.Context, params sslcommerz.SessionParams) (*sslcommerz.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions = append(g.sessions, params)
	if g.sessionErr != nil {
		return nil, g.sessionErr
	}
	return &sslcommerz.Session{
		SessionKey:     "SESS-" + params.TransactionID,
		GatewayPageURL: "https://sandbox.gateway.test/pay/" + params.TransactionID,
	}, nil
}

func (g *fakeGateway) Validate(_ context.Context, valID string) (*sslcommerz.Validation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.validated++
	if g.validateErr != nil {
		return nil, g.validateErr
	}
	v, ok := g.validations[valID]
	if !ok {
		return &sslcommerz.Validation{Status: sslcommerz.StatusInvalid, ValidationID: valID}, nil
	}
	copied := *v
	return &copied, nil
}

func (g *fakeGateway) QueryTransaction(_ context.Context, tranID string) ([]sslcommerz.Validation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.queries[tranID], nil
}

func (g *fakeGateway) VerifySignature(url.Values) (bool, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.signature.ok, g.signature.present
}

func (g *fakeGateway) Currency() string { return "BDT" }

// approve makes valID validate as a capture of amountCents for tranID.
func (g *fakeGateway) approve(valID, tranID string, amountCents int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.validations[valID] = &sslcommerz.Validation{
		Status:            sslcommerz.StatusValid,
		TransactionID:     tranID,
		ValidationID:      valID,
		AmountCents:       amountCents,
		Currency:          "BDT",
		BankTransactionID: "BANK-" + valID,
		CardType:          "VISA-Dutch Bangla",
	}
}

type harness struct {
	conn       *gorm.DB
	catalog    dbtest.Catalog
	orders     orders.Service
	sessions   *SessionService
	reconciler *Reconciler
	gateway    *fakeGateway
	redis      *miniredis.Miniredis
}

func newHarness(t *testing.T, stock int) *harness {
	t.Helper()
	conn := dbtest.Open(t)
	catalog := dbtest.SeedCatalog(t, conn, 10000, dbtest.Int64(8000), stock)
	client := db.Wrap(conn)

	notifier, err := notifications.NewService(notifications.NewRepository(conn))
	require.NoError(t, err)
	publisher := outbox.NewService(outbox.NewRepository(conn), nil)
	orderRepo := orders.NewRepository(conn)
	machine, err := orders.NewStateMachine(orderRepo, notifier, publisher, nil)
	require.NoError(t, err)

	repo := NewRepository(conn)
	transitions, err := NewTransitioner(repo, publisher, notifier, nil)
	require.NoError(t, err)
	orderSvc, err := orders.NewService(orders.Deps{
		Repo:      orderRepo,
		Tx:        client,
		Inventory: inventory.NewEngine(),
		Machine:   machine,
		Payments:  transitions,
		Notifier:  notifier,
		Outbox:    publisher,
		Pricing:   orders.Pricing{Currency: "BDT"},
	})
	require.NoError(t, err)

	gateway := newFakeGateway()
	sessions, err := NewSessionService(repo, client, gateway, "https://api.pharmacy.test/", nil)
	require.NoError(t, err)

	srv := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = raw.Close() })
	guard, err := NewCallbackGuard(redis.NewFromClient(raw), time.Hour, "ipn")
	require.NoError(t, err)

	reconciler, err := NewReconciler(ReconcilerDeps{
		Repo:        repo,
		Tx:          client,
		Gateway:     gateway,
		Orders:      machine,
		Transitions: transitions,
		Guard:       guard,
	})
	require.NoError(t, err)

	return &harness{
		conn:       conn,
		catalog:    catalog,
		orders:     orderSvc,
		sessions:   sessions,
		reconciler: reconciler,
		gateway:    gateway,
		redis:      srv,
	}
}

func (h *harness) placeOrder(t *testing.T, qty int) *models.Order {
	t.Helper()
	order, err := h.orders.CreateOrder(context.Background(), h.catalog.Customer.ID, orders.CreateOrderInput{
		Items: []orders.ItemInput{{ShopMedicineID: h.catalog.Listing.ID, Quantity: qty}},
		Shipping: orders.ShippingInput{
			Name:  "Rahim Uddin",
			Phone: "01711223344",
			Line1: "House 12, Road 5",
			City:  "Dhaka",
		},
	})
	require.NoError(t, err)
	return order
}

// initiate places an order and opens a gateway session for it.
func (h *harness) initiate(t *testing.T, qty int) (*models.Order, *InitiateResult) {
	t.Helper()
	order := h.placeOrder(t, qty)
	res, err := h.sessions.InitiatePayment(context.Background(), h.catalog.Customer.ID, order.ID)
	require.NoError(t, err)
	return order, res
}

func (h *harness) payment(t *testing.T, orderID uuid.UUID) models.Payment {
	t.Helper()
	var p models.Payment
	require.NoError(t, h.conn.Where("order_id = ?", orderID).Take(&p).Error)
	return p
}

func (h *harness) order(t *testing.T, id uuid.UUID) models.Order {
	t.Helper()
	var o models.Order
	require.NoError(t, h.conn.Where("id = ?", id).Take(&o).Error)
	return o
}

func (h *harness) count(t *testing.T, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.conn.Model(model).Where(query, args...).Count(&n).Error)
	return n
}

func (h *harness) events(t *testing.T, eventType enums.OutboxEventType, aggregateID uuid.UUID) int64 {
	t.Helper()
	return h.count(t, &models.OutboxEvent{}, "event_type = ? AND aggregate_id = ?", eventType, aggregateID)
}

func ipnForm(tranID, valID, status string, amountCents int64) CallbackPayload {
	form := url.Values{}
	form.Set("tran_id", tranID)
	form.Set("val_id", valID)
	form.Set("status", status)
	form.Set("amount", sslcommerz.FormatAmount(amountCents))
	form.Set("currency", "BDT")
	form.Set("bank_tran_id", "BANK-"+valID)
	form.Set("card_type", "VISA-Dutch Bangla")
	return PayloadFromForm(form)
}

func requireCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	require.Error(t, err)
	require.True(t, pkgerrors.HasCode(err, code), fmt.Sprintf("expected %s, got %v", code, err))
}

var errGatewayDown = errors.New("dial tcp: connection refused")
