package payments

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/pharmacy-backend/internal/orders"
	"github.com/angelmondragon/pharmacy-backend/pkg/db/models"
	"github.com/angelmondragon/pharmacy-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pharmacy-backend/pkg/errors"
)

func TestInitiatePaymentOpensSession(t *testing.T) {
	h := newHarness(t, 10)
	order, res := h.initiate(t, 3)

	assert.True(t, strings.HasPrefix(res.TransactionID, "TXN-"))
	assert.Len(t, res.TransactionID, 36)
	assert.Equal(t, strings.ToUpper(res.TransactionID), res.TransactionID)
	assert.Equal(t, "SESS-"+res.TransactionID, res.SessionKey)
	assert.NotEmpty(t, res.GatewayURL)

	payment := h.payment(t, order.ID)
	assert.Equal(t, enums.PaymentStatusPending, payment.Status)
	require.NotNil(t, payment.TransactionID)
	assert.Equal(t, res.TransactionID, *payment.TransactionID)
	require.NotNil(t, payment.SessionKey)
	assert.Equal(t, res.SessionKey, *payment.SessionKey)

	require.Len(t, h.gateway.sessions, 1)
	params := h.gateway.sessions[0]
	assert.EqualValues(t, 24000, params.AmountCents)
	assert.Equal(t, "https://api.pharmacy.test/api/v1/payments/ipn", params.IPNURL)
	assert.Equal(t, "https://api.pharmacy.test/api/v1/payments/success", params.SuccessURL)
	assert.Equal(t, 3, params.ItemCount)
	assert.Equal(t, "Napa", params.ProductName)
	assert.Equal(t, order.ID.String(), params.ValueA)

	assert.EqualValues(t, 1, h.count(t, &models.PaymentEvent{}, "transaction_id = ? AND signal = ? AND outcome = ?",
		res.TransactionID, enums.PaymentSignalInitiate, enums.PaymentOutcomeApplied))
}

func TestInitiatePaymentGatewayFailureLeavesPending(t *testing.T) {
	h := newHarness(t, 10)
	order := h.placeOrder(t, 1)
	h.gateway.sessionErr = errGatewayDown

	_, err := h.sessions.InitiatePayment(context.Background(), h.catalog.Customer.ID, order.ID)
	requireCode(t, err, pkgerrors.CodeGateway)
	assert.True(t, pkgerrors.IsRetryable(err))

	payment := h.payment(t, order.ID)
	assert.Equal(t, enums.PaymentStatusPending, payment.Status)
	assert.Nil(t, payment.SessionKey)
	assert.EqualValues(t, 1, h.count(t, &models.PaymentEvent{}, "signal = ? AND outcome = ?",
		enums.PaymentSignalInitiate, enums.PaymentOutcomeError))

	h.gateway.sessionErr = nil
	res, err := h.sessions.InitiatePayment(context.Background(), h.catalog.Customer.ID, order.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, res.GatewayURL)
}

func TestInitiatePaymentRejectsOtherUsers(t *testing.T) {
	h := newHarness(t, 10)
	order := h.placeOrder(t, 1)

	_, err := h.sessions.InitiatePayment(context.Background(), h.catalog.Owner.ID, order.ID)
	requireCode(t, err, pkgerrors.CodeForbidden)

	_, err = h.sessions.InitiatePayment(context.Background(), h.catalog.Customer.ID, uuid.New())
	requireCode(t, err, pkgerrors.CodeNotFound)
	assert.Empty(t, h.gateway.sessions)
}

func TestInitiatePaymentRejectsSettledPayments(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()

	paid, res := h.initiate(t, 1)
	h.gateway.approve("VAL-1", res.TransactionID, paid.TotalCents)
	_, err := h.reconciler.HandleIPN(ctx, ipnForm(res.TransactionID, "VAL-1", "VALID", paid.TotalCents))
	require.NoError(t, err)

	_, err = h.sessions.InitiatePayment(ctx, h.catalog.Customer.ID, paid.ID)
	requireCode(t, err, pkgerrors.CodeConflict)

	cancelled := h.placeOrder(t, 1)
	_, err = h.orders.CancelOrder(ctx, orders.Caller{UserID: h.catalog.Customer.ID, Role: enums.ActorRoleCustomer}, cancelled.ID, "changed my mind")
	require.NoError(t, err)
	_, err = h.sessions.InitiatePayment(ctx, h.catalog.Customer.ID, cancelled.ID)
	requireCode(t, err, pkgerrors.CodeConflict)
}

func TestReinitiateIssuesFreshTransactionAndKeepsOldResolvable(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	order, first := h.initiate(t, 1)

	second, err := h.sessions.InitiatePayment(ctx, h.catalog.Customer.ID, order.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.TransactionID, second.TransactionID)

	payment, err := h.reconciler.repo.FindByTransactionID(ctx, first.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, payment.OrderID)

	// A capture reported under the superseded id still settles the payment.
	h.gateway.approve("VAL-OLD", first.TransactionID, order.TotalCents)
	out, err := h.reconciler.HandleSuccess(ctx, ipnForm(first.TransactionID, "VAL-OLD", "VALID", order.TotalCents))
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusSuccess, out.Status)
	assert.Equal(t, enums.OrderStatusConfirmed, h.order(t, order.ID).Status)
}

func TestGetPaymentForOrderVisibility(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	order := h.placeOrder(t, 1)

	payment, err := h.sessions.GetPaymentForOrder(ctx, orders.Caller{UserID: h.catalog.Customer.ID, Role: enums.ActorRoleCustomer}, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.TotalCents, payment.AmountCents)

	_, err = h.sessions.GetPaymentForOrder(ctx, orders.Caller{UserID: h.catalog.Owner.ID, Role: enums.ActorRoleShopOwner}, order.ID)
	require.NoError(t, err)

	_, err = h.sessions.GetPaymentForOrder(ctx, orders.Caller{UserID: uuid.New(), Role: enums.ActorRoleCustomer}, order.ID)
	requireCode(t, err, pkgerrors.CodeForbidden)

	_, err = h.sessions.GetPaymentForOrder(ctx, orders.Caller{UserID: uuid.New(), Role: enums.ActorRoleAdmin}, order.ID)
	require.NoError(t, err)
}
