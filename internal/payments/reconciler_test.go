package payments

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/pharmacy-backend/internal/orders"
	"github.com/angelmondragon/pharmacy-backend/pkg/db/dbtest"
	"github.com/angelmondragon/pharmacy-backend/pkg/db/models"
	"github.com/angelmondragon/pharmacy-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pharmacy-backend/pkg/errors"
	"github.com/angelmondragon/pharmacy-backend/pkg/sslcommerz"
)

func TestCheckoutThenIPNConfirmsOrder(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	order, res := h.initiate(t, 3)

	require.Len(t, order.Items, 1)
	assert.EqualValues(t, 24000, order.Items[0].LineTotalCents)
	assert.EqualValues(t, 24000, order.TotalCents)
	assert.Equal(t, 7, dbtest.Stock(t, h.conn, h.catalog.Listing.ID))

	h.gateway.approve("VAL-A", res.TransactionID, 24000)
	out, err := h.reconciler.HandleIPN(ctx, ipnForm(res.TransactionID, "VAL-A", "VALID", 24000))
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentOutcomeApplied, out.Result)
	assert.Equal(t, order.ID, out.OrderID)

	payment := h.payment(t, order.ID)
	assert.Equal(t, enums.PaymentStatusSuccess, payment.Status)
	require.NotNil(t, payment.PaidAt)
	require.NotNil(t, payment.ValidationID)
	assert.Equal(t, "VAL-A", *payment.ValidationID)
	require.NotNil(t, payment.BankTransactionID)
	assert.Equal(t, "BANK-VAL-A", *payment.BankTransactionID)

	confirmed := h.order(t, order.ID)
	assert.Equal(t, enums.OrderStatusConfirmed, confirmed.Status)
	assert.NotNil(t, confirmed.ConfirmedAt)
	assert.Equal(t, 7, dbtest.Stock(t, h.conn, h.catalog.Listing.ID))
}

func TestIPNReplayConfirmsOnce(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	order, res := h.initiate(t, 2)
	h.gateway.approve("VAL-R", res.TransactionID, order.TotalCents)
	payload := ipnForm(res.TransactionID, "VAL-R", "VALID", order.TotalCents)

	for i := 0; i < 3; i++ {
		_, err := h.reconciler.HandleIPN(ctx, payload)
		require.NoError(t, err)
	}
	// The browser redirect carries the same capture.
	out, err := h.reconciler.HandleSuccess(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentOutcomeDuplicate, out.Result)
	assert.Equal(t, enums.PaymentStatusSuccess, out.Status)

	assert.Equal(t, 1, h.gateway.validated, "replays must not reach the gateway")
	assert.EqualValues(t, 1, h.events(t, enums.EventPaymentSucceeded, h.payment(t, order.ID).ID))
	assert.EqualValues(t, 1, h.events(t, enums.EventOrderStatusChanged, order.ID))
	assert.EqualValues(t, 1, h.count(t, &models.Notification{}, "user_id = ? AND kind = ?",
		h.catalog.Customer.ID, enums.NotificationKindOrderStatus))
	assert.EqualValues(t, 1, h.count(t, &models.PaymentEvent{}, "transaction_id = ? AND signal = ? AND outcome = ?",
		res.TransactionID, enums.PaymentSignalIPN, enums.PaymentOutcomeApplied))
	assert.EqualValues(t, 3, h.count(t, &models.PaymentEvent{}, "transaction_id = ? AND outcome = ?",
		res.TransactionID, enums.PaymentOutcomeDuplicate))
}

func TestConcurrentCallbacksApplyOnce(t *testing.T) {
	h := newHarness(t, 10)
	h.reconciler.guard = nil
	ctx := context.Background()
	order, res := h.initiate(t, 1)
	h.gateway.approve("VAL-C", res.TransactionID, order.TotalCents)
	payload := ipnForm(res.TransactionID, "VAL-C", "VALID", order.TotalCents)

	var wg sync.WaitGroup
	errs := make(chan error, 6)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = h.reconciler.HandleIPN(ctx, payload)
			} else {
				_, err = h.reconciler.HandleSuccess(ctx, payload)
			}
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, enums.OrderStatusConfirmed, h.order(t, order.ID).Status)
	assert.EqualValues(t, 1, h.events(t, enums.EventPaymentSucceeded, h.payment(t, order.ID).ID))
	assert.EqualValues(t, 1, h.count(t, &models.Notification{}, "user_id = ? AND kind = ?",
		h.catalog.Customer.ID, enums.NotificationKindOrderStatus))
}

func TestUnknownTransactionIsRejected(t *testing.T) {
	h := newHarness(t, 10)
	_, err := h.reconciler.HandleSuccess(context.Background(), ipnForm("TXN-DOESNOTEXIST", "VAL-X", "VALID", 100))
	requireCode(t, err, pkgerrors.CodeUnknownTransaction)

	_, err = h.reconciler.HandleFail(context.Background(), ipnForm("TXN-DOESNOTEXIST", "", "FAILED", 100))
	requireCode(t, err, pkgerrors.CodeUnknownTransaction)

	assert.EqualValues(t, 2, h.count(t, &models.PaymentEvent{}, "transaction_id = ? AND outcome = ? AND payment_id IS NULL",
		"TXN-DOESNOTEXIST", enums.PaymentOutcomeRejected))
	assert.Zero(t, h.gateway.validated)
}

func TestInvalidValidationFailsPaymentOnly(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	order, res := h.initiate(t, 1)

	// VAL-BAD was never approved, so the gateway answers INVALID_TRANSACTION.
	out, err := h.reconciler.HandleSuccess(ctx, ipnForm(res.TransactionID, "VAL-BAD", "VALID", order.TotalCents))
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusFailed, out.Status)

	payment := h.payment(t, order.ID)
	assert.Equal(t, enums.PaymentStatusFailed, payment.Status)
	require.NotNil(t, payment.FailureReason)
	assert.Contains(t, *payment.FailureReason, sslcommerz.StatusInvalid)
	assert.Equal(t, enums.OrderStatusPending, h.order(t, order.ID).Status)

	// Failing again is a no-op.
	out, err = h.reconciler.HandleSuccess(ctx, ipnForm(res.TransactionID, "VAL-BAD", "VALID", order.TotalCents))
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentOutcomeDuplicate, out.Result)
	assert.EqualValues(t, 1, h.events(t, enums.EventPaymentFailed, payment.ID))
}

func TestAmountMismatchFailsPayment(t *testing.T) {
	h := newHarness(t, 10)
	order, res := h.initiate(t, 1)
	h.gateway.approve("VAL-M", res.TransactionID, order.TotalCents-100)

	out, err := h.reconciler.HandleSuccess(context.Background(), ipnForm(res.TransactionID, "VAL-M", "VALID", order.TotalCents))
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusFailed, out.Status)
	assert.Equal(t, enums.OrderStatusPending, h.order(t, order.ID).Status)
}

func TestMissingValidationIDIsTreatedAsInvalid(t *testing.T) {
	h := newHarness(t, 10)
	order, res := h.initiate(t, 1)

	out, err := h.reconciler.HandleSuccess(context.Background(), ipnForm(res.TransactionID, "", "VALID", order.TotalCents))
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusFailed, out.Status)
	assert.Zero(t, h.gateway.validated)
}

func TestFailAndCancelRedirects(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()

	failed, failRes := h.initiate(t, 1)
	out, err := h.reconciler.HandleFail(ctx, ipnForm(failRes.TransactionID, "", "FAILED", failed.TotalCents))
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentOutcomeApplied, out.Result)
	assert.Equal(t, enums.PaymentStatusFailed, h.payment(t, failed.ID).Status)

	out, err = h.reconciler.HandleCancel(ctx, ipnForm(failRes.TransactionID, "", "CANCELLED", failed.TotalCents))
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentOutcomeDuplicate, out.Result)
	assert.Equal(t, enums.PaymentStatusFailed, h.payment(t, failed.ID).Status, "first terminal writer wins")

	cancelled, cancelRes := h.initiate(t, 1)
	_, err = h.reconciler.HandleCancel(ctx, ipnForm(cancelRes.TransactionID, "", "CANCELLED", cancelled.TotalCents))
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusCancelled, h.payment(t, cancelled.ID).Status)
	assert.Equal(t, enums.OrderStatusPending, h.order(t, cancelled.ID).Status)
	assert.EqualValues(t, 2, h.count(t, &models.Notification{}, "user_id = ? AND kind = ?",
		h.catalog.Customer.ID, enums.NotificationKindPayment))
}

func TestLateSuccessAfterLocalCancelRequestsRefund(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	order, res := h.initiate(t, 4)
	require.Equal(t, 6, dbtest.Stock(t, h.conn, h.catalog.Listing.ID))

	_, err := h.orders.CancelOrder(ctx, orders.Caller{UserID: h.catalog.Customer.ID, Role: enums.ActorRoleCustomer}, order.ID, "ordered twice")
	require.NoError(t, err)
	assert.Equal(t, 10, dbtest.Stock(t, h.conn, h.catalog.Listing.ID))

	h.gateway.approve("VAL-L", res.TransactionID, order.TotalCents)
	payload := ipnForm(res.TransactionID, "VAL-L", "VALID", order.TotalCents)
	out, err := h.reconciler.HandleIPN(ctx, payload)
	require.NoError(t, err)
	assert.True(t, out.RefundRequested)
	assert.Equal(t, enums.PaymentStatusCancelled, out.Status)

	out, err = h.reconciler.HandleSuccess(ctx, payload)
	require.NoError(t, err)
	assert.False(t, out.RefundRequested)

	payment := h.payment(t, order.ID)
	assert.Equal(t, enums.PaymentStatusCancelled, payment.Status)
	assert.Equal(t, enums.OrderStatusCancelled, h.order(t, order.ID).Status)
	assert.Equal(t, 10, dbtest.Stock(t, h.conn, h.catalog.Listing.ID))
	assert.EqualValues(t, 1, h.events(t, enums.EventPaymentRefundRequested, payment.ID))
	assert.EqualValues(t, 1, h.count(t, &models.PaymentEvent{}, "payment_id = ? AND signal = ?", payment.ID, enums.PaymentSignalRefund))
	assert.EqualValues(t, 1, h.count(t, &models.Notification{}, "user_id = ? AND kind = ?",
		h.catalog.Customer.ID, enums.NotificationKindRefund))
}

func TestCancellingPaidOrderRefundsPayment(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	order, res := h.initiate(t, 2)
	h.gateway.approve("VAL-P", res.TransactionID, order.TotalCents)
	_, err := h.reconciler.HandleIPN(ctx, ipnForm(res.TransactionID, "VAL-P", "VALID", order.TotalCents))
	require.NoError(t, err)

	_, err = h.orders.UpdateStatus(ctx, orders.Caller{UserID: h.catalog.Owner.ID, Role: enums.ActorRoleShopOwner}, order.ID, enums.OrderStatusCancelled)
	require.NoError(t, err)

	payment := h.payment(t, order.ID)
	assert.Equal(t, enums.PaymentStatusRefunded, payment.Status)
	assert.NotNil(t, payment.RefundedAt)
	assert.EqualValues(t, 1, h.events(t, enums.EventPaymentRefundRequested, payment.ID))
	assert.Equal(t, 10, dbtest.Stock(t, h.conn, h.catalog.Listing.ID))
}

func TestIPNSignatureMismatchIsRejected(t *testing.T) {
	h := newHarness(t, 10)
	order, res := h.initiate(t, 1)
	h.gateway.signature.present = true
	h.gateway.signature.ok = false
	h.gateway.approve("VAL-S", res.TransactionID, order.TotalCents)

	out, err := h.reconciler.HandleIPN(context.Background(), ipnForm(res.TransactionID, "VAL-S", "VALID", order.TotalCents))
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentOutcomeRejected, out.Result)
	assert.Equal(t, enums.PaymentStatusPending, h.payment(t, order.ID).Status)
	assert.Zero(t, h.gateway.validated)
}

func TestIPNUnhandledStatusIsIgnored(t *testing.T) {
	h := newHarness(t, 10)
	order, res := h.initiate(t, 1)

	out, err := h.reconciler.HandleIPN(context.Background(), ipnForm(res.TransactionID, "", "UNATTEMPTED", order.TotalCents))
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentOutcomeIgnored, out.Result)
	assert.Equal(t, enums.PaymentStatusPending, h.payment(t, order.ID).Status)
}

func TestIPNGuardReleasedOnError(t *testing.T) {
	h := newHarness(t, 10)
	order, res := h.initiate(t, 1)
	payload := ipnForm(res.TransactionID, "VAL-E", "VALID", order.TotalCents)

	h.gateway.validateErr = pkgerrors.New(pkgerrors.CodeGateway, "validation api timed out")
	_, err := h.reconciler.HandleIPN(context.Background(), payload)
	requireCode(t, err, pkgerrors.CodeGateway)
	h.gateway.validateErr = nil
	assert.Equal(t, enums.PaymentStatusPending, h.payment(t, order.ID).Status)

	assert.False(t, h.redis.Exists("rx:idempotency:ipn:"+res.TransactionID+":VAL-E:VALID"))
	assert.EqualValues(t, 1, h.count(t, &models.PaymentEvent{}, "transaction_id = ? AND outcome = ?",
		res.TransactionID, enums.PaymentOutcomeError))

	h.gateway.approve("VAL-E", res.TransactionID, order.TotalCents)
	out, err := h.reconciler.HandleIPN(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentOutcomeApplied, out.Result)
}

func TestVerifyTransactionAppliesMissedCapture(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	order, res := h.initiate(t, 1)
	customer := orders.Caller{UserID: h.catalog.Customer.ID, Role: enums.ActorRoleCustomer}

	out, err := h.reconciler.VerifyTransaction(ctx, customer, res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentOutcomeIgnored, out.Result)
	assert.Equal(t, enums.PaymentStatusPending, out.Status)

	_, err = h.reconciler.VerifyTransaction(ctx, orders.Caller{UserID: h.catalog.Owner.ID, Role: enums.ActorRoleShopOwner}, res.TransactionID)
	requireCode(t, err, pkgerrors.CodeForbidden)

	h.gateway.approve("VAL-V", res.TransactionID, order.TotalCents)
	h.gateway.queries[res.TransactionID] = []sslcommerz.Validation{
		{Status: sslcommerz.StatusFailed, TransactionID: res.TransactionID},
		{Status: sslcommerz.StatusValidated, TransactionID: res.TransactionID, ValidationID: "VAL-V", AmountCents: order.TotalCents},
	}
	out, err = h.reconciler.VerifyTransaction(ctx, customer, res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentOutcomeApplied, out.Result)
	assert.Equal(t, enums.OrderStatusConfirmed, h.order(t, order.ID).Status)
}

func TestReconcileStaleSettlesCapturedPayments(t *testing.T) {
	h := newHarness(t, 10)
	captured, capturedRes := h.initiate(t, 1)
	_, openRes := h.initiate(t, 1)
	h.gateway.approve("VAL-ST", capturedRes.TransactionID, captured.TotalCents)
	h.gateway.queries[capturedRes.TransactionID] = []sslcommerz.Validation{
		{Status: sslcommerz.StatusValid, TransactionID: capturedRes.TransactionID, ValidationID: "VAL-ST", AmountCents: captured.TotalCents},
	}

	settled, err := h.reconciler.ReconcileStale(context.Background(), time.Now().UTC().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, settled)
	assert.Equal(t, enums.OrderStatusConfirmed, h.order(t, captured.ID).Status)

	var open models.Payment
	require.NoError(t, h.conn.Where("transaction_id = ?", openRes.TransactionID).Take(&open).Error)
	assert.Equal(t, enums.PaymentStatusPending, open.Status)
}

func TestCallbackGuard(t *testing.T) {
	h := newHarness(t, 1)
	guard := h.reconciler.guard
	ctx := context.Background()
	verdict := CallbackPayload{TranID: "TXN-1", ValID: "VAL-1", Status: "valid"}

	first, err := guard.Claim(ctx, verdict)
	require.NoError(t, err)
	assert.True(t, first)
	assert.True(t, h.redis.Exists("rx:idempotency:ipn:TXN-1:VAL-1:VALID"))

	first, err = guard.Claim(ctx, verdict)
	require.NoError(t, err)
	assert.False(t, first)

	other := verdict
	other.Status = "FAILED"
	first, err = guard.Claim(ctx, other)
	require.NoError(t, err)
	assert.True(t, first, "a different verdict is a separate claim")

	require.NoError(t, guard.Release(ctx, verdict))
	first, err = guard.Claim(ctx, verdict)
	require.NoError(t, err)
	assert.True(t, first)

	_, err = guard.Claim(ctx, CallbackPayload{})
	assert.Error(t, err)
}

func TestStaleCancelDoesNotCloseReinitiatedPayment(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	order, first := h.initiate(t, 1)
	second, err := h.sessions.InitiatePayment(ctx, h.catalog.Customer.ID, order.ID)
	require.NoError(t, err)

	out, err := h.reconciler.HandleCancel(ctx, ipnForm(first.TransactionID, "", "CANCELLED", order.TotalCents))
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentOutcomeIgnored, out.Result)
	out, err = h.reconciler.HandleFail(ctx, ipnForm(first.TransactionID, "", "FAILED", order.TotalCents))
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentOutcomeIgnored, out.Result)
	assert.Equal(t, enums.PaymentStatusPending, h.payment(t, order.ID).Status)

	h.gateway.approve("VAL-LIVE", second.TransactionID, order.TotalCents)
	out, err = h.reconciler.HandleIPN(ctx, ipnForm(second.TransactionID, "VAL-LIVE", "VALID", order.TotalCents))
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentOutcomeApplied, out.Result)
	assert.False(t, out.RefundRequested)
	assert.Equal(t, enums.PaymentStatusSuccess, h.payment(t, order.ID).Status)
	assert.Equal(t, enums.OrderStatusConfirmed, h.order(t, order.ID).Status)
}

func TestExpirySweepReleasesStockAfterGatewayFailure(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	order, res := h.initiate(t, 3)
	require.Equal(t, 7, dbtest.Stock(t, h.conn, h.catalog.Listing.ID))

	_, err := h.reconciler.HandleFail(ctx, ipnForm(res.TransactionID, "", "FAILED", order.TotalCents))
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusFailed, h.payment(t, order.ID).Status)

	expired, err := h.orders.ExpirePending(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)
	assert.Equal(t, enums.OrderStatusCancelled, h.order(t, order.ID).Status)
	assert.Equal(t, enums.PaymentStatusFailed, h.payment(t, order.ID).Status)
	assert.Equal(t, 10, dbtest.Stock(t, h.conn, h.catalog.Listing.ID))
}
