package payments

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/pharmacy-backend/api/middleware"
	internalorders "github.com/angelmondragon/pharmacy-backend/internal/orders"
	internalpayments "github.com/angelmondragon/pharmacy-backend/internal/payments"
	"github.com/angelmondragon/pharmacy-backend/pkg/db/models"
	"github.com/angelmondragon/pharmacy-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pharmacy-backend/pkg/errors"
	"github.com/angelmondragon/pharmacy-backend/pkg/logger"
)

type stubReconciler struct {
	outcome  *internalpayments.Outcome
	err      error
	signals  []string
	payloads []internalpayments.CallbackPayload
}

func (s *stubReconciler) handle(signal string, p internalpayments.CallbackPayload) (*internalpayments.Outcome, error) {
	s.signals = append(s.signals, signal)
	s.payloads = append(s.payloads, p)
	return s.outcome, s.err
}

func (s *stubReconciler) HandleSuccess(_ context.Context, p internalpayments.CallbackPayload) (*internalpayments.Outcome, error) {
	return s.handle("success", p)
}

func (s *stubReconciler) HandleFail(_ context.Context, p internalpayments.CallbackPayload) (*internalpayments.Outcome, error) {
	return s.handle("fail", p)
}

func (s *stubReconciler) HandleCancel(_ context.Context, p internalpayments.CallbackPayload) (*internalpayments.Outcome, error) {
	return s.handle("cancel", p)
}

func (s *stubReconciler) HandleIPN(_ context.Context, p internalpayments.CallbackPayload) (*internalpayments.Outcome, error) {
	return s.handle("ipn", p)
}

func (s *stubReconciler) VerifyTransaction(_ context.Context, _ internalorders.Caller, tranID string) (*internalpayments.Outcome, error) {
	return s.handle("verify:"+tranID, internalpayments.CallbackPayload{TranID: tranID})
}

type stubSessions struct {
	result  *internalpayments.InitiateResult
	payment *models.Payment
	err     error
	userID  uuid.UUID
	orderID uuid.UUID
}

func (s *stubSessions) InitiatePayment(_ context.Context, userID, orderID uuid.UUID) (*internalpayments.InitiateResult, error) {
	s.userID, s.orderID = userID, orderID
	return s.result, s.err
}

func (s *stubSessions) GetPaymentForOrder(_ context.Context, caller internalorders.Caller, orderID uuid.UUID) (*models.Payment, error) {
	s.userID, s.orderID = caller.UserID, orderID
	return s.payment, s.err
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func formRequest(path string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func withParam(req *http.Request, key, value string) *http.Request {
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
}

func TestSuccessCallbackRedirectsWithOutcome(t *testing.T) {
	orderID := uuid.New()
	rec := &stubReconciler{outcome: &internalpayments.Outcome{
		OrderID: orderID,
		Status:  enums.PaymentStatusSuccess,
		Result:  enums.PaymentOutcomeApplied,
	}}

	form := url.Values{"tran_id": {"TXN-1"}, "val_id": {"VAL-1"}, "status": {"VALID"}}
	resp := httptest.NewRecorder()
	Success(rec, "https://shop.test/", testLogger())(resp, formRequest("/api/v1/payments/success", form))

	require.Equal(t, http.StatusSeeOther, resp.Code)
	location, err := url.Parse(resp.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "/payment/result", location.Path)
	require.Equal(t, "success", location.Query().Get("signal"))
	require.Equal(t, string(enums.PaymentStatusSuccess), location.Query().Get("status"))
	require.Equal(t, orderID.String(), location.Query().Get("order"))
	require.Equal(t, []string{"success"}, rec.signals)
	require.Equal(t, "VAL-1", rec.payloads[0].ValID)
}

func TestFailCallbackUnknownTransactionRedirects(t *testing.T) {
	rec := &stubReconciler{err: pkgerrors.New(pkgerrors.CodeUnknownTransaction, "unknown transaction")}
	resp := httptest.NewRecorder()
	Fail(rec, "https://shop.test", testLogger())(resp, formRequest("/api/v1/payments/fail", url.Values{"tran_id": {"TXN-404"}}))

	require.Equal(t, http.StatusSeeOther, resp.Code)
	location, err := url.Parse(resp.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "unknown", location.Query().Get("status"))
	require.Empty(t, location.Query().Get("order"))
}

func TestIPNAlwaysAcknowledges(t *testing.T) {
	cases := []struct {
		name string
		rec  Reconciler
	}{
		{"processed", &stubReconciler{outcome: &internalpayments.Outcome{Status: enums.PaymentStatusSuccess}}},
		{"processing error", &stubReconciler{err: pkgerrors.New(pkgerrors.CodeInternal, "boom")}},
		{"unwired", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := httptest.NewRecorder()
			IPN(tc.rec, testLogger())(resp, formRequest("/api/v1/payments/ipn", url.Values{"tran_id": {"TXN-1"}, "status": {"VALID"}}))

			require.Equal(t, http.StatusOK, resp.Code)
			var envelope struct {
				Data map[string]bool `json:"data"`
			}
			require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope))
			require.True(t, envelope.Data["acknowledged"])
		})
	}
}

func TestInitiateRequiresAuthenticatedUser(t *testing.T) {
	svc := &stubSessions{}
	req := withParam(httptest.NewRequest(http.MethodPost, "/api/v1/payments/initiate/x", nil), "orderId", uuid.NewString())
	resp := httptest.NewRecorder()
	Initiate(svc, testLogger())(resp, req)
	require.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestInitiateReturnsGatewaySession(t *testing.T) {
	userID, orderID := uuid.New(), uuid.New()
	svc := &stubSessions{result: &internalpayments.InitiateResult{
		GatewayURL:    "https://sandbox.gateway.test/pay/S1",
		SessionKey:    "S1",
		TransactionID: "TXN-ABC",
	}}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/initiate/"+orderID.String(), nil)
	req = req.WithContext(middleware.WithIdentity(req.Context(), userID.String(), string(enums.ActorRoleCustomer)))
	req = withParam(req, "orderId", orderID.String())
	resp := httptest.NewRecorder()
	Initiate(svc, testLogger())(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, userID, svc.userID)
	require.Equal(t, orderID, svc.orderID)
	var envelope struct {
		Data internalpayments.InitiateResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope))
	require.Equal(t, "TXN-ABC", envelope.Data.TransactionID)
	require.Equal(t, "https://sandbox.gateway.test/pay/S1", envelope.Data.GatewayURL)
}

func TestInitiateSurfacesGatewayError(t *testing.T) {
	svc := &stubSessions{err: pkgerrors.New(pkgerrors.CodeGateway, "gateway unreachable")}
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(middleware.WithIdentity(req.Context(), uuid.NewString(), string(enums.ActorRoleCustomer)))
	req = withParam(req, "orderId", uuid.NewString())
	resp := httptest.NewRecorder()
	Initiate(svc, testLogger())(resp, req)
	require.Equal(t, http.StatusBadGateway, resp.Code)
}

func TestVerifyPassesTransactionID(t *testing.T) {
	rec := &stubReconciler{outcome: &internalpayments.Outcome{TransactionID: "TXN-9", Status: enums.PaymentStatusPending}}
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(middleware.WithIdentity(req.Context(), uuid.NewString(), string(enums.ActorRoleCustomer)))
	req = withParam(req, "transactionId", "TXN-9")
	resp := httptest.NewRecorder()
	Verify(rec, testLogger())(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, []string{"verify:TXN-9"}, rec.signals)
}
