package payments

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/pharmacy-backend/api/controllers"
	"github.com/angelmondragon/pharmacy-backend/api/responses"
	internalorders "github.com/angelmondragon/pharmacy-backend/internal/orders"
	internalpayments "github.com/angelmondragon/pharmacy-backend/internal/payments"
	"github.com/angelmondragon/pharmacy-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/pharmacy-backend/pkg/errors"
	"github.com/angelmondragon/pharmacy-backend/pkg/logger"
)

const maxCallbackBody = 64 << 10

// SessionService opens and reads gateway sessions.
type SessionService interface {
	InitiatePayment(ctx context.Context, userID, orderID uuid.UUID) (*internalpayments.InitiateResult, error)
	GetPaymentForOrder(ctx context.Context, caller internalorders.Caller, orderID uuid.UUID) (*models.Payment, error)
}

// Reconciler applies gateway callbacks.
type Reconciler interface {
	HandleSuccess(ctx context.Context, p internalpayments.CallbackPayload) (*internalpayments.Outcome, error)
	HandleFail(ctx context.Context, p internalpayments.CallbackPayload) (*internalpayments.Outcome, error)
	HandleCancel(ctx context.Context, p internalpayments.CallbackPayload) (*internalpayments.Outcome, error)
	HandleIPN(ctx context.Context, p internalpayments.CallbackPayload) (*internalpayments.Outcome, error)
	VerifyTransaction(ctx context.Context, caller internalorders.Caller, tranID string) (*internalpayments.Outcome, error)
}

type callbackHandler func(ctx context.Context, p internalpayments.CallbackPayload) (*internalpayments.Outcome, error)

func Initiate(svc SessionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		userID, err := controllers.UserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := controllers.URLParamUUID(r, "orderId", "order id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithOrderID(ctx, orderID.String())
		}
		result, err := svc.InitiatePayment(ctx, userID, orderID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func ForOrder(svc SessionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		caller, err := controllers.Caller(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := controllers.URLParamUUID(r, "orderId", "order id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		payment, err := svc.GetPaymentForOrder(r.Context(), caller, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalpayments.ToDTO(payment))
	}
}

// Verify re-checks a transaction with the gateway on the owner's request.
func Verify(rec Reconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if rec == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		caller, err := controllers.Caller(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		tranID := strings.TrimSpace(chi.URLParam(r, "transactionId"))
		if tranID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "transaction id is required"))
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithTransactionID(ctx, tranID)
		}
		outcome, err := rec.VerifyTransaction(ctx, caller, tranID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, outcome.DTO())
	}
}

// Success handles the browser redirect after a completed checkout.
func Success(rec Reconciler, frontendURL string, logg *logger.Logger) http.HandlerFunc {
	return browserCallback("success", handlerOf(rec, func(r Reconciler) callbackHandler { return r.HandleSuccess }), frontendURL, logg)
}

func Fail(rec Reconciler, frontendURL string, logg *logger.Logger) http.HandlerFunc {
	return browserCallback("fail", handlerOf(rec, func(r Reconciler) callbackHandler { return r.HandleFail }), frontendURL, logg)
}

func Cancel(rec Reconciler, frontendURL string, logg *logger.Logger) http.HandlerFunc {
	return browserCallback("cancel", handlerOf(rec, func(r Reconciler) callbackHandler { return r.HandleCancel }), frontendURL, logg)
}

// IPN always acknowledges so the gateway stops retrying; failures are logged
// and audited by the reconciler.
func IPN(rec Reconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		payload, err := parseCallback(w, r)
		if err != nil {
			warn(ctx, logg, "payment.ipn.unreadable", err)
			responses.WriteSuccess(w, map[string]bool{"acknowledged": true})
			return
		}
		if logg != nil {
			ctx = logg.WithTransactionID(ctx, payload.TranID)
		}
		if rec == nil {
			warn(ctx, logg, "payment.ipn.unwired", pkgerrors.New(pkgerrors.CodeInternal, "reconciler unavailable"))
		} else if _, err := rec.HandleIPN(ctx, payload); err != nil {
			warn(ctx, logg, "payment.ipn.failed", err)
		}
		responses.WriteSuccess(w, map[string]bool{"acknowledged": true})
	}
}

func browserCallback(signal string, handle callbackHandler, frontendURL string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		payload, err := parseCallback(w, r)
		if err != nil {
			warn(ctx, logg, "payment.callback.unreadable", err)
			http.Redirect(w, r, resultURL(frontendURL, signal, "error", ""), http.StatusSeeOther)
			return
		}
		if logg != nil {
			ctx = logg.WithTransactionID(ctx, payload.TranID)
		}
		if handle == nil {
			warn(ctx, logg, "payment.callback.unwired", pkgerrors.New(pkgerrors.CodeInternal, "reconciler unavailable"))
			http.Redirect(w, r, resultURL(frontendURL, signal, "error", ""), http.StatusSeeOther)
			return
		}

		outcome, err := handle(ctx, payload)
		if err != nil {
			warn(ctx, logg, "payment.callback.failed", err)
			status := "error"
			if pkgerrors.HasCode(err, pkgerrors.CodeUnknownTransaction) {
				status = "unknown"
			}
			http.Redirect(w, r, resultURL(frontendURL, signal, status, ""), http.StatusSeeOther)
			return
		}
		http.Redirect(w, r, resultURL(frontendURL, signal, string(outcome.Status), outcome.OrderID.String()), http.StatusSeeOther)
	}
}

func handlerOf(rec Reconciler, pick func(Reconciler) callbackHandler) callbackHandler {
	if rec == nil {
		return nil
	}
	return pick(rec)
}

func parseCallback(w http.ResponseWriter, r *http.Request) (internalpayments.CallbackPayload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxCallbackBody)
	if err := r.ParseForm(); err != nil {
		return internalpayments.CallbackPayload{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid callback form")
	}
	return internalpayments.PayloadFromForm(r.PostForm), nil
}

// resultURL builds the frontend page the browser lands on after checkout.
func resultURL(frontendURL, signal, status, orderID string) string {
	q := url.Values{}
	q.Set("signal", signal)
	q.Set("status", status)
	if orderID != "" && orderID != uuid.Nil.String() {
		q.Set("order", orderID)
	}
	return strings.TrimRight(frontendURL, "/") + "/payment/result?" + q.Encode()
}

func warn(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if logg == nil {
		return
	}
	logg.Warn(logg.WithField(ctx, "error", err.Error()), msg)
}
