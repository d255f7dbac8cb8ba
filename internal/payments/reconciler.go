package payments

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmacy-backend/internal/notifications"
	"github.com/angelmondragon/pharmacy-backend/internal/orders"
	"github.com/angelmondragon/pharmacy-backend/pkg/db/models"
	"github.com/angelmondragon/pharmacy-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pharmacy-backend/pkg/errors"
	"github.com/angelmondragon/pharmacy-backend/pkg/logger"
	"github.com/angelmondragon/pharmacy-backend/pkg/metrics"
	"github.com/angelmondragon/pharmacy-backend/pkg/sslcommerz"
)

// CallbackPayload is the form the gateway posts on redirects and IPN.
type CallbackPayload struct {
	TranID     string
	ValID      string
	BankTranID string
	CardType   string
	Status     string
	Amount     string
	Currency   string
	Raw        url.Values
}

// PayloadFromForm reads the gateway's form field names.
func PayloadFromForm(form url.Values) CallbackPayload {
	return CallbackPayload{
		TranID:     strings.TrimSpace(form.Get("tran_id")),
		ValID:      strings.TrimSpace(form.Get("val_id")),
		BankTranID: strings.TrimSpace(form.Get("bank_tran_id")),
		CardType:   strings.TrimSpace(form.Get("card_type")),
		Status:     strings.ToUpper(strings.TrimSpace(form.Get("status"))),
		Amount:     strings.TrimSpace(form.Get("amount")),
		Currency:   strings.TrimSpace(form.Get("currency")),
		Raw:        form,
	}
}

// Outcome is the reconciler's decision for one signal.
type Outcome struct {
	PaymentID       uuid.UUID
	OrderID         uuid.UUID
	TransactionID   string
	Status          enums.PaymentStatus
	Result          enums.PaymentEventOutcome
	RefundRequested bool
}

// ReconcilerDeps wires the callback reconciler.
type ReconcilerDeps struct {
	Repo        *Repository
	Tx          txRunner
	Gateway     Gateway
	Orders      OrderTransitioner
	Transitions *Transitioner
	Guard       callbackGuard
	Metrics     *metrics.PaymentMetrics
	Logger      *logger.Logger
}

// Reconciler applies gateway callbacks to local payment and order state.
// Callbacks may arrive in any order and any number of times; each one either
// applies exactly once or is recorded as a duplicate.
type Reconciler struct {
	repo        *Repository
	tx          txRunner
	gateway     Gateway
	orders      OrderTransitioner
	transitions *Transitioner
	guard       callbackGuard
	metrics     *metrics.PaymentMetrics
	logg        *logger.Logger
}

func NewReconciler(deps ReconcilerDeps) (*Reconciler, error) {
	switch {
	case deps.Repo == nil:
		return nil, fmt.Errorf("payments repository required")
	case deps.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case deps.Gateway == nil:
		return nil, fmt.Errorf("payment gateway required")
	case deps.Orders == nil:
		return nil, fmt.Errorf("order transitioner required")
	case deps.Transitions == nil:
		return nil, fmt.Errorf("payment transitioner required")
	}
	return &Reconciler{
		repo:        deps.Repo,
		tx:          deps.Tx,
		gateway:     deps.Gateway,
		orders:      deps.Orders,
		transitions: deps.Transitions,
		guard:       deps.Guard,
		metrics:     deps.Metrics,
		logg:        deps.Logger,
	}, nil
}

func (r *Reconciler) HandleSuccess(ctx context.Context, p CallbackPayload) (*Outcome, error) {
	return r.success(ctx, enums.PaymentSignalSuccess, p)
}

func (r *Reconciler) HandleFail(ctx context.Context, p CallbackPayload) (*Outcome, error) {
	return r.settle(ctx, enums.PaymentSignalFail, p, enums.PaymentStatusFailed, failReason(p, "payment failed at gateway"))
}

func (r *Reconciler) HandleCancel(ctx context.Context, p CallbackPayload) (*Outcome, error) {
	return r.settle(ctx, enums.PaymentSignalCancel, p, enums.PaymentStatusCancelled, "payment cancelled by customer")
}

// HandleIPN processes the server-to-server notification. Signed payloads
// with a bad signature are rejected; exact replays are short-circuited by
// the callback guard.
func (r *Reconciler) HandleIPN(ctx context.Context, p CallbackPayload) (*Outcome, error) {
	if p.TranID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tran_id is required")
	}
	if ok, present := r.gateway.VerifySignature(p.Raw); present && !ok {
		return r.reject(ctx, enums.PaymentSignalIPN, p, "signature mismatch")
	}

	if r.guard != nil {
		first, err := r.guard.Claim(ctx, p)
		switch {
		case err != nil:
			r.warn(ctx, p.TranID, "ipn guard unavailable", err)
		case !first:
			return r.replay(ctx, p)
		}
	}

	out, err := r.dispatchIPN(ctx, p)
	if err != nil && r.guard != nil {
		if relErr := r.guard.Release(ctx, p); relErr != nil {
			r.warn(ctx, p.TranID, "release ipn guard", relErr)
		}
	}
	return out, err
}

func (r *Reconciler) dispatchIPN(ctx context.Context, p CallbackPayload) (*Outcome, error) {
	switch strings.ToUpper(p.Status) {
	case sslcommerz.StatusValid, sslcommerz.StatusValidated:
		return r.success(ctx, enums.PaymentSignalIPN, p)
	case sslcommerz.StatusFailed:
		return r.settle(ctx, enums.PaymentSignalIPN, p, enums.PaymentStatusFailed, failReason(p, "payment failed at gateway"))
	case sslcommerz.StatusCancelled:
		return r.settle(ctx, enums.PaymentSignalIPN, p, enums.PaymentStatusCancelled, "payment cancelled by customer")
	default:
		payment, err := r.lookup(ctx, enums.PaymentSignalIPN, p)
		if err != nil {
			return nil, err
		}
		return r.record(ctx, enums.PaymentSignalIPN, p, payment, enums.PaymentOutcomeIgnored, "unhandled status "+p.Status)
	}
}

// replay records an IPN the guard has already seen.
func (r *Reconciler) replay(ctx context.Context, p CallbackPayload) (*Outcome, error) {
	payment, err := r.lookup(ctx, enums.PaymentSignalIPN, p)
	if err != nil {
		return nil, err
	}
	return r.record(ctx, enums.PaymentSignalIPN, p, payment, enums.PaymentOutcomeDuplicate, "replayed notification")
}

// VerifyTransaction re-checks a transaction with the gateway on behalf of
// its owner and applies a capture the callbacks missed.
func (r *Reconciler) VerifyTransaction(ctx context.Context, caller orders.Caller, tranID string) (*Outcome, error) {
	tranID = strings.TrimSpace(tranID)
	if tranID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id is required")
	}
	payment, err := r.repo.FindByTransactionID(ctx, tranID)
	if err != nil {
		return nil, err
	}
	if caller.Role != enums.ActorRoleAdmin && payment.UserID != caller.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "payment does not belong to caller")
	}
	return r.verify(ctx, payment, tranID)
}

// ReconcileStale verifies pending payments whose session was opened before
// cutoff and returns how many were settled.
func (r *Reconciler) ReconcileStale(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	ids, err := r.repo.ListStalePending(ctx, cutoff, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stale payments")
	}
	settled := 0
	var errs error
	for _, tranID := range ids {
		payment, err := r.repo.FindByTransactionID(ctx, tranID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("load payment %s: %w", tranID, err))
			continue
		}
		out, err := r.verify(ctx, payment, tranID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("verify payment %s: %w", tranID, err))
			continue
		}
		if out.Result == enums.PaymentOutcomeApplied {
			settled++
		}
	}
	return settled, errs
}

func (r *Reconciler) verify(ctx context.Context, payment *models.Payment, tranID string) (*Outcome, error) {
	p := CallbackPayload{TranID: tranID}
	if payment.Status != enums.PaymentStatusPending {
		return r.record(ctx, enums.PaymentSignalVerify, p, payment, enums.PaymentOutcomeIgnored, "payment already "+string(payment.Status))
	}
	records, err := r.gateway.QueryTransaction(ctx, tranID)
	if err != nil {
		r.recordError(ctx, enums.PaymentSignalVerify, p, payment, err)
		return nil, err
	}
	for _, rec := range records {
		if rec.Valid() && rec.ValidationID != "" {
			p.ValID = rec.ValidationID
			p.Status = rec.Status
			p.BankTranID = rec.BankTransactionID
			p.CardType = rec.CardType
			return r.success(ctx, enums.PaymentSignalVerify, p)
		}
	}
	return r.record(ctx, enums.PaymentSignalVerify, p, payment, enums.PaymentOutcomeIgnored, "gateway reports no captured payment")
}

// success handles a signal claiming the payment was captured.
func (r *Reconciler) success(ctx context.Context, signal enums.PaymentSignal, p CallbackPayload) (*Outcome, error) {
	payment, err := r.lookup(ctx, signal, p)
	if err != nil {
		return nil, err
	}
	if payment.Status == enums.PaymentStatusSuccess || payment.Status == enums.PaymentStatusRefunded {
		return r.record(ctx, signal, p, payment, enums.PaymentOutcomeDuplicate, "payment already "+string(payment.Status))
	}
	if strings.EqualFold(p.Status, sslcommerz.StatusFailed) || p.ValID == "" {
		return r.settle(ctx, signal, p, enums.PaymentStatusFailed, "gateway did not report a valid payment")
	}

	validation, err := r.gateway.Validate(ctx, p.ValID)
	if err != nil {
		r.recordError(ctx, signal, p, payment, err)
		return nil, err
	}
	if reason := mismatch(validation, p.TranID, payment); reason != "" {
		return r.settle(ctx, signal, p, enums.PaymentStatusFailed, reason)
	}

	var out *Outcome
	err = r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		out, err = r.applySuccess(ctx, tx, signal, p, payment, validation)
		return err
	})
	if err != nil {
		r.recordError(ctx, signal, p, payment, err)
		return nil, err
	}
	r.observe(ctx, signal, out)
	return out, nil
}

// applySuccess runs in tx with the order locked before the payment.
func (r *Reconciler) applySuccess(ctx context.Context, tx *gorm.DB, signal enums.PaymentSignal, p CallbackPayload, seen *models.Payment, v *sslcommerz.Validation) (*Outcome, error) {
	repo := r.repo.WithTx(tx)
	order, err := repo.LockOrder(ctx, seen.OrderID)
	if err != nil {
		return nil, err
	}
	payment, err := repo.Lock(ctx, seen.ID)
	if err != nil {
		return nil, err
	}

	switch payment.Status {
	case enums.PaymentStatusSuccess, enums.PaymentStatusRefunded:
		return r.audit(ctx, tx, signal, p, payment, enums.PaymentOutcomeDuplicate, "payment already "+string(payment.Status))
	case enums.PaymentStatusCancelled, enums.PaymentStatusFailed:
		// Captured after the payment was closed locally: the status stays
		// terminal and the money goes back.
		requested, err := r.transitions.recordRefund(ctx, tx, payment, order.OrderNumber,
			fmt.Sprintf("payment captured after it was %s", payment.Status))
		if err != nil {
			return nil, err
		}
		result := enums.PaymentOutcomeDuplicate
		if requested {
			result = enums.PaymentOutcomeIgnored
		}
		out, err := r.audit(ctx, tx, signal, p, payment, result, "late capture on "+string(payment.Status)+" payment")
		if err != nil {
			return nil, err
		}
		out.RefundRequested = requested
		return out, nil
	}

	applied, err := r.transitions.apply(ctx, tx, payment, change{
		to: enums.PaymentStatusSuccess,
		validated: &validatedFields{
			validationID:      v.ValidationID,
			bankTransactionID: firstNonEmpty(v.BankTransactionID, p.BankTranID),
			cardType:          firstNonEmpty(v.CardType, p.CardType),
		},
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment status changed concurrently")
	}

	refund := false
	switch order.Status {
	case enums.OrderStatusPending:
		if err := r.orders.Transition(ctx, tx, order, orders.TransitionRequest{
			To:    enums.OrderStatusConfirmed,
			Actor: orders.Actor{Kind: orders.ActorPayment},
		}); err != nil {
			return nil, err
		}
	case enums.OrderStatusCancelled:
		// The order closed without settling its payment; refund the capture.
		if _, err := r.transitions.apply(ctx, tx, payment, change{to: enums.PaymentStatusRefunded}); err != nil {
			return nil, err
		}
		if refund, err = r.transitions.recordRefund(ctx, tx, payment, order.OrderNumber, "payment captured for a cancelled order"); err != nil {
			return nil, err
		}
	}

	out, err := r.audit(ctx, tx, signal, p, payment, enums.PaymentOutcomeApplied, "")
	if err != nil {
		return nil, err
	}
	out.RefundRequested = refund
	return out, nil
}

// settle moves a pending payment to failed or cancelled. Terminal payments
// are left as they are and the signal is recorded as a duplicate. A fail or
// cancel for a transaction id replaced by a later initiation is ignored so
// the live session can still capture.
func (r *Reconciler) settle(ctx context.Context, signal enums.PaymentSignal, p CallbackPayload, to enums.PaymentStatus, reason string) (*Outcome, error) {
	payment, err := r.lookup(ctx, signal, p)
	if err != nil {
		return nil, err
	}

	var out *Outcome
	err = r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := r.repo.WithTx(tx)
		order, err := repo.LockOrder(ctx, payment.OrderID)
		if err != nil {
			return err
		}
		current, err := repo.Lock(ctx, payment.ID)
		if err != nil {
			return err
		}
		if current.Status != enums.PaymentStatusPending {
			out, err = r.audit(ctx, tx, signal, p, current, enums.PaymentOutcomeDuplicate, "payment already "+string(current.Status))
			return err
		}
		if superseded(current, p.TranID) {
			out, err = r.audit(ctx, tx, signal, p, current, enums.PaymentOutcomeIgnored, "superseded transaction")
			return err
		}
		applied, err := r.transitions.apply(ctx, tx, current, change{to: to, reason: reason})
		if err != nil {
			return err
		}
		if !applied {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "payment status changed concurrently")
		}
		if err := r.transitions.notifier.Notify(ctx, tx, paymentNotice(order, to)); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "notify payment status")
		}
		out, err = r.audit(ctx, tx, signal, p, current, enums.PaymentOutcomeApplied, reason)
		return err
	})
	if err != nil {
		r.recordError(ctx, signal, p, payment, err)
		return nil, err
	}
	r.observe(ctx, signal, out)
	return out, nil
}

func superseded(payment *models.Payment, tranID string) bool {
	return payment.TransactionID != nil && *payment.TransactionID != tranID
}

func paymentNotice(order *models.Order, to enums.PaymentStatus) notifications.Message {
	msg := notifications.Message{
		UserID: order.UserID,
		Kind:   enums.NotificationKindPayment,
		Link:   orderLink(order.ID),
		Title:  "Payment failed",
		Message: fmt.Sprintf("Payment for order %s did not go through. You can try again from the order page.",
			order.OrderNumber),
	}
	if to == enums.PaymentStatusCancelled {
		msg.Title = "Payment cancelled"
		msg.Message = fmt.Sprintf("Payment for order %s was cancelled.", order.OrderNumber)
	}
	return msg
}

// lookup resolves the payment for a signal; unknown transactions are
// recorded and reported.
func (r *Reconciler) lookup(ctx context.Context, signal enums.PaymentSignal, p CallbackPayload) (*models.Payment, error) {
	if p.TranID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tran_id is required")
	}
	payment, err := r.repo.FindByTransactionID(ctx, p.TranID)
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeUnknownTransaction) {
			if _, recErr := r.record(ctx, signal, p, nil, enums.PaymentOutcomeRejected, "unknown transaction"); recErr != nil {
				r.warn(ctx, p.TranID, "record unknown transaction", recErr)
			}
		}
		return nil, err
	}
	return payment, nil
}

func (r *Reconciler) reject(ctx context.Context, signal enums.PaymentSignal, p CallbackPayload, reason string) (*Outcome, error) {
	payment, err := r.repo.FindByTransactionID(ctx, p.TranID)
	if err != nil && !pkgerrors.HasCode(err, pkgerrors.CodeUnknownTransaction) {
		return nil, err
	}
	return r.record(ctx, signal, p, payment, enums.PaymentOutcomeRejected, reason)
}

// record writes an audit row outside any transaction.
func (r *Reconciler) record(ctx context.Context, signal enums.PaymentSignal, p CallbackPayload, payment *models.Payment, result enums.PaymentEventOutcome, detail string) (*Outcome, error) {
	var out *Outcome
	err := r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		out, err = r.audit(ctx, tx, signal, p, payment, result, detail)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.observe(ctx, signal, out)
	return out, nil
}

func (r *Reconciler) audit(ctx context.Context, tx *gorm.DB, signal enums.PaymentSignal, p CallbackPayload, payment *models.Payment, result enums.PaymentEventOutcome, detail string) (*Outcome, error) {
	event := &models.PaymentEvent{
		TransactionID: p.TranID,
		Signal:        signal,
		Outcome:       result,
		Detail:        nullable(detail),
		Payload:       flatten(p.Raw),
	}
	out := &Outcome{TransactionID: p.TranID, Result: result}
	if payment != nil {
		event.PaymentID = &payment.ID
		out.PaymentID = payment.ID
		out.OrderID = payment.OrderID
		out.Status = payment.Status
	}
	if err := r.repo.WithTx(tx).InsertEvent(ctx, event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment event")
	}
	return out, nil
}

func (r *Reconciler) recordError(ctx context.Context, signal enums.PaymentSignal, p CallbackPayload, payment *models.Payment, cause error) {
	if r.logg != nil {
		r.logg.Error(r.logg.WithTransactionID(ctx, p.TranID), "payment callback failed", cause)
	}
	if _, err := r.record(ctx, signal, p, payment, enums.PaymentOutcomeError, cause.Error()); err != nil {
		r.warn(ctx, p.TranID, "record callback error", err)
	}
}

func (r *Reconciler) observe(ctx context.Context, signal enums.PaymentSignal, out *Outcome) {
	if out == nil {
		return
	}
	r.metrics.IncReconcile(string(signal), string(out.Result))
	if r.logg != nil {
		logCtx := r.logg.WithTransactionID(ctx, out.TransactionID)
		r.logg.Info(r.logg.WithFields(logCtx, map[string]any{
			"signal":  signal,
			"outcome": out.Result,
			"status":  out.Status,
		}), "payment signal reconciled")
	}
}

func (r *Reconciler) warn(ctx context.Context, tranID, msg string, err error) {
	if r.logg == nil {
		return
	}
	logCtx := r.logg.WithTransactionID(ctx, tranID)
	r.logg.Warn(r.logg.WithField(logCtx, "error", err.Error()), msg)
}

// mismatch explains why a validation does not confirm payment, or returns "".
func mismatch(v *sslcommerz.Validation, tranID string, payment *models.Payment) string {
	switch {
	case !v.Valid():
		return "gateway validation status " + v.Status
	case v.TransactionID != "" && v.TransactionID != tranID:
		return "validated transaction id does not match"
	case v.AmountCents != payment.AmountCents:
		return fmt.Sprintf("validated amount %s does not match %s",
			sslcommerz.FormatAmount(v.AmountCents), sslcommerz.FormatAmount(payment.AmountCents))
	case v.Currency != "" && payment.Currency != "" && !strings.EqualFold(v.Currency, payment.Currency):
		return "validated currency does not match"
	}
	return ""
}

func failReason(p CallbackPayload, def string) string {
	if reason := strings.TrimSpace(p.Raw.Get("error")); reason != "" {
		return reason
	}
	return def
}

func flatten(values url.Values) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for key := range values {
		if key == "store_passwd" {
			continue
		}
		out[key] = values.Get(key)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
