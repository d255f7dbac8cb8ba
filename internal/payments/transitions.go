package payments

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/pharmacy-backend/internal/notifications"
	"github.com/angelmondragon/pharmacy-backend/pkg/db/models"
	"github.com/angelmondragon/pharmacy-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pharmacy-backend/pkg/errors"
	"github.com/angelmondragon/pharmacy-backend/pkg/logger"
	"github.com/angelmondragon/pharmacy-backend/pkg/outbox"
	"github.com/angelmondragon/pharmacy-backend/pkg/outbox/payloads"
)

// Transitioner is the only writer of payments.status. Every move is a
// conditional update on the status the caller observed, so the first
// terminal writer wins and later writers see zero affected rows.
type Transitioner struct {
	repo     *Repository
	outbox   outboxPublisher
	notifier notifier
	logg     *logger.Logger
	now      func() time.Time
}

func NewTransitioner(repo *Repository, publisher outboxPublisher, notifier notifier, logg *logger.Logger) (*Transitioner, error) {
	if repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	return &Transitioner{
		repo:     repo,
		outbox:   publisher,
		notifier: notifier,
		logg:     logg,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// change describes one payment status move and the fields it stamps.
type change struct {
	to        enums.PaymentStatus
	reason    string
	validated *validatedFields
}

type validatedFields struct {
	validationID      string
	bankTransactionID string
	cardType          string
}

// apply moves payment to c.to inside tx. It reports false without writing
// anything when another writer moved the payment first.
func (t *Transitioner) apply(ctx context.Context, tx *gorm.DB, payment *models.Payment, c change) (bool, error) {
	from := payment.Status
	if !from.CanTransition(c.to) {
		return false, nil
	}
	now := t.now()
	columns := map[string]any{"updated_at": now}
	switch c.to {
	case enums.PaymentStatusSuccess:
		columns["paid_at"] = now
		if v := c.validated; v != nil {
			columns["validation_id"] = nullable(v.validationID)
			columns["bank_transaction_id"] = nullable(v.bankTransactionID)
			columns["card_type"] = nullable(v.cardType)
		}
	case enums.PaymentStatusFailed:
		columns["failed_at"] = now
		columns["failure_reason"] = nullable(c.reason)
	case enums.PaymentStatusCancelled:
		columns["cancelled_at"] = now
		columns["failure_reason"] = nullable(c.reason)
	case enums.PaymentStatusRefunded:
		columns["refunded_at"] = now
	}

	affected, err := t.repo.WithTx(tx).UpdateStatus(ctx, payment.ID, from, c.to, columns)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment status")
	}
	if affected != 1 {
		return false, nil
	}
	applyChange(payment, c, now)

	if eventType, ok := paymentEventTypes[c.to]; ok {
		if err := t.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     eventType,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.ID,
			OccurredAt:    now,
			Data: payloads.PaymentEvent{
				PaymentID:     payment.ID,
				OrderID:       payment.OrderID,
				TransactionID: deref(payment.TransactionID),
				Status:        c.to,
				AmountCents:   payment.AmountCents,
				Reason:        c.reason,
			},
		}); err != nil {
			return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit payment event")
		}
	}

	if t.logg != nil {
		logCtx := t.logg.WithOrderID(ctx, payment.OrderID.String())
		logCtx = t.logg.WithTransactionID(logCtx, deref(payment.TransactionID))
		t.logg.Info(t.logg.WithFields(logCtx, map[string]any{"from": from, "to": c.to}), "payment status changed")
	}
	return true, nil
}

var paymentEventTypes = map[enums.PaymentStatus]enums.OutboxEventType{
	enums.PaymentStatusSuccess:   enums.EventPaymentSucceeded,
	enums.PaymentStatusFailed:    enums.EventPaymentFailed,
	enums.PaymentStatusCancelled: enums.EventPaymentCancelled,
}

// CancelForOrder settles the payment of an order being cancelled in tx. A
// pending payment is cancelled; a captured one is refunded. Terminal
// payments are left alone.
func (t *Transitioner) CancelForOrder(ctx context.Context, tx *gorm.DB, order *models.Order, reason string) error {
	repo := t.repo.WithTx(tx)
	current, err := repo.FindByOrderID(ctx, order.ID)
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
			return nil
		}
		return err
	}
	payment, err := repo.Lock(ctx, current.ID)
	if err != nil {
		return err
	}

	switch payment.Status {
	case enums.PaymentStatusPending:
		if reason == "" {
			reason = "order cancelled"
		}
		applied, err := t.apply(ctx, tx, payment, change{to: enums.PaymentStatusCancelled, reason: reason})
		if err != nil {
			return err
		}
		if !applied {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "payment status changed concurrently; reload and retry")
		}
	case enums.PaymentStatusSuccess:
		applied, err := t.apply(ctx, tx, payment, change{to: enums.PaymentStatusRefunded})
		if err != nil {
			return err
		}
		if !applied {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "payment status changed concurrently; reload and retry")
		}
		if _, err := t.recordRefund(ctx, tx, payment, order.OrderNumber, "order cancelled after payment"); err != nil {
			return err
		}
	}
	order.Payment = payment
	return nil
}

// recordRefund writes the refund audit row, the refund request event and the
// customer notification, at most once per payment.
func (t *Transitioner) recordRefund(ctx context.Context, tx *gorm.DB, payment *models.Payment, orderNumber, reason string) (bool, error) {
	repo := t.repo.WithTx(tx)
	done, err := repo.HasRefundEvent(ctx, payment.ID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check refund history")
	}
	if done {
		return false, nil
	}

	tranID := deref(payment.TransactionID)
	if err := repo.InsertEvent(ctx, &models.PaymentEvent{
		PaymentID:     &payment.ID,
		TransactionID: tranID,
		Signal:        enums.PaymentSignalRefund,
		Outcome:       enums.PaymentOutcomeApplied,
		Detail:        nullable(reason),
	}); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record refund")
	}
	if err := t.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentRefundRequested,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		OccurredAt:    t.now(),
		Data: payloads.PaymentRefundRequestedEvent{
			PaymentID:     payment.ID,
			OrderID:       payment.OrderID,
			TransactionID: tranID,
			AmountCents:   payment.AmountCents,
			Reason:        reason,
		},
	}); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit refund event")
	}
	if err := t.notifier.Notify(ctx, tx, notifications.Message{
		UserID:  payment.UserID,
		Kind:    enums.NotificationKindRefund,
		Title:   "Refund initiated",
		Message: fmt.Sprintf("A refund for order %s has been requested and will reach your account soon.", orderNumber),
		Link:    orderLink(payment.OrderID),
	}); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "notify refund")
	}

	if t.logg != nil {
		logCtx := t.logg.WithOrderID(ctx, payment.OrderID.String())
		logCtx = t.logg.WithTransactionID(logCtx, tranID)
		t.logg.Warn(t.logg.WithField(logCtx, "reason", reason), "refund requested")
	}
	return true, nil
}

func applyChange(payment *models.Payment, c change, at time.Time) {
	payment.Status = c.to
	payment.UpdatedAt = at
	switch c.to {
	case enums.PaymentStatusSuccess:
		payment.PaidAt = &at
		if v := c.validated; v != nil {
			payment.ValidationID = nullable(v.validationID)
			payment.BankTransactionID = nullable(v.bankTransactionID)
			payment.CardType = nullable(v.cardType)
		}
	case enums.PaymentStatusFailed:
		payment.FailedAt = &at
		payment.FailureReason = nullable(c.reason)
	case enums.PaymentStatusCancelled:
		payment.CancelledAt = &at
		payment.FailureReason = nullable(c.reason)
	case enums.PaymentStatusRefunded:
		payment.RefundedAt = &at
	}
}

func nullable(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
