package worker

import (
	"context"
	"errors"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/pharmacy-backend/internal/analytics/types"
	"github.com/angelmondragon/pharmacy-backend/pkg/logger"
	"github.com/angelmondragon/pharmacy-backend/pkg/outbox"
)

const consumerName = "analytics"

// Handler processes one decoded domain event.
type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope) error
}

// Tracker claims event ids so redeliveries are skipped.
type Tracker interface {
	MarkOnce(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Release(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Receiver is satisfied by *pubsub.Subscriber.
type Receiver interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

// Service consumes domain events from Pub/Sub and hands them to the fact router.
type Service struct {
	receiver Receiver
	handler  Handler
	tracker  Tracker
	logg     *logger.Logger
}

func NewService(receiver Receiver, handler Handler, tracker Tracker, logg *logger.Logger) (*Service, error) {
	if receiver == nil {
		return nil, errors.New("analytics subscription is required")
	}
	if handler == nil {
		return nil, errors.New("analytics handler is required")
	}
	if tracker == nil {
		return nil, errors.New("event tracker is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{receiver: receiver, handler: handler, tracker: tracker, logg: logg}, nil
}

// Run receives messages until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	return s.receiver.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		if s.process(innerCtx, msg) {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// process reports whether the message should be redelivered.
func (s *Service) process(ctx context.Context, msg *gcppubsub.Message) bool {
	logCtx := s.logg.WithField(ctx, "message_id", msg.ID)

	stored, err := outbox.ParseEnvelope(msg.Data)
	if err != nil {
		s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "dropping malformed analytics message")
		return false
	}
	eventID := stored.EventID
	envelope := toEnvelope(stored)
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"event_id":       envelope.EventID,
		"event_type":     envelope.EventType,
		"aggregate_type": envelope.AggregateType,
		"aggregate_id":   envelope.AggregateID,
		"occurred_at":    envelope.OccurredAt.Format(time.RFC3339Nano),
	})

	seen, err := s.tracker.MarkOnce(logCtx, consumerName, eventID)
	if err != nil {
		s.logg.Error(logCtx, "idempotency check failed", err)
		return true
	}
	if seen {
		s.logg.Info(logCtx, "event already processed")
		return false
	}

	if err := s.handler.Handle(logCtx, envelope); err != nil {
		s.logg.Error(logCtx, "analytics handler failed", err)
		if relErr := s.tracker.Release(logCtx, consumerName, eventID); relErr != nil {
			s.logg.Error(logCtx, "failed to release event claim", relErr)
		}
		return true
	}
	return false
}

func toEnvelope(stored outbox.Envelope) types.Envelope {
	return types.Envelope{
		EventID:       stored.EventID.String(),
		EventType:     stored.EventType,
		AggregateType: stored.AggregateType,
		AggregateID:   stored.AggregateID.String(),
		OccurredAt:    stored.OccurredAt.UTC(),
		Payload:       stored.Data,
	}
}
