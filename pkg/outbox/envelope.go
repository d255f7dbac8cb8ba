package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pharmacy-backend/pkg/db/models"
	"github.com/angelmondragon/pharmacy-backend/pkg/enums"
)

const EnvelopeVersion = 1

// Actor identifies who caused the event.
type Actor struct {
	UserID uuid.UUID `json:"userId"`
	Role   string    `json:"role,omitempty"`
}

// Envelope is stored in outbox_events.payload and published as the message
// body. EventID equals the outbox row id, so consumers dedupe on it.
type Envelope struct {
	Version       int                       `json:"version"`
	EventID       uuid.UUID                 `json:"eventId"`
	EventType     enums.OutboxEventType     `json:"eventType"`
	AggregateType enums.OutboxAggregateType `json:"aggregateType"`
	AggregateID   uuid.UUID                 `json:"aggregateId"`
	OccurredAt    time.Time                 `json:"occurredAt"`
	Actor         *Actor                    `json:"actor,omitempty"`
	Data          json.RawMessage           `json:"data"`
}

var (
	// ErrPermanent marks failures that retrying cannot fix.
	ErrPermanent = errors.New("outbox: permanent failure")
	// ErrInvalidEnvelope is returned for payloads that cannot be published as is.
	ErrInvalidEnvelope = errors.New("outbox: invalid envelope")
)

// Permanent wraps err so IsPermanent reports true.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent) || errors.Is(err, ErrInvalidEnvelope)
}

// ParseEnvelope decodes a message body and checks it is self-consistent.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}
	switch {
	case env.Version != EnvelopeVersion:
		return Envelope{}, fmt.Errorf("%w: unsupported version %d", ErrInvalidEnvelope, env.Version)
	case env.EventID == uuid.Nil:
		return Envelope{}, fmt.Errorf("%w: event id missing", ErrInvalidEnvelope)
	case !env.EventType.IsValid():
		return Envelope{}, fmt.Errorf("%w: unknown event type %q", ErrInvalidEnvelope, env.EventType)
	case !env.AggregateType.IsValid():
		return Envelope{}, fmt.Errorf("%w: unknown aggregate type %q", ErrInvalidEnvelope, env.AggregateType)
	case env.AggregateID == uuid.Nil:
		return Envelope{}, fmt.Errorf("%w: aggregate id missing", ErrInvalidEnvelope)
	case len(env.Data) == 0 || string(env.Data) == "null":
		return Envelope{}, fmt.Errorf("%w: data missing", ErrInvalidEnvelope)
	}
	return env, nil
}

// DecodeEnvelope parses an outbox row and checks the payload agrees with the
// row's own columns.
func DecodeEnvelope(row models.OutboxEvent) (Envelope, error) {
	env, err := ParseEnvelope(row.Payload)
	if err != nil {
		return Envelope{}, err
	}
	if env.EventID != row.ID {
		return Envelope{}, fmt.Errorf("%w: event id %s does not match row %s", ErrInvalidEnvelope, env.EventID, row.ID)
	}
	if env.EventType != row.EventType || env.AggregateType != row.AggregateType || env.AggregateID != row.AggregateID {
		return Envelope{}, fmt.Errorf("%w: routing fields disagree with row %s", ErrInvalidEnvelope, row.ID)
	}
	return env, nil
}
