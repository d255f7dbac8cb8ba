package processed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pharmacy-backend/pkg/redis"
)

// Tracker records which domain events a consumer has already handled.
// Keys look like rx:idempotency:evt:<consumer>:<event_id>.
type Tracker struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

func NewTracker(store redis.IdempotencyStore, ttl time.Duration) (*Tracker, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	return &Tracker{store: store, ttl: ttl}, nil
}

// MarkOnce reports true when the event was seen before; otherwise it claims the event.
func (t *Tracker) MarkOnce(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	key, err := t.key(consumer, eventID)
	if err != nil {
		return false, err
	}
	claimed, err := t.store.SetNX(ctx, key, "1", t.ttl)
	if err != nil {
		return false, err
	}
	return !claimed, nil
}

// Release drops the claim so a redelivery is processed again.
func (t *Tracker) Release(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := t.key(consumer, eventID)
	if err != nil {
		return err
	}
	return t.store.Del(ctx, key)
}

func (t *Tracker) key(consumer string, eventID uuid.UUID) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	return t.store.IdempotencyKey(fmt.Sprintf("evt:%s", consumer), eventID.String()), nil
}
