// Package relay publishes outbox rows to Pub/Sub. Each pass claims a batch in
// one transaction, publishes it in order and settles every row as published,
// retried or dead-lettered before committing.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmacy-backend/pkg/db"
	"github.com/angelmondragon/pharmacy-backend/pkg/db/models"
	"github.com/angelmondragon/pharmacy-backend/pkg/enums"
	"github.com/angelmondragon/pharmacy-backend/pkg/logger"
	"github.com/angelmondragon/pharmacy-backend/pkg/metrics"
	"github.com/angelmondragon/pharmacy-backend/pkg/outbox"
)

const (
	defaultBatchSize    = 50
	defaultPollInterval = 500 * time.Millisecond
	defaultMaxAttempts  = 10
	defaultMaxBackoff   = 10 * time.Second
)

type store interface {
	ClaimBatch(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID, at time.Time) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, cause error) error
	DeadLetterTx(tx *gorm.DB, row models.OutboxEvent, reason enums.OutboxDLQReason, cause error, parkedAttempts int, at time.Time) error
}

type Params struct {
	Logger    *logger.Logger
	DB        db.TxRunner
	Store     store
	Publisher Publisher
	Metrics   *metrics.OutboxMetrics
	Topic     string

	BatchSize    int
	MaxAttempts  int
	PollInterval time.Duration
	MaxBackoff   time.Duration
}

type Relay struct {
	logg        *logger.Logger
	db          db.TxRunner
	store       store
	pub         Publisher
	metrics     *metrics.OutboxMetrics
	topic       string
	batchSize   int
	maxAttempts int
	poll        time.Duration
	maxBackoff  time.Duration
	now         func() time.Time
}

var errMissingResult = errors.New("publisher returned no result for message")

func New(p Params) (*Relay, error) {
	switch {
	case p.Logger == nil:
		return nil, errors.New("logger is required")
	case p.DB == nil:
		return nil, errors.New("database is required")
	case p.Store == nil:
		return nil, errors.New("outbox store is required")
	case p.Publisher == nil:
		return nil, errors.New("publisher is required")
	}
	r := &Relay{
		logg:        p.Logger,
		db:          p.DB,
		store:       p.Store,
		pub:         p.Publisher,
		metrics:     p.Metrics,
		topic:       p.Topic,
		batchSize:   p.BatchSize,
		maxAttempts: p.MaxAttempts,
		poll:        p.PollInterval,
		maxBackoff:  p.MaxBackoff,
		now:         time.Now,
	}
	if r.batchSize <= 0 {
		r.batchSize = defaultBatchSize
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = defaultMaxAttempts
	}
	if r.poll <= 0 {
		r.poll = defaultPollInterval
	}
	if r.maxBackoff < r.poll {
		r.maxBackoff = defaultMaxBackoff
	}
	return r, nil
}

// Run drains the outbox until ctx ends. A full batch is followed immediately
// by the next one; failing passes back off exponentially up to MaxBackoff.
func (r *Relay) Run(ctx context.Context) error {
	var backoff retry.Backoff
	for {
		claimed, err := r.Drain(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		wait := r.poll
		switch {
		case err != nil:
			if backoff == nil {
				backoff = r.newBackoff()
			}
			wait, _ = backoff.Next()
			r.logg.Error(r.logg.WithField(ctx, "retry_in_ms", wait.Milliseconds()), "outbox relay pass failed", err)
		case claimed >= r.batchSize:
			backoff = nil
			continue
		default:
			backoff = nil
		}

		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (r *Relay) newBackoff() retry.Backoff {
	b := retry.NewExponential(r.poll)
	b = retry.WithJitter(r.poll/2, b)
	return retry.WithCappedDuration(r.maxBackoff, b)
}

// Drain runs one relay pass and reports how many rows it claimed.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	start := r.now()
	claimed := 0
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := r.store.ClaimBatch(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return fmt.Errorf("claim outbox batch: %w", err)
		}
		claimed = len(rows)
		if claimed == 0 {
			return nil
		}

		ready := make([]models.OutboxEvent, 0, len(rows))
		msgs := make([]Message, 0, len(rows))
		for _, row := range rows {
			env, err := outbox.DecodeEnvelope(row)
			if err != nil {
				if err := r.deadLetter(ctx, tx, row, enums.OutboxDLQReasonInvalidPayload, err); err != nil {
					return err
				}
				continue
			}
			ready = append(ready, row)
			msgs = append(msgs, toMessage(row, env))
		}
		if len(msgs) == 0 {
			return nil
		}

		errs := r.pub.PublishBatch(ctx, msgs)
		for i, row := range ready {
			pubErr := errMissingResult
			if i < len(errs) {
				pubErr = errs[i]
			}
			if err := r.settle(ctx, tx, row, pubErr); err != nil {
				return err
			}
		}
		return nil
	})
	r.metrics.ObserveBatch(claimed, r.now().Sub(start), err)
	return claimed, err
}

func (r *Relay) settle(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, pubErr error) error {
	switch {
	case pubErr == nil:
		now := r.now()
		if err := r.store.MarkPublishedTx(tx, row.ID, now); err != nil {
			return fmt.Errorf("mark published %s: %w", row.ID, err)
		}
		r.metrics.Published(now.Sub(row.CreatedAt))
		r.logg.Info(r.eventContext(ctx, row), "outbox event published")
		return nil
	case permanent(pubErr):
		return r.deadLetter(ctx, tx, row, enums.OutboxDLQReasonNonRetryable, pubErr)
	case row.AttemptCount+1 >= r.maxAttempts:
		row.AttemptCount++
		return r.deadLetter(ctx, tx, row, enums.OutboxDLQReasonMaxAttempts, fmt.Errorf("max publish attempts reached: %w", pubErr))
	}

	if err := r.store.MarkFailedTx(tx, row.ID, pubErr); err != nil {
		return fmt.Errorf("mark failed %s: %w", row.ID, err)
	}
	r.metrics.Retried()
	logCtx := r.logg.WithFields(r.eventContext(ctx, row), map[string]any{
		"attempt_count": row.AttemptCount + 1,
		"error":         pubErr.Error(),
	})
	r.logg.Warn(logCtx, "outbox publish failed, will retry")
	return nil
}

func (r *Relay) deadLetter(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, reason enums.OutboxDLQReason, cause error) error {
	if err := r.store.DeadLetterTx(tx, row, reason, cause, r.maxAttempts, r.now()); err != nil {
		return fmt.Errorf("dead-letter %s: %w", row.ID, err)
	}
	r.metrics.DeadLettered(string(reason))
	logCtx := r.logg.WithFields(r.eventContext(ctx, row), map[string]any{
		"error_reason":  reason,
		"attempt_count": row.AttemptCount,
		"error":         cause.Error(),
	})
	r.logg.Warn(logCtx, "outbox event dead-lettered")
	return nil
}

func (r *Relay) eventContext(ctx context.Context, row models.OutboxEvent) context.Context {
	return r.logg.WithFields(ctx, map[string]any{
		"event_id":       row.ID.String(),
		"event_type":     row.EventType,
		"aggregate_type": row.AggregateType,
		"aggregate_id":   row.AggregateID.String(),
		"topic":          r.topic,
	})
}

// toMessage keys ordering on the aggregate so one order's events arrive in
// the order they were written.
func toMessage(row models.OutboxEvent, env outbox.Envelope) Message {
	return Message{
		ID:          row.ID.String(),
		Data:        row.Payload,
		OrderingKey: row.AggregateID.String(),
		Attributes: map[string]string{
			"event_id":       env.EventID.String(),
			"event_type":     string(env.EventType),
			"aggregate_type": string(env.AggregateType),
			"aggregate_id":   env.AggregateID.String(),
			"occurred_at":    env.OccurredAt.Format(time.RFC3339Nano),
		},
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
