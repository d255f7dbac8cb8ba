package relay

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmacy-backend/pkg/db"
	"github.com/angelmondragon/pharmacy-backend/pkg/db/dbtest"
	"github.com/angelmondragon/pharmacy-backend/pkg/db/models"
	"github.com/angelmondragon/pharmacy-backend/pkg/enums"
	"github.com/angelmondragon/pharmacy-backend/pkg/logger"
	"github.com/angelmondragon/pharmacy-backend/pkg/outbox"
	"github.com/angelmondragon/pharmacy-backend/pkg/outbox/payloads"
)

// scriptedPublisher fails messages whose event type has a queued error.
type scriptedPublisher struct {
	mu      sync.Mutex
	batches [][]Message
	fail    map[string][]error
	onBatch func()
}

func (p *scriptedPublisher) PublishBatch(_ context.Context, msgs []Message) []error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, msgs)
	errs := make([]error, len(msgs))
	for i, m := range msgs {
		queue := p.fail[m.Attributes["event_type"]]
		if len(queue) > 0 {
			errs[i] = queue[0]
			p.fail[m.Attributes["event_type"]] = queue[1:]
		}
	}
	if p.onBatch != nil {
		p.onBatch()
	}
	return errs
}

type fixture struct {
	conn  *gorm.DB
	repo  *outbox.Repository
	emit  *outbox.Service
	pub   *scriptedPublisher
	relay *Relay
}

func newFixture(t *testing.T, maxAttempts int) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	repo := outbox.NewRepository(conn)
	pub := &scriptedPublisher{fail: map[string][]error{}}
	r, err := New(Params{
		Logger:       logger.New(logger.Options{ServiceName: "relay-test", Output: io.Discard}),
		DB:           db.Wrap(conn),
		Store:        repo,
		Publisher:    pub,
		Topic:        "pharmacy-domain-events",
		BatchSize:    10,
		MaxAttempts:  maxAttempts,
		PollInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)
	return &fixture{conn: conn, repo: repo, emit: outbox.NewService(repo, nil), pub: pub, relay: r}
}

func (f *fixture) queue(t *testing.T, aggregateID uuid.UUID, types ...enums.OutboxEventType) {
	t.Helper()
	for _, et := range types {
		require.NoError(t, f.conn.Transaction(func(tx *gorm.DB) error {
			return f.emit.Emit(context.Background(), tx, outbox.DomainEvent{
				EventType:     et,
				AggregateType: enums.AggregatePayment,
				AggregateID:   aggregateID,
				Data:          payloads.PaymentEvent{PaymentID: aggregateID},
			})
		}))
	}
}

func (f *fixture) row(t *testing.T, eventType enums.OutboxEventType) models.OutboxEvent {
	t.Helper()
	var row models.OutboxEvent
	require.NoError(t, f.conn.Where("event_type = ?", eventType).Take(&row).Error)
	return row
}

func (f *fixture) deadLetters(t *testing.T) []models.OutboxDLQ {
	t.Helper()
	rows, err := f.repo.DeadLetters(context.Background(), 10)
	require.NoError(t, err)
	return rows
}

func TestDrainPublishesInOrderWithRoutingAttributes(t *testing.T) {
	f := newFixture(t, 3)
	paymentID := uuid.New()
	f.queue(t, paymentID, enums.EventPaymentSucceeded, enums.EventPaymentRefundRequested)

	claimed, err := f.relay.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, claimed)

	require.Len(t, f.pub.batches, 1)
	batch := f.pub.batches[0]
	require.Len(t, batch, 2)
	assert.Equal(t, string(enums.EventPaymentSucceeded), batch[0].Attributes["event_type"])
	assert.Equal(t, string(enums.EventPaymentRefundRequested), batch[1].Attributes["event_type"])
	for _, m := range batch {
		assert.Equal(t, paymentID.String(), m.OrderingKey)
		assert.Equal(t, m.ID, m.Attributes["event_id"])
		env, err := outbox.ParseEnvelope(m.Data)
		require.NoError(t, err)
		assert.Equal(t, m.ID, env.EventID.String())
	}

	assert.NotNil(t, f.row(t, enums.EventPaymentSucceeded).PublishedAt)
	assert.NotNil(t, f.row(t, enums.EventPaymentRefundRequested).PublishedAt)

	claimed, err = f.relay.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, claimed, "published rows are not claimed again")
}

func TestDrainRetriesTransientFailures(t *testing.T) {
	f := newFixture(t, 3)
	f.queue(t, uuid.New(), enums.EventPaymentFailed, enums.EventPaymentCancelled)
	f.pub.fail[string(enums.EventPaymentFailed)] = []error{status.Error(codes.Unavailable, "try later")}

	_, err := f.relay.Drain(context.Background())
	require.NoError(t, err)

	failed := f.row(t, enums.EventPaymentFailed)
	assert.Nil(t, failed.PublishedAt)
	assert.Equal(t, 1, failed.AttemptCount)
	require.NotNil(t, failed.LastError)
	assert.Contains(t, *failed.LastError, "try later")
	assert.NotNil(t, f.row(t, enums.EventPaymentCancelled).PublishedAt, "one failure does not block the batch")

	claimed, err := f.relay.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, claimed)
	assert.NotNil(t, f.row(t, enums.EventPaymentFailed).PublishedAt)
	assert.Empty(t, f.deadLetters(t))
}

func TestDrainDeadLettersAfterMaxAttempts(t *testing.T) {
	f := newFixture(t, 2)
	f.queue(t, uuid.New(), enums.EventPaymentSucceeded)
	boom := errors.New("deadline exceeded")
	f.pub.fail[string(enums.EventPaymentSucceeded)] = []error{boom, boom}

	for i := 0; i < 2; i++ {
		_, err := f.relay.Drain(context.Background())
		require.NoError(t, err)
	}

	letters := f.deadLetters(t)
	require.Len(t, letters, 1)
	assert.Equal(t, enums.OutboxDLQReasonMaxAttempts, letters[0].ErrorReason)
	assert.Equal(t, 2, letters[0].AttemptCount)

	claimed, err := f.relay.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, claimed, "parked rows are not claimed")
}

func TestDrainDeadLettersPermanentFailures(t *testing.T) {
	f := newFixture(t, 5)
	f.queue(t, uuid.New(), enums.EventPaymentSucceeded)
	f.pub.fail[string(enums.EventPaymentSucceeded)] = []error{status.Error(codes.InvalidArgument, "attribute too long")}

	_, err := f.relay.Drain(context.Background())
	require.NoError(t, err)

	letters := f.deadLetters(t)
	require.Len(t, letters, 1)
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, letters[0].ErrorReason)
	assert.Equal(t, 5, f.row(t, enums.EventPaymentSucceeded).AttemptCount)
}

func TestDrainDeadLettersInvalidPayloadWithoutPublishing(t *testing.T) {
	f := newFixture(t, 3)
	f.queue(t, uuid.New(), enums.EventPaymentFailed)
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).
		Where("event_type = ?", enums.EventPaymentFailed).
		Update("payload", []byte(`{"version":1}`)).Error)

	claimed, err := f.relay.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, claimed)
	assert.Empty(t, f.pub.batches)

	letters := f.deadLetters(t)
	require.Len(t, letters, 1)
	assert.Equal(t, enums.OutboxDLQReasonInvalidPayload, letters[0].ErrorReason)
}

func TestDrainTreatsMissingResultsAsRetryable(t *testing.T) {
	f := newFixture(t, 3)
	f.queue(t, uuid.New(), enums.EventPaymentSucceeded)
	f.relay.pub = publisherFunc(func(context.Context, []Message) []error { return nil })

	_, err := f.relay.Drain(context.Background())
	require.NoError(t, err)
	row := f.row(t, enums.EventPaymentSucceeded)
	assert.Nil(t, row.PublishedAt)
	assert.Equal(t, 1, row.AttemptCount)
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, 3)
	f.queue(t, uuid.New(), enums.EventPaymentSucceeded)
	ctx, cancel := context.WithCancel(context.Background())
	f.pub.onBatch = cancel

	err := f.relay.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, f.pub.batches, 1)
}

func TestNewValidatesParams(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "relay-test", Output: io.Discard})
	_, err := New(Params{Logger: logg})
	require.Error(t, err)

	r, err := New(Params{Logger: logg, DB: db.Wrap(nil), Store: outbox.NewRepository(nil), Publisher: &scriptedPublisher{}})
	require.NoError(t, err)
	assert.Equal(t, defaultBatchSize, r.batchSize)
	assert.Equal(t, defaultMaxAttempts, r.maxAttempts)
	assert.Equal(t, defaultPollInterval, r.poll)
	assert.Equal(t, defaultMaxBackoff, r.maxBackoff)
}

func TestPermanentClassification(t *testing.T) {
	assert.True(t, permanent(status.Error(codes.InvalidArgument, "bad")))
	assert.True(t, permanent(outbox.Permanent(errors.New("no topic"))))
	assert.False(t, permanent(status.Error(codes.Unavailable, "later")))
	assert.False(t, permanent(context.DeadlineExceeded))
}

type publisherFunc func(context.Context, []Message) []error

func (f publisherFunc) PublishBatch(ctx context.Context, msgs []Message) []error { return f(ctx, msgs) }
