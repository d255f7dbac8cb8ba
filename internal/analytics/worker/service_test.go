package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/pharmacy-backend/internal/analytics/types"
	"github.com/angelmondragon/pharmacy-backend/pkg/enums"
	"github.com/angelmondragon/pharmacy-backend/pkg/logger"
	"github.com/angelmondragon/pharmacy-backend/pkg/outbox"
	"github.com/angelmondragon/pharmacy-backend/pkg/outbox/processed"
	"github.com/angelmondragon/pharmacy-backend/pkg/redis"
)

type stubHandler struct {
	errs  []error
	calls []types.Envelope
}

func (h *stubHandler) Handle(_ context.Context, env types.Envelope) error {
	h.calls = append(h.calls, env)
	if len(h.errs) >= len(h.calls) {
		return h.errs[len(h.calls)-1]
	}
	return nil
}

type noopReceiver struct{}

func (noopReceiver) Receive(context.Context, func(context.Context, *gcppubsub.Message)) error {
	return nil
}

func newTestService(t *testing.T, handler Handler) *Service {
	t.Helper()
	srv := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = raw.Close() })
	tracker, err := processed.NewTracker(redis.NewFromClient(raw), time.Hour)
	require.NoError(t, err)

	svc, err := NewService(noopReceiver{}, handler, tracker, logger.New(logger.Options{ServiceName: "analytics-test", Output: io.Discard}))
	require.NoError(t, err)
	return svc
}

func domainMessage(t *testing.T, eventID string, eventType enums.OutboxEventType) *gcppubsub.Message {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"version":       outbox.EnvelopeVersion,
		"eventId":       eventID,
		"eventType":     eventType,
		"aggregateType": enums.AggregateOrder,
		"aggregateId":   uuid.NewString(),
		"occurredAt":    time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		"data":          json.RawMessage(`{"order_id":"` + uuid.NewString() + `"}`),
	})
	require.NoError(t, err)
	return &gcppubsub.Message{ID: "msg-1", Data: data}
}

func withoutField(t *testing.T, msg *gcppubsub.Message, field string) *gcppubsub.Message {
	t.Helper()
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(msg.Data, &raw))
	delete(raw, field)
	data, err := json.Marshal(raw)
	require.NoError(t, err)
	return &gcppubsub.Message{ID: msg.ID, Data: data}
}

func TestProcessHandlesEventOnce(t *testing.T) {
	handler := &stubHandler{}
	svc := newTestService(t, handler)
	msg := domainMessage(t, uuid.NewString(), enums.EventOrderCreated)

	require.False(t, svc.process(context.Background(), msg))
	require.False(t, svc.process(context.Background(), msg))

	require.Len(t, handler.calls, 1)
	env := handler.calls[0]
	require.Equal(t, enums.EventOrderCreated, env.EventType)
	require.Equal(t, enums.AggregateOrder, env.AggregateType)
	require.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), env.OccurredAt)
	require.Contains(t, string(env.Payload), "order_id")
}

func TestProcessNacksAndReleasesOnHandlerError(t *testing.T) {
	handler := &stubHandler{errs: []error{errors.New("bigquery unavailable")}}
	svc := newTestService(t, handler)
	msg := domainMessage(t, uuid.NewString(), enums.EventPaymentSucceeded)

	require.True(t, svc.process(context.Background(), msg), "first attempt should be redelivered")
	require.False(t, svc.process(context.Background(), msg), "redelivery is handled again")
	require.Len(t, handler.calls, 2)
}

func TestProcessDropsMalformedMessages(t *testing.T) {
	handler := &stubHandler{}
	svc := newTestService(t, handler)

	cases := map[string]*gcppubsub.Message{
		"bad json":          {ID: "m1", Data: []byte("{")},
		"unknown type":      domainMessage(t, uuid.NewString(), "shipment_created"),
		"bad event id":      domainMessage(t, "not-a-uuid", enums.EventOrderCreated),
		"missing aggregate": withoutField(t, domainMessage(t, uuid.NewString(), enums.EventOrderCreated), "aggregateId"),
		"missing data":      withoutField(t, domainMessage(t, uuid.NewString(), enums.EventOrderCreated), "data"),
	}
	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			require.False(t, svc.process(context.Background(), msg))
		})
	}
	require.Empty(t, handler.calls)
}

func TestNewServiceValidatesDependencies(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "analytics-test", Output: io.Discard})
	_, err := NewService(nil, &stubHandler{}, nil, logg)
	require.Error(t, err)
	_, err = NewService(noopReceiver{}, nil, nil, logg)
	require.Error(t, err)
}
