package writer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/sethvargo/go-retry"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/pharmacy-backend/internal/analytics/types"
	"github.com/angelmondragon/pharmacy-backend/pkg/bigquery"
)

// RetryPolicy bounds how hard a single fact insert is retried.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaximumBackoff time.Duration
}

// DefaultRetryPolicy is used for any zero field of a caller's policy.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:    3,
	InitialBackoff: 250 * time.Millisecond,
	MaximumBackoff: 2 * time.Second,
}

// Inserter is satisfied by *bigquery.Client.
type Inserter interface {
	Put(ctx context.Context, table bigquery.Table, rows []bigquery.Row) error
}

// BigQueryWriter streams order and payment facts, keyed by event id.
type BigQueryWriter struct {
	client Inserter
	policy RetryPolicy
}

func New(client Inserter, policy RetryPolicy) (*BigQueryWriter, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = DefaultRetryPolicy.InitialBackoff
	}
	if policy.MaximumBackoff < policy.InitialBackoff {
		policy.MaximumBackoff = max(policy.InitialBackoff, DefaultRetryPolicy.MaximumBackoff)
	}
	return &BigQueryWriter{client: client, policy: policy}, nil
}

func (w *BigQueryWriter) InsertOrderFact(ctx context.Context, row types.OrderFactRow) error {
	return w.put(ctx, bigquery.OrderFacts, bigquery.Row{InsertID: row.EventID, Value: &row})
}

func (w *BigQueryWriter) InsertPaymentFact(ctx context.Context, row types.PaymentFactRow) error {
	return w.put(ctx, bigquery.PaymentFacts, bigquery.Row{InsertID: row.EventID, Value: &row})
}

func (w *BigQueryWriter) put(ctx context.Context, table bigquery.Table, row bigquery.Row) error {
	backoff := retry.NewExponential(w.policy.InitialBackoff)
	backoff = retry.WithCappedDuration(w.policy.MaximumBackoff, backoff)
	backoff = retry.WithMaxRetries(uint64(w.policy.MaxAttempts-1), backoff)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := w.client.Put(ctx, table, []bigquery.Row{row})
		if isRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("insert %s row %s: %w", table, row.InsertID, err)
	}
	return nil
}

// isRetryable reports whether every failure inside err is transient. A
// partial insert with any schema or payload error is not retried.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var rowErrs cbigquery.PutMultiError
	if errors.As(err, &rowErrs) {
		return len(rowErrs) > 0 && allRetryable(len(rowErrs), func(i int) error { return rowErrs[i].Errors })
	}
	var multi cbigquery.MultiError
	if errors.As(err, &multi) {
		return len(multi) > 0 && allRetryable(len(multi), func(i int) error { return multi[i] })
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusRequestTimeout,
			http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Aborted, codes.DeadlineExceeded, codes.Internal,
			codes.ResourceExhausted, codes.Unavailable:
			return true
		}
	}
	return false
}

func allRetryable(n int, at func(int) error) bool {
	for i := 0; i < n; i++ {
		if !isRetryable(at(i)) {
			return false
		}
	}
	return true
}

// EncodeJSON renders a payload for a BigQuery JSON column. Nil and empty raw
// messages become NULL.
func EncodeJSON(payload any) (cbigquery.NullJSON, error) {
	if raw, ok := payload.(json.RawMessage); ok {
		if len(raw) == 0 {
			return cbigquery.NullJSON{}, nil
		}
		return cbigquery.NullJSON{Valid: true, JSONVal: string(raw)}, nil
	}
	if payload == nil {
		return cbigquery.NullJSON{}, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return cbigquery.NullJSON{}, fmt.Errorf("marshal json: %w", err)
	}
	return cbigquery.NullJSON{Valid: true, JSONVal: string(b)}, nil
}
