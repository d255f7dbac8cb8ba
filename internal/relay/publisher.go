package relay

import (
	"context"
	"errors"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/pharmacy-backend/pkg/outbox"
)

// Message is one outbox row ready to publish.
type Message struct {
	ID          string
	Data        []byte
	OrderingKey string
	Attributes  map[string]string
}

// Publisher sends msgs and returns one error per message, index-aligned.
type Publisher interface {
	PublishBatch(ctx context.Context, msgs []Message) []error
}

// PubSubPublisher publishes to a single topic with message ordering on.
type PubSubPublisher struct {
	pub     *gcppubsub.Publisher
	timeout time.Duration
}

var errNoPublisher = errors.New("pubsub publisher not configured")

func NewPubSubPublisher(pub *gcppubsub.Publisher, timeout time.Duration) (*PubSubPublisher, error) {
	if pub == nil {
		return nil, errNoPublisher
	}
	pub.EnableMessageOrdering = true
	return &PubSubPublisher{pub: pub, timeout: timeout}, nil
}

// PublishBatch hands every message to the client before waiting on any result
// so the client can batch them. A failure pauses its ordering key; the key is
// resumed once the batch settles so the next relay pass can retry.
func (p *PubSubPublisher) PublishBatch(ctx context.Context, msgs []Message) []error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	results := make([]*gcppubsub.PublishResult, len(msgs))
	for i, m := range msgs {
		results[i] = p.pub.Publish(ctx, &gcppubsub.Message{
			Data:        m.Data,
			Attributes:  m.Attributes,
			OrderingKey: m.OrderingKey,
		})
	}

	errs := make([]error, len(msgs))
	paused := make(map[string]struct{})
	for i, res := range results {
		if _, err := res.Get(ctx); err != nil {
			errs[i] = err
			paused[msgs[i].OrderingKey] = struct{}{}
		}
	}
	for key := range paused {
		p.pub.ResumePublish(key)
	}
	return errs
}

// Stop flushes outstanding messages.
func (p *PubSubPublisher) Stop() {
	p.pub.Stop()
}

// permanent reports whether err will fail the same way on every retry.
func permanent(err error) bool {
	if outbox.IsPermanent(err) {
		return true
	}
	return status.Code(err) == codes.InvalidArgument
}
