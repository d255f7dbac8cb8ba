package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/pharmacy-backend/pkg/redis"
)

// CallbackGuard short-circuits exact IPN replays. A gateway verdict is the
// triple (tran_id, val_id, status); the first delivery claims it in redis and
// later copies are answered from the database without revalidation. The
// payment status check stays authoritative once the claim expires.
type CallbackGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
	now   func() time.Time
}

func NewCallbackGuard(store redis.IdempotencyStore, ttl time.Duration, scope string) (*CallbackGuard, error) {
	switch {
	case store == nil:
		return nil, errors.New("idempotency store is required")
	case ttl < 0:
		return nil, errors.New("ttl must be non-negative")
	case strings.TrimSpace(scope) == "":
		return nil, errors.New("scope is required")
	}
	return &CallbackGuard{store: store, ttl: ttl, scope: scope, now: time.Now}, nil
}

func verdictKey(p CallbackPayload) (string, error) {
	if p.TranID == "" {
		return "", errors.New("callback tran_id is required")
	}
	return p.TranID + ":" + p.ValID + ":" + strings.ToUpper(p.Status), nil
}

// Claim records the verdict and reports whether this call was first.
func (g *CallbackGuard) Claim(ctx context.Context, p CallbackPayload) (bool, error) {
	id, err := verdictKey(p)
	if err != nil {
		return false, err
	}
	first, err := g.store.SetNX(ctx, g.store.IdempotencyKey(g.scope, id), g.now().UTC().Format(time.RFC3339), g.ttl)
	if err != nil {
		return false, fmt.Errorf("claim callback %s: %w", id, err)
	}
	return first, nil
}

// Release drops a claim so a gateway retry of a failed delivery is processed.
func (g *CallbackGuard) Release(ctx context.Context, p CallbackPayload) error {
	id, err := verdictKey(p)
	if err != nil {
		return err
	}
	return g.store.Del(ctx, g.store.IdempotencyKey(g.scope, id))
}
