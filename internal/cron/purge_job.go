package cron

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/angelmondragon/pharmacy-backend/pkg/logger"
)

const (
	defaultPurgeBatch      = 500
	defaultPurgeMaxBatches = 20
)

// PurgeFunc deletes at most limit rows older than cutoff and returns how many it removed.
type PurgeFunc func(ctx context.Context, cutoff time.Time, limit int) (int64, error)

type PurgeJobParams struct {
	Name       string
	Logger     *logger.Logger
	Retention  time.Duration
	Purge      PurgeFunc
	BatchSize  int
	MaxBatches int
}

// NewPurgeJob builds a retention job that deletes in bounded batches so a
// large backlog never holds one long-running delete. A cycle stops early once
// a batch comes back short.
func NewPurgeJob(p PurgeJobParams) (Job, error) {
	switch {
	case strings.TrimSpace(p.Name) == "":
		return nil, errors.New("purge job: name required")
	case p.Logger == nil:
		return nil, errors.New("purge job: logger required")
	case p.Purge == nil:
		return nil, errors.New("purge job: purge func required")
	case p.Retention <= 0:
		return nil, errors.New("purge job: retention must be positive")
	}
	if p.BatchSize <= 0 {
		p.BatchSize = defaultPurgeBatch
	}
	if p.MaxBatches <= 0 {
		p.MaxBatches = defaultPurgeMaxBatches
	}
	return &purgeJob{params: p, now: time.Now}, nil
}

type purgeJob struct {
	params PurgeJobParams
	now    func() time.Time
}

func (j *purgeJob) Name() string { return j.params.Name }

func (j *purgeJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.params.Retention)
	var total int64
	batches := 0
	for batches < j.params.MaxBatches {
		n, err := j.params.Purge(ctx, cutoff, j.params.BatchSize)
		if err != nil {
			return err
		}
		batches++
		total += n
		if n < int64(j.params.BatchSize) {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	j.params.Logger.Info(j.params.Logger.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": total,
		"batches":      batches,
	}), "retention purge done")
	return nil
}
