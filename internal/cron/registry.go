package cron

import (
	"context"
	"fmt"
	"strings"
)

// Job is one maintenance task. Names label logs and metrics and must be unique.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type Registry struct {
	order  []string
	byName map[string]Job
}

// NewRegistry registers jobs in order and rejects nil or duplicate names.
func NewRegistry(jobs ...Job) (*Registry, error) {
	r := &Registry{byName: make(map[string]Job, len(jobs))}
	for _, job := range jobs {
		if err := r.Register(job); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(job Job) error {
	if job == nil {
		return fmt.Errorf("cron: nil job")
	}
	name := strings.TrimSpace(job.Name())
	if name == "" {
		return fmt.Errorf("cron: job name required")
	}
	if _, dup := r.byName[name]; dup {
		return fmt.Errorf("cron: job %q registered twice", name)
	}
	r.byName[name] = job
	r.order = append(r.order, name)
	return nil
}

// Jobs returns a fresh slice in registration order.
func (r *Registry) Jobs() []Job {
	out := make([]Job, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Lookup finds a job by name, for one-off runs.
func (r *Registry) Lookup(name string) (Job, bool) {
	job, ok := r.byName[strings.TrimSpace(name)]
	return job, ok
}
