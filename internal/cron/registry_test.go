package cron

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

func TestRegistryKeepsOrderAndCopies(t *testing.T) {
	a, b := &stubJob{name: "order-expiry"}, &stubJob{name: "payment-reconcile"}
	registry, err := NewRegistry(a, b)
	require.NoError(t, err)

	jobs := registry.Jobs()
	require.Equal(t, []Job{a, b}, jobs)
	jobs[0] = nil
	require.NotNil(t, registry.Jobs()[0])

	got, ok := registry.Lookup(" payment-reconcile ")
	require.True(t, ok)
	require.Same(t, b, got)
	_, ok = registry.Lookup("missing")
	require.False(t, ok)
}

func TestRegistryRejectsBadJobs(t *testing.T) {
	_, err := NewRegistry(&stubJob{name: "a"}, &stubJob{name: "a"})
	require.ErrorContains(t, err, "registered twice")

	_, err = NewRegistry(nil)
	require.Error(t, err)

	_, err = NewRegistry(&stubJob{name: "  "})
	require.Error(t, err)
}
