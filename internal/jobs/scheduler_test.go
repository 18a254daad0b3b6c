package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingReconciler struct {
	calls atomic.Int32
	err   error
}

func (r *countingReconciler) ReconcileIdle(ctx context.Context) error {
	r.calls.Add(1)
	return r.err
}

func TestNewScheduler(t *testing.T) {
	_, err := NewScheduler("@every 30s", &countingReconciler{})
	assert.NoError(t, err)

	_, err = NewScheduler("*/5 * * * *", &countingReconciler{})
	assert.NoError(t, err)

	_, err = NewScheduler("every now and then", &countingReconciler{})
	assert.Error(t, err)
}

func TestSchedulerRuns(t *testing.T) {
	rec := &countingReconciler{err: errors.New("backend down")}
	s, err := NewScheduler("@every 1s", rec)
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()), "second start is a no-op")
	defer s.Stop()

	require.Eventually(t, func() bool { return rec.calls.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
}

func TestReconcileSkippedAfterCancel(t *testing.T) {
	rec := &countingReconciler{}
	s, err := NewScheduler("@every 1h", rec)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	s.reconcile(ctx)
	cancel()
	s.reconcile(ctx)

	assert.Equal(t, int32(1), rec.calls.Load())
	s.Stop()
}
