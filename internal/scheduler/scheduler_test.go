package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingReconciler struct {
	calls atomic.Int32
	err   error
}

func (r *countingReconciler) ReconcilePending(ctx context.Context) (int, error) {
	r.calls.Add(1)
	return 1, r.err
}

func TestNew_InvalidSpec(t *testing.T) {
	_, err := New("every now and then", &countingReconciler{}, zap.NewNop())
	assert.Error(t, err)
}

func TestRun_ReconcilesUntilCancelled(t *testing.T) {
	r := &countingReconciler{}
	s, err := New("@every 1s", r, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	assert.Eventually(t, func() bool { return r.calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestReconcile_ErrorIsLogged(t *testing.T) {
	r := &countingReconciler{err: errors.New("db down")}
	s, err := New("@every 1h", r, nil)
	require.NoError(t, err)

	s.reconcile()

	assert.Equal(t, int32(1), r.calls.Load())
}
