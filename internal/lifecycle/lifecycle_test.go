package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/gigmarket-escrow/internal/model"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to model.ProjectStatus
		want     bool
	}{
		{model.ProjectStatusPending, model.ProjectStatusActive, true},
		{model.ProjectStatusActive, model.ProjectStatusCompleted, true},
		{model.ProjectStatusActive, model.ProjectStatusCancelled, true},
		{model.ProjectStatusPending, model.ProjectStatusCompleted, false},
		{model.ProjectStatusCompleted, model.ProjectStatusCancelled, false},
		{model.ProjectStatusCancelled, model.ProjectStatusActive, false},
		{model.ProjectStatusCompleted, model.ProjectStatusActive, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestComplete(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("employer completes active project", func(t *testing.T) {
		p := &model.Project{ID: 1, EmployerID: 10, WorkerID: 20, Status: model.ProjectStatusActive}

		require.NoError(t, Complete(p, 10, "done", now))
		assert.Equal(t, model.ProjectStatusCompleted, p.Status)
		assert.Equal(t, "done", p.CompletionNotes)
		require.NotNil(t, p.CompletedAt)
		assert.Equal(t, now, *p.CompletedAt)
		assert.False(t, p.PaymentReleased)
	})

	t.Run("worker cannot complete", func(t *testing.T) {
		p := &model.Project{ID: 1, EmployerID: 10, WorkerID: 20, Status: model.ProjectStatusActive}

		err := Complete(p, 20, "done", now)
		assert.ErrorIs(t, err, model.ErrUnauthorized)
		assert.Equal(t, model.ProjectStatusActive, p.Status)
	})

	t.Run("completed project cannot be completed again", func(t *testing.T) {
		p := &model.Project{ID: 1, EmployerID: 10, Status: model.ProjectStatusCompleted}

		err := Complete(p, 10, "again", now)
		assert.ErrorIs(t, err, model.ErrInvalidStateTransition)
	})
}

func TestMarkReleased(t *testing.T) {
	p := &model.Project{ID: 1, Status: model.ProjectStatusActive}
	assert.ErrorIs(t, MarkReleased(p), model.ErrInvalidStateTransition)
	assert.False(t, p.PaymentReleased)

	p.Status = model.ProjectStatusCompleted
	require.NoError(t, MarkReleased(p))
	assert.True(t, p.PaymentReleased)

	assert.ErrorIs(t, MarkReleased(p), model.ErrAlreadyReleased)
	assert.True(t, p.PaymentReleased)
}

func TestCancelAndActivate(t *testing.T) {
	now := time.Now()

	p := &model.Project{Status: model.ProjectStatusPending}
	require.NoError(t, Activate(p, now))
	assert.Equal(t, model.ProjectStatusActive, p.Status)
	require.NotNil(t, p.StartedAt)

	require.NoError(t, Cancel(p))
	assert.Equal(t, model.ProjectStatusCancelled, p.Status)
	assert.ErrorIs(t, Cancel(p), model.ErrInvalidStateTransition)
}

func TestBidTransitions(t *testing.T) {
	b := &model.Bid{ID: 5, Status: model.BidStatusPending}
	require.NoError(t, AcceptBid(b))
	assert.Equal(t, model.BidStatusAccepted, b.Status)

	assert.ErrorIs(t, RejectBid(b), model.ErrInvalidStateTransition)
	assert.ErrorIs(t, AcceptBid(b), model.ErrInvalidStateTransition)

	r := &model.Bid{ID: 6, Status: model.BidStatusPending}
	require.NoError(t, RejectBid(r))
	assert.Equal(t, model.BidStatusRejected, r.Status)
}
