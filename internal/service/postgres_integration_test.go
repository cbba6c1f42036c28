//go:build integration

package service

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/gigmarket-escrow/internal/gateway"
	"github.com/mmeshcher/gigmarket-escrow/internal/ledger"
	"github.com/mmeshcher/gigmarket-escrow/internal/model"
	"github.com/mmeshcher/gigmarket-escrow/internal/repository"
)

// Запуск: TEST_DATABASE_URI=postgres://... go test -tags integration ./internal/service/
func newPostgresService(t *testing.T) (*Service, *repository.PostgresRepository) {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URI")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URI is not set")
	}

	repo, err := repository.NewPostgresRepository(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	journal, err := ledger.NewTransactionLedger(ledger.DefaultFeeRate)
	require.NoError(t, err)

	return NewService(repo, newFakeGateway(), journal, nil,
		WithVerifier(gateway.NewVerifier(testSecret, 0)),
	), repo
}

func createPostgresUser(t *testing.T, repo *repository.PostgresRepository, role model.Role, balance string) *model.User {
	t.Helper()
	u := &model.User{Name: string(role) + "-" + uuid.NewString(), Role: role, EscrowBalance: d(balance)}
	require.NoError(t, repo.CreateUser(context.Background(), u))
	return u
}

func acceptConcurrently(ctx context.Context, svc *Service, employerID int64, bids []int64) []error {
	var wg sync.WaitGroup
	errs := make([]error, len(bids))
	for i, id := range bids {
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			_, errs[i] = svc.AcceptBid(ctx, id, employerID)
		}(i, id)
	}
	wg.Wait()
	return errs
}

func TestPostgres_ConcurrentAcceptsNeverOverdraw(t *testing.T) {
	svc, repo := newPostgresService(t)
	ctx := context.Background()
	employer := createPostgresUser(t, repo, model.RoleEmployer, "250.00")
	worker := createPostgresUser(t, repo, model.RoleWorker, "0")

	var bids []int64
	for i := 0; i < 5; i++ {
		j, err := svc.CreateJob(ctx, employer.ID, "Landing page", "", d("100"), d("1000"))
		require.NoError(t, err)
		b, err := svc.SubmitBid(ctx, worker.ID, j.ID, d("100.00"), "")
		require.NoError(t, err)
		bids = append(bids, b.ID)
	}

	var ok int
	for _, err := range acceptConcurrently(ctx, svc, employer.ID, bids) {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, model.ErrInsufficientEscrow):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 2, ok)

	b, err := svc.GetBalance(ctx, employer.ID)
	require.NoError(t, err)
	assert.True(t, b.EscrowBalance.Equal(d("50.00")), "balance %s", b.EscrowBalance)
}

func TestPostgres_ConcurrentAcceptsOnOneJob(t *testing.T) {
	svc, repo := newPostgresService(t)
	ctx := context.Background()
	employer := createPostgresUser(t, repo, model.RoleEmployer, "1000.00")

	j, err := svc.CreateJob(ctx, employer.ID, "Logo", "", d("100"), d("1000"))
	require.NoError(t, err)

	var bids []int64
	for i := 0; i < 4; i++ {
		w := createPostgresUser(t, repo, model.RoleWorker, "0")
		b, err := svc.SubmitBid(ctx, w.ID, j.ID, d("200.00"), "")
		require.NoError(t, err)
		bids = append(bids, b.ID)
	}

	var ok int
	for _, err := range acceptConcurrently(ctx, svc, employer.ID, bids) {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, model.ErrInvalidStateTransition):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)

	b, err := svc.GetBalance(ctx, employer.ID)
	require.NoError(t, err)
	assert.True(t, b.EscrowBalance.Equal(d("800.00")), "balance %s", b.EscrowBalance)
}

func TestPostgres_ProjectIntentCapture(t *testing.T) {
	svc, repo := newPostgresService(t)
	ctx := context.Background()
	employer := createPostgresUser(t, repo, model.RoleEmployer, "1000.00")
	worker := createPostgresUser(t, repo, model.RoleWorker, "0")

	j, err := svc.CreateJob(ctx, employer.ID, "API", "", d("100"), d("1000"))
	require.NoError(t, err)
	bid, err := svc.SubmitBid(ctx, worker.ID, j.ID, d("300.00"), "")
	require.NoError(t, err)
	p, err := svc.AcceptBid(ctx, bid.ID, employer.ID)
	require.NoError(t, err)

	intent, err := svc.CreatePaymentIntent(ctx, p.ID, employer.ID)
	require.NoError(t, err)

	payload := []byte(`{"id":"evt_` + uuid.NewString() + `","type":"payment_intent.succeeded","payment_intent_id":"` + intent.ID + `"}`)
	require.NoError(t, svc.HandleWebhook(ctx, payload, gateway.Sign(testSecret, payload, svc.now())))

	b, err := svc.GetBalance(ctx, employer.ID)
	require.NoError(t, err)
	assert.True(t, b.EscrowBalance.Equal(d("1000.00")), "balance %s", b.EscrowBalance)
}
