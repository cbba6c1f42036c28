package ledger

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/gigmarket-escrow/internal/model"
	"github.com/mmeshcher/gigmarket-escrow/internal/repository"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newEmployer(t *testing.T, repo *repository.MemoryRepository, balance string) *model.User {
	t.Helper()
	u := &model.User{Name: "acme", Role: model.RoleEmployer, EscrowBalance: d(balance)}
	require.NoError(t, repo.CreateUser(context.Background(), u))
	return u
}

func TestReserve(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		balance     string
		amount      string
		wantErr     error
		wantBalance string
	}{
		{name: "sufficient", balance: "500.00", amount: "100.00", wantBalance: "400.00"},
		{name: "exact", balance: "100.00", amount: "100.00", wantBalance: "0.00"},
		{name: "insufficient", balance: "50.00", amount: "100.00", wantErr: model.ErrInsufficientEscrow, wantBalance: "50.00"},
		{name: "zero amount", balance: "50.00", amount: "0", wantErr: ErrInvalidAmount, wantBalance: "50.00"},
		{name: "negative amount", balance: "50.00", amount: "-1", wantErr: ErrInvalidAmount, wantBalance: "50.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := repository.NewMemoryRepository()
			u := newEmployer(t, repo, tt.balance)
			l := NewEscrowLedger(repo)

			err := repo.WithinTx(ctx, func(tx repository.Tx) error {
				_, err := l.Reserve(ctx, tx, u.ID, d(tt.amount))
				return err
			})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}

			got, err := l.Balance(ctx, u.ID)
			require.NoError(t, err)
			assert.True(t, got.Equal(d(tt.wantBalance)), "balance %s", got)
		})
	}
}

func TestCredit(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	u := newEmployer(t, repo, "10.00")
	l := NewEscrowLedger(repo)

	var balance decimal.Decimal
	require.NoError(t, repo.WithinTx(ctx, func(tx repository.Tx) error {
		var err error
		balance, err = l.Credit(ctx, tx, u.ID, d("90.50"))
		return err
	}))
	assert.True(t, balance.Equal(d("100.50")))

	err := repo.WithinTx(ctx, func(tx repository.Tx) error {
		_, err := l.Credit(ctx, tx, u.ID, MaxBalance)
		return err
	})
	assert.ErrorIs(t, err, ErrBalanceOverflow)

	got, err := l.Balance(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.Equal(d("100.50")))
}

func TestNewTransactionLedgerRejectsBadRate(t *testing.T) {
	_, err := NewTransactionLedger(d("1"))
	assert.Error(t, err)

	_, err = NewTransactionLedger(d("-0.01"))
	assert.Error(t, err)

	l, err := NewTransactionLedger(decimal.Zero)
	require.NoError(t, err)
	fee, net := l.Split(d("10"))
	assert.True(t, fee.IsZero())
	assert.True(t, net.Equal(d("10")))
}

func TestSplit(t *testing.T) {
	l, err := NewTransactionLedger(DefaultFeeRate)
	require.NoError(t, err)

	tests := []struct {
		amount, fee, net string
	}{
		{"100.00", "10.00", "90.00"},
		{"500.00", "50.00", "450.00"},
		{"0.01", "0.00", "0.01"},
		{"0.05", "0.01", "0.04"},
		{"33.33", "3.33", "30.00"},
		{"99.95", "10.00", "89.95"},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			fee, net := l.Split(d(tt.amount))
			assert.True(t, fee.Equal(d(tt.fee)), "fee %s", fee)
			assert.True(t, net.Equal(d(tt.net)), "net %s", net)
			assert.True(t, fee.Add(net).Equal(d(tt.amount)))
		})
	}
}

func newProject(t *testing.T, repo *repository.MemoryRepository) *model.Project {
	t.Helper()
	ctx := context.Background()

	employer := newEmployer(t, repo, "0")
	worker := &model.User{Name: "bob", Role: model.RoleWorker}
	require.NoError(t, repo.CreateUser(ctx, worker))
	job := &model.Job{EmployerID: employer.ID, Title: "logo", Status: model.JobStatusFilled}
	require.NoError(t, repo.CreateJob(ctx, job))

	var p *model.Project
	require.NoError(t, repo.WithinTx(ctx, func(tx repository.Tx) error {
		b := &model.Bid{JobID: job.ID, WorkerID: worker.ID, Amount: d("100"), Status: model.BidStatusAccepted}
		if err := tx.CreateBid(ctx, b); err != nil {
			return err
		}
		p = &model.Project{
			BidID: b.ID, JobID: job.ID, EmployerID: employer.ID, WorkerID: worker.ID,
			AgreedAmount: d("100.00"), PlatformFee: d("10.00"), NetAmount: d("90.00"),
			Status: model.ProjectStatusCompleted,
		}
		return tx.CreateProject(ctx, p)
	}))
	return p
}

func TestRecordEscrow(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	p := newProject(t, repo)
	l, err := NewTransactionLedger(DefaultFeeRate)
	require.NoError(t, err)

	require.NoError(t, repo.WithinTx(ctx, func(tx repository.Tx) error {
		_, err := l.RecordEscrow(ctx, tx, p)
		return err
	}))

	txs, err := repo.ListTransactionsByProject(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, model.TransactionTypeEscrow, txs[0].Type)
	assert.Equal(t, model.TransactionStatusCompleted, txs[0].Status)
	assert.Equal(t, p.EmployerID, txs[0].PayerID)
	assert.True(t, txs[0].PlatformFee.Add(txs[0].NetAmount).Equal(txs[0].Amount))
	assert.NotNil(t, txs[0].ProcessedAt)
}

func TestOpenPayout(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	p := newProject(t, repo)
	l, err := NewTransactionLedger(DefaultFeeRate)
	require.NoError(t, err)

	open := func(typ model.TransactionType) (*model.Transaction, error) {
		var txn *model.Transaction
		err := repo.WithinTx(ctx, func(tx repository.Tx) error {
			var err error
			txn, err = l.OpenPayout(ctx, tx, p, typ)
			return err
		})
		return txn, err
	}

	payment, err := open(model.TransactionTypePayment)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusPending, payment.Status)
	assert.True(t, payment.NetAmount.Equal(d("90.00")))
	assert.Equal(t, p.WorkerID, payment.PayeeID)

	_, err = open(model.TransactionTypeRefund)
	assert.ErrorIs(t, err, model.ErrPayoutInProgress)

	require.NoError(t, repo.WithinTx(ctx, func(tx repository.Tx) error {
		ok, err := l.Complete(ctx, tx, payment, "tr_1")
		assert.True(t, ok)
		return err
	}))
	assert.Equal(t, model.TransactionStatusCompleted, payment.Status)
	assert.Equal(t, "tr_1", payment.GatewayRef)

	_, err = open(model.TransactionTypePayment)
	assert.ErrorIs(t, err, model.ErrAlreadyReleased)

	_, err = open(model.TransactionTypeEscrow)
	assert.ErrorIs(t, err, model.ErrInvalidStateTransition)
}

func TestRefundPayoutHasNoFee(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	p := newProject(t, repo)
	l, err := NewTransactionLedger(DefaultFeeRate)
	require.NoError(t, err)

	var refund *model.Transaction
	require.NoError(t, repo.WithinTx(ctx, func(tx repository.Tx) error {
		var err error
		refund, err = l.OpenPayout(ctx, tx, p, model.TransactionTypeRefund)
		return err
	}))

	assert.True(t, refund.PlatformFee.IsZero())
	assert.True(t, refund.NetAmount.Equal(p.AgreedAmount))
	assert.Equal(t, p.EmployerID, refund.PayeeID)
}

func TestCompleteAndFailArePendingOnly(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	p := newProject(t, repo)
	l, err := NewTransactionLedger(DefaultFeeRate)
	require.NoError(t, err)

	var txn *model.Transaction
	require.NoError(t, repo.WithinTx(ctx, func(tx repository.Tx) error {
		var err error
		txn, err = l.OpenPayout(ctx, tx, p, model.TransactionTypePayment)
		return err
	}))

	require.NoError(t, repo.WithinTx(ctx, func(tx repository.Tx) error {
		ok, err := l.Fail(ctx, tx, txn, "card declined")
		assert.True(t, ok)
		return err
	}))
	assert.Equal(t, model.TransactionStatusFailed, txn.Status)
	assert.Equal(t, "card declined", txn.FailureReason)

	require.NoError(t, repo.WithinTx(ctx, func(tx repository.Tx) error {
		ok, err := l.Complete(ctx, tx, txn, "tr_2")
		assert.False(t, ok)
		return err
	}))
	assert.Equal(t, model.TransactionStatusFailed, txn.Status)

	// stale копия в памяти: строка уже не pending
	stale := *txn
	stale.Status = model.TransactionStatusPending
	require.NoError(t, repo.WithinTx(ctx, func(tx repository.Tx) error {
		ok, err := l.Complete(ctx, tx, &stale, "tr_3")
		assert.False(t, ok)
		return err
	}))
	assert.Equal(t, model.TransactionStatusPending, stale.Status)
}
