// Package repository содержит хранилища данных: PostgreSQL и in-memory.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/gigmarket-escrow/internal/model"
)

// Tx: операции, доступные внутри единицы работы. Методы Lock* берут
// эксклюзивную блокировку строки до конца транзакции.
//
// Порядок блокировок во всех операциях: bid -> job -> project -> deposit -> transaction -> user.
type Tx interface {
	LockUser(ctx context.Context, id int64) (*model.User, error)
	SetEscrowBalance(ctx context.Context, id int64, balance decimal.Decimal) error
	AddEarnings(ctx context.Context, id int64, amount decimal.Decimal) error

	LockJob(ctx context.Context, id int64) (*model.Job, error)
	SetJobStatus(ctx context.Context, id int64, status model.JobStatus) error

	CreateBid(ctx context.Context, b *model.Bid) error
	LockBid(ctx context.Context, id int64) (*model.Bid, error)
	SetBidStatus(ctx context.Context, id int64, status model.BidStatus) error
	RejectPendingBids(ctx context.Context, jobID, exceptBidID int64) (int64, error)

	CreateProject(ctx context.Context, p *model.Project) error
	LockProject(ctx context.Context, id int64) (*model.Project, error)
	UpdateProject(ctx context.Context, p *model.Project) error
	CreateContract(ctx context.Context, c *model.Contract) error

	InsertTransaction(ctx context.Context, t *model.Transaction) error
	LockTransaction(ctx context.Context, id uuid.UUID) (*model.Transaction, error)
	ActivePayout(ctx context.Context, projectID int64) (*model.Transaction, error)
	FinalizeTransaction(ctx context.Context, t *model.Transaction) (bool, error)
	SetTransactionGatewayRef(ctx context.Context, id uuid.UUID, ref string) error

	CreateDeposit(ctx context.Context, d *model.Deposit) error
	LockDeposit(ctx context.Context, id int64) (*model.Deposit, error)
	LockDepositByIntent(ctx context.Context, intentID string) (*model.Deposit, error)
	// LockProjectDeposit возвращает непроваленное пополнение, оплачивающее проект.
	LockProjectDeposit(ctx context.Context, projectID int64) (*model.Deposit, error)
	UpdateDeposit(ctx context.Context, d *model.Deposit) error

	MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error)
}

// Store: хранилище с атомарными единицами работы и чтением вне транзакции.
type Store interface {
	// WithinTx выполняет fn как одну атомарную единицу: либо все записи
	// фиксируются, либо ни одна.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id int64) (*model.User, error)
	CreateJob(ctx context.Context, j *model.Job) error
	GetJob(ctx context.Context, id int64) (*model.Job, error)
	GetBid(ctx context.Context, id int64) (*model.Bid, error)
	ListBidsByJob(ctx context.Context, jobID int64) ([]model.Bid, error)
	GetProject(ctx context.Context, id int64) (*model.Project, error)
	GetContractByProject(ctx context.Context, projectID int64) (*model.Contract, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*model.Transaction, error)
	FindTransactionByGatewayRef(ctx context.Context, ref string) (*model.Transaction, error)
	ListTransactionsByProject(ctx context.Context, projectID int64) ([]model.Transaction, error)
	ListPendingPayouts(ctx context.Context, createdBefore time.Time, limit int) ([]model.Transaction, error)
	Close() error
}

// toCents переводит сумму в копейки. Суммы больше model.MaxAmount по модулю
// отклоняются: BIGINT переполнился бы молча.
func toCents(d decimal.Decimal) (int64, error) {
	if !model.WithinLimit(d) {
		return 0, fmt.Errorf("%w: amount %s exceeds %s", model.ErrInvalidInput, d.String(), model.MaxAmount.String())
	}
	return d.Shift(2).Round(0).IntPart(), nil
}

// centsOf переводит несколько сумм в копейки в порядке аргументов.
func centsOf(ds ...decimal.Decimal) ([]int64, error) {
	res := make([]int64, len(ds))
	for i, d := range ds {
		c, err := toCents(d)
		if err != nil {
			return nil, err
		}
		res[i] = c
	}
	return res, nil
}

func fromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}
