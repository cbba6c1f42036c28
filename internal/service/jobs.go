package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/gigmarket-escrow/internal/model"
	"github.com/mmeshcher/gigmarket-escrow/internal/repository"
)

// CreateJob публикует заказ от имени работодателя.
func (s *Service) CreateJob(ctx context.Context, employerID int64, title, description string, budgetMin, budgetMax decimal.Decimal) (*model.Job, error) {
	if _, err := s.requireRole(ctx, employerID, model.RoleEmployer); err != nil {
		return nil, err
	}

	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", model.ErrInvalidInput)
	}
	if budgetMin.IsNegative() || budgetMax.LessThan(budgetMin) || !model.WithinLimit(budgetMax) {
		return nil, fmt.Errorf("%w: budget range %s..%s", model.ErrInvalidInput, budgetMin, budgetMax)
	}

	j := &model.Job{
		EmployerID:  employerID,
		Title:       title,
		Description: description,
		BudgetMin:   budgetMin,
		BudgetMax:   budgetMax,
		Status:      model.JobStatusOpen,
	}
	if err := s.store.CreateJob(ctx, j); err != nil {
		return nil, err
	}

	s.logger.Info("job created", zap.Int64("job_id", j.ID), zap.Int64("employer_id", employerID))
	return j, nil
}

// GetJob возвращает заказ.
func (s *Service) GetJob(ctx context.Context, jobID int64) (*model.Job, error) {
	return s.store.GetJob(ctx, jobID)
}

// ListJobBids возвращает ставки по заказу. Доступно только владельцу заказа.
func (s *Service) ListJobBids(ctx context.Context, jobID, callerID int64) ([]model.Bid, error) {
	j, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.EmployerID != callerID {
		return nil, fmt.Errorf("%w: job %d belongs to another employer", model.ErrUnauthorized, jobID)
	}
	return s.store.ListBidsByJob(ctx, jobID)
}

// SubmitBid сохраняет ставку исполнителя на открытый заказ.
// Повторная ставка того же исполнителя отклоняется с model.ErrDuplicateBid.
func (s *Service) SubmitBid(ctx context.Context, workerID, jobID int64, amount decimal.Decimal, proposal string) (*model.Bid, error) {
	amount = amount.Round(2)
	if !amount.IsPositive() || !model.WithinLimit(amount) {
		return nil, fmt.Errorf("%w: bid amount must be positive and at most %s", model.ErrInvalidInput, model.MaxAmount)
	}
	if _, err := s.requireRole(ctx, workerID, model.RoleWorker); err != nil {
		return nil, err
	}

	b := &model.Bid{
		JobID:    jobID,
		WorkerID: workerID,
		Amount:   amount,
		Proposal: proposal,
		Status:   model.BidStatusPending,
	}

	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		j, err := tx.LockJob(ctx, jobID)
		if err != nil {
			return err
		}
		if j.Status != model.JobStatusOpen {
			return fmt.Errorf("%w: job %d is %s", model.ErrInvalidStateTransition, jobID, j.Status)
		}
		return tx.CreateBid(ctx, b)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("bid submitted",
		zap.Int64("bid_id", b.ID),
		zap.Int64("job_id", jobID),
		zap.Int64("worker_id", workerID),
		zap.String("amount", b.Amount.StringFixed(2)),
	)
	return b, nil
}
