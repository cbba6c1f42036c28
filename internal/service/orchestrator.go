package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/gigmarket-escrow/internal/fraud"
	"github.com/mmeshcher/gigmarket-escrow/internal/lifecycle"
	"github.com/mmeshcher/gigmarket-escrow/internal/model"
	"github.com/mmeshcher/gigmarket-escrow/internal/repository"
)

// AcceptBid принимает ставку и превращает её в оплаченный проект.
//
// В одной единице работы: резервируется сумма ставки на escrow-балансе
// работодателя, создаются Project, Contract и escrow-транзакция, ставка
// становится accepted, заказ — filled. При любой ошибке ничего не меняется
// и ставка остаётся pending.
func (s *Service) AcceptBid(ctx context.Context, bidID, callerID int64) (*model.Project, error) {
	var (
		project  *model.Project
		rejected int64
	)

	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		bid, err := tx.LockBid(ctx, bidID)
		if err != nil {
			return err
		}

		job, err := tx.LockJob(ctx, bid.JobID)
		if err != nil {
			return err
		}

		if job.EmployerID != callerID {
			return fmt.Errorf("%w: job %d belongs to another employer", model.ErrUnauthorized, job.ID)
		}
		if err := lifecycle.AcceptBid(bid); err != nil {
			return err
		}
		if job.Status != model.JobStatusOpen {
			return fmt.Errorf("%w: job %d is %s", model.ErrInvalidStateTransition, job.ID, job.Status)
		}

		if err := s.fraud.Allow(ctx, fraud.Check{UserID: callerID, Action: fraud.ActionAcceptBid, Amount: bid.Amount}); err != nil {
			return err
		}

		fee, net := s.journal.Split(bid.Amount)

		if _, err := s.escrow.Reserve(ctx, tx, job.EmployerID, bid.Amount); err != nil {
			return err
		}

		p := &model.Project{
			BidID:        bid.ID,
			JobID:        job.ID,
			EmployerID:   job.EmployerID,
			WorkerID:     bid.WorkerID,
			AgreedAmount: bid.Amount,
			PlatformFee:  fee,
			NetAmount:    net,
			Status:       model.ProjectStatusPending,
		}
		if err := lifecycle.Activate(p, s.now()); err != nil {
			return err
		}
		if err := tx.CreateProject(ctx, p); err != nil {
			return err
		}

		if err := tx.CreateContract(ctx, &model.Contract{
			ProjectID:  p.ID,
			JobID:      job.ID,
			EmployerID: job.EmployerID,
			WorkerID:   bid.WorkerID,
		}); err != nil {
			return err
		}

		if _, err := s.journal.RecordEscrow(ctx, tx, p); err != nil {
			return err
		}

		if err := tx.SetBidStatus(ctx, bid.ID, bid.Status); err != nil {
			return err
		}
		if err := tx.SetJobStatus(ctx, job.ID, model.JobStatusFilled); err != nil {
			return err
		}

		if s.autoRejectCompetingBids {
			if rejected, err = tx.RejectPendingBids(ctx, job.ID, bid.ID); err != nil {
				return err
			}
		}

		project = p
		return nil
	})
	if err != nil {
		if errors.Is(err, fraud.ErrDenied) {
			s.logger.Warn("bid acceptance denied by fraud gate", zap.Int64("bid_id", bidID), zap.Int64("caller_id", callerID))
		}
		return nil, err
	}

	s.logger.Info("bid accepted",
		zap.Int64("bid_id", bidID),
		zap.Int64("project_id", project.ID),
		zap.Int64("employer_id", project.EmployerID),
		zap.Int64("worker_id", project.WorkerID),
		zap.String("amount", project.AgreedAmount.StringFixed(2)),
		zap.String("platform_fee", project.PlatformFee.StringFixed(2)),
		zap.Int64("auto_rejected", rejected),
	)
	return project, nil
}

// RejectBid отклоняет pending-ставку. Деньги не двигаются.
func (s *Service) RejectBid(ctx context.Context, bidID, callerID int64) (*model.Bid, error) {
	var bid *model.Bid

	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		b, err := tx.LockBid(ctx, bidID)
		if err != nil {
			return err
		}

		job, err := tx.LockJob(ctx, b.JobID)
		if err != nil {
			return err
		}
		if job.EmployerID != callerID {
			return fmt.Errorf("%w: job %d belongs to another employer", model.ErrUnauthorized, job.ID)
		}

		if err := lifecycle.RejectBid(b); err != nil {
			return err
		}
		if err := tx.SetBidStatus(ctx, b.ID, b.Status); err != nil {
			return err
		}

		bid = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("bid rejected", zap.Int64("bid_id", bidID), zap.Int64("job_id", bid.JobID))
	return bid, nil
}
