package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/gigmarket-escrow/internal/lifecycle"
	"github.com/mmeshcher/gigmarket-escrow/internal/model"
	"github.com/mmeshcher/gigmarket-escrow/internal/repository"
)

// CompleteProject завершает активный проект. Деньги не двигаются,
// выплата исполнителю — отдельный вызов ReleasePayment.
func (s *Service) CompleteProject(ctx context.Context, projectID, callerID int64, notes string) (*model.Project, error) {
	var project *model.Project

	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		p, err := tx.LockProject(ctx, projectID)
		if err != nil {
			return err
		}
		if err := lifecycle.Complete(p, callerID, notes, s.now()); err != nil {
			return err
		}
		if err := tx.UpdateProject(ctx, p); err != nil {
			return err
		}
		project = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("project completed", zap.Int64("project_id", projectID))
	return project, nil
}

// GetProject возвращает проект стороне проекта.
func (s *Service) GetProject(ctx context.Context, projectID, callerID int64) (*model.Project, error) {
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !p.IsParty(callerID) {
		return nil, fmt.Errorf("%w: user %d is not a party of project %d", model.ErrUnauthorized, callerID, projectID)
	}
	return p, nil
}

// GetContract возвращает контракт проекта стороне проекта.
func (s *Service) GetContract(ctx context.Context, projectID, callerID int64) (*model.Contract, error) {
	if _, err := s.GetProject(ctx, projectID, callerID); err != nil {
		return nil, err
	}
	return s.store.GetContractByProject(ctx, projectID)
}

// ListProjectTransactions возвращает журнал транзакций проекта стороне проекта.
func (s *Service) ListProjectTransactions(ctx context.Context, projectID, callerID int64) ([]model.Transaction, error) {
	if _, err := s.GetProject(ctx, projectID, callerID); err != nil {
		return nil, err
	}
	return s.store.ListTransactionsByProject(ctx, projectID)
}
