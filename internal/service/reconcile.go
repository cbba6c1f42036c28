package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/gigmarket-escrow/internal/gateway"
	"github.com/mmeshcher/gigmarket-escrow/internal/model"
)

// ReconcilePending повторяет вызовы процессора для выплат и возвратов,
// зависших в pending дольше reconcileAfter. Запрос уходит с тем же ключом
// идемпотентности, поэтому процессор не проведёт деньги повторно.
// Возвращает количество транзакций, вышедших из pending.
func (s *Service) ReconcilePending(ctx context.Context) (int, error) {
	pending, err := s.store.ListPendingPayouts(ctx, s.now().Add(-s.reconcileAfter), s.reconcileBatch)
	if err != nil {
		return 0, fmt.Errorf("list pending payouts: %w", err)
	}

	settled := 0
	for i := range pending {
		if err := ctx.Err(); err != nil {
			return settled, err
		}

		txn := &pending[i]
		log := s.logger.With(zap.Int64("project_id", txn.ProjectID), zap.String("transaction_id", txn.ID.String()))

		result, err := s.retryPayout(ctx, txn)
		if err != nil {
			log.Warn("reconcile attempt failed", zap.Error(err))
			continue
		}
		if result.Status != model.TransactionStatusPending {
			settled++
		}
	}

	if len(pending) > 0 {
		s.logger.Info("reconcile finished", zap.Int("pending", len(pending)), zap.Int("settled", settled))
	}
	return settled, nil
}

func (s *Service) retryPayout(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	p, err := s.store.GetProject(ctx, txn.ProjectID)
	if err != nil {
		return nil, err
	}

	var ref, status string
	var callErr error

	switch txn.Type {
	case model.TransactionTypePayment:
		var transfer *gateway.Transfer
		transfer, callErr = s.gateway.CreateTransfer(ctx, transferRequest(p, txn))
		if transfer != nil {
			ref, status = transfer.ID, transfer.Status
		}
	case model.TransactionTypeRefund:
		if p.PaymentIntentID == "" {
			return nil, fmt.Errorf("%w: refund %s has no payment intent", model.ErrInvalidStateTransition, txn.ID)
		}
		var refund *gateway.Refund
		refund, callErr = s.gateway.CreateRefund(ctx, refundRequest(p, txn, p.PaymentIntentID, ""))
		if refund != nil {
			ref, status = refund.ID, refund.Status
		}
	default:
		return nil, fmt.Errorf("%w: %s is not a payout", model.ErrInvalidStateTransition, txn.Type)
	}

	return s.settlePayout(ctx, p.ID, txn.ID, ref, status, callErr)
}
