package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/gigmarket-escrow/internal/gateway"
	"github.com/mmeshcher/gigmarket-escrow/internal/model"
	"github.com/mmeshcher/gigmarket-escrow/internal/repository"
)

const defaultFailureReason = "reported failed by payment processor"

// HandleWebhook проверяет подпись уведомления процессора и применяет его.
//
// Каждое событие применяется не больше одного раза: его ID фиксируется в той же
// единице работы, что и изменения. Неизвестные события и события по неизвестным
// транзакциям подтверждаются без изменений, чтобы процессор не повторял их.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if err := s.verifier.Verify(payload, signature); err != nil {
		s.logger.Warn("webhook signature rejected", zap.Error(err))
		if errors.Is(err, gateway.ErrInvalidSignature) {
			return err
		}
		return fmt.Errorf("%w: %v", gateway.ErrInvalidSignature, err)
	}

	ev, err := gateway.ParseEvent(payload)
	if err != nil {
		s.logger.Warn("webhook payload rejected", zap.Error(err))
		return err
	}

	log := s.logger.With(zap.String("event_id", ev.ID), zap.String("event_type", string(ev.Type)))

	switch ev.Type {
	case gateway.EventPaymentIntentSucceeded, gateway.EventPaymentIntentFailed:
		err = s.applyIntentEvent(ctx, ev, log)
	case gateway.EventTransferSucceeded, gateway.EventTransferFailed:
		err = s.applyPayoutEvent(ctx, ev, model.TransactionTypePayment, ev.Type == gateway.EventTransferSucceeded, log)
	case gateway.EventRefundSucceeded, gateway.EventRefundFailed:
		err = s.applyPayoutEvent(ctx, ev, model.TransactionTypeRefund, ev.Type == gateway.EventRefundSucceeded, log)
	default:
		log.Info("webhook event ignored")
		return nil
	}
	if err != nil {
		log.Error("webhook event failed", zap.Error(err))
		return err
	}
	return nil
}

// applyIntentEvent применяет событие намерения оплаты к пополнению. Пополнение
// ищется по ID намерения, а если тот ещё не сохранён, по ссылке deposit-<id>.
// Событие для неизвестного пополнения не помечается обработанным, так что
// повторная доставка применит его.
func (s *Service) applyIntentEvent(ctx context.Context, ev *gateway.Event, log *zap.Logger) error {
	if ev.PaymentIntentID == "" {
		return fmt.Errorf("%w: payment_intent_id is required for %s", gateway.ErrMalformedEvent, ev.Type)
	}

	succeeded := ev.Type == gateway.EventPaymentIntentSucceeded
	var (
		applied   string
		depositID int64
	)

	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		d, err := lockEventDeposit(ctx, tx, ev)
		if errors.Is(err, model.ErrNotFound) {
			applied = "unknown"
			return nil
		}
		if err != nil {
			return err
		}
		depositID = d.ID

		fresh, err := tx.MarkEventProcessed(ctx, ev.ID, string(ev.Type))
		if err != nil || !fresh {
			applied = "duplicate"
			return err
		}
		if d.Status != model.DepositStatusPending {
			applied = "settled"
			return nil
		}

		if d.PaymentIntentID == "" {
			d.PaymentIntentID = ev.PaymentIntentID
		}
		if succeeded {
			if _, err := s.escrow.Credit(ctx, tx, d.UserID, d.Amount); err != nil {
				return err
			}
			now := s.now()
			d.Status = model.DepositStatusCompleted
			d.CompletedAt = &now
		} else {
			d.Status = model.DepositStatusFailed
		}
		applied = "deposit"
		return tx.UpdateDeposit(ctx, d)
	})
	if err != nil {
		return err
	}

	if applied == "unknown" {
		log.Warn("webhook event for unknown payment intent",
			zap.String("payment_intent_id", ev.PaymentIntentID),
			zap.String("reference", ev.Reference),
		)
		return nil
	}
	log.Info("payment intent event applied",
		zap.String("payment_intent_id", ev.PaymentIntentID),
		zap.Int64("deposit_id", depositID),
		zap.String("result", applied),
	)
	return nil
}

func lockEventDeposit(ctx context.Context, tx repository.Tx, ev *gateway.Event) (*model.Deposit, error) {
	d, err := tx.LockDepositByIntent(ctx, ev.PaymentIntentID)
	if !errors.Is(err, model.ErrNotFound) {
		return d, err
	}

	id, ok := parseDepositReference(ev.Reference)
	if !ok {
		return nil, err
	}
	d, err = tx.LockDeposit(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.PaymentIntentID != "" && d.PaymentIntentID != ev.PaymentIntentID {
		return nil, fmt.Errorf("%w: deposit %d belongs to payment intent %s", model.ErrNotFound, d.ID, d.PaymentIntentID)
	}
	return d, nil
}

func (s *Service) applyPayoutEvent(ctx context.Context, ev *gateway.Event, typ model.TransactionType, succeeded bool, log *zap.Logger) error {
	txn, err := s.findEventTransaction(ctx, ev)
	if errors.Is(err, model.ErrNotFound) {
		log.Warn("webhook event for unknown transaction",
			zap.String("transaction_id", ev.TransactionID),
			zap.String("reference", ev.Reference),
		)
		return nil
	}
	if err != nil {
		return err
	}
	if txn.Type != typ {
		log.Warn("webhook event does not match transaction type",
			zap.String("transaction_id", txn.ID.String()),
			zap.String("type", string(txn.Type)),
		)
		return nil
	}

	var result *model.Transaction
	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		fresh, err := tx.MarkEventProcessed(ctx, ev.ID, string(ev.Type))
		if err != nil || !fresh {
			return err
		}

		p, err := tx.LockProject(ctx, txn.ProjectID)
		if err != nil {
			return err
		}
		locked, err := tx.LockTransaction(ctx, txn.ID)
		if err != nil {
			return err
		}

		if succeeded {
			err = s.completePayout(ctx, tx, p, locked, ev.Reference)
		} else {
			reason := ev.FailureReason
			if reason == "" {
				reason = defaultFailureReason
			}
			_, err = s.journal.Fail(ctx, tx, locked, reason)
		}
		result = locked
		return err
	})
	if err != nil {
		return err
	}

	if result == nil {
		log.Info("webhook event already processed")
		return nil
	}
	log.Info("payout event applied",
		zap.Int64("project_id", result.ProjectID),
		zap.String("transaction_id", result.ID.String()),
		zap.String("status", string(result.Status)),
	)
	return nil
}

// findEventTransaction ищет транзакцию по ключу идемпотентности, а затем по ссылке процессора.
func (s *Service) findEventTransaction(ctx context.Context, ev *gateway.Event) (*model.Transaction, error) {
	if ev.TransactionID != "" {
		id, err := uuid.Parse(ev.TransactionID)
		if err == nil {
			txn, err := s.store.GetTransaction(ctx, id)
			if !errors.Is(err, model.ErrNotFound) {
				return txn, err
			}
		}
	}
	if ev.Reference != "" {
		return s.store.FindTransactionByGatewayRef(ctx, ev.Reference)
	}
	return nil, model.ErrNotFound
}
