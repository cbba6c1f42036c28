package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/gigmarket-escrow/internal/fraud"
	"github.com/mmeshcher/gigmarket-escrow/internal/gateway"
	"github.com/mmeshcher/gigmarket-escrow/internal/lifecycle"
	"github.com/mmeshcher/gigmarket-escrow/internal/model"
	"github.com/mmeshcher/gigmarket-escrow/internal/repository"
)

func projectReference(projectID int64) string {
	return "project-" + strconv.FormatInt(projectID, 10)
}

func depositReference(depositID int64) string {
	return "deposit-" + strconv.FormatInt(depositID, 10)
}

// parseDepositReference извлекает ID пополнения из ссылки вида deposit-<id>.
func parseDepositReference(ref string) (int64, bool) {
	raw, ok := strings.CutPrefix(ref, "deposit-")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func workerAccount(workerID int64) string {
	return "worker-" + strconv.FormatInt(workerID, 10)
}

func payoutMetadata(p *model.Project, txn *model.Transaction) map[string]string {
	return map[string]string{
		"project_id":     strconv.FormatInt(p.ID, 10),
		"transaction_id": txn.ID.String(),
	}
}

func transferRequest(p *model.Project, txn *model.Transaction) gateway.TransferRequest {
	return gateway.TransferRequest{
		Amount:         txn.NetAmount,
		Currency:       gateway.DefaultCurrency,
		Destination:    workerAccount(p.WorkerID),
		Reference:      projectReference(p.ID),
		Metadata:       payoutMetadata(p, txn),
		IdempotencyKey: txn.ID.String(),
	}
}

func refundRequest(p *model.Project, txn *model.Transaction, intentID, reason string) gateway.RefundRequest {
	md := payoutMetadata(p, txn)
	if reason != "" {
		md["reason"] = reason
	}
	return gateway.RefundRequest{
		PaymentIntentID: intentID,
		Amount:          txn.Amount,
		Reference:       projectReference(p.ID),
		Metadata:        md,
		IdempotencyKey:  txn.ID.String(),
	}
}

// CreatePaymentIntent создаёт у процессора намерение оплаты проекта на
// agreed_amount. Оплата оформляется как пополнение escrow-баланса, привязанное
// к проекту: после списания с карты сумма зачисляется работодателю и
// компенсирует резерв, сделанный при принятии ставки. Повторный вызов
// возвращает то же намерение, пока пополнение не провалилось.
func (s *Service) CreatePaymentIntent(ctx context.Context, projectID, callerID int64) (*gateway.PaymentIntent, error) {
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if p.EmployerID != callerID {
		return nil, fmt.Errorf("%w: only the employer can fund project %d", model.ErrUnauthorized, projectID)
	}
	if err := s.fraud.Allow(ctx, fraud.Check{
		UserID: callerID, ProjectID: projectID, Action: fraud.ActionDeposit, Amount: p.AgreedAmount,
	}); err != nil {
		return nil, err
	}

	var d *model.Deposit
	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		locked, err := tx.LockProject(ctx, projectID)
		if err != nil {
			return err
		}
		if locked.Status != model.ProjectStatusActive {
			return fmt.Errorf("%w: project %d is %s", model.ErrInvalidStateTransition, projectID, locked.Status)
		}

		existing, err := tx.LockProjectDeposit(ctx, projectID)
		switch {
		case err == nil:
			if existing.Status == model.DepositStatusCompleted {
				return fmt.Errorf("%w: project %d is already paid", model.ErrInvalidStateTransition, projectID)
			}
			d = existing
			return nil
		case !errors.Is(err, model.ErrNotFound):
			return err
		}

		d = &model.Deposit{
			UserID:    locked.EmployerID,
			ProjectID: locked.ID,
			Amount:    locked.AgreedAmount,
			Status:    model.DepositStatusPending,
		}
		return tx.CreateDeposit(ctx, d)
	})
	if err != nil {
		return nil, err
	}

	_, intent, err := s.requestIntent(ctx, d)
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment intent created",
		zap.Int64("project_id", projectID),
		zap.Int64("deposit_id", d.ID),
		zap.String("payment_intent_id", intent.ID),
	)
	return intent, nil
}

// requestIntent запрашивает у процессора намерение оплаты пополнения и
// фиксирует результат. Ссылка и ключ идемпотентности сохранены до вызова,
// поэтому вебхук, пришедший раньше ответа, находит пополнение по ссылке.
// При ошибке процессора pending-пополнение помечается failed.
func (s *Service) requestIntent(ctx context.Context, d *model.Deposit) (*model.Deposit, *gateway.PaymentIntent, error) {
	ref := depositReference(d.ID)
	md := map[string]string{"deposit_id": strconv.FormatInt(d.ID, 10)}
	if d.ProjectID != 0 {
		md["project_id"] = strconv.FormatInt(d.ProjectID, 10)
	}

	intent, callErr := s.gateway.CreatePaymentIntent(ctx, gateway.PaymentIntentRequest{
		Amount:         d.Amount,
		Currency:       gateway.DefaultCurrency,
		Reference:      ref,
		Metadata:       md,
		IdempotencyKey: ref,
	})

	var stored *model.Deposit
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		var p *model.Project
		if d.ProjectID != 0 {
			locked, err := tx.LockProject(ctx, d.ProjectID)
			if err != nil {
				return err
			}
			p = locked
		}

		dep, err := tx.LockDeposit(ctx, d.ID)
		if err != nil {
			return err
		}
		stored = dep

		if callErr != nil {
			if dep.Status != model.DepositStatusPending {
				return nil
			}
			dep.Status = model.DepositStatusFailed
			return tx.UpdateDeposit(ctx, dep)
		}

		if dep.PaymentIntentID == "" {
			dep.PaymentIntentID = intent.ID
			if err := tx.UpdateDeposit(ctx, dep); err != nil {
				return err
			}
		}
		if p != nil && p.PaymentIntentID != intent.ID {
			p.PaymentIntentID = intent.ID
			return tx.UpdateProject(ctx, p)
		}
		return nil
	})

	if callErr != nil {
		s.logger.Warn("payment intent failed", zap.Int64("deposit_id", d.ID), zap.Error(callErr))
		if err != nil {
			return nil, nil, errors.Join(callErr, err)
		}
		return nil, nil, callErr
	}
	if err != nil {
		return nil, nil, err
	}
	return stored, intent, nil
}

// ReleasePayment выплачивает исполнителю net_amount по завершённому проекту.
//
// Сначала в отдельной единице работы открывается pending-транзакция payment,
// затем без блокировок вызывается процессор, и результат фиксируется второй
// единицей работы. При временной ошибке транзакция остаётся pending до сверки.
func (s *Service) ReleasePayment(ctx context.Context, projectID, callerID int64) (*model.Transaction, error) {
	var (
		p   *model.Project
		txn *model.Transaction
	)

	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		locked, err := tx.LockProject(ctx, projectID)
		if err != nil {
			return err
		}
		if locked.EmployerID != callerID {
			return fmt.Errorf("%w: only the employer can release project %d", model.ErrUnauthorized, projectID)
		}
		if locked.PaymentReleased {
			return fmt.Errorf("%w: project %d", model.ErrAlreadyReleased, projectID)
		}
		if !locked.IsCompleted() {
			return fmt.Errorf("%w: project %d is %s, not completed", model.ErrInvalidStateTransition, projectID, locked.Status)
		}

		if err := s.fraud.Allow(ctx, fraud.Check{
			UserID: callerID, ProjectID: projectID, Action: fraud.ActionRelease, Amount: locked.NetAmount,
		}); err != nil {
			return err
		}

		txn, err = s.journal.OpenPayout(ctx, tx, locked, model.TransactionTypePayment)
		if err != nil {
			return err
		}
		p = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("payout opened",
		zap.Int64("project_id", projectID),
		zap.String("transaction_id", txn.ID.String()),
		zap.String("net_amount", txn.NetAmount.StringFixed(2)),
	)

	transfer, callErr := s.gateway.CreateTransfer(ctx, transferRequest(p, txn))
	var ref, status string
	if transfer != nil {
		ref, status = transfer.ID, transfer.Status
	}
	return s.settlePayout(ctx, projectID, txn.ID, ref, status, callErr)
}

// RefundPayment возвращает удержанную сумму работодателю.
//
// Если проект оплачен картой (намерение списано), сумма возвращается на карту
// через процессор и escrow-баланс не меняется. Иначе она зачисляется на
// escrow-баланс в той же единице работы. Активный проект при этом отменяется.
func (s *Service) RefundPayment(ctx context.Context, projectID, callerID int64, reason string) (*model.Transaction, error) {
	var (
		p        *model.Project
		txn      *model.Transaction
		intentID string
		settled  bool
	)

	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		locked, err := tx.LockProject(ctx, projectID)
		if err != nil {
			return err
		}
		if locked.EmployerID != callerID {
			return fmt.Errorf("%w: only the employer can refund project %d", model.ErrUnauthorized, projectID)
		}
		if locked.PaymentReleased {
			return fmt.Errorf("%w: project %d", model.ErrAlreadyReleased, projectID)
		}
		if locked.Status != model.ProjectStatusActive && locked.Status != model.ProjectStatusCompleted {
			return fmt.Errorf("%w: project %d is %s", model.ErrInvalidStateTransition, projectID, locked.Status)
		}

		dep, err := tx.LockProjectDeposit(ctx, projectID)
		switch {
		case err == nil:
			if dep.Status == model.DepositStatusCompleted {
				intentID = dep.PaymentIntentID
			}
		case !errors.Is(err, model.ErrNotFound):
			return err
		}

		txn, err = s.journal.OpenPayout(ctx, tx, locked, model.TransactionTypeRefund)
		if err != nil {
			return err
		}
		p = locked

		if intentID != "" {
			return nil
		}
		if err := s.completePayout(ctx, tx, locked, txn, ""); err != nil {
			return err
		}
		if _, err := s.escrow.Credit(ctx, tx, locked.EmployerID, txn.Amount); err != nil {
			return err
		}
		settled = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if settled {
		s.logger.Info("refund completed",
			zap.Int64("project_id", projectID),
			zap.String("transaction_id", txn.ID.String()),
			zap.String("reason", reason),
		)
		return txn, nil
	}

	refund, callErr := s.gateway.CreateRefund(ctx, refundRequest(p, txn, intentID, reason))
	var ref, status string
	if refund != nil {
		ref, status = refund.ID, refund.Status
	}
	return s.settlePayout(ctx, projectID, txn.ID, ref, status, callErr)
}

// settlePayout фиксирует ответ процессора по pending-выплате или возврату.
func (s *Service) settlePayout(ctx context.Context, projectID int64, txnID uuid.UUID, ref, status string, callErr error) (*model.Transaction, error) {
	log := s.logger.With(zap.Int64("project_id", projectID), zap.String("transaction_id", txnID.String()))

	if callErr != nil && gateway.IsTransient(callErr) {
		log.Warn("payout left pending after transient gateway error", zap.Error(callErr))
		return nil, callErr
	}

	var (
		result  *model.Transaction
		outcome error
	)

	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		p, err := tx.LockProject(ctx, projectID)
		if err != nil {
			return err
		}
		txn, err := tx.LockTransaction(ctx, txnID)
		if err != nil {
			return err
		}

		switch {
		case callErr != nil:
			outcome = callErr
			_, err = s.journal.Fail(ctx, tx, txn, gateway.Reason(callErr))
		case status == gateway.StatusFailed:
			outcome = &gateway.Error{Op: string(txn.Type), Message: "rejected by payment processor"}
			_, err = s.journal.Fail(ctx, tx, txn, "rejected by payment processor")
		case status == gateway.StatusSucceeded:
			err = s.completePayout(ctx, tx, p, txn, ref)
		default:
			if ref != "" && txn.Status == model.TransactionStatusPending && txn.GatewayRef != ref {
				err = tx.SetTransactionGatewayRef(ctx, txn.ID, ref)
				txn.GatewayRef = ref
			}
		}

		result = txn
		return err
	})
	if err != nil {
		return nil, err
	}

	if outcome != nil && result.Status != model.TransactionStatusCompleted {
		log.Warn("payout failed", zap.String("reason", result.FailureReason), zap.Error(outcome))
		return nil, outcome
	}

	log.Info("payout settled", zap.String("type", string(result.Type)), zap.String("status", string(result.Status)))
	return result, nil
}

// completePayout завершает pending-выплату или возврат и применяет их
// последствия к проекту и заработку исполнителя. Возврат здесь escrow-баланс
// не трогает: деньги либо ушли на карту, либо зачислены вызывающим кодом.
// Для уже завершённой транзакции ничего не делает.
func (s *Service) completePayout(ctx context.Context, tx repository.Tx, p *model.Project, txn *model.Transaction, ref string) error {
	ok, err := s.journal.Complete(ctx, tx, txn, ref)
	if err != nil || !ok {
		return err
	}

	switch txn.Type {
	case model.TransactionTypePayment:
		if err := lifecycle.MarkReleased(p); err != nil {
			return err
		}
		if err := tx.AddEarnings(ctx, p.WorkerID, txn.NetAmount); err != nil {
			return err
		}
	case model.TransactionTypeRefund:
		if p.Status == model.ProjectStatusActive {
			if err := lifecycle.Cancel(p); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: %s is not a payout", model.ErrInvalidStateTransition, txn.Type)
	}

	return tx.UpdateProject(ctx, p)
}

// CreateDeposit создаёт pending-пополнение escrow-баланса и намерение оплаты
// у процессора. Баланс пополняется только после подтверждения через вебхук.
func (s *Service) CreateDeposit(ctx context.Context, userID int64, amount decimal.Decimal) (*model.Deposit, *gateway.PaymentIntent, error) {
	amount = amount.Round(2)
	if !amount.IsPositive() || !model.WithinLimit(amount) {
		return nil, nil, fmt.Errorf("%w: deposit amount must be positive and at most %s", model.ErrInvalidInput, model.MaxAmount)
	}
	if _, err := s.requireRole(ctx, userID, model.RoleEmployer); err != nil {
		return nil, nil, err
	}
	if err := s.fraud.Allow(ctx, fraud.Check{UserID: userID, Action: fraud.ActionDeposit, Amount: amount}); err != nil {
		s.logger.Warn("deposit denied by fraud gate", zap.Int64("user_id", userID))
		return nil, nil, err
	}

	d := &model.Deposit{UserID: userID, Amount: amount, Status: model.DepositStatusPending}
	if err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		return tx.CreateDeposit(ctx, d)
	}); err != nil {
		return nil, nil, err
	}

	stored, intent, err := s.requestIntent(ctx, d)
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("deposit created",
		zap.Int64("deposit_id", stored.ID),
		zap.Int64("user_id", userID),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("payment_intent_id", intent.ID),
	)
	return stored, intent, nil
}
