package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/gigmarket-escrow/internal/model"
)

// DefaultFeeRate: комиссия платформы по умолчанию.
var DefaultFeeRate = decimal.RequireFromString("0.10")

// TxWriter: операции журнала внутри единицы работы.
type TxWriter interface {
	InsertTransaction(ctx context.Context, t *model.Transaction) error
	ActivePayout(ctx context.Context, projectID int64) (*model.Transaction, error)
	FinalizeTransaction(ctx context.Context, t *model.Transaction) (bool, error)
}

// TransactionLedger ведёт append-only журнал движений денег.
type TransactionLedger struct {
	feeRate decimal.Decimal
	now     func() time.Time
}

// NewTransactionLedger создаёт журнал с заданной ставкой комиссии из [0, 1).
func NewTransactionLedger(feeRate decimal.Decimal) (*TransactionLedger, error) {
	if feeRate.IsNegative() || feeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("fee rate %s out of range [0, 1)", feeRate)
	}
	return &TransactionLedger{feeRate: feeRate, now: time.Now}, nil
}

// FeeRate возвращает ставку комиссии.
func (l *TransactionLedger) FeeRate() decimal.Decimal {
	return l.feeRate
}

// Split делит сумму на комиссию платформы и выплату исполнителю.
// Комиссия округляется до копеек, остаток уходит в выплату: fee + net == amount.
func (l *TransactionLedger) Split(amount decimal.Decimal) (fee, net decimal.Decimal) {
	fee = amount.Mul(l.feeRate).Round(2)
	net = amount.Sub(fee)
	return fee, net
}

// RecordEscrow записывает удержание средств по проекту.
func (l *TransactionLedger) RecordEscrow(ctx context.Context, tx TxWriter, p *model.Project) (*model.Transaction, error) {
	now := l.now()
	t := &model.Transaction{
		ID:          uuid.New(),
		ProjectID:   p.ID,
		PayerID:     p.EmployerID,
		PayeeID:     p.WorkerID,
		Amount:      p.AgreedAmount,
		PlatformFee: p.PlatformFee,
		NetAmount:   p.NetAmount,
		Type:        model.TransactionTypeEscrow,
		Status:      model.TransactionStatusCompleted,
		ProcessedAt: &now,
	}
	if err := tx.InsertTransaction(ctx, t); err != nil {
		return nil, fmt.Errorf("record escrow: %w", err)
	}
	return t, nil
}

// OpenPayout открывает pending-выплату или pending-возврат по проекту.
// У проекта не бывает больше одной выплаты или возврата не в статусе failed.
func (l *TransactionLedger) OpenPayout(ctx context.Context, tx TxWriter, p *model.Project, typ model.TransactionType) (*model.Transaction, error) {
	if !typ.IsPayout() {
		return nil, fmt.Errorf("%w: %s is not a payout", model.ErrInvalidStateTransition, typ)
	}

	active, err := tx.ActivePayout(ctx, p.ID)
	switch {
	case err == nil:
		if active.Status == model.TransactionStatusCompleted {
			return nil, fmt.Errorf("%w: project %d settled by %s %s", model.ErrAlreadyReleased, p.ID, active.Type, active.ID)
		}
		return nil, fmt.Errorf("%w: project %d has pending %s %s", model.ErrPayoutInProgress, p.ID, active.Type, active.ID)
	case !errors.Is(err, model.ErrNotFound):
		return nil, fmt.Errorf("check active payout: %w", err)
	}

	t := &model.Transaction{
		ID:        uuid.New(),
		ProjectID: p.ID,
		Amount:    p.AgreedAmount,
		Type:      typ,
		Status:    model.TransactionStatusPending,
	}

	switch typ {
	case model.TransactionTypePayment:
		t.PayerID, t.PayeeID = p.EmployerID, p.WorkerID
		t.PlatformFee, t.NetAmount = p.PlatformFee, p.NetAmount
	case model.TransactionTypeRefund:
		t.PayerID, t.PayeeID = p.WorkerID, p.EmployerID
		t.PlatformFee, t.NetAmount = decimal.Zero, p.AgreedAmount
	}

	if err := tx.InsertTransaction(ctx, t); err != nil {
		return nil, fmt.Errorf("open %s: %w", typ, err)
	}
	return t, nil
}

// Complete переводит pending-транзакцию в completed. Возвращает false,
// если транзакция уже была завершена ранее.
func (l *TransactionLedger) Complete(ctx context.Context, tx TxWriter, t *model.Transaction, gatewayRef string) (bool, error) {
	now := l.now()
	next := *t
	next.Status = model.TransactionStatusCompleted
	if gatewayRef != "" {
		next.GatewayRef = gatewayRef
	}
	next.ProcessedAt = &now

	return l.finalize(ctx, tx, t, &next)
}

// Fail переводит pending-транзакцию в failed. Возвращает false,
// если транзакция уже была завершена ранее.
func (l *TransactionLedger) Fail(ctx context.Context, tx TxWriter, t *model.Transaction, reason string) (bool, error) {
	now := l.now()
	next := *t
	next.Status = model.TransactionStatusFailed
	next.FailureReason = reason
	next.ProcessedAt = &now

	return l.finalize(ctx, tx, t, &next)
}

func (l *TransactionLedger) finalize(ctx context.Context, tx TxWriter, t, next *model.Transaction) (bool, error) {
	if t.Status != model.TransactionStatusPending {
		return false, nil
	}

	ok, err := tx.FinalizeTransaction(ctx, next)
	if err != nil {
		return false, fmt.Errorf("finalize %s: %w", t.ID, err)
	}
	if ok {
		*t = *next
	}
	return ok, nil
}
