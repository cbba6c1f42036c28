// Package ledger содержит escrow-баланс работодателя и журнал транзакций.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/gigmarket-escrow/internal/model"
)

var (
	// ErrInvalidAmount возвращается для нулевой или отрицательной суммы.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrBalanceOverflow возвращается, если зачисление превысит MaxBalance.
	ErrBalanceOverflow = errors.New("balance overflow")
)

// MaxBalance: верхняя граница escrow-баланса.
var MaxBalance = model.MaxAmount

// BalanceTx: операции над балансом внутри единицы работы.
type BalanceTx interface {
	LockUser(ctx context.Context, id int64) (*model.User, error)
	SetEscrowBalance(ctx context.Context, id int64, balance decimal.Decimal) error
}

// UserReader читает пользователя вне транзакции.
type UserReader interface {
	GetUser(ctx context.Context, id int64) (*model.User, error)
}

// EscrowLedger управляет escrow-балансами пользователей.
type EscrowLedger struct {
	users UserReader
}

// NewEscrowLedger создаёт EscrowLedger.
func NewEscrowLedger(users UserReader) *EscrowLedger {
	return &EscrowLedger{users: users}
}

// Reserve атомарно списывает amount с escrow-баланса работодателя.
// Строка пользователя блокируется до конца транзакции. При нехватке средств
// баланс не меняется.
func (l *EscrowLedger) Reserve(ctx context.Context, tx BalanceTx, employerID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}

	u, err := tx.LockUser(ctx, employerID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("lock employer: %w", err)
	}

	if u.EscrowBalance.LessThan(amount) {
		return u.EscrowBalance, fmt.Errorf("%w: balance %s, required %s",
			model.ErrInsufficientEscrow, u.EscrowBalance.StringFixed(2), amount.StringFixed(2))
	}

	balance := u.EscrowBalance.Sub(amount)
	if err := tx.SetEscrowBalance(ctx, employerID, balance); err != nil {
		return decimal.Zero, fmt.Errorf("reserve escrow: %w", err)
	}

	return balance, nil
}

// Credit атомарно зачисляет amount на escrow-баланс пользователя.
func (l *EscrowLedger) Credit(ctx context.Context, tx BalanceTx, userID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}

	u, err := tx.LockUser(ctx, userID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("lock user: %w", err)
	}

	balance := u.EscrowBalance.Add(amount)
	if balance.GreaterThan(MaxBalance) {
		return u.EscrowBalance, fmt.Errorf("%w: user %d", ErrBalanceOverflow, userID)
	}

	if err := tx.SetEscrowBalance(ctx, userID, balance); err != nil {
		return decimal.Zero, fmt.Errorf("credit escrow: %w", err)
	}

	return balance, nil
}

// Balance возвращает текущий escrow-баланс. Значение может устареть сразу
// после чтения, решения о списании принимает только Reserve.
func (l *EscrowLedger) Balance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	u, err := l.users.GetUser(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return u.EscrowBalance, nil
}
