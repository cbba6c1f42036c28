// Package fraud содержит антифрод-гейт, который пропускает или отклоняет
// денежные операции.
package fraud

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/gigmarket-escrow/internal/model"
)

// ErrDenied возвращается, если гейт отклонил операцию.
var ErrDenied = fmt.Errorf("%w: denied by fraud check", model.ErrUnauthorized)

// Action: вид проверяемой операции.
type Action string

const (
	ActionAcceptBid Action = "accept_bid"
	ActionRelease   Action = "release"
	ActionDeposit   Action = "deposit"
)

// Check описывает операцию, которую нужно проверить.
type Check struct {
	UserID    int64
	ProjectID int64
	Action    Action
	Amount    decimal.Decimal
}

// Gate даёт бинарное решение по операции: nil — разрешено.
type Gate interface {
	Allow(ctx context.Context, c Check) error
}

// AllowAll пропускает все операции.
type AllowAll struct{}

// Allow всегда разрешает операцию.
func (AllowAll) Allow(context.Context, Check) error {
	return nil
}

// LimitGate отклоняет операции на сумму больше лимита.
type LimitGate struct {
	max decimal.Decimal
}

// NewLimitGate создаёт гейт с лимитом max. Нулевой лимит отключает проверку.
func NewLimitGate(max decimal.Decimal) *LimitGate {
	return &LimitGate{max: max}
}

// Allow проверяет сумму операции.
func (g *LimitGate) Allow(_ context.Context, c Check) error {
	if g.max.IsPositive() && c.Amount.GreaterThan(g.max) {
		return fmt.Errorf("%w: %s of %s by user %d exceeds limit %s",
			ErrDenied, c.Action, c.Amount.StringFixed(2), c.UserID, g.max.StringFixed(2))
	}
	return nil
}
