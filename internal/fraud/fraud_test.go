package fraud

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/mmeshcher/gigmarket-escrow/internal/model"
)

func TestLimitGate(t *testing.T) {
	ctx := context.Background()
	g := NewLimitGate(decimal.NewFromInt(1000))

	assert.NoError(t, g.Allow(ctx, Check{UserID: 1, Action: ActionAcceptBid, Amount: decimal.NewFromInt(1000)}))

	err := g.Allow(ctx, Check{UserID: 1, Action: ActionRelease, Amount: decimal.RequireFromString("1000.01")})
	assert.ErrorIs(t, err, ErrDenied)
	assert.ErrorIs(t, err, model.ErrUnauthorized)
}

func TestLimitGateDisabled(t *testing.T) {
	g := NewLimitGate(decimal.Zero)
	assert.NoError(t, g.Allow(context.Background(), Check{Amount: decimal.NewFromInt(1_000_000)}))
}

func TestAllowAll(t *testing.T) {
	var g Gate = AllowAll{}
	assert.NoError(t, g.Allow(context.Background(), Check{Amount: decimal.NewFromInt(1)}))
}
