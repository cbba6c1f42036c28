// Package service реализует бизнес-логику escrow-ядра маркетплейса.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/gigmarket-escrow/internal/fraud"
	"github.com/mmeshcher/gigmarket-escrow/internal/gateway"
	"github.com/mmeshcher/gigmarket-escrow/internal/ledger"
	"github.com/mmeshcher/gigmarket-escrow/internal/model"
	"github.com/mmeshcher/gigmarket-escrow/internal/repository"
)

const (
	defaultReconcileAfter = 2 * time.Minute
	defaultReconcileBatch = 100
)

// Gateway описывает платёжный процессор, используемый сервисом.
type Gateway interface {
	CreatePaymentIntent(ctx context.Context, req gateway.PaymentIntentRequest) (*gateway.PaymentIntent, error)
	CreateTransfer(ctx context.Context, req gateway.TransferRequest) (*gateway.Transfer, error)
	CreateRefund(ctx context.Context, req gateway.RefundRequest) (*gateway.Refund, error)
}

// SignatureVerifier проверяет подпись вебхука.
type SignatureVerifier interface {
	Verify(payload []byte, header string) error
}

// Service содержит бизнес-логику escrow-ядра.
type Service struct {
	store    repository.Store
	gateway  Gateway
	verifier SignatureVerifier
	fraud    fraud.Gate
	escrow   *ledger.EscrowLedger
	journal  *ledger.TransactionLedger
	logger   *zap.Logger
	now      func() time.Time

	autoRejectCompetingBids bool
	reconcileAfter          time.Duration
	reconcileBatch          int
}

// Option настраивает Service.
type Option func(*Service)

// WithFraudGate задаёт антифрод-гейт. По умолчанию пропускаются все операции.
func WithFraudGate(g fraud.Gate) Option {
	return func(s *Service) {
		if g != nil {
			s.fraud = g
		}
	}
}

// WithVerifier задаёт проверку подписи вебхуков. Без неё все вебхуки отклоняются.
func WithVerifier(v SignatureVerifier) Option {
	return func(s *Service) {
		if v != nil {
			s.verifier = v
		}
	}
}

// WithAutoRejectCompetingBids включает отклонение остальных ставок при принятии одной.
func WithAutoRejectCompetingBids(enabled bool) Option {
	return func(s *Service) {
		s.autoRejectCompetingBids = enabled
	}
}

// WithReconcileAfter задаёт возраст pending-выплаты, после которого её подхватывает сверка.
func WithReconcileAfter(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.reconcileAfter = d
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService создаёт сервис поверх хранилища, платёжного процессора и журнала транзакций.
func NewService(store repository.Store, gw Gateway, journal *ledger.TransactionLedger, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		store:          store,
		gateway:        gw,
		verifier:       gateway.NewVerifier("", 0),
		fraud:          fraud.AllowAll{},
		escrow:         ledger.NewEscrowLedger(store),
		journal:        journal,
		logger:         logger,
		now:            time.Now,
		reconcileAfter: defaultReconcileAfter,
		reconcileBatch: defaultReconcileBatch,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// Balance: escrow-баланс и заработок пользователя.
type Balance struct {
	EscrowBalance decimal.Decimal
	TotalEarnings decimal.Decimal
}

// RegisterUser регистрирует нового пользователя с указанной ролью.
func (s *Service) RegisterUser(ctx context.Context, name string, role model.Role) (*model.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", model.ErrInvalidInput)
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", model.ErrInvalidInput, role)
	}

	u := &model.User{Name: name, Role: role}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	s.logger.Info("user registered", zap.Int64("user_id", u.ID), zap.String("role", string(role)))
	return u, nil
}

// GetUser возвращает пользователя.
func (s *Service) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	return s.store.GetUser(ctx, userID)
}

// GetBalance возвращает escrow-баланс и заработок пользователя.
func (s *Service) GetBalance(ctx context.Context, userID int64) (*Balance, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Balance{EscrowBalance: u.EscrowBalance, TotalEarnings: u.TotalEarnings}, nil
}

func (s *Service) requireRole(ctx context.Context, userID int64, role model.Role) (*model.User, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.Role != role {
		return nil, fmt.Errorf("%w: user %d is not %s", model.ErrUnauthorized, userID, role)
	}
	return u, nil
}
