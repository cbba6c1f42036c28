// Package scheduler запускает периодическую сверку зависших выплат.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Reconciler: задача сверки pending-выплат.
type Reconciler interface {
	ReconcilePending(ctx context.Context) (int, error)
}

// Scheduler вызывает Reconciler по cron-расписанию.
// Запуски не перекрываются: пока идёт сверка, следующий тик пропускается.
type Scheduler struct {
	cron       *cron.Cron
	reconciler Reconciler
	logger     *zap.Logger
	timeout    time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// New создаёт Scheduler. Расписание задаётся в формате robfig/cron
// (пять полей или дескриптор вроде "@every 1m").
func New(spec string, r Reconciler, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		reconciler: r,
		logger:     logger.Named("scheduler"),
		timeout:    time.Minute,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if _, err := s.cron.AddFunc(spec, s.reconcile); err != nil {
		return nil, fmt.Errorf("register reconcile job %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) reconcile() {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	settled, err := s.reconciler.ReconcilePending(ctx)
	if err != nil {
		s.logger.Error("reconcile pending payouts", zap.Error(err))
		return
	}
	if settled > 0 {
		s.logger.Info("pending payouts settled", zap.Int("settled", settled))
	}
}

// Run запускает планировщик и блокируется до отмены ctx, после чего
// дожидается завершения текущей сверки.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("starting reconcile scheduler")
	s.cron.Start()

	<-ctx.Done()

	s.cancel()

	<-s.cron.Stop().Done()
	s.logger.Info("reconcile scheduler stopped")
	return nil
}
