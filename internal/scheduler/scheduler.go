// Package scheduler запускает торговые циклы с фиксированной паузой между ними.
package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/skalibog/sigbot/internal/errs"
	"github.com/skalibog/sigbot/pkg/logger"
	"github.com/skalibog/sigbot/pkg/models"
	"go.uber.org/zap"
)

// Runner выполняет один цикл
type Runner interface {
	RunCycle(ctx context.Context) (*models.CycleReport, error)
}

// ReportFunc получает итог каждого цикла (report может быть nil при ошибке)
type ReportFunc func(report *models.CycleReport, err error)

// Scheduler запускает циклы последовательно: следующий цикл начинается
// не раньше чем через interval после завершения предыдущего
type Scheduler struct {
	runner   Runner
	interval time.Duration
	onReport ReportFunc

	running atomic.Bool
	stop    chan struct{}
	stopped atomic.Bool
	cycles  atomic.Int64
}

// New создает планировщик
func New(runner Runner, interval time.Duration, onReport ReportFunc) *Scheduler {
	return &Scheduler{
		runner:   runner,
		interval: interval,
		onReport: onReport,
		stop:     make(chan struct{}),
	}
}

// Run выполняет первый цикл сразу, затем повторяет до отмены ctx или Stop.
// Начатый цикл всегда завершается: отмена проверяется только между циклами.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("планировщик уже запущен")
	}
	defer s.running.Store(false)

	logger.Info("Планировщик запущен", zap.Duration("interval", s.interval))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Планировщик остановлен по контексту", zap.Int64("cycles", s.cycles.Load()))
			return nil
		case <-s.stop:
			logger.Info("Планировщик остановлен", zap.Int64("cycles", s.cycles.Load()))
			return nil
		case <-timer.C:
		}

		// select выбирает случайно, если таймер и остановка готовы одновременно
		if ctx.Err() != nil || s.stopped.Load() {
			logger.Info("Планировщик остановлен до начала цикла", zap.Int64("cycles", s.cycles.Load()))
			return nil
		}

		// Цикл не прерывается отменой: ордер и переход позиции не должны
		// разойтись из-за остановки посередине
		s.runOnce(context.WithoutCancel(ctx))
		timer.Reset(s.interval)
	}
}

// Stop останавливает планировщик после текущего цикла
func (s *Scheduler) Stop() {
	if s.stopped.CompareAndSwap(false, true) {
		close(s.stop)
	}
}

// Running планировщик выполняется
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Cycles количество выполненных циклов
func (s *Scheduler) Cycles() int64 {
	return s.cycles.Load()
}

func (s *Scheduler) runOnce(ctx context.Context) {
	var (
		report *models.CycleReport
		err    error
	)

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("паника в цикле: %v", r)
				logger.Error("Паника в торговом цикле", zap.Any("panic", r), zap.Stack("stack"))
			}
		}()
		report, err = s.runner.RunCycle(ctx)
	}()

	n := s.cycles.Add(1)
	if err != nil {
		switch kind := errs.KindOf(err); kind {
		case errs.KindInsufficientData, errs.KindInsufficientFunds:
			logger.Warn("Цикл пропущен", zap.Int64("cycle_no", n), zap.String("kind", string(kind)), zap.Error(err))
		default:
			logger.Error("Цикл завершился ошибкой", zap.Int64("cycle_no", n), zap.String("kind", string(kind)), zap.Error(err))
		}
	} else if report != nil {
		logger.Debug("Цикл выполнен", zap.Int64("cycle_no", n), zap.String("action", string(report.Action)))
	}

	if s.onReport != nil {
		s.onReport(report, err)
	}
}
