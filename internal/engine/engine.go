// Package engine выполняет один торговый цикл: данные, индикаторы, сигналы,
// переход позиции и контроль рисков.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/skalibog/sigbot/internal/config"
	"github.com/skalibog/sigbot/internal/errs"
	"github.com/skalibog/sigbot/internal/exchange"
	"github.com/skalibog/sigbot/internal/indicator"
	"github.com/skalibog/sigbot/internal/metrics"
	"github.com/skalibog/sigbot/internal/position"
	"github.com/skalibog/sigbot/internal/risk"
	"github.com/skalibog/sigbot/internal/signal"
	"github.com/skalibog/sigbot/internal/state"
	"github.com/skalibog/sigbot/internal/storage"
	"github.com/skalibog/sigbot/internal/trace"
	"github.com/skalibog/sigbot/pkg/logger"
	"github.com/skalibog/sigbot/pkg/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Indicators строит фрейм индикаторов по свечам
type Indicators interface {
	Compute(candles []*models.Candle) (models.Frame, error)
}

// Engine оркестратор торгового цикла по одному символу
type Engine struct {
	trading    config.TradingConfig
	exchange   exchange.Exchange
	indicators Indicators
	evaluator  *signal.Evaluator
	risk       *risk.Monitor
	store      state.Store
	journal    storage.Journal
	metrics    *metrics.Metrics
	now        func() time.Time

	// mu защищает position: UI читает снимок из другой горутины
	mu       sync.Mutex
	position *position.Machine
}

// Option настройка Engine
type Option func(*Engine)

// WithClock подменяет источник времени цикла
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIndicators подменяет расчет индикаторов
func WithIndicators(ind Indicators) Option {
	return func(e *Engine) { e.indicators = ind }
}

// WithStore сохраняет снимок позиции после каждого перехода
func WithStore(s state.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithJournal записывает свечи, оценки и сделки
func WithJournal(j storage.Journal) Option {
	return func(e *Engine) { e.journal = j }
}

// WithMetrics учитывает циклы в Prometheus
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New создает оркестратор. pos задает начальное состояние позиции
// (обычно восстановленное из state.Store).
func New(cfg *config.Config, ex exchange.Exchange, pos *position.Machine, opts ...Option) *Engine {
	e := &Engine{
		trading:    cfg.Trading,
		exchange:   ex,
		indicators: indicator.NewEngine(cfg.Indicators),
		evaluator:  signal.NewEvaluator(cfg.Signal),
		risk:       risk.NewMonitor(cfg.Risk),
		store:      state.NewMemory(),
		journal:    storage.NewMemory(100),
		now:        time.Now,
		position:   pos,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Position текущий снимок позиции
func (e *Engine) Position() position.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.position.Snapshot()
}

// TradeHistory последние сделки из журнала
func (e *Engine) TradeHistory(ctx context.Context, limit int) ([]*models.Trade, error) {
	return e.journal.GetTradeHistory(ctx, e.trading.Symbol, limit)
}

// RunCycle выполняет один цикл. За цикл совершается не более одного перехода
// позиции. Нехватка средств не считается ошибкой: цикл завершается с
// действием ActionSkipped. При отказе биржи состояние позиции не меняется.
func (e *Engine) RunCycle(ctx context.Context) (report *models.CycleReport, err error) {
	ts := e.now()
	started := time.Now()
	symbol := e.trading.Symbol

	ctx, span := trace.StartSpan(ctx, "engine.RunCycle",
		oteltrace.WithAttributes(attribute.String("symbol", symbol)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		e.metrics.ObserveCycle(report, err, time.Since(started))
	}()

	log := logger.With(zap.Time("cycle", ts), zap.String("symbol", symbol))

	// Свечи и цена запрашиваются параллельно
	var (
		candles []*models.Candle
		price   float64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := e.exchange.FetchCandles(gctx, symbol, e.trading.Interval, e.trading.CandleLimit)
		if err != nil {
			return &errs.FetchError{Op: "candles", Err: err}
		}
		candles = c
		return nil
	})
	g.Go(func() error {
		p, err := e.exchange.FetchPrice(gctx, symbol)
		if err != nil {
			return &errs.FetchError{Op: "price", Err: err}
		}
		price = p
		return nil
	})
	if err := g.Wait(); err != nil {
		log.Error("Не удалось получить рыночные данные", zap.Error(err))
		return nil, err
	}
	log.Info("Текущая цена", zap.Float64("price", price), zap.Int("candles", len(candles)))

	if err := e.journal.SaveCandles(ctx, candles); err != nil {
		log.Warn("Не удалось сохранить свечи", zap.Error(err))
	}

	frame, err := e.indicators.Compute(candles)
	if err != nil {
		if errors.Is(err, errs.ErrInsufficientData) {
			log.Warn("Цикл пропущен: недостаточно данных", zap.Int("candles", len(candles)), zap.Error(err))
		} else {
			log.Error("Ошибка расчета индикаторов", zap.Error(err))
		}
		return nil, err
	}

	sigs, err := e.evaluator.Evaluate(frame)
	if err != nil {
		log.Warn("Цикл пропущен: оценка сигналов невозможна", zap.Error(err))
		return nil, err
	}

	prev, cur := frame.Last()
	eval := &models.Evaluation{
		Symbol:    symbol,
		Timestamp: ts,
		Price:     price,
		Previous:  prev,
		Current:   cur,
		Signals:   sigs,
	}
	logEvaluation(log, eval)
	if err := e.journal.SaveEvaluation(ctx, eval); err != nil {
		log.Warn("Не удалось сохранить оценку", zap.Error(err))
	}

	report = &models.CycleReport{
		Symbol:    symbol,
		Timestamp: ts,
		Price:     price,
		Signals:   sigs,
		Action:    models.ActionNone,
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	err = e.decide(ctx, log, eval, report)

	snap := e.position.Snapshot()
	report.Long = snap.Long()
	report.EntryPrice = snap.EntryPrice
	report.Quantity = snap.Quantity

	log.Info("Цикл завершен",
		zap.String("action", string(report.Action)),
		zap.String("status", string(snap.Status)),
		zap.Duration("elapsed", time.Since(started)))
	return report, err
}

// decide выбирает ровно одну ветку: вход, выход по сигналу, проверка рисков или ничего
func (e *Engine) decide(ctx context.Context, log *zap.Logger, eval *models.Evaluation, report *models.CycleReport) error {
	sigs := eval.Signals
	status := e.position.Status()

	switch {
	case sigs.Buy() && status == position.Flat:
		return e.enter(ctx, log, eval.Price, eval.Timestamp, report)

	case sigs.Sell() && status == position.Long:
		return e.exit(ctx, log, eval.Price, eval.Timestamp, "signal", models.ActionSell, report)

	case sigs.Buy() && status == position.Long:
		log.Info("Сигнал покупки проигнорирован: позиция уже открыта")

	// Риск-лимиты проверяются только в цикле без сигналов
	case status == position.Long:
		entry, _ := e.position.EntryPrice()
		v := e.risk.Check(eval.Price, entry)
		log.Debug("Проверка рисков",
			zap.Float64("entry_price", entry),
			zap.Float64("stop_price", v.StopPrice),
			zap.Float64("take_price", v.TakePrice))
		if !v.Breached() {
			return nil
		}
		log.Warn("Сработал риск-лимит",
			zap.String("reason", string(v.Reason)),
			zap.Float64("price", eval.Price),
			zap.Float64("entry_price", entry))
		return e.exit(ctx, log, eval.Price, eval.Timestamp, string(v.Reason), models.ActionRiskExit, report)

	case sigs.Sell():
		log.Info("Сигнал продажи проигнорирован: позиции нет")
	}
	return nil
}

func (e *Engine) enter(ctx context.Context, log *zap.Logger, price float64, ts time.Time, report *models.CycleReport) error {
	spend := e.risk.MaxSpend()
	free, err := e.exchange.FetchBalance(ctx, e.trading.QuoteAsset)
	if err != nil {
		err = &errs.FetchError{Op: "balance", Err: err}
		log.Error("Не удалось получить баланс", zap.Error(err))
		return err
	}
	if free < spend {
		fundsErr := &errs.InsufficientFundsError{Asset: e.trading.QuoteAsset, Free: free, Required: spend}
		log.Warn("Покупка пропущена", zap.Error(fundsErr))
		report.Action = models.ActionSkipped
		report.Reason = string(errs.KindInsufficientFunds)
		return nil
	}

	qty := e.risk.OrderQuantity(price)
	log.Info("Отправка ордера на покупку", zap.Float64("quantity", qty), zap.Float64("spend", spend))
	order, err := e.exchange.MarketBuy(ctx, e.trading.Symbol, qty)
	if err != nil {
		err = &errs.OrderRejectedError{Side: string(models.SideBuy), Quantity: qty, Err: err}
		log.Error("Ордер на покупку отклонен, позиция не изменена", zap.Error(err))
		return err
	}

	filled := order.Quantity
	if filled <= 0 {
		filled = qty
	}
	if err := e.position.Enter(price, filled, ts); err != nil {
		return err
	}
	log.Info("Позиция открыта",
		zap.String("order_id", order.ID),
		zap.Float64("entry_price", price),
		zap.Float64("quantity", filled))

	report.Action = models.ActionBuy
	report.Reason = "signal"
	e.commit(ctx, log, &models.Trade{
		Symbol:    e.trading.Symbol,
		Timestamp: ts,
		Side:      models.SideBuy,
		Reason:    "signal",
		Price:     price,
		Quantity:  filled,
		OrderID:   order.ID,
	}, report)
	return nil
}

func (e *Engine) exit(ctx context.Context, log *zap.Logger, price float64, ts time.Time, reason string, action models.Action, report *models.CycleReport) error {
	qty := e.position.Quantity()
	entry, _ := e.position.EntryPrice()

	log.Info("Отправка ордера на продажу", zap.Float64("quantity", qty), zap.String("reason", reason))
	order, err := e.exchange.MarketSell(ctx, e.trading.Symbol, qty)
	if err != nil {
		err = &errs.OrderRejectedError{Side: string(models.SideSell), Quantity: qty, Err: err}
		log.Error("Ордер на продажу отклонен, позиция не изменена", zap.Error(err))
		return err
	}

	pnl, err := e.position.Exit(price)
	if err != nil {
		return err
	}
	log.Info("Позиция закрыта",
		zap.String("order_id", order.ID),
		zap.String("reason", reason),
		zap.Float64("entry_price", entry),
		zap.Float64("exit_price", price),
		zap.Float64("quantity", qty),
		zap.Float64("pnl", pnl))

	report.Action = action
	report.Reason = reason
	e.commit(ctx, log, &models.Trade{
		Symbol:    e.trading.Symbol,
		Timestamp: ts,
		Side:      models.SideSell,
		Reason:    reason,
		Price:     price,
		Quantity:  qty,
		PnL:       pnl,
		OrderID:   order.ID,
	}, report)
	return nil
}

// commit сохраняет состояние и сделку после перехода. Ошибки хранилищ
// не отменяют уже исполненный ордер.
func (e *Engine) commit(ctx context.Context, log *zap.Logger, trade *models.Trade, report *models.CycleReport) {
	report.Trade = trade

	if err := e.store.Save(ctx, e.position.Snapshot()); err != nil {
		log.Error("Не удалось сохранить состояние позиции", zap.Error(err))
	}
	if err := e.journal.SaveTrade(ctx, trade); err != nil {
		log.Error("Не удалось записать сделку в журнал", zap.Error(err))
	}
}

func logEvaluation(log *zap.Logger, eval *models.Evaluation) {
	prev, cur, s := eval.Previous, eval.Current, eval.Signals

	log.Info("Индикаторы",
		zap.Float64("short_ma", cur.ShortMA),
		zap.Float64("long_ma", cur.LongMA),
		zap.Float64("prev_short_ma", prev.ShortMA),
		zap.Float64("prev_long_ma", prev.LongMA),
		zap.Float64("momentum", cur.Momentum))

	criteria := []struct {
		name string
		met  bool
	}{
		{"trend_cross_up", s.TrendCrossUp},
		{"trend_cross_down", s.TrendCrossDown},
		{"momentum_oversold", s.MomentumOversold},
		{"momentum_overbought", s.MomentumOverbought},
	}
	for _, c := range criteria {
		log.Info("Критерий", zap.String("criterion", c.name), zap.Bool("met", c.met))
	}

	log.Info("Оценка сигналов", zap.Bool("buy", s.Buy()), zap.Bool("sell", s.Sell()))
}
