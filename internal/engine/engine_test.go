package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/skalibog/sigbot/internal/config"
	"github.com/skalibog/sigbot/internal/errs"
	"github.com/skalibog/sigbot/internal/metrics"
	"github.com/skalibog/sigbot/internal/position"
	"github.com/skalibog/sigbot/internal/state"
	"github.com/skalibog/sigbot/internal/storage"
	"github.com/skalibog/sigbot/pkg/logger"
	"github.com/skalibog/sigbot/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var cycleTime = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type fakeExchange struct {
	mu sync.Mutex

	candles    []*models.Candle
	candlesErr error
	price      float64
	priceErr   error
	balance    float64
	balanceErr error
	orderErr   error

	buys  []float64
	sells []float64
}

func (f *fakeExchange) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]*models.Candle, error) {
	return f.candles, f.candlesErr
}

func (f *fakeExchange) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	return f.price, f.priceErr
}

func (f *fakeExchange) FetchBalance(ctx context.Context, asset string) (float64, error) {
	return f.balance, f.balanceErr
}

func (f *fakeExchange) MarketBuy(ctx context.Context, symbol string, quantity float64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.orderErr != nil {
		return nil, f.orderErr
	}
	f.buys = append(f.buys, quantity)
	return &models.Order{ID: "b1", Symbol: symbol, Side: models.SideBuy, Quantity: quantity, Status: "FILLED"}, nil
}

func (f *fakeExchange) MarketSell(ctx context.Context, symbol string, quantity float64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.orderErr != nil {
		return nil, f.orderErr
	}
	f.sells = append(f.sells, quantity)
	return &models.Order{ID: "s1", Symbol: symbol, Side: models.SideSell, Quantity: quantity, Status: "FILLED"}, nil
}

func (f *fakeExchange) orders() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buys) + len(f.sells)
}

// stubIndicators возвращает заранее заданный фрейм
type stubIndicators struct {
	frame models.Frame
	err   error
}

func (s stubIndicators) Compute(candles []*models.Candle) (models.Frame, error) {
	return s.frame, s.err
}

func frame(prevShort, prevLong, curShort, curLong, momentum float64) models.Frame {
	return models.Frame{
		{ShortMA: prevShort, LongMA: prevLong, Momentum: 50},
		{ShortMA: curShort, LongMA: curLong, Momentum: momentum},
	}
}

var (
	crossUpOversold    = frame(99, 100, 101, 100, 20)
	crossDown          = frame(101, 100, 99, 100, 50)
	flatTrend          = frame(101, 100, 102, 100, 50)
	crossUpNotOversold = frame(99, 100, 101, 100, 50)
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Risk = config.RiskConfig{StopLossPct: 5, TakeProfitPct: 10, MaxSpend: 10}
	return &cfg
}

type fixture struct {
	ex      *fakeExchange
	store   *state.Memory
	journal *storage.Memory
	metrics *metrics.Metrics
	logs    *observer.ObservedLogs
	engine  *Engine
}

func newFixture(t *testing.T, f models.Frame, pos *position.Machine) *fixture {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	logger.Replace(zap.New(core))
	t.Cleanup(func() { logger.Replace(nil) })

	fx := &fixture{
		ex:      &fakeExchange{candles: []*models.Candle{{}, {}}, price: 100, balance: 1000},
		store:   state.NewMemory(),
		journal: storage.NewMemory(10),
		metrics: metrics.New(prometheus.NewRegistry()),
		logs:    logs,
	}
	if pos == nil {
		pos = position.NewMachine("BTCUSDT")
	}
	fx.engine = New(testConfig(), fx.ex, pos,
		WithIndicators(stubIndicators{frame: f}),
		WithStore(fx.store),
		WithJournal(fx.journal),
		WithMetrics(fx.metrics),
		WithClock(func() time.Time { return cycleTime }),
	)
	return fx
}

func longAt(t *testing.T, entry, qty float64) *position.Machine {
	t.Helper()
	m := position.NewMachine("BTCUSDT")
	require.NoError(t, m.Enter(entry, qty, cycleTime.Add(-time.Hour)))
	return m
}

func TestBuyOnCrossUpOversold(t *testing.T) {
	fx := newFixture(t, crossUpOversold, nil)

	report, err := fx.engine.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.ActionBuy, report.Action)
	assert.True(t, report.Long)
	assert.Equal(t, 100.0, report.EntryPrice)
	assert.InDelta(t, 0.1, report.Quantity, 1e-12)
	require.NotNil(t, report.Trade)
	assert.Equal(t, models.SideBuy, report.Trade.Side)

	snap := fx.engine.Position()
	assert.Equal(t, position.Long, snap.Status)
	assert.Equal(t, 100.0, snap.EntryPrice)
	assert.Equal(t, cycleTime, snap.EnteredAt)

	saved, ok, err := fx.store.Load(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, position.Long, saved.Status)

	trades, err := fx.engine.TradeHistory(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, trades, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.CyclesTotal.WithLabelValues("buy")))
	assert.Equal(t, 1, fx.logs.FilterMessage("Позиция открыта").Len())
	assert.Equal(t, 4, fx.logs.FilterMessage("Критерий").Len())
}

func TestBuyLogsCycleFields(t *testing.T) {
	fx := newFixture(t, crossUpOversold, nil)

	_, err := fx.engine.RunCycle(context.Background())
	require.NoError(t, err)

	entries := fx.logs.FilterMessage("Текущая цена").All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "BTCUSDT", ctx["symbol"])
	ts, ok := ctx["cycle"].(time.Time)
	require.True(t, ok)
	assert.True(t, cycleTime.Equal(ts))
}

func TestNoBuyWithoutOversold(t *testing.T) {
	fx := newFixture(t, crossUpNotOversold, nil)

	report, err := fx.engine.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.ActionNone, report.Action)
	assert.False(t, report.Long)
	assert.Zero(t, fx.ex.orders())
}

func TestStopLossExit(t *testing.T) {
	fx := newFixture(t, flatTrend, longAt(t, 100, 0.5))
	fx.ex.price = 94

	report, err := fx.engine.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.ActionRiskExit, report.Action)
	assert.Equal(t, "stop_loss", report.Reason)
	assert.False(t, report.Long)
	require.NotNil(t, report.Trade)
	assert.InDelta(t, -6*0.5, report.Trade.PnL, 1e-9)
	assert.Equal(t, []float64{0.5}, fx.ex.sells)

	saved, _, _ := fx.store.Load(context.Background(), "BTCUSDT")
	assert.Equal(t, position.Flat, saved.Status)
	assert.Equal(t, -3.0, testutil.ToFloat64(fx.metrics.RealizedPnL))
}

func TestTakeProfitExit(t *testing.T) {
	fx := newFixture(t, flatTrend, longAt(t, 100, 1))
	fx.ex.price = 111

	report, err := fx.engine.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.ActionRiskExit, report.Action)
	assert.Equal(t, "take_profit", report.Reason)
	assert.InDelta(t, 11.0, report.Trade.PnL, 1e-9)
}

func TestHoldInsideRiskBand(t *testing.T) {
	fx := newFixture(t, flatTrend, longAt(t, 100, 1))
	fx.ex.price = 103

	report, err := fx.engine.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.ActionNone, report.Action)
	assert.True(t, report.Long)
	assert.Zero(t, fx.ex.orders())
}

func TestSellOnSignal(t *testing.T) {
	fx := newFixture(t, crossDown, longAt(t, 100, 0.2))
	fx.ex.price = 102

	report, err := fx.engine.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.ActionSell, report.Action)
	assert.Equal(t, "signal", report.Reason)
	assert.False(t, report.Long)
	assert.InDelta(t, 0.4, report.Trade.PnL, 1e-9)
}

func TestSellSignalWhileFlatIsNoop(t *testing.T) {
	fx := newFixture(t, crossDown, nil)

	report, err := fx.engine.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.ActionNone, report.Action)
	assert.Zero(t, fx.ex.orders())
	assert.Equal(t, 1, fx.logs.FilterMessage("Сигнал продажи проигнорирован: позиции нет").Len())
}

func TestBuySignalWhileLongIsNoop(t *testing.T) {
	fx := newFixture(t, crossUpOversold, longAt(t, 100, 1))
	// Цена ниже стоп-лосса, но сигнал покупки отменяет проверку рисков
	fx.ex.price = 94

	report, err := fx.engine.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.ActionNone, report.Action)
	assert.Empty(t, report.Reason)
	assert.True(t, report.Long)
	assert.Equal(t, 100.0, report.EntryPrice)
	assert.Zero(t, fx.ex.orders())
	assert.Equal(t, 1, fx.logs.FilterMessage("Сигнал покупки проигнорирован: позиция уже открыта").Len())
	assert.Zero(t, fx.logs.FilterMessage("Сработал риск-лимит").Len())
}

func TestFetchFailureLeavesStateUnchanged(t *testing.T) {
	cases := map[string]func(*fakeExchange){
		"candles": func(f *fakeExchange) { f.candlesErr = errors.New("timeout") },
		"price":   func(f *fakeExchange) { f.priceErr = errors.New("timeout") },
	}

	for op, breakIt := range cases {
		t.Run(op, func(t *testing.T) {
			fx := newFixture(t, crossUpOversold, nil)
			breakIt(fx.ex)

			report, err := fx.engine.RunCycle(context.Background())
			assert.Nil(t, report)
			assert.Equal(t, errs.KindDataFetch, errs.KindOf(err))

			var fetchErr *errs.FetchError
			require.ErrorAs(t, err, &fetchErr)
			assert.Equal(t, op, fetchErr.Op)

			assert.Equal(t, position.Flat, fx.engine.Position().Status)
			assert.Zero(t, fx.ex.orders())
			assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.CyclesTotal.WithLabelValues("data_fetch")))
		})
	}
}

func TestInsufficientDataSkipsCycle(t *testing.T) {
	fx := newFixture(t, nil, nil)
	fx.engine.indicators = stubIndicators{err: errs.ErrInsufficientData}

	report, err := fx.engine.RunCycle(context.Background())
	assert.Nil(t, report)
	assert.ErrorIs(t, err, errs.ErrInsufficientData)
	assert.Zero(t, fx.ex.orders())
}

func TestInsufficientFundsSkipsBuy(t *testing.T) {
	fx := newFixture(t, crossUpOversold, nil)
	fx.ex.balance = 5

	report, err := fx.engine.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.ActionSkipped, report.Action)
	assert.Equal(t, string(errs.KindInsufficientFunds), report.Reason)
	assert.False(t, report.Long)
	assert.Zero(t, fx.ex.orders())
	assert.Equal(t, 1, fx.logs.FilterMessage("Покупка пропущена").FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestBalanceFailure(t *testing.T) {
	fx := newFixture(t, crossUpOversold, nil)
	fx.ex.balanceErr = errors.New("account unavailable")

	_, err := fx.engine.RunCycle(context.Background())
	assert.Equal(t, errs.KindDataFetch, errs.KindOf(err))
	assert.Zero(t, fx.ex.orders())
}

func TestRejectedBuyDoesNotCommit(t *testing.T) {
	fx := newFixture(t, crossUpOversold, nil)
	fx.ex.orderErr = errors.New("MIN_NOTIONAL")

	report, err := fx.engine.RunCycle(context.Background())
	assert.Equal(t, errs.KindOrderRejected, errs.KindOf(err))
	require.NotNil(t, report)
	assert.Equal(t, models.ActionNone, report.Action)
	assert.False(t, report.Long)

	_, ok, _ := fx.store.Load(context.Background(), "BTCUSDT")
	assert.False(t, ok)
	trades, _ := fx.engine.TradeHistory(context.Background(), 10)
	assert.Empty(t, trades)
}

func TestRejectedSellKeepsPosition(t *testing.T) {
	fx := newFixture(t, crossDown, longAt(t, 100, 1))
	fx.ex.orderErr = errors.New("LOT_SIZE")

	report, err := fx.engine.RunCycle(context.Background())
	assert.Equal(t, errs.KindOrderRejected, errs.KindOf(err))
	assert.True(t, report.Long)

	snap := fx.engine.Position()
	assert.Equal(t, position.Long, snap.Status)
	assert.Equal(t, 100.0, snap.EntryPrice)
	assert.Equal(t, 1.0, snap.Quantity)
}

func TestRoundTripAcrossCycles(t *testing.T) {
	fx := newFixture(t, crossUpOversold, nil)

	_, err := fx.engine.RunCycle(context.Background())
	require.NoError(t, err)

	fx.engine.indicators = stubIndicators{frame: crossDown}
	fx.ex.price = 105

	report, err := fx.engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.ActionSell, report.Action)
	assert.InDelta(t, 0.5, report.Trade.PnL, 1e-9)

	trades, err := fx.engine.TradeHistory(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, models.SideSell, trades[0].Side)
	assert.Equal(t, models.SideBuy, trades[1].Side)
}

// reversalCandles снижение, плоское основание и разворот вверх на последней свече
func reversalCandles() []*models.Candle {
	closes := make([]float64, 0, 50)
	for i := 0; i < 28; i++ {
		closes = append(closes, float64(154-2*i))
	}
	for i := 0; i < 21; i++ {
		closes = append(closes, 100)
	}
	closes = append(closes, 101)

	base := cycleTime.Add(-50 * 5 * time.Minute)
	candles := make([]*models.Candle, len(closes))
	for i, c := range closes {
		open := base.Add(time.Duration(i) * 5 * time.Minute)
		candles[i] = &models.Candle{
			Symbol:    "BTCUSDT",
			Interval:  "5m",
			OpenTime:  open,
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			CloseTime: open.Add(5 * time.Minute),
		}
	}
	return candles
}

func TestBuyFromCandlesEndToEnd(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger.Replace(zap.New(core))
	t.Cleanup(func() { logger.Replace(nil) })

	ex := &fakeExchange{candles: reversalCandles(), price: 101.5, balance: 1000}
	eng := New(testConfig(), ex, position.NewMachine("BTCUSDT"),
		WithClock(func() time.Time { return cycleTime }),
	)

	report, err := eng.RunCycle(context.Background())
	require.NoError(t, err)

	assert.True(t, report.Signals.TrendCrossUp)
	assert.True(t, report.Signals.MomentumOversold)
	assert.False(t, report.Signals.Sell())
	assert.Equal(t, models.ActionBuy, report.Action)

	snap := eng.Position()
	assert.Equal(t, position.Long, snap.Status)
	assert.Equal(t, 101.5, snap.EntryPrice)
	require.Len(t, ex.buys, 1)
	assert.InDelta(t, 10/101.5, ex.buys[0], 1e-12)

	entries := logs.FilterMessage("Индикаторы").All()
	require.Len(t, entries, 1)
	momentum, ok := entries[0].ContextMap()["momentum"].(float64)
	require.True(t, ok)
	assert.InDelta(t, 15.42, momentum, 0.01)
}

func TestNoSignalFromSteadyDecline(t *testing.T) {
	candles := reversalCandles()
	for i, c := range candles {
		c.Close = float64(200 - i)
	}

	ex := &fakeExchange{candles: candles, price: 150, balance: 1000}
	eng := New(testConfig(), ex, position.NewMachine("BTCUSDT"))

	report, err := eng.RunCycle(context.Background())
	require.NoError(t, err)

	assert.False(t, report.Signals.TrendCrossUp)
	assert.True(t, report.Signals.MomentumOversold)
	assert.Equal(t, models.ActionNone, report.Action)
	assert.Zero(t, ex.orders())
}
