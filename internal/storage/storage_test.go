package storage

import (
	"context"
	"testing"
	"time"

	"github.com/skalibog/sigbot/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTradeHistory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(3)

	for i := 0; i < 5; i++ {
		require.NoError(t, m.SaveTrade(ctx, &models.Trade{Symbol: "BTCUSDT", OrderID: string(rune('a' + i))}))
	}
	require.NoError(t, m.SaveTrade(ctx, &models.Trade{Symbol: "ETHUSDT", OrderID: "x"}))

	trades, err := m.GetTradeHistory(ctx, "BTCUSDT", 10)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "e", trades[0].OrderID)
	assert.Equal(t, "d", trades[1].OrderID)

	trades, err = m.GetTradeHistory(ctx, "BTCUSDT", 1)
	require.NoError(t, err)
	require.Len(t, trades, 1)
}

func TestTradePoint(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := tradePoint(&models.Trade{
		Symbol:    "BTCUSDT",
		Timestamp: ts,
		Side:      models.SideSell,
		Reason:    "stop_loss",
		Price:     94,
		Quantity:  0.5,
		PnL:       -3,
		OrderID:   "42",
	})

	assert.Equal(t, "trades", p.Name())
	assert.Equal(t, ts, p.Time())

	fields := map[string]interface{}{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, "SELL", fields["side"])
	assert.Equal(t, "stop_loss", fields["reason"])
	assert.Equal(t, -3.0, fields["pnl"])

	require.Len(t, p.TagList(), 1)
	assert.Equal(t, "symbol", p.TagList()[0].Key)
	assert.Equal(t, "BTCUSDT", p.TagList()[0].Value)
}

func TestEvaluationPoint(t *testing.T) {
	p := evaluationPoint(&models.Evaluation{
		Symbol:  "BTCUSDT",
		Price:   100,
		Current: models.IndicatorRow{ShortMA: 101, LongMA: 99, Momentum: 30},
		Signals: models.Signals{TrendCrossUp: true, MomentumOversold: true},
	})

	fields := map[string]interface{}{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, "evaluations", p.Name())
	assert.Equal(t, true, fields["buy"])
	assert.Equal(t, false, fields["sell"])
	assert.Equal(t, 30.0, fields["momentum"])
}

func TestCandlePoint(t *testing.T) {
	p := candlePoint(&models.Candle{Symbol: "BTCUSDT", Interval: "5m", Close: 10})

	assert.Equal(t, "candles", p.Name())
	assert.Len(t, p.TagList(), 2)
	assert.Len(t, p.FieldList(), 5)
}
