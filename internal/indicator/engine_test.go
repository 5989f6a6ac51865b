package indicator

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/skalibog/sigbot/internal/config"
	"github.com/skalibog/sigbot/internal/errs"
	"github.com/skalibog/sigbot/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultWindows = config.IndicatorConfig{ShortWindow: 9, LongWindow: 21, MomentumWindow: 14}

func makeCandles(closes []float64) []*models.Candle {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]*models.Candle, len(closes))
	for i, c := range closes {
		open := base.Add(time.Duration(i) * 5 * time.Minute)
		candles[i] = &models.Candle{
			Symbol:    "BTCUSDT",
			Interval:  "5m",
			OpenTime:  open,
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    10,
			CloseTime: open.Add(5 * time.Minute),
		}
	}
	return candles
}

func series(n int, f func(i int) float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = f(i)
	}
	return out
}

func TestComputeShortSeriesIsInsufficient(t *testing.T) {
	engine := NewEngine(defaultWindows)
	limit := defaultWindows.LongWindow + defaultWindows.MomentumWindow

	for n := 0; n < limit; n++ {
		closes := series(n, func(i int) float64 { return 100 + math.Sin(float64(i)) })
		_, err := engine.Compute(makeCandles(closes))
		require.Error(t, err, "n=%d", n)
		assert.True(t, errors.Is(err, errs.ErrInsufficientData), "n=%d: %v", n, err)
	}
}

func TestComputeFrameLength(t *testing.T) {
	engine := NewEngine(defaultWindows)
	assert.Equal(t, 20, engine.Warmup())
	assert.Equal(t, 36, engine.MinCandles())

	_, err := engine.Compute(makeCandles(series(35, func(i int) float64 { return float64(100 + i) })))
	assert.ErrorIs(t, err, errs.ErrInsufficientData)

	// Полезная длина фрейма: candles - long + 1
	frame, err := engine.Compute(makeCandles(series(36, func(i int) float64 { return float64(100 + i) })))
	require.NoError(t, err)
	assert.Len(t, frame, 16)

	frame, err = engine.Compute(makeCandles(series(50, func(i int) float64 { return float64(100 + i) })))
	require.NoError(t, err)
	assert.Len(t, frame, 30)
}

func TestComputeRowsAlignedAndOrdered(t *testing.T) {
	engine := NewEngine(defaultWindows)
	candles := makeCandles(series(50, func(i int) float64 { return 100 + float64(i%7) }))

	frame, err := engine.Compute(candles)
	require.NoError(t, err)

	for i, row := range frame {
		src := candles[engine.Warmup()+i]
		assert.Equal(t, src.OpenTime, row.Time)
		assert.Equal(t, src.Close, row.Close)
		if i > 0 {
			assert.True(t, row.Time.After(frame[i-1].Time))
		}
	}
}

func TestComputeMovingAverages(t *testing.T) {
	engine := NewEngine(defaultWindows)
	closes := series(40, func(i int) float64 { return float64(i + 1) })

	frame, err := engine.Compute(makeCandles(closes))
	require.NoError(t, err)

	_, cur := frame.Last()
	// Последняя свеча i=39: SMA9 = среднее 32..40, SMA21 = среднее 20..40
	assert.InDelta(t, 36.0, cur.ShortMA, 1e-9)
	assert.InDelta(t, 30.0, cur.LongMA, 1e-9)
	assert.Greater(t, cur.ShortMA, cur.LongMA)
}

// wilderRSI эталонный RSI: затравка простым средним первых period приращений,
// далее сглаживание Уайлдера
func wilderRSI(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	var gain, loss float64
	for i := 1; i <= period; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	gain /= float64(period)
	loss /= float64(period)

	value := func() float64 {
		if gain+loss == 0 {
			return 0
		}
		return 100 * gain / (gain + loss)
	}
	out[period] = value()

	for i := period + 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		up, down := 0.0, 0.0
		if d > 0 {
			up = d
		} else {
			down = -d
		}
		gain = (gain*float64(period-1) + up) / float64(period)
		loss = (loss*float64(period-1) + down) / float64(period)
		out[i] = value()
	}
	return out
}

func TestComputeMomentumUsesFullHistory(t *testing.T) {
	engine := NewEngine(defaultWindows)
	closes := series(50, func(i int) float64 { return 100 + 3*math.Sin(float64(i)/2) - 0.2*float64(i) })

	frame, err := engine.Compute(makeCandles(closes))
	require.NoError(t, err)

	want := wilderRSI(closes, defaultWindows.MomentumWindow)
	for i, row := range frame {
		assert.InDelta(t, want[engine.Warmup()+i], row.Momentum, 1e-6, "row %d", i)
	}
}

func TestComputeMomentumBounds(t *testing.T) {
	engine := NewEngine(defaultWindows)

	rising, err := engine.Compute(makeCandles(series(50, func(i int) float64 { return float64(100 + i) })))
	require.NoError(t, err)
	for _, row := range rising {
		assert.InDelta(t, 100.0, row.Momentum, 1e-9)
	}

	falling, err := engine.Compute(makeCandles(series(50, func(i int) float64 { return float64(200 - i) })))
	require.NoError(t, err)
	for _, row := range falling {
		assert.InDelta(t, 0.0, row.Momentum, 1e-9)
	}

	mixed, err := engine.Compute(makeCandles(series(60, func(i int) float64 { return 100 + 5*math.Sin(float64(i)/3) })))
	require.NoError(t, err)
	for _, row := range mixed {
		assert.GreaterOrEqual(t, row.Momentum, 0.0)
		assert.LessOrEqual(t, row.Momentum, 100.0)
	}
}

func TestComputeRejectsUnorderedCandles(t *testing.T) {
	engine := NewEngine(defaultWindows)
	candles := makeCandles(series(50, func(i int) float64 { return 100 }))
	candles[10], candles[11] = candles[11], candles[10]

	_, err := engine.Compute(candles)
	require.Error(t, err)
	assert.False(t, errors.Is(err, errs.ErrInsufficientData))
}
