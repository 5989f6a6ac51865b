package indicator

import (
	"fmt"

	"github.com/markcheno/go-talib"
	"github.com/skalibog/sigbot/internal/config"
	"github.com/skalibog/sigbot/internal/errs"
	"github.com/skalibog/sigbot/pkg/models"
)

// Engine рассчитывает фрейм индикаторов: две скользящие средние и RSI
type Engine struct {
	config config.IndicatorConfig
}

// NewEngine создает новый расчетчик индикаторов
func NewEngine(cfg config.IndicatorConfig) *Engine {
	return &Engine{
		config: cfg,
	}
}

// Warmup возвращает индекс первой свечи, для которой определены все индикаторы:
// обе средние (с window-1) и RSI (с индекса окна осциллятора).
func (e *Engine) Warmup() int {
	return max(e.trendStart(), e.config.MomentumWindow)
}

// MinCandles минимальная длина истории для расчета. Короче нее RSI не
// успевает сгладиться после первой точки длинной средней.
func (e *Engine) MinCandles() int {
	return e.trendStart() + e.config.MomentumWindow + 2
}

// Compute строит фрейм по упорядоченной последовательности свечей.
// Возвращает errs.ErrInsufficientData, если история короче MinCandles.
func (e *Engine) Compute(candles []*models.Candle) (models.Frame, error) {
	if err := checkOrder(candles); err != nil {
		return nil, err
	}

	if need := e.MinCandles(); len(candles) < need {
		return nil, fmt.Errorf("%w: %d свечей, требуется не меньше %d", errs.ErrInsufficientData, len(candles), need)
	}

	// Подготавливаем данные для анализа
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	// Рассчитываем индикаторы
	shortMA := talib.Sma(closes, e.config.ShortWindow)
	longMA := talib.Sma(closes, e.config.LongWindow)
	rsi := talib.Rsi(closes, e.config.MomentumWindow)

	// Оставляем только строки, где определены все значения
	warmup := e.Warmup()
	frame := make(models.Frame, 0, len(candles)-warmup)
	for i := warmup; i < len(candles); i++ {
		frame = append(frame, models.IndicatorRow{
			Time:     candles[i].OpenTime,
			Close:    closes[i],
			ShortMA:  shortMA[i],
			LongMA:   longMA[i],
			Momentum: rsi[i],
		})
	}

	return frame, nil
}

// trendStart индекс первой свечи с определенными обеими средними
func (e *Engine) trendStart() int {
	return max(e.config.ShortWindow, e.config.LongWindow) - 1
}

// checkOrder свечи должны идти строго по возрастанию времени
func checkOrder(candles []*models.Candle) error {
	for i := 1; i < len(candles); i++ {
		if !candles[i].OpenTime.After(candles[i-1].OpenTime) {
			return fmt.Errorf("свечи не упорядочены по времени: %s после %s",
				candles[i].OpenTime.Format("2006-01-02 15:04:05"),
				candles[i-1].OpenTime.Format("2006-01-02 15:04:05"))
		}
	}
	return nil
}
