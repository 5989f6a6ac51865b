package signal

import (
	"fmt"

	"github.com/skalibog/sigbot/internal/config"
	"github.com/skalibog/sigbot/internal/errs"
	"github.com/skalibog/sigbot/pkg/models"
)

// Evaluator классифицирует пересечения средних и зоны осциллятора
type Evaluator struct {
	config config.SignalConfig
}

// NewEvaluator создает оценщик сигналов
func NewEvaluator(cfg config.SignalConfig) *Evaluator {
	return &Evaluator{
		config: cfg,
	}
}

// Evaluate рассчитывает флаги по двум последним строкам фрейма
func (e *Evaluator) Evaluate(frame models.Frame) (models.Signals, error) {
	if len(frame) < 2 {
		return models.Signals{}, fmt.Errorf("%w: строк во фрейме %d", errs.ErrInsufficientData, len(frame))
	}

	prev, cur := frame.Last()

	return models.Signals{
		TrendCrossUp:       CrossUp(prev, cur),
		TrendCrossDown:     CrossDown(prev, cur),
		MomentumOversold:   cur.Momentum < e.config.Oversold,
		MomentumOverbought: cur.Momentum > e.config.Overbought,
	}, nil
}

// CrossUp короткая средняя перешла снизу (или с уровня) строго выше длинной
func CrossUp(prev, cur models.IndicatorRow) bool {
	return cur.ShortMA > cur.LongMA && prev.ShortMA <= prev.LongMA
}

// CrossDown короткая средняя перешла сверху (или с уровня) строго ниже длинной
func CrossDown(prev, cur models.IndicatorRow) bool {
	return cur.ShortMA < cur.LongMA && prev.ShortMA >= prev.LongMA
}
