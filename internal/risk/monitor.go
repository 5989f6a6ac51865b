package risk

import (
	"github.com/skalibog/sigbot/internal/config"
)

// Reason причина выхода по риску
type Reason string

const (
	None       Reason = ""
	StopLoss   Reason = "stop_loss"
	TakeProfit Reason = "take_profit"
)

// Verdict результат проверки порогов
type Verdict struct {
	Reason    Reason
	StopPrice float64
	TakePrice float64
}

// Breached выход рекомендован
func (v Verdict) Breached() bool {
	return v.Reason != None
}

// Monitor проверяет стоп-лосс и тейк-профит относительно цены входа
type Monitor struct {
	config config.RiskConfig
}

// NewMonitor создает монитор рисков
func NewMonitor(cfg config.RiskConfig) *Monitor {
	return &Monitor{
		config: cfg,
	}
}

// Check сравнивает текущую цену с уровнями от цены входа
func (m *Monitor) Check(price, entry float64) Verdict {
	v := Verdict{
		StopPrice: entry * (1 - m.config.StopLossPct/100),
		TakePrice: entry * (1 + m.config.TakeProfitPct/100),
	}

	switch {
	case price <= v.StopPrice:
		v.Reason = StopLoss
	case price >= v.TakePrice:
		v.Reason = TakeProfit
	}
	return v
}

// MaxSpend лимит суммы одного ордера в котируемом активе
func (m *Monitor) MaxSpend() float64 {
	return m.config.MaxSpend
}

// OrderQuantity количество базового актива на лимит суммы по текущей цене
func (m *Monitor) OrderQuantity(price float64) float64 {
	if price <= 0 {
		return 0
	}
	return m.config.MaxSpend / price
}
