package models

import (
	"time"
)

// Candle представляет свечу
type Candle struct {
	Symbol    string
	Interval  string
	OpenTime  time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime time.Time
}

// IndicatorRow одна строка фрейма индикаторов, выровненная по свече
type IndicatorRow struct {
	Time     time.Time
	Close    float64
	ShortMA  float64
	LongMA   float64
	Momentum float64
}

// Frame упорядоченная по времени последовательность валидных строк индикаторов
type Frame []IndicatorRow

// Last возвращает две последние строки фрейма
func (f Frame) Last() (prev, cur IndicatorRow) {
	return f[len(f)-2], f[len(f)-1]
}

// Signals флаги сигналов по двум последним строкам фрейма
type Signals struct {
	TrendCrossUp       bool
	TrendCrossDown     bool
	MomentumOversold   bool
	MomentumOverbought bool
}

// Buy вход требует одновременно пересечения вверх и перепроданности
func (s Signals) Buy() bool {
	return s.TrendCrossUp && s.MomentumOversold
}

// Sell выход достаточно одного из условий
func (s Signals) Sell() bool {
	return s.TrendCrossDown || s.MomentumOverbought
}

// Evaluation результат оценки сигналов за цикл
type Evaluation struct {
	Symbol    string
	Timestamp time.Time
	Price     float64
	Previous  IndicatorRow
	Current   IndicatorRow
	Signals   Signals
}

// Side направление ордера
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Order подтверждение рыночного ордера от биржи
type Order struct {
	ID            string
	ClientOrderID string
	Symbol        string
	Side          Side
	Quantity      float64
	Status        string
}

// Trade исполненная сделка, записываемая в журнал
type Trade struct {
	Symbol    string
	Timestamp time.Time
	Side      Side
	Reason    string
	Price     float64
	Quantity  float64
	PnL       float64
	OrderID   string
}

// Action итоговое действие цикла
type Action string

const (
	ActionNone     Action = "none"
	ActionBuy      Action = "buy"
	ActionSell     Action = "sell"
	ActionRiskExit Action = "risk_exit"
	ActionSkipped  Action = "skipped"
)

// CycleReport отчет о выполнении одного цикла
type CycleReport struct {
	Symbol     string
	Timestamp  time.Time
	Price      float64
	Signals    Signals
	Action     Action
	Reason     string
	Long       bool
	EntryPrice float64
	Quantity   float64
	Trade      *Trade
}
