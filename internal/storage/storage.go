package storage

import (
	"context"
	"sync"

	"github.com/skalibog/sigbot/pkg/models"
)

// Journal журнал рыночных данных, оценок и сделок
type Journal interface {
	SaveCandles(ctx context.Context, candles []*models.Candle) error
	SaveEvaluation(ctx context.Context, eval *models.Evaluation) error
	SaveTrade(ctx context.Context, trade *models.Trade) error
	GetTradeHistory(ctx context.Context, symbol string, limit int) ([]*models.Trade, error)
	Close() error
}

var (
	_ Journal = (*InfluxDBStorage)(nil)
	_ Journal = (*Memory)(nil)
)

// Memory хранит последние сделки в памяти, используется без внешней БД
type Memory struct {
	mu       sync.Mutex
	capacity int
	trades   []*models.Trade
}

// NewMemory создает журнал в памяти на capacity последних сделок
func NewMemory(capacity int) *Memory {
	return &Memory{capacity: capacity}
}

func (m *Memory) SaveCandles(ctx context.Context, candles []*models.Candle) error { return nil }

func (m *Memory) SaveEvaluation(ctx context.Context, eval *models.Evaluation) error { return nil }

func (m *Memory) SaveTrade(ctx context.Context, trade *models.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.trades = append(m.trades, trade)
	if m.capacity > 0 && len(m.trades) > m.capacity {
		m.trades = m.trades[len(m.trades)-m.capacity:]
	}
	return nil
}

// GetTradeHistory новые сделки первыми
func (m *Memory) GetTradeHistory(ctx context.Context, symbol string, limit int) ([]*models.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Trade
	for i := len(m.trades) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if m.trades[i].Symbol == symbol {
			out = append(out, m.trades[i])
		}
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
