package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/skalibog/sigbot/pkg/logger"
	"github.com/skalibog/sigbot/pkg/models"
	"go.uber.org/zap"
)

// ErrPaperBalance на виртуальном счете не хватает средств для исполнения
var ErrPaperBalance = errors.New("недостаточно средств на бумажном счете")

// PaperConfig параметры бумажного счета
type PaperConfig struct {
	BaseAsset    string
	QuoteAsset   string
	QuoteBalance float64
	SlippageBps  int64
	Precision    int32
}

// Paper исполняет ордера виртуально по реальным рыночным данным
type Paper struct {
	MarketData

	cfg      PaperConfig
	mu       sync.Mutex
	balances map[string]float64
	orderSeq int64
}

// NewPaper создает бумажную биржу поверх источника рыночных данных
func NewPaper(market MarketData, cfg PaperConfig) *Paper {
	return &Paper{
		MarketData: market,
		cfg:        cfg,
		balances: map[string]float64{
			cfg.QuoteAsset: cfg.QuoteBalance,
		},
	}
}

// FetchBalance возвращает виртуальный баланс
func (p *Paper) FetchBalance(ctx context.Context, asset string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balances[asset], nil
}

// MarketBuy покупка по текущей цене с проскальзыванием вверх
func (p *Paper) MarketBuy(ctx context.Context, symbol string, quantity float64) (*models.Order, error) {
	return p.fill(ctx, symbol, models.SideBuy, quantity)
}

// MarketSell продажа по текущей цене с проскальзыванием вниз
func (p *Paper) MarketSell(ctx context.Context, symbol string, quantity float64) (*models.Order, error) {
	return p.fill(ctx, symbol, models.SideSell, quantity)
}

func (p *Paper) fill(ctx context.Context, symbol string, side models.Side, quantity float64) (*models.Order, error) {
	qty := TruncateQuantity(quantity, p.cfg.Precision)
	if qty <= 0 {
		return nil, fmt.Errorf("количество %v меньше минимального шага 1e-%d", quantity, p.cfg.Precision)
	}

	price, err := p.FetchPrice(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения цены исполнения: %w", err)
	}

	slippage := price * float64(p.cfg.SlippageBps) / 10000
	fillPrice := price + slippage
	if side == models.SideSell {
		fillPrice = price - slippage
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch side {
	case models.SideBuy:
		cost := qty * fillPrice
		if p.balances[p.cfg.QuoteAsset] < cost {
			return nil, fmt.Errorf("%w: %s %.8f < %.8f", ErrPaperBalance, p.cfg.QuoteAsset, p.balances[p.cfg.QuoteAsset], cost)
		}
		p.balances[p.cfg.QuoteAsset] -= cost
		p.balances[p.cfg.BaseAsset] += qty
	case models.SideSell:
		if p.balances[p.cfg.BaseAsset] < qty {
			return nil, fmt.Errorf("%w: %s %.8f < %.8f", ErrPaperBalance, p.cfg.BaseAsset, p.balances[p.cfg.BaseAsset], qty)
		}
		p.balances[p.cfg.BaseAsset] -= qty
		p.balances[p.cfg.QuoteAsset] += qty * fillPrice
	}

	p.orderSeq++
	order := &models.Order{
		ID:            fmt.Sprintf("PAPER-%d", p.orderSeq),
		ClientOrderID: uuid.NewString(),
		Symbol:        symbol,
		Side:          side,
		Quantity:      qty,
		Status:        "FILLED",
	}

	logger.Info("Бумажный ордер исполнен",
		zap.String("order_id", order.ID),
		zap.String("side", string(side)),
		zap.Float64("quantity", qty),
		zap.Float64("fill_price", fillPrice),
		zap.Float64("slippage", slippage))

	return order, nil
}
