package exchange

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/skalibog/sigbot/internal/config"
	"github.com/skalibog/sigbot/pkg/models"
)

// BinanceClient клиент для взаимодействия со спотовым рынком Binance
type BinanceClient struct {
	spot      *binance.Client
	baseAsset string
	precision int32
}

// NewBinanceClient создает новый клиент Binance
func NewBinanceClient(cfg config.BinanceConfig, baseAsset string, precision int32) *BinanceClient {
	// Тестовая сеть выбирается глобально до создания клиента
	binance.UseTestnet = cfg.Testnet

	return &BinanceClient{
		spot:      binance.NewClient(cfg.APIKey, cfg.APISecret),
		baseAsset: baseAsset,
		precision: precision,
	}
}

// Ping проверяет доступность биржи
func (c *BinanceClient) Ping(ctx context.Context) error {
	if err := c.spot.NewPingService().Do(ctx); err != nil {
		return fmt.Errorf("биржа недоступна: %w", err)
	}
	return nil
}

// FetchCandles получает исторические свечи в хронологическом порядке
func (c *BinanceClient) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]*models.Candle, error) {
	klines, err := c.spot.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения свечей: %w", err)
	}

	candles := make([]*models.Candle, len(klines))
	for i, k := range klines {
		candle := &models.Candle{
			Symbol:    symbol,
			Interval:  interval,
			OpenTime:  time.UnixMilli(k.OpenTime),
			CloseTime: time.UnixMilli(k.CloseTime),
		}
		fields := []struct {
			dst *float64
			src string
		}{
			{&candle.Open, k.Open},
			{&candle.High, k.High},
			{&candle.Low, k.Low},
			{&candle.Close, k.Close},
			{&candle.Volume, k.Volume},
		}
		for _, f := range fields {
			if *f.dst, err = strconv.ParseFloat(f.src, 64); err != nil {
				return nil, fmt.Errorf("ошибка разбора свечи %d: %w", k.OpenTime, err)
			}
		}
		candles[i] = candle
	}

	return candles, nil
}

// FetchPrice получает текущую цену символа
func (c *BinanceClient) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := c.spot.NewListPricesService().
		Symbol(symbol).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("ошибка получения цены: %w", err)
	}

	for _, p := range prices {
		if p.Symbol != symbol {
			continue
		}
		price, err := strconv.ParseFloat(p.Price, 64)
		if err != nil {
			return 0, fmt.Errorf("ошибка разбора цены %q: %w", p.Price, err)
		}
		return price, nil
	}

	return 0, fmt.Errorf("не найдена цена для %s", symbol)
}

// FetchBalance получает свободный баланс актива
func (c *BinanceClient) FetchBalance(ctx context.Context, asset string) (float64, error) {
	account, err := c.spot.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("ошибка получения баланса: %w", err)
	}

	for _, b := range account.Balances {
		if b.Asset != asset {
			continue
		}
		free, err := strconv.ParseFloat(b.Free, 64)
		if err != nil {
			return 0, fmt.Errorf("ошибка разбора баланса %q: %w", b.Free, err)
		}
		return free, nil
	}

	// Актив без движения в аккаунте не возвращается
	return 0, nil
}

// MarketBuy рыночная покупка
func (c *BinanceClient) MarketBuy(ctx context.Context, symbol string, quantity float64) (*models.Order, error) {
	return c.marketOrder(ctx, symbol, binance.SideTypeBuy, quantity)
}

// MarketSell рыночная продажа
func (c *BinanceClient) MarketSell(ctx context.Context, symbol string, quantity float64) (*models.Order, error) {
	return c.marketOrder(ctx, symbol, binance.SideTypeSell, quantity)
}

func (c *BinanceClient) marketOrder(ctx context.Context, symbol string, side binance.SideType, quantity float64) (*models.Order, error) {
	qty, err := FormatQuantity(quantity, c.precision)
	if err != nil {
		return nil, err
	}

	clientID := uuid.NewString()
	resp, err := c.spot.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(binance.OrderTypeMarket).
		Quantity(qty).
		NewClientOrderID(clientID).
		Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("биржа отклонила ордер (код %d): %s", apiErr.Code, apiErr.Message)
		}
		return nil, fmt.Errorf("ошибка отправки ордера: %w", err)
	}

	executed, err := strconv.ParseFloat(resp.ExecutedQuantity, 64)
	if err != nil || executed <= 0 {
		executed, _ = strconv.ParseFloat(qty, 64)
	}
	if side == binance.SideTypeBuy {
		// Комиссия в базовом активе уменьшает то, что реально можно продать
		executed = netOfCommission(executed, resp.Fills, c.baseAsset, c.precision)
	}

	return &models.Order{
		ID:            strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID: resp.ClientOrderID,
		Symbol:        resp.Symbol,
		Side:          models.Side(side),
		Quantity:      executed,
		Status:        string(resp.Status),
	}, nil
}

// netOfCommission вычитает комиссии, списанные в базовом активе, и округляет
// остаток вниз до шага лота
func netOfCommission(executed float64, fills []*binance.Fill, baseAsset string, precision int32) float64 {
	net := decimal.NewFromFloat(executed)
	for _, f := range fills {
		if f == nil || f.CommissionAsset != baseAsset {
			continue
		}
		fee, err := decimal.NewFromString(f.Commission)
		if err != nil {
			continue
		}
		net = net.Sub(fee)
	}
	if !net.IsPositive() {
		return 0
	}
	return net.Truncate(precision).InexactFloat64()
}
