package exchange

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/skalibog/sigbot/pkg/models"
)

// MarketData рыночные данные, общие для живой и бумажной торговли
type MarketData interface {
	FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]*models.Candle, error)
	FetchPrice(ctx context.Context, symbol string) (float64, error)
}

// Exchange возможности биржи, необходимые торговому циклу
type Exchange interface {
	MarketData
	FetchBalance(ctx context.Context, asset string) (float64, error)
	MarketBuy(ctx context.Context, symbol string, quantity float64) (*models.Order, error)
	MarketSell(ctx context.Context, symbol string, quantity float64) (*models.Order, error)
}

// Проверка соответствия интерфейсу на этапе компиляции
var (
	_ Exchange = (*BinanceClient)(nil)
	_ Exchange = (*Paper)(nil)
)

// FormatQuantity усекает количество до точности лота биржи
func FormatQuantity(quantity float64, precision int32) (string, error) {
	q := decimal.NewFromFloat(quantity).Truncate(precision)
	if !q.IsPositive() {
		return "", fmt.Errorf("количество %v меньше минимального шага 1e-%d", quantity, precision)
	}
	return q.String(), nil
}

// TruncateQuantity то же усечение в виде числа
func TruncateQuantity(quantity float64, precision int32) float64 {
	return decimal.NewFromFloat(quantity).Truncate(precision).InexactFloat64()
}
