package exchange

import (
	"context"
	"time"

	"github.com/skalibog/sigbot/internal/metrics"
	"github.com/skalibog/sigbot/internal/trace"
	"github.com/skalibog/sigbot/pkg/logger"
	"github.com/skalibog/sigbot/pkg/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// observed оборачивает биржу трассировкой, метриками и отладочным логом
type observed struct {
	next    Exchange
	metrics *metrics.Metrics
}

var _ Exchange = (*observed)(nil)

// Observe добавляет наблюдаемость к любой реализации Exchange
func Observe(next Exchange, m *metrics.Metrics) Exchange {
	return &observed{next: next, metrics: m}
}

func (o *observed) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span, func(error)) {
	ctx, span := trace.StartSpan(ctx, "exchange."+op, oteltrace.WithAttributes(attrs...))
	started := time.Now()

	return ctx, span, func(err error) {
		elapsed := time.Since(started)
		o.metrics.ObserveExchange(op, elapsed, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Debug("Ошибка вызова биржи", zap.String("op", op), zap.Duration("elapsed", elapsed), zap.Error(err))
		} else {
			logger.Debug("Вызов биржи", zap.String("op", op), zap.Duration("elapsed", elapsed))
		}
		span.End()
	}
}

func (o *observed) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]*models.Candle, error) {
	ctx, span, done := o.start(ctx, "candles",
		attribute.String("symbol", symbol),
		attribute.String("interval", interval),
		attribute.Int("limit", limit))

	candles, err := o.next.FetchCandles(ctx, symbol, interval, limit)
	span.SetAttributes(attribute.Int("count", len(candles)))
	done(err)
	return candles, err
}

func (o *observed) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	ctx, span, done := o.start(ctx, "price", attribute.String("symbol", symbol))

	price, err := o.next.FetchPrice(ctx, symbol)
	span.SetAttributes(attribute.Float64("price", price))
	done(err)
	return price, err
}

func (o *observed) FetchBalance(ctx context.Context, asset string) (float64, error) {
	ctx, _, done := o.start(ctx, "balance", attribute.String("asset", asset))

	free, err := o.next.FetchBalance(ctx, asset)
	done(err)
	return free, err
}

func (o *observed) MarketBuy(ctx context.Context, symbol string, quantity float64) (*models.Order, error) {
	ctx, _, done := o.start(ctx, "buy", attribute.String("symbol", symbol), attribute.Float64("quantity", quantity))

	order, err := o.next.MarketBuy(ctx, symbol, quantity)
	done(err)
	return order, err
}

func (o *observed) MarketSell(ctx context.Context, symbol string, quantity float64) (*models.Order, error) {
	ctx, _, done := o.start(ctx, "sell", attribute.String("symbol", symbol), attribute.Float64("quantity", quantity))

	order, err := o.next.MarketSell(ctx, symbol, quantity)
	done(err)
	return order, err
}
