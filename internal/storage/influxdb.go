package storage

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/skalibog/sigbot/internal/config"
	"github.com/skalibog/sigbot/pkg/logger"
	"github.com/skalibog/sigbot/pkg/models"
	"go.uber.org/zap"
)

// InfluxDBStorage реализует интерфейс Journal с использованием InfluxDB
type InfluxDBStorage struct {
	client   influxdb2.Client
	queryAPI api.QueryAPI
	writeAPI api.WriteAPI
	org      string
	bucket   string
}

// NewInfluxDBStorage создает новое хранилище InfluxDB
func NewInfluxDBStorage(ctx context.Context, cfg config.StorageConfig) (*InfluxDBStorage, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Проверка соединения
	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ошибка соединения с InfluxDB: %w", err)
	}
	if health == nil || health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("InfluxDB не в состоянии 'pass': %+v", health)
	}

	writeAPI := client.WriteAPI(cfg.Organization, cfg.Bucket)
	// Асинхронная запись сообщает об ошибках только через канал
	go func() {
		for err := range writeAPI.Errors() {
			logger.Error("Ошибка записи в InfluxDB", zap.Error(err))
		}
	}()

	return &InfluxDBStorage{
		client:   client,
		queryAPI: client.QueryAPI(cfg.Organization),
		writeAPI: writeAPI,
		org:      cfg.Organization,
		bucket:   cfg.Bucket,
	}, nil
}

// Close сбрасывает буфер и закрывает соединение
func (s *InfluxDBStorage) Close() error {
	s.writeAPI.Flush()
	s.client.Close()
	return nil
}

// SaveCandles сохраняет свечи цикла
func (s *InfluxDBStorage) SaveCandles(ctx context.Context, candles []*models.Candle) error {
	for _, candle := range candles {
		s.writeAPI.WritePoint(candlePoint(candle))
	}
	s.writeAPI.Flush()
	return nil
}

// SaveEvaluation сохраняет значения индикаторов и флаги сигналов
func (s *InfluxDBStorage) SaveEvaluation(ctx context.Context, eval *models.Evaluation) error {
	s.writeAPI.WritePoint(evaluationPoint(eval))
	s.writeAPI.Flush()
	return nil
}

// SaveTrade сохраняет исполненную сделку
func (s *InfluxDBStorage) SaveTrade(ctx context.Context, trade *models.Trade) error {
	s.writeAPI.WritePoint(tradePoint(trade))
	s.writeAPI.Flush()
	return nil
}

// GetTradeHistory получает последние сделки, новые первыми
func (s *InfluxDBStorage) GetTradeHistory(ctx context.Context, symbol string, limit int) ([]*models.Trade, error) {
	// Формируем Flux-запрос
	query := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: -30d)
			|> filter(fn: (r) => r._measurement == "trades")
			|> filter(fn: (r) => r.symbol == "%s")
			|> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
			|> group()
			|> sort(columns: ["_time"], desc: true)
			|> limit(n: %d)
	`, s.bucket, symbol, limit)

	result, err := s.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса истории сделок: %w", err)
	}

	var trades []*models.Trade
	for result.Next() {
		record := result.Record()

		side, _ := record.ValueByKey("side").(string)
		reason, _ := record.ValueByKey("reason").(string)
		price, _ := record.ValueByKey("price").(float64)
		quantity, _ := record.ValueByKey("quantity").(float64)
		pnl, _ := record.ValueByKey("pnl").(float64)
		orderID, _ := record.ValueByKey("order_id").(string)

		trades = append(trades, &models.Trade{
			Symbol:    symbol,
			Timestamp: record.Time(),
			Side:      models.Side(side),
			Reason:    reason,
			Price:     price,
			Quantity:  quantity,
			PnL:       pnl,
			OrderID:   orderID,
		})
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("ошибка при обработке результатов: %w", result.Err())
	}

	return trades, nil
}

func candlePoint(candle *models.Candle) *write.Point {
	return influxdb2.NewPoint(
		"candles",
		map[string]string{
			"symbol":   candle.Symbol,
			"interval": candle.Interval,
		},
		map[string]interface{}{
			"open":   candle.Open,
			"high":   candle.High,
			"low":    candle.Low,
			"close":  candle.Close,
			"volume": candle.Volume,
		},
		candle.OpenTime,
	)
}

func evaluationPoint(eval *models.Evaluation) *write.Point {
	return influxdb2.NewPoint(
		"evaluations",
		map[string]string{
			"symbol": eval.Symbol,
		},
		map[string]interface{}{
			"price":               eval.Price,
			"short_ma":            eval.Current.ShortMA,
			"long_ma":             eval.Current.LongMA,
			"momentum":            eval.Current.Momentum,
			"trend_cross_up":      eval.Signals.TrendCrossUp,
			"trend_cross_down":    eval.Signals.TrendCrossDown,
			"momentum_oversold":   eval.Signals.MomentumOversold,
			"momentum_overbought": eval.Signals.MomentumOverbought,
			"buy":                 eval.Signals.Buy(),
			"sell":                eval.Signals.Sell(),
		},
		eval.Timestamp,
	)
}

func tradePoint(trade *models.Trade) *write.Point {
	return influxdb2.NewPoint(
		"trades",
		map[string]string{
			"symbol": trade.Symbol,
		},
		map[string]interface{}{
			"side":     string(trade.Side),
			"reason":   trade.Reason,
			"price":    trade.Price,
			"quantity": trade.Quantity,
			"pnl":      trade.PnL,
			"order_id": trade.OrderID,
		},
		trade.Timestamp,
	)
}
