package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/skalibog/sigbot/internal/errs"
	"github.com/skalibog/sigbot/pkg/logger"
	"github.com/skalibog/sigbot/pkg/models"
	"go.uber.org/zap"
)

// Metrics метрики торгового цикла. Нулевой указатель допустим: все методы
// в этом случае ничего не делают.
type Metrics struct {
	CyclesTotal     *prometheus.CounterVec // labels: outcome
	CycleDuration   prometheus.Histogram
	SignalsTotal    *prometheus.CounterVec // labels: signal
	OrdersTotal     *prometheus.CounterVec // labels: side, reason
	PositionLong    prometheus.Gauge
	LastPrice       prometheus.Gauge
	RealizedPnL     prometheus.Gauge
	ExchangeLatency *prometheus.HistogramVec // labels: op
	ExchangeErrors  *prometheus.CounterVec   // labels: op
}

// New создает метрики и регистрирует их в reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigbot_cycles_total",
			Help: "Completed trading cycles by outcome",
		}, []string{"outcome"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sigbot_cycle_duration_seconds",
			Help:    "Trading cycle latency",
			Buckets: prometheus.DefBuckets,
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigbot_signals_total",
			Help: "Signals raised by evaluator",
		}, []string{"signal"}),
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigbot_orders_total",
			Help: "Market orders executed",
		}, []string{"side", "reason"}),
		PositionLong: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sigbot_position_long",
			Help: "1 when a position is held, 0 when flat",
		}),
		LastPrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sigbot_last_price",
			Help: "Last observed price",
		}),
		RealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sigbot_realized_pnl",
			Help: "Cumulative realized profit and loss in quote asset",
		}),
		ExchangeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sigbot_exchange_request_duration_seconds",
			Help:    "Exchange call latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		ExchangeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigbot_exchange_errors_total",
			Help: "Failed exchange calls",
		}, []string{"op"}),
	}

	reg.MustRegister(
		m.CyclesTotal,
		m.CycleDuration,
		m.SignalsTotal,
		m.OrdersTotal,
		m.PositionLong,
		m.LastPrice,
		m.RealizedPnL,
		m.ExchangeLatency,
		m.ExchangeErrors,
	)
	return m
}

// ObserveCycle учитывает итог цикла
func (m *Metrics) ObserveCycle(report *models.CycleReport, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.CycleDuration.Observe(d.Seconds())

	if err != nil {
		m.CyclesTotal.WithLabelValues(string(errs.KindOf(err))).Inc()
		return
	}
	if report == nil {
		return
	}
	m.CyclesTotal.WithLabelValues(string(report.Action)).Inc()

	if report.Price > 0 {
		m.LastPrice.Set(report.Price)
	}
	if report.Long {
		m.PositionLong.Set(1)
	} else {
		m.PositionLong.Set(0)
	}

	s := report.Signals
	for name, on := range map[string]bool{
		"trend_cross_up":      s.TrendCrossUp,
		"trend_cross_down":    s.TrendCrossDown,
		"momentum_oversold":   s.MomentumOversold,
		"momentum_overbought": s.MomentumOverbought,
	} {
		if on {
			m.SignalsTotal.WithLabelValues(name).Inc()
		}
	}

	if t := report.Trade; t != nil {
		m.OrdersTotal.WithLabelValues(string(t.Side), t.Reason).Inc()
		if t.Side == models.SideSell {
			m.RealizedPnL.Add(t.PnL)
		}
	}
}

// ObserveExchange учитывает вызов биржи
func (m *Metrics) ObserveExchange(op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.ExchangeLatency.WithLabelValues(op).Observe(d.Seconds())
	if err != nil {
		m.ExchangeErrors.WithLabelValues(op).Inc()
	}
}

// Serve отдает /metrics до отмены контекста
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Сервер метрик запущен", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
