package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/skalibog/sigbot/internal/config"
	"github.com/skalibog/sigbot/internal/engine"
	"github.com/skalibog/sigbot/internal/exchange"
	"github.com/skalibog/sigbot/internal/metrics"
	"github.com/skalibog/sigbot/internal/scheduler"
	"github.com/skalibog/sigbot/internal/state"
	"github.com/skalibog/sigbot/internal/storage"
	"github.com/skalibog/sigbot/internal/trace"
	"github.com/skalibog/sigbot/internal/ui"
	"github.com/skalibog/sigbot/pkg/logger"
	"github.com/skalibog/sigbot/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Обработка флагов командной строки
	configPath := flag.String("config", "config.yaml", "путь к файлу конфигурации")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "sigbot: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// Загружаем конфигурацию
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Консоль занята интерфейсом
	if cfg.UI.Enabled {
		cfg.Log.Console = false
	}
	if err := logger.Init(cfg.Log); err != nil {
		return fmt.Errorf("ошибка инициализации логгера: %w", err)
	}
	defer logger.Sync()

	logger.Info("Запуск sigbot",
		zap.String("symbol", cfg.Trading.Symbol),
		zap.String("mode", cfg.Trading.Mode),
		zap.String("interval", cfg.Trading.Interval),
		zap.Int("cycle_interval_seconds", cfg.Trading.CycleIntervalSeconds))

	// Завершение по SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := trace.Init(cfg.Tracing); err != nil {
		return fmt.Errorf("ошибка инициализации трассировки: %w", err)
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := trace.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Ошибка завершения трассировки", zap.Error(err))
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	// Инициализируем клиент биржи
	client := exchange.NewBinanceClient(cfg.Binance, cfg.Trading.BaseAsset, cfg.Trading.QuantityPrecision)
	readyTimeout := time.Duration(cfg.Binance.ReadyTimeoutSeconds) * time.Second
	if readyTimeout > 0 {
		if err := exchange.WaitReady(ctx, client, readyTimeout); err != nil {
			return err
		}
	}

	var ex exchange.Exchange = client
	if cfg.Trading.Mode == config.ModePaper {
		ex = exchange.NewPaper(client, exchange.PaperConfig{
			BaseAsset:    cfg.Trading.BaseAsset,
			QuoteAsset:   cfg.Trading.QuoteAsset,
			QuoteBalance: cfg.Paper.QuoteBalance,
			SlippageBps:  cfg.Paper.SlippageBps,
			Precision:    cfg.Trading.QuantityPrecision,
		})
		logger.Info("Бумажная торговля", zap.Float64("quote_balance", cfg.Paper.QuoteBalance))
	}
	ex = exchange.Observe(ex, m)

	// Состояние позиции переживает перезапуск
	var store state.Store = state.NewMemory()
	if cfg.State.Path != "" {
		sqlite, err := state.NewSQLiteStore(cfg.State.Path)
		if err != nil {
			return err
		}
		store = sqlite
	}
	defer store.Close()

	pos, err := state.Recover(ctx, store, cfg.Trading.Symbol)
	if err != nil {
		return err
	}

	// Инициализируем хранилище
	var journal storage.Journal = storage.NewMemory(100)
	if cfg.Storage.Type == "influxdb" {
		influx, err := storage.NewInfluxDBStorage(ctx, cfg.Storage)
		if err != nil {
			return fmt.Errorf("ошибка инициализации хранилища: %w", err)
		}
		journal = influx
	}
	defer journal.Close()

	eng := engine.New(cfg, ex, pos,
		engine.WithStore(store),
		engine.WithJournal(journal),
		engine.WithMetrics(m),
	)

	var userInterface *ui.TermUI
	if cfg.UI.Enabled {
		userInterface = ui.NewTermUI(ctx, cfg.UI, eng, cfg.Log.JSONFile)
	}

	onReport := func(report *models.CycleReport, err error) {
		if userInterface != nil {
			userInterface.Update(report, err)
		}
	}
	sched := scheduler.New(eng, time.Duration(cfg.Trading.CycleIntervalSeconds)*time.Second, onReport)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx)
	})
	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return metrics.Serve(gctx, cfg.Metrics.Addr, registry)
		})
	}

	if userInterface != nil {
		// UI в основном потоке; выход из UI завершает бота
		if err := userInterface.Start(gctx); err != nil {
			logger.Error("Ошибка пользовательского интерфейса", zap.Error(err))
		}
		sched.Stop()
		cancel()
	}

	err = g.Wait()
	logger.Info("Завершение работы", zap.Int64("cycles", sched.Cycles()))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
