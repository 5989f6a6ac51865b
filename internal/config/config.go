package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/skalibog/sigbot/internal/errs"
	"github.com/skalibog/sigbot/pkg/logger"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// Режимы торговли
const (
	ModePaper = "paper"
	ModeLive  = "live"
)

// Config представляет полную конфигурацию приложения
type Config struct {
	Binance    BinanceConfig   `yaml:"binance"`
	Trading    TradingConfig   `yaml:"trading"`
	Indicators IndicatorConfig `yaml:"indicators"`
	Signal     SignalConfig    `yaml:"signal"`
	Risk       RiskConfig      `yaml:"risk"`
	Paper      PaperConfig     `yaml:"paper"`
	Storage    StorageConfig   `yaml:"storage"`
	State      StateConfig     `yaml:"state"`
	Metrics    MetricsConfig   `yaml:"metrics"`
	Tracing    TracingConfig   `yaml:"tracing"`
	Log        logger.Config   `yaml:"log"`
	UI         UIConfig        `yaml:"ui"`
}

// BinanceConfig содержит настройки подключения к Binance
type BinanceConfig struct {
	APIKey              string `yaml:"api_key"`
	APISecret           string `yaml:"api_secret"`
	Testnet             bool   `yaml:"testnet"`
	ReadyTimeoutSeconds int    `yaml:"ready_timeout_seconds" validate:"gte=0"`
}

// TradingConfig содержит настройки торговли
type TradingConfig struct {
	Mode                 string `yaml:"mode" validate:"oneof=paper live"`
	Symbol               string `yaml:"symbol" validate:"required,uppercase"`
	BaseAsset            string `yaml:"base_asset" validate:"required,uppercase"`
	QuoteAsset           string `yaml:"quote_asset" validate:"required,uppercase"`
	Interval             string `yaml:"interval" validate:"oneof=1m 3m 5m 15m 30m 1h 2h 4h 6h 8h 12h 1d 3d 1w"`
	CandleLimit          int    `yaml:"candle_limit" validate:"gte=2,lte=1000"`
	CycleIntervalSeconds int    `yaml:"cycle_interval_seconds" validate:"gte=1"`
	QuantityPrecision    int32  `yaml:"quantity_precision" validate:"gte=0,lte=8"`
}

// IndicatorConfig окна индикаторов
type IndicatorConfig struct {
	ShortWindow    int `yaml:"short_window" validate:"gte=1"`
	LongWindow     int `yaml:"long_window" validate:"gte=2"`
	MomentumWindow int `yaml:"momentum_window" validate:"gte=2"`
}

// SignalConfig пороги осциллятора
type SignalConfig struct {
	Oversold   float64 `yaml:"oversold" validate:"gte=0,lte=100"`
	Overbought float64 `yaml:"overbought" validate:"gte=0,lte=100"`
}

// RiskConfig пороги риск-менеджмента
type RiskConfig struct {
	StopLossPct   float64 `yaml:"stop_loss_pct" validate:"gt=0,lt=100"`
	TakeProfitPct float64 `yaml:"take_profit_pct" validate:"gt=0"`
	MaxSpend      float64 `yaml:"max_spend" validate:"gt=0"`
}

// PaperConfig настройки бумажной торговли
type PaperConfig struct {
	QuoteBalance float64 `yaml:"quote_balance" validate:"gte=0"`
	SlippageBps  int64   `yaml:"slippage_bps" validate:"gte=0"`
}

// StorageConfig настройки хранения данных
type StorageConfig struct {
	Type         string `yaml:"type" validate:"oneof=none influxdb"`
	URL          string `yaml:"url"`
	Token        string `yaml:"token"`
	Organization string `yaml:"organization"`
	Bucket       string `yaml:"bucket"`
}

// StateConfig путь к SQLite-файлу состояния позиции
type StateConfig struct {
	Path string `yaml:"path"`
}

// MetricsConfig настройки Prometheus
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// TracingConfig настройки OpenTelemetry
type TracingConfig struct {
	Enabled bool   `yaml:"enabled"`
	File    string `yaml:"file"`
}

// UIConfig настройки пользовательского интерфейса
type UIConfig struct {
	Enabled     bool `yaml:"enabled"`
	RefreshRate int  `yaml:"refresh_rate_ms"`
}

// Default возвращает конфигурацию по умолчанию
func Default() Config {
	return Config{
		Binance: BinanceConfig{ReadyTimeoutSeconds: 30},
		Trading: TradingConfig{
			Mode:                 ModePaper,
			Symbol:               "BTCUSDT",
			BaseAsset:            "BTC",
			QuoteAsset:           "USDT",
			Interval:             "5m",
			CandleLimit:          50,
			CycleIntervalSeconds: 60,
			QuantityPrecision:    5,
		},
		Indicators: IndicatorConfig{ShortWindow: 9, LongWindow: 21, MomentumWindow: 14},
		Signal:     SignalConfig{Oversold: 35, Overbought: 65},
		Risk:       RiskConfig{StopLossPct: 2, TakeProfitPct: 4, MaxSpend: 10},
		Paper:      PaperConfig{QuoteBalance: 1000, SlippageBps: 5},
		Storage:    StorageConfig{Type: "none"},
		State:      StateConfig{Path: "state.db"},
		Metrics:    MetricsConfig{Addr: ":9090"},
		Tracing:    TracingConfig{File: "traces.json"},
		Log:        logger.Config{Level: "info", File: "app.log", JSONFile: "app.json.log"},
		UI:         UIConfig{RefreshRate: 1000},
	}
}

// Load загружает конфигурацию из файла. Поля, отсутствующие в файле,
// берутся из Default, ключи API можно переопределить через окружение (.env).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errs.ConfigError{Err: fmt.Errorf("ошибка чтения файла конфигурации: %w", err)}
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	logger.Info("Загружена конфигурация", zap.String("path", path), zap.String("symbol", cfg.Trading.Symbol), zap.String("mode", cfg.Trading.Mode))
	return cfg, nil
}

// Parse разбирает YAML, применяет окружение и проверяет результат
func Parse(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, &errs.ConfigError{Err: fmt.Errorf("ошибка разбора файла конфигурации: %w", err)}
	}

	// .env необязателен
	_ = godotenv.Load()
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		config.Binance.APIKey = v
	}
	if v := os.Getenv("BINANCE_API_SECRET"); v != "" {
		config.Binance.APISecret = v
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate проверяет значения и их согласованность
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &errs.ConfigError{
				Field: fe.Namespace(),
				Err:   fmt.Errorf("значение %v не проходит проверку %s", fe.Value(), fe.Tag()),
			}
		}
		return &errs.ConfigError{Err: err}
	}

	if c.Trading.Symbol != c.Trading.BaseAsset+c.Trading.QuoteAsset {
		return &errs.ConfigError{
			Field: "trading.symbol",
			Err:   fmt.Errorf("%s не совпадает с %s+%s", c.Trading.Symbol, c.Trading.BaseAsset, c.Trading.QuoteAsset),
		}
	}
	if c.Indicators.ShortWindow >= c.Indicators.LongWindow {
		return &errs.ConfigError{
			Field: "indicators.short_window",
			Err:   fmt.Errorf("короткое окно %d должно быть меньше длинного %d", c.Indicators.ShortWindow, c.Indicators.LongWindow),
		}
	}
	// Минимум две валидные строки фрейма
	if need := c.Indicators.LongWindow + c.Indicators.MomentumWindow + 1; c.Trading.CandleLimit < need {
		return &errs.ConfigError{
			Field: "trading.candle_limit",
			Err:   fmt.Errorf("для окон %d/%d нужно не меньше %d свечей, задано %d", c.Indicators.LongWindow, c.Indicators.MomentumWindow, need, c.Trading.CandleLimit),
		}
	}
	if c.Signal.Oversold >= c.Signal.Overbought {
		return &errs.ConfigError{
			Field: "signal.oversold",
			Err:   fmt.Errorf("порог перепроданности %.2f должен быть меньше порога перекупленности %.2f", c.Signal.Oversold, c.Signal.Overbought),
		}
	}
	if c.Trading.Mode == ModeLive && (c.Binance.APIKey == "" || c.Binance.APISecret == "") {
		return &errs.ConfigError{Field: "binance.api_key", Err: errors.New("для режима live нужны ключи API")}
	}
	if c.Storage.Type == "influxdb" && (c.Storage.URL == "" || c.Storage.Bucket == "") {
		return &errs.ConfigError{Field: "storage.url", Err: errors.New("для influxdb нужны url и bucket")}
	}
	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.Addr) == "" {
		return &errs.ConfigError{Field: "metrics.addr", Err: errors.New("адрес метрик не задан")}
	}
	return nil
}
