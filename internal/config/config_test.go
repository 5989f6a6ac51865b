package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/skalibog/sigbot/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
trading:
  symbol: ETHUSDT
  base_asset: ETH
  quote_asset: USDT
`))
	require.NoError(t, err)

	assert.Equal(t, "ETHUSDT", cfg.Trading.Symbol)
	assert.Equal(t, ModePaper, cfg.Trading.Mode)
	assert.Equal(t, 50, cfg.Trading.CandleLimit)
	assert.Equal(t, 60, cfg.Trading.CycleIntervalSeconds)
	assert.Equal(t, 9, cfg.Indicators.ShortWindow)
	assert.Equal(t, 21, cfg.Indicators.LongWindow)
	assert.Equal(t, 14, cfg.Indicators.MomentumWindow)
	assert.Equal(t, 35.0, cfg.Signal.Oversold)
	assert.Equal(t, 65.0, cfg.Signal.Overbought)
}

func TestParseOverridesThresholds(t *testing.T) {
	cfg, err := Parse([]byte(`
signal:
  oversold: 30
  overbought: 70
risk:
  stop_loss_pct: 5
  take_profit_pct: 10
  max_spend: 25
`))
	require.NoError(t, err)

	assert.Equal(t, 30.0, cfg.Signal.Oversold)
	assert.Equal(t, 70.0, cfg.Signal.Overbought)
	assert.Equal(t, 5.0, cfg.Risk.StopLossPct)
	assert.Equal(t, 10.0, cfg.Risk.TakeProfitPct)
	assert.Equal(t, 25.0, cfg.Risk.MaxSpend)
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"symbol mismatch":     "trading:\n  symbol: ETHUSDT\n",
		"windows inverted":    "indicators:\n  short_window: 30\n  long_window: 21\n",
		"thresholds inverted": "signal:\n  oversold: 70\n  overbought: 30\n",
		"too few candles":     "trading:\n  candle_limit: 20\n",
		"bad interval":        "trading:\n  interval: 7m\n",
		"zero spend":          "risk:\n  max_spend: -1\n",
		"bad mode":            "trading:\n  mode: margin\n",
		"influx without url":  "storage:\n  type: influxdb\n",
		"broken yaml":         "trading: [",
	}

	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
			assert.Equal(t, errs.KindConfiguration, errs.KindOf(err))
		})
	}
}

func TestLiveModeRequiresKeys(t *testing.T) {
	t.Setenv("BINANCE_API_KEY", "")
	t.Setenv("BINANCE_API_SECRET", "")

	_, err := Parse([]byte("trading:\n  mode: live\n"))
	require.Error(t, err)

	t.Setenv("BINANCE_API_KEY", "key")
	t.Setenv("BINANCE_API_SECRET", "secret")

	cfg, err := Parse([]byte("trading:\n  mode: live\n"))
	require.NoError(t, err)
	assert.Equal(t, "key", cfg.Binance.APIKey)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, errs.KindConfiguration, errs.KindOf(err))
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("trading:\n  interval: 1h\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "1h", cfg.Trading.Interval)
}
