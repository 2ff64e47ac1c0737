package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	assert.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("Defaults Applied", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, `
app:
  log_level: debug
sync:
  pairs:
    - symbol: BTCUSDT
      timeframe: 1h
`))
		assert.NoError(t, err)
		assert.Equal(t, "debug", cfg.App.LogLevel)
		assert.Equal(t, ":9980", cfg.App.HTTPAddr)
		assert.Equal(t, "data/candles.db", cfg.Store.CandlePath)
		assert.Equal(t, "data/synclog.db", cfg.Store.SyncLogPath)
		assert.Equal(t, time.Hour, cfg.Sync.Interval())
		assert.Equal(t, 30*24*time.Hour, cfg.Sync.Backfill())
		assert.Equal(t, 5, cfg.Sync.MaxConcurrentChunks)
	})

	t.Run("Full Config", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, `
app:
  http_addr: ":8081"
exchange:
  base_url: "https://testnet.binancefuture.com"
  max_per_request: 500
  max_retries: 6
sync:
  interval_minutes: 30
  backfill_days: 7
  run_immediately: true
  pairs:
    - symbol: btc/usdt
      timeframe: 1h
    - symbol: ETHUSDT
      timeframe: 1d
`))
		assert.NoError(t, err)
		assert.Equal(t, ":8081", cfg.App.HTTPAddr)
		assert.Equal(t, 500, cfg.Exchange.MaxPerRequest)
		assert.Equal(t, 6, cfg.Exchange.MaxRetries)
		assert.Equal(t, 30*time.Minute, cfg.Sync.Interval())
		assert.Equal(t, 7*24*time.Hour, cfg.Sync.Backfill())
		assert.True(t, cfg.Sync.RunImmediately)
		assert.Len(t, cfg.Sync.Pairs, 2)
		assert.Equal(t, "BTCUSDT@1h", cfg.Sync.Pairs[0].Key())
	})

	t.Run("Rejects Oversized Per Request", func(t *testing.T) {
		_, err := Load(writeConfig(t, `
exchange:
  max_per_request: 1500
`))
		assert.Error(t, err)
	})

	t.Run("Rejects Unknown Timeframe", func(t *testing.T) {
		_, err := Load(writeConfig(t, `
sync:
  pairs:
    - symbol: BTCUSDT
      timeframe: 7m
`))
		assert.Error(t, err)
	})

	t.Run("Rejects Duplicate Pair", func(t *testing.T) {
		_, err := Load(writeConfig(t, `
sync:
  pairs:
    - symbol: BTCUSDT
      timeframe: 1h
    - symbol: btc/usdt
      timeframe: 1h
`))
		assert.Error(t, err)
	})

	t.Run("Rejects Empty Symbol", func(t *testing.T) {
		_, err := Load(writeConfig(t, `
sync:
  pairs:
    - symbol: ""
      timeframe: 1h
`))
		assert.Error(t, err)
	})

	t.Run("Missing File", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}
