package config

import (
	"strings"
	"time"

	symbolpkg "candlesync/internal/pkg/symbol"
)

// Config 是 candlesync 的主配置载体。
type Config struct {
	App      AppConfig      `toml:"app"`
	Exchange ExchangeConfig `toml:"exchange"`
	Store    StoreConfig    `toml:"store"`
	Sync     SyncConfig     `toml:"sync"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// ExchangeConfig 描述数据源 REST 端点与限流/重试参数。
type ExchangeConfig struct {
	BaseURL               string `toml:"base_url"`
	KlinesPath            string `toml:"klines_path"`
	Source                string `toml:"source"`
	HTTPTimeoutSeconds    int    `toml:"http_timeout_seconds"`
	MaxPerRequest         int    `toml:"max_per_request"`
	MaxRetries            int    `toml:"max_retries"`
	RetryBaseDelayMillis  int    `toml:"retry_base_delay_ms"`
	RetryMaxDelayMillis   int    `toml:"retry_max_delay_ms"`
	RateLimitPerMin       int    `toml:"rate_limit_per_min"`
	BreakerFailures       int    `toml:"breaker_failures"`
	BreakerTimeoutSeconds int    `toml:"breaker_timeout_seconds"`
}

type StoreConfig struct {
	CandlePath  string `toml:"candle_path"`
	SyncLogPath string `toml:"sync_log_path"`
}

// SyncConfig 控制后台刷新与补齐并发。
type SyncConfig struct {
	IntervalMinutes     int          `toml:"interval_minutes"`
	BackfillDays        int          `toml:"backfill_days"`
	RunImmediately      bool         `toml:"run_immediately"`
	MaxConcurrentChunks int          `toml:"max_concurrent_chunks"`
	ChunkTimeoutSeconds int          `toml:"chunk_timeout_seconds"`
	TotalTimeoutSeconds int          `toml:"total_timeout_seconds"`
	Pairs               []PairConfig `toml:"pairs"`
}

// PairConfig 描述一个后台跟踪的 symbol@timeframe。
type PairConfig struct {
	Symbol    string `toml:"symbol"`
	Timeframe string `toml:"timeframe"`
}

func (p PairConfig) Key() string {
	return symbolpkg.Canonical(p.Symbol) + "@" + strings.ToLower(strings.TrimSpace(p.Timeframe))
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = ":9980"
	}
	if c.Store.CandlePath == "" {
		c.Store.CandlePath = "data/candles.db"
	}
	if c.Store.SyncLogPath == "" {
		c.Store.SyncLogPath = "data/synclog.db"
	}
	if c.Sync.IntervalMinutes <= 0 {
		c.Sync.IntervalMinutes = 60
	}
	if c.Sync.BackfillDays <= 0 {
		c.Sync.BackfillDays = 30
	}
	if c.Sync.MaxConcurrentChunks <= 0 {
		c.Sync.MaxConcurrentChunks = 5
	}
	if c.Sync.ChunkTimeoutSeconds <= 0 {
		c.Sync.ChunkTimeoutSeconds = 60
	}
	if c.Sync.TotalTimeoutSeconds <= 0 {
		c.Sync.TotalTimeoutSeconds = 300
	}
}

// Interval 返回调度周期。
func (c SyncConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// Backfill 返回无数据时的回看窗口。
func (c SyncConfig) Backfill() time.Duration {
	return time.Duration(c.BackfillDays) * 24 * time.Hour
}
