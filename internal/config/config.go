package config

import (
	"fmt"
	"strings"

	"candlesync/internal/market"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults()
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Exchange.MaxPerRequest > 1000 {
		return fmt.Errorf("exchange.max_per_request 不能超过 1000")
	}
	seen := make(map[string]bool, len(cfg.Sync.Pairs))
	for i, p := range cfg.Sync.Pairs {
		if strings.TrimSpace(p.Symbol) == "" {
			return fmt.Errorf("sync.pairs[%d]: symbol 不能为空", i)
		}
		if _, err := market.ParseTimeframe(p.Timeframe); err != nil {
			return fmt.Errorf("sync.pairs[%d]: %w", i, err)
		}
		key := p.Key()
		if seen[key] {
			return fmt.Errorf("sync.pairs[%d]: 重复的 pair %s", i, key)
		}
		seen[key] = true
	}
	return nil
}
