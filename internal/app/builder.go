package app

import (
	"context"
	"time"

	"candlesync/internal/backtest"
	cscfg "candlesync/internal/config"
	"candlesync/internal/exchange"
	"candlesync/internal/store"
	"candlesync/internal/store/synclog"
	"candlesync/internal/syncer"
	apihttp "candlesync/internal/transport/http/api"
)

type AppBuilder struct {
	cfgPath string
	cfg     *cscfg.Config

	sourceOverride syncer.KlineSource
}

type AppBuilderOption func(*AppBuilder)

// WithSource 替换交易所数据源（测试用）。
func WithSource(src syncer.KlineSource) AppBuilderOption {
	return func(b *AppBuilder) { b.sourceOverride = src }
}

func NewAppBuilder(cfgPath string, cfg *cscfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{cfgPath: cfgPath, cfg: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := b.cfg

	candles, err := store.Open(cfg.Store.CandlePath)
	if err != nil {
		return nil, err
	}
	cache := store.NewCache(candles)

	audit, err := synclog.Open(cfg.Store.SyncLogPath)
	if err != nil {
		_ = candles.Close()
		return nil, err
	}

	source := b.sourceOverride
	if source == nil {
		source = exchange.New(exchange.Config{
			BaseURL:         cfg.Exchange.BaseURL,
			KlinesPath:      cfg.Exchange.KlinesPath,
			Source:          cfg.Exchange.Source,
			HTTPTimeout:     time.Duration(cfg.Exchange.HTTPTimeoutSeconds) * time.Second,
			MaxPerRequest:   cfg.Exchange.MaxPerRequest,
			MaxRetries:      cfg.Exchange.MaxRetries,
			RetryBaseDelay:  time.Duration(cfg.Exchange.RetryBaseDelayMillis) * time.Millisecond,
			RetryMaxDelay:   time.Duration(cfg.Exchange.RetryMaxDelayMillis) * time.Millisecond,
			RateLimitPerMin: cfg.Exchange.RateLimitPerMin,
			BreakerFailures: cfg.Exchange.BreakerFailures,
			BreakerTimeout:  time.Duration(cfg.Exchange.BreakerTimeoutSeconds) * time.Second,
		})
	}

	filler := syncer.NewFiller(candles, cache, source, syncer.FillerConfig{
		MaxConcurrent: cfg.Sync.MaxConcurrentChunks,
		ChunkTimeout:  time.Duration(cfg.Sync.ChunkTimeoutSeconds) * time.Second,
		TotalTimeout:  time.Duration(cfg.Sync.TotalTimeoutSeconds) * time.Second,
	})

	pairs := make([]store.Pair, 0, len(cfg.Sync.Pairs))
	for _, p := range cfg.Sync.Pairs {
		pairs = append(pairs, store.Pair{Symbol: p.Symbol, Timeframe: p.Timeframe})
	}
	scheduler := syncer.NewScheduler(filler, audit, pairs, syncer.SchedulerConfig{
		Interval:       cfg.Sync.Interval(),
		Backfill:       cfg.Sync.Backfill(),
		RunImmediately: cfg.Sync.RunImmediately,
	})

	gate := syncer.NewGate(filler, candles, audit)
	runner := backtest.NewRunner(gate)

	server, err := apihttp.NewServer(apihttp.ServerConfig{
		Addr:      cfg.App.HTTPAddr,
		Gate:      gate,
		Cache:     cache,
		Scheduler: scheduler,
		Audit:     audit,
	})
	if err != nil {
		_ = audit.Close()
		_ = candles.Close()
		return nil, err
	}

	return &App{
		cfg:       cfg,
		cfgPath:   b.cfgPath,
		pairs:     append([]cscfg.PairConfig(nil), cfg.Sync.Pairs...),
		candles:   candles,
		cache:     cache,
		audit:     audit,
		filler:    filler,
		scheduler: scheduler,
		gate:      gate,
		runner:    runner,
		server:    server,
	}, nil
}
