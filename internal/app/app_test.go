package app

import (
	"sync"
	"testing"

	cscfg "candlesync/internal/config"
	"candlesync/internal/store"
	"candlesync/internal/syncer"

	"github.com/stretchr/testify/assert"
)

func pairCfg(symbol, timeframe string) cscfg.PairConfig {
	return cscfg.PairConfig{Symbol: symbol, Timeframe: timeframe}
}

func cfgWithPairs(pairs ...cscfg.PairConfig) *cscfg.Config {
	cfg := &cscfg.Config{}
	cfg.Sync.Pairs = pairs
	return cfg
}

func TestApplyPairChanges(t *testing.T) {
	newApp := func() *App {
		sched := syncer.NewScheduler(nil, nil, []store.Pair{{Symbol: "BTCUSDT", Timeframe: "1h"}}, syncer.SchedulerConfig{})
		return &App{
			scheduler: sched,
			pairs:     []cscfg.PairConfig{pairCfg("BTCUSDT", "1h")},
		}
	}

	t.Run("Adds And Removes Pairs", func(t *testing.T) {
		a := newApp()
		a.applyPairChanges(cfgWithPairs(pairCfg("ETHUSDT", "1h")))

		states := a.scheduler.Status()
		assert.Len(t, states, 1)
		assert.Equal(t, "ETHUSDT", states[0].Symbol)
		assert.Equal(t, 1, a.trackedPairs())
	})

	t.Run("Unchanged Pair Keeps State", func(t *testing.T) {
		a := newApp()
		a.applyPairChanges(cfgWithPairs(pairCfg("btc/usdt", "1h"), pairCfg("ETHUSDT", "1d")))

		states := a.scheduler.Status()
		assert.Len(t, states, 2)
		assert.Equal(t, "BTCUSDT", states[0].Symbol)
		assert.Equal(t, "ETHUSDT", states[1].Symbol)
	})

	t.Run("Concurrent Reloads Are Serialized", func(t *testing.T) {
		a := newApp()
		target := cfgWithPairs(pairCfg("BTCUSDT", "1h"), pairCfg("ETHUSDT", "1h"))

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				a.applyPairChanges(target)
			}()
		}
		wg.Wait()

		assert.Len(t, a.scheduler.Status(), 2)
		assert.Equal(t, 2, a.trackedPairs())
	})
}
