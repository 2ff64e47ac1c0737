package app

import (
	"context"
	"fmt"
	"sync"

	"candlesync/internal/backtest"
	cscfg "candlesync/internal/config"
	"candlesync/internal/logger"
	"candlesync/internal/store"
	"candlesync/internal/store/synclog"
	"candlesync/internal/syncer"
	apihttp "candlesync/internal/transport/http/api"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动 HTTP 与后台刷新。
type App struct {
	cfg     *cscfg.Config
	cfgPath string

	// pairMu 保护 pairs：fsnotify 回调与读取方并发访问。
	pairMu sync.Mutex
	pairs  []cscfg.PairConfig

	candles   *store.CandleStore
	cache     *store.Cache
	audit     *synclog.Store
	filler    *syncer.Filler
	scheduler *syncer.Scheduler
	gate      *syncer.Gate
	runner    *backtest.Runner
	server    *apihttp.Server
}

// NewApp 根据配置构建应用对象（不启动）。cfgPath 用于热加载跟踪列表。
func NewApp(cfgPath string, cfg *cscfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfgPath, cfg)
}

// Gate 暴露数据可用性契约给进程内消费方（回测引擎）。
func (a *App) Gate() *syncer.Gate { return a.gate }

// Runner 返回以 Gate 为数据闸门的回测执行器。
func (a *App) Runner() *backtest.Runner { return a.runner }

// Run 启动 HTTP 服务与后台调度，阻塞直到 ctx 取消或任一组件出错。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.close()

	if err := cscfg.Watch(a.cfgPath, a.applyPairChanges); err != nil {
		logger.Warnf("配置热加载未启用: %v", err)
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return a.scheduler.Run(ctx)
	})
	logger.Infof("✓ candlesync 已启动（env=%s addr=%s pairs=%d）",
		a.cfg.App.Env, a.cfg.App.HTTPAddr, a.trackedPairs())
	return group.Wait()
}

// applyPairChanges 在配置变更后同步跟踪列表：新 pair 加入，消失的 pair 移除。
// 只动独立维护的 pairs 集合，启动时的 cfg 保持只读。
func (a *App) applyPairChanges(newCfg *cscfg.Config) {
	a.pairMu.Lock()
	defer a.pairMu.Unlock()

	current := make(map[string]cscfg.PairConfig, len(a.pairs))
	for _, p := range a.pairs {
		current[p.Key()] = p
	}
	next := make(map[string]cscfg.PairConfig, len(newCfg.Sync.Pairs))
	for _, p := range newCfg.Sync.Pairs {
		next[p.Key()] = p
	}
	for key, p := range next {
		if _, ok := current[key]; !ok {
			a.scheduler.Track(p.Symbol, p.Timeframe)
		}
	}
	for key, p := range current {
		if _, ok := next[key]; !ok {
			a.scheduler.Untrack(p.Symbol, p.Timeframe)
		}
	}
	a.pairs = append([]cscfg.PairConfig(nil), newCfg.Sync.Pairs...)
}

func (a *App) trackedPairs() int {
	a.pairMu.Lock()
	defer a.pairMu.Unlock()
	return len(a.pairs)
}

func (a *App) close() {
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			logger.Warnf("关闭审计存储失败: %v", err)
		}
	}
	if a.candles != nil {
		if err := a.candles.Close(); err != nil {
			logger.Warnf("关闭 K 线存储失败: %v", err)
		}
	}
}
