package store

import (
	"context"
	"strings"
	"sync"

	"candlesync/internal/market"
	symbolpkg "candlesync/internal/pkg/symbol"
)

// Cache 缓存 symbol/timeframe 列表与覆盖边界，写入成功后显式失效，未命中时读穿透。
// 允许最终一致：覆盖范围只会因写入变大，失效时机由写入方保证。
type Cache struct {
	store *CandleStore

	mu         sync.RWMutex
	coverage   map[string]coverageEntry
	symbols    []string
	timeframes []string
}

type coverageEntry struct {
	cov *market.Coverage
}

func NewCache(store *CandleStore) *Cache {
	return &Cache{
		store:    store,
		coverage: make(map[string]coverageEntry),
	}
}

func cacheKey(symbol, timeframe string) string {
	return symbolpkg.Canonical(symbol) + "@" + strings.ToLower(timeframe)
}

// Coverage 返回覆盖边界，nil 表示确认无数据。
func (c *Cache) Coverage(ctx context.Context, symbol, timeframe string) (*market.Coverage, error) {
	key := cacheKey(symbol, timeframe)
	c.mu.RLock()
	entry, ok := c.coverage[key]
	c.mu.RUnlock()
	if ok {
		return copyCoverage(entry.cov), nil
	}
	cov, err := c.store.Coverage(ctx, symbol, timeframe)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.coverage[key] = coverageEntry{cov: copyCoverage(cov)}
	c.mu.Unlock()
	return cov, nil
}

// Symbols 返回已知 symbol 列表（缓存，读穿透）。
func (c *Cache) Symbols(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	cached := c.symbols
	c.mu.RUnlock()
	if cached != nil {
		return append([]string{}, cached...), nil
	}
	list, err := c.store.Symbols(ctx)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []string{}
	}
	c.mu.Lock()
	c.symbols = list
	c.mu.Unlock()
	return append([]string{}, list...), nil
}

// Timeframes 返回已知周期列表（缓存，读穿透）。
func (c *Cache) Timeframes(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	cached := c.timeframes
	c.mu.RUnlock()
	if cached != nil {
		return append([]string{}, cached...), nil
	}
	list, err := c.store.Timeframes(ctx)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []string{}
	}
	c.mu.Lock()
	c.timeframes = list
	c.mu.Unlock()
	return append([]string{}, list...), nil
}

// Invalidate 在写入成功后调用：清掉该 pair 的覆盖缓存；若是新 pair，一并清掉列表缓存。
func (c *Cache) Invalidate(symbol, timeframe string) {
	key := cacheKey(symbol, timeframe)
	c.mu.Lock()
	entry, seen := c.coverage[key]
	delete(c.coverage, key)
	if !seen || entry.cov == nil {
		c.symbols = nil
		c.timeframes = nil
	}
	c.mu.Unlock()
}

func copyCoverage(cov *market.Coverage) *market.Coverage {
	if cov == nil {
		return nil
	}
	out := *cov
	return &out
}
