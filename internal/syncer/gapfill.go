package syncer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"candlesync/internal/logger"
	"candlesync/internal/market"
	symbolpkg "candlesync/internal/pkg/symbol"
	"candlesync/internal/store"

	"golang.org/x/sync/errgroup"
)

// Outcome 是 EnsureRange 的结论：数据本就完整，或本次拉取后完整。
type Outcome string

const (
	OutcomeAvailable Outcome = "available"
	OutcomeSynced    Outcome = "synced"
)

// KlineSource 抽象交易所客户端，便于测试时替换。
type KlineSource interface {
	Name() string
	ChunkMillis(tf market.Timeframe) int64
	FetchKlines(ctx context.Context, symbol string, tf market.Timeframe, start, end int64) ([]market.Candle, error)
}

// ChunkAggregateError 汇总一次补齐调用中所有失败分片的原因。
type ChunkAggregateError struct {
	Symbol    string
	Timeframe string
	Failed    int
	Total     int
	Errs      []error
}

func (e *ChunkAggregateError) Error() string {
	msgs := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("%s %s: %d/%d 个分片拉取失败: %s",
		e.Symbol, e.Timeframe, e.Failed, e.Total, strings.Join(msgs, "; "))
}

func (e *ChunkAggregateError) Unwrap() []error { return e.Errs }

// FillerConfig 控制补齐的并发与超时。
type FillerConfig struct {
	MaxConcurrent int           // 同时在途分片数
	ChunkTimeout  time.Duration // 单分片超时
	TotalTimeout  time.Duration // 单次补齐总超时
}

func (c FillerConfig) withDefaults() FillerConfig {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 5
	}
	if c.ChunkTimeout <= 0 {
		c.ChunkTimeout = 60 * time.Second
	}
	if c.TotalTimeout <= 0 {
		c.TotalTimeout = 5 * time.Minute
	}
	return c
}

// Result 描述一次 EnsureRange 的结果。
type Result struct {
	Outcome    Outcome               `json:"outcome"`
	AlignedMin int64                 `json:"aligned_min"`
	AlignedMax int64                 `json:"aligned_max"`
	Missing    []market.MissingRange `json:"missing,omitempty"`
	Chunks     int                   `json:"chunks"`
	Fetched    int                   `json:"fetched"`
	Inserted   int64                 `json:"inserted"`
}

// Filler 负责把请求区间相对当前覆盖的缺口补齐。自身无状态：
// 每次调用都是 覆盖查询 → 缺口计算 → 分片并发拉取 → 批量落库 的纯流水。
type Filler struct {
	store  *store.CandleStore
	cache  *store.Cache
	source KlineSource
	cfg    FillerConfig

	nowFn func() time.Time
}

func NewFiller(st *store.CandleStore, cache *store.Cache, source KlineSource, cfg FillerConfig) *Filler {
	return &Filler{
		store:  st,
		cache:  cache,
		source: source,
		cfg:    cfg.withDefaults(),
		nowFn:  time.Now,
	}
}

// EnsureRange 保证 [start,end]（毫秒）的 K 线全部在库。
// 数据已完整时不发起任何网络请求，返回 OutcomeAvailable；
// 任一分片失败则整体失败（已成功分片不落库，幂等性保证下次重试无害）。
func (f *Filler) EnsureRange(ctx context.Context, symbol, timeframe string, start, end int64) (Result, error) {
	symbol = symbolpkg.Canonical(symbol)
	if symbol == "" {
		return Result{}, fmt.Errorf("symbol 不能为空")
	}
	tf, err := market.ParseTimeframe(timeframe)
	if err != nil {
		return Result{}, err
	}
	firstOpen, lastOpen := rangeBounds(tf, start, end)
	// 不拉取尚未收盘的 K 线：末端 clamp 到最后一根已收盘的 open_time。
	if maxClosed := alignedLastClosed(tf, f.nowFn()); lastOpen > maxClosed {
		lastOpen = maxClosed
	}
	res := Result{AlignedMin: firstOpen, AlignedMax: lastOpen}
	if lastOpen < firstOpen {
		res.Outcome = OutcomeAvailable
		return res, nil
	}

	cov, err := f.cache.Coverage(ctx, symbol, tf.Key)
	if err != nil {
		return res, err
	}
	missing := MissingRanges(cov, firstOpen, lastOpen, tf.Step())
	res.Missing = missing
	if len(missing) == 0 {
		logger.Debugf("[syncer] %s %s [%d,%d] 已覆盖，跳过拉取", symbol, tf.Key, firstOpen, lastOpen)
		res.Outcome = OutcomeAvailable
		return res, nil
	}

	var chunks []market.MissingRange
	for _, m := range missing {
		chunks = append(chunks, SplitRange(m.Start, m.End, f.source.ChunkMillis(tf))...)
	}
	res.Chunks = len(chunks)
	logger.Infof("[syncer] %s %s [%d,%d] 缺口=%d 分片=%d，开始补齐",
		symbol, tf.Key, firstOpen, lastOpen, len(missing), len(chunks))

	fetched, err := f.fetchChunks(ctx, symbol, tf, chunks)
	if err != nil {
		logger.Errorf("[syncer] %s %s [%d,%d] 补齐失败: %v", symbol, tf.Key, firstOpen, lastOpen, err)
		return res, err
	}
	res.Fetched = len(fetched)

	// 全部分片成功后一次性落库：要么整段扩展可用，要么对库没有新承诺。
	inserted, err := f.store.Upsert(ctx, fetched)
	if err != nil {
		logger.Errorf("[syncer] %s %s 写入失败: %v", symbol, tf.Key, err)
		return res, err
	}
	f.cache.Invalidate(symbol, tf.Key)
	res.Inserted = inserted
	res.Outcome = OutcomeSynced
	logger.Infof("[syncer] %s %s [%d,%d] 补齐完成：拉取=%d 新增=%d",
		symbol, tf.Key, firstOpen, lastOpen, len(fetched), inserted)
	return res, nil
}

// fetchChunks 以有界并发拉取所有分片。单个分片失败不打断兄弟分片，
// 最终把所有失败原因聚合成一个错误返回。
func (f *Filler) fetchChunks(ctx context.Context, symbol string, tf market.Timeframe, chunks []market.MissingRange) ([]market.Candle, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.TotalTimeout)
	defer cancel()

	results := make([][]market.Candle, len(chunks))
	failures := make([]error, len(chunks))

	g := new(errgroup.Group)
	g.SetLimit(f.cfg.MaxConcurrent)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			// 分片任务的 panic 只算这一个分片失败，不准带崩兄弟分片和进程。
			defer func() {
				if r := recover(); r != nil {
					failures[i] = fmt.Errorf("[%d,%d]: panic: %v", chunk.Start, chunk.End, r)
				}
			}()
			chunkCtx, chunkCancel := context.WithTimeout(ctx, f.cfg.ChunkTimeout)
			defer chunkCancel()
			data, err := f.source.FetchKlines(chunkCtx, symbol, tf, chunk.Start, chunk.End)
			if err != nil {
				failures[i] = fmt.Errorf("[%d,%d]: %w", chunk.Start, chunk.End, err)
				return nil
			}
			results[i] = data
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, err := range failures {
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, &ChunkAggregateError{
			Symbol:    symbol,
			Timeframe: tf.Key,
			Failed:    len(errs),
			Total:     len(chunks),
			Errs:      errs,
		}
	}
	var merged []market.Candle
	for _, part := range results {
		merged = append(merged, part...)
	}
	return merged, nil
}

// alignedLastClosed 返回 now 之前最后一根已收盘 K 线的 open_time。
func alignedLastClosed(tf market.Timeframe, now time.Time) int64 {
	aligned, _ := tf.AlignRange(now.UnixMilli(), now.UnixMilli())
	return aligned - tf.Step()
}
