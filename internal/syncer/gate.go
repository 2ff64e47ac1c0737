package syncer

import (
	"context"
	"encoding/json"
	"time"

	"candlesync/internal/logger"
	"candlesync/internal/market"
	"candlesync/internal/store"
	"candlesync/internal/store/synclog"
)

// Gate 是回测引擎等消费方看到的数据可用性契约：Ensure 同步阻塞，
// 直到请求区间完整在库或失败；之后 Read 才有意义。
// 一旦拉取开始就不暴露取消给调用方，内部超时以错误形式浮出，由调用方整体重试。
type Gate struct {
	filler *Filler
	store  *store.CandleStore
	audit  *synclog.Store
}

func NewGate(filler *Filler, st *store.CandleStore, audit *synclog.Store) *Gate {
	return &Gate{filler: filler, store: st, audit: audit}
}

// Ensure 保证区间可用。OutcomeSynced 表示本次确实发生了拉取，
// 调用方（如回测引擎）据此做自己的状态迁移。
func (g *Gate) Ensure(ctx context.Context, symbol, timeframe string, start, end int64) (Outcome, error) {
	startedAt := time.Now()
	res, err := g.filler.EnsureRange(ctx, symbol, timeframe, start, end)
	if err != nil || res.Outcome == OutcomeSynced {
		g.record(ctx, symbol, timeframe, startedAt, res, err)
	}
	if err != nil {
		return "", err
	}
	return res.Outcome, nil
}

// Read 读取区间内的 K 线（open_time 升序）。调用方应先 Ensure。
func (g *Gate) Read(ctx context.Context, symbol, timeframe string, start, end int64) ([]market.Candle, error) {
	tf, err := market.ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}
	firstOpen, lastOpen := rangeBounds(tf, start, end)
	return g.store.Read(ctx, symbol, tf.Key, firstOpen, lastOpen)
}

func (g *Gate) record(ctx context.Context, symbol, timeframe string, startedAt time.Time, res Result, runErr error) {
	if g.audit == nil {
		return
	}
	run := &synclog.SyncRun{
		Symbol:     symbol,
		Timeframe:  timeframe,
		Trigger:    synclog.TriggerEnsure,
		StartTS:    res.AlignedMin,
		EndTS:      res.AlignedMax,
		Inserted:   res.Inserted,
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
	}
	if runErr != nil {
		run.Status = synclog.StatusFailed
		run.Message = runErr.Error()
	} else {
		run.Status = synclog.StatusSuccess
	}
	if detail, err := json.Marshal(res); err == nil {
		run.Detail = detail
	}
	if err := g.audit.Record(ctx, run); err != nil {
		logger.Warnf("[gate] %s@%s 审计记录写入失败: %v", symbol, timeframe, err)
	}
}
