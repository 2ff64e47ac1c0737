package backtest

import (
	"context"
	"sync"
	"time"

	"candlesync/internal/market"
	"candlesync/internal/syncer"

	"github.com/google/uuid"
)

// 回测任务状态机：pending → fetching_data → pending → running → done/failed。
// fetching_data 仅在 Ensure 确实触发了拉取时出现。
const (
	StatusPending      = "pending"
	StatusFetchingData = "fetching_data"
	StatusRunning      = "running"
	StatusDone         = "done"
	StatusFailed       = "failed"
)

// DataGate 是回测执行依赖的数据可用性契约。
type DataGate interface {
	Ensure(ctx context.Context, symbol, timeframe string, start, end int64) (syncer.Outcome, error)
	Read(ctx context.Context, symbol, timeframe string, start, end int64) ([]market.Candle, error)
}

// Request 描述一次回测的数据需求。
type Request struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	StartTS   int64  `json:"start_ts"`
	EndTS     int64  `json:"end_ts"`
}

// Run 是一次回测执行的快照。
type Run struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	StartTS   int64     `json:"start_ts"`
	EndTS     int64     `json:"end_ts"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Candles   int       `json:"candles"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CandleHandler 消费已保障完整的 K 线序列（真正的策略引擎在这个仓库之外）。
type CandleHandler func(candles []market.Candle) error

// Runner 在执行回测前用 DataGate 阻塞等待数据就绪。
// Ensure 返回错误时任务直接进入 failed，不会跑在不完整数据上。
type Runner struct {
	gate DataGate

	mu   sync.RWMutex
	runs map[string]*Run
}

func NewRunner(gate DataGate) *Runner {
	return &Runner{gate: gate, runs: make(map[string]*Run)}
}

// Execute 同步执行：先保障数据，再读取并交给 handler。
func (r *Runner) Execute(ctx context.Context, req Request, handler CandleHandler) (Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		Symbol:    req.Symbol,
		Timeframe: req.Timeframe,
		StartTS:   req.StartTS,
		EndTS:     req.EndTS,
		Status:    StatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	r.mu.Lock()
	r.runs[run.ID] = run
	r.mu.Unlock()

	r.setStatus(run.ID, StatusFetchingData, "")
	outcome, err := r.gate.Ensure(ctx, req.Symbol, req.Timeframe, req.StartTS, req.EndTS)
	if err != nil {
		r.setStatus(run.ID, StatusFailed, err.Error())
		return r.snapshot(run.ID), err
	}
	if outcome == syncer.OutcomeSynced {
		r.setStatus(run.ID, StatusPending, "")
	}

	r.setStatus(run.ID, StatusRunning, "")
	candles, err := r.gate.Read(ctx, req.Symbol, req.Timeframe, req.StartTS, req.EndTS)
	if err != nil {
		r.setStatus(run.ID, StatusFailed, err.Error())
		return r.snapshot(run.ID), err
	}
	r.mu.Lock()
	if cur, ok := r.runs[run.ID]; ok {
		cur.Candles = len(candles)
	}
	r.mu.Unlock()

	if handler != nil {
		if err := handler(candles); err != nil {
			r.setStatus(run.ID, StatusFailed, err.Error())
			return r.snapshot(run.ID), err
		}
	}
	r.setStatus(run.ID, StatusDone, "")
	return r.snapshot(run.ID), nil
}

// Snapshot 返回任务副本。
func (r *Runner) Snapshot(id string) (Run, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return Run{}, false
	}
	return *run, true
}

func (r *Runner) snapshot(id string) Run {
	run, _ := r.Snapshot(id)
	return run
}

func (r *Runner) setStatus(id, status, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run, ok := r.runs[id]; ok {
		run.Status = status
		run.Message = message
		run.UpdatedAt = time.Now()
	}
}
