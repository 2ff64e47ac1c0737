package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"candlesync/internal/logger"
	"candlesync/internal/market"
	symbolpkg "candlesync/internal/pkg/symbol"
	"candlesync/internal/store"
	"candlesync/internal/store/synclog"
)

// SyncState 是调度器为每个跟踪 pair 维护的进程内状态，随进程生命周期销毁。
type SyncState struct {
	Symbol       string    `json:"symbol"`
	Timeframe    string    `json:"timeframe"`
	InFlight     bool      `json:"in_flight"`
	LastSyncAt   time.Time `json:"last_sync_at"`
	NextSyncAt   time.Time `json:"next_sync_at"`
	LastResult   string    `json:"last_result"`
	LastError    string    `json:"last_error,omitempty"`
	LastInserted int64     `json:"last_inserted"`
}

// SchedulerConfig 控制后台刷新节奏。
type SchedulerConfig struct {
	Interval       time.Duration // 周期间隔，默认 1 小时
	Backfill       time.Duration // 无数据时的回看窗口，默认 30 天
	RunImmediately bool
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	if c.Backfill <= 0 {
		c.Backfill = 30 * 24 * time.Hour
	}
	return c
}

// Scheduler 周期性地为每个跟踪 pair 补齐 从最后已知时间戳到现在 的前向区间。
// in_flight 标记是唯一的共享可变状态，由互斥锁保护：上一轮还没跑完的 pair
// 直接跳过，不排队重复任务。单个 pair 的失败（包括 panic）不影响兄弟 pair
// 和调度循环本身。
type Scheduler struct {
	filler *Filler
	audit  *synclog.Store
	cfg    SchedulerConfig

	mu     sync.Mutex
	states map[string]*SyncState

	nowFn func() time.Time
}

func NewScheduler(filler *Filler, audit *synclog.Store, pairs []store.Pair, cfg SchedulerConfig) *Scheduler {
	s := &Scheduler{
		filler: filler,
		audit:  audit,
		cfg:    cfg.withDefaults(),
		states: make(map[string]*SyncState),
		nowFn:  time.Now,
	}
	for _, p := range pairs {
		s.Track(p.Symbol, p.Timeframe)
	}
	return s
}

// Track 加入一个跟踪 pair（幂等）。
func (s *Scheduler) Track(symbol, timeframe string) {
	symbol = symbolpkg.Canonical(symbol)
	timeframe = strings.ToLower(strings.TrimSpace(timeframe))
	if symbol == "" || timeframe == "" {
		return
	}
	key := symbol + "@" + timeframe
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.states[key]; ok {
		return
	}
	s.states[key] = &SyncState{Symbol: symbol, Timeframe: timeframe}
	logger.Infof("[scheduler] 开始跟踪 %s", key)
}

// Untrack 移除一个跟踪 pair。进行中的任务会正常收尾，只是之后不再调度。
func (s *Scheduler) Untrack(symbol, timeframe string) {
	key := symbolpkg.Canonical(symbol) + "@" + strings.ToLower(strings.TrimSpace(timeframe))
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.states[key]; ok {
		delete(s.states, key)
		logger.Infof("[scheduler] 停止跟踪 %s", key)
	}
}

// Run 阻塞运行调度循环，直到 ctx 取消。唤醒时间对齐到 interval 网格，
// 这样每轮刷新都发生在 K 线收盘之后而不是进程启动时刻的偏移上。
func (s *Scheduler) Run(ctx context.Context) error {
	logger.Infof("[scheduler] 启动：interval=%s backfill=%s pairs=%d",
		s.cfg.Interval, s.cfg.Backfill, len(s.Status()))
	if s.cfg.RunImmediately {
		s.runCycle(ctx, synclog.TriggerScheduled)
	}
	for {
		now := s.nowFn().UTC()
		wakeAt := now.Truncate(s.cfg.Interval).Add(s.cfg.Interval)
		wait := wakeAt.Sub(now)
		logger.Debugf("[scheduler] 下一轮将在 %s 执行 (in %s)",
			wakeAt.Format(time.RFC3339), wait.Truncate(time.Second))
		if wait <= 0 {
			s.runCycle(ctx, synclog.TriggerScheduled)
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Infof("[scheduler] ctx done, exit")
			return nil
		case <-timer.C:
		}
		s.runCycle(ctx, synclog.TriggerScheduled)
	}
}

// TriggerAll 手动触发一轮全量刷新（非阻塞）。
func (s *Scheduler) TriggerAll(ctx context.Context) {
	go s.runCycle(ctx, synclog.TriggerManual)
}

// Trigger 手动触发单个 pair 的刷新（非阻塞）。pair 必须已在跟踪列表中。
func (s *Scheduler) Trigger(ctx context.Context, symbol, timeframe string) error {
	key := symbolpkg.Canonical(symbol) + "@" + strings.ToLower(strings.TrimSpace(timeframe))
	s.mu.Lock()
	_, ok := s.states[key]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("未跟踪的 pair: %s", key)
	}
	go s.runPair(ctx, key, synclog.TriggerManual)
	return nil
}

// Status 返回当前所有 pair 状态的快照（按 key 排序）。
func (s *Scheduler) Status() []SyncState {
	s.mu.Lock()
	out := make([]SyncState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, *st)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Timeframe < out[j].Timeframe
	})
	return out
}

func (s *Scheduler) runCycle(ctx context.Context, trigger string) {
	s.mu.Lock()
	keys := make([]string, 0, len(s.states))
	for k := range s.states {
		keys = append(keys, k)
	}
	s.mu.Unlock()
	sort.Strings(keys)

	var wg sync.WaitGroup
	for _, key := range keys {
		key := key
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runPair(ctx, key, trigger)
		}()
	}
	wg.Wait()
}

// runPair 刷新单个 pair。in_flight 已置位时跳过，不排队。
func (s *Scheduler) runPair(ctx context.Context, key, trigger string) {
	s.mu.Lock()
	st, ok := s.states[key]
	if !ok {
		s.mu.Unlock()
		return
	}
	if st.InFlight {
		s.mu.Unlock()
		logger.Infof("[scheduler] %s 上一轮仍在执行，跳过本轮", key)
		return
	}
	st.InFlight = true
	symbol, timeframe := st.Symbol, st.Timeframe
	s.mu.Unlock()

	startedAt := s.nowFn()
	var res Result
	var err error
	func() {
		// 单个 pair 的 panic 不允许击穿调度循环。
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("pair task panic: %v", r)
				logger.Errorf("[scheduler] %s panic: %v", key, r)
			}
		}()
		res, err = s.refreshPair(ctx, symbol, timeframe)
	}()

	now := s.nowFn()
	s.mu.Lock()
	if st, ok := s.states[key]; ok {
		st.InFlight = false
		st.LastSyncAt = now
		st.NextSyncAt = now.Add(s.cfg.Interval)
		st.LastInserted = res.Inserted
		if err != nil {
			st.LastResult = synclog.StatusFailed
			st.LastError = err.Error()
		} else {
			st.LastError = ""
			if res.Outcome == OutcomeSynced {
				st.LastResult = synclog.StatusSuccess
			} else {
				st.LastResult = synclog.StatusNoop
			}
		}
	}
	s.mu.Unlock()

	s.record(ctx, symbol, timeframe, trigger, startedAt, now, res, err)
}

// refreshPair 计算前向窗口并调用补齐：上次最大时间戳 + 1 周期 → 现在；
// 无数据时从 backfill 窗口起点开始。
func (s *Scheduler) refreshPair(ctx context.Context, symbol, timeframe string) (Result, error) {
	now := s.nowFn().UnixMilli()
	start := s.nowFn().Add(-s.cfg.Backfill).UnixMilli()
	tf, err := market.ParseTimeframe(timeframe)
	if err != nil {
		return Result{}, err
	}
	cov, err := s.filler.cache.Coverage(ctx, symbol, timeframe)
	if err != nil {
		return Result{}, err
	}
	if cov != nil {
		start = cov.Max + tf.Step()
		if start > now {
			return Result{Outcome: OutcomeAvailable}, nil
		}
	}
	return s.filler.EnsureRange(ctx, symbol, timeframe, start, now)
}

func (s *Scheduler) record(ctx context.Context, symbol, timeframe, trigger string, startedAt, finishedAt time.Time, res Result, runErr error) {
	if s.audit == nil {
		return
	}
	run := &synclog.SyncRun{
		Symbol:     symbol,
		Timeframe:  timeframe,
		Trigger:    trigger,
		StartTS:    res.AlignedMin,
		EndTS:      res.AlignedMax,
		Inserted:   res.Inserted,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	}
	switch {
	case runErr != nil:
		run.Status = synclog.StatusFailed
		run.Message = runErr.Error()
	case res.Outcome == OutcomeSynced:
		run.Status = synclog.StatusSuccess
	default:
		run.Status = synclog.StatusNoop
	}
	if detail, err := json.Marshal(res); err == nil {
		run.Detail = detail
	}
	if err := s.audit.Record(ctx, run); err != nil {
		logger.Warnf("[scheduler] %s@%s 审计记录写入失败: %v", symbol, timeframe, err)
	}
}
