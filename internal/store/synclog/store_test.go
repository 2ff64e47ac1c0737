package synclog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "synclog.db"))
	assert.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestRecord(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	t.Run("Fills Defaults", func(t *testing.T) {
		run := &SyncRun{
			Symbol:    "BTCUSDT",
			Timeframe: "1h",
			Trigger:   TriggerScheduled,
			Status:    StatusSuccess,
			Inserted:  24,
		}
		assert.NoError(t, st.Record(ctx, run))
		assert.NotEmpty(t, run.ID)
		assert.False(t, run.StartedAt.IsZero())
		assert.False(t, run.FinishedAt.IsZero())
	})

	t.Run("Rejects Nil", func(t *testing.T) {
		assert.Error(t, st.Record(ctx, nil))
	})
}

func TestRecent(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		run := &SyncRun{
			Symbol:    "BTCUSDT",
			Timeframe: "1h",
			Trigger:   TriggerScheduled,
			Status:    StatusSuccess,
			StartedAt: base.Add(time.Duration(i) * time.Hour),
		}
		assert.NoError(t, st.Record(ctx, run))
	}
	assert.NoError(t, st.Record(ctx, &SyncRun{
		Symbol:    "ETHUSDT",
		Timeframe: "1d",
		Trigger:   TriggerManual,
		Status:    StatusFailed,
		Message:   "boom",
		StartedAt: base.Add(10 * time.Hour),
	}))

	t.Run("Newest First", func(t *testing.T) {
		runs, err := st.Recent(ctx, 10)
		assert.NoError(t, err)
		assert.Len(t, runs, 4)
		assert.Equal(t, "ETHUSDT", runs[0].Symbol)
		for i := 1; i < len(runs); i++ {
			assert.False(t, runs[i].StartedAt.After(runs[i-1].StartedAt))
		}
	})

	t.Run("Limit Applied", func(t *testing.T) {
		runs, err := st.Recent(ctx, 2)
		assert.NoError(t, err)
		assert.Len(t, runs, 2)
	})

	t.Run("Pair Filter Normalizes Symbol", func(t *testing.T) {
		runs, err := st.RecentForPair(ctx, "btc/usdt", "1H", 10)
		assert.NoError(t, err)
		assert.Len(t, runs, 3)
		for _, r := range runs {
			assert.Equal(t, "BTCUSDT", r.Symbol)
		}
	})
}
