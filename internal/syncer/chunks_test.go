package syncer

import (
	"testing"

	"candlesync/internal/market"

	"github.com/stretchr/testify/assert"
)

const (
	hourMs = int64(3600000)
	jan1   = int64(1704067200000) // 2024-01-01 00:00:00 UTC
	jan2   = jan1 + 24*hourMs
)

func TestSplitRange(t *testing.T) {
	t.Run("Single Chunk When Range Fits", func(t *testing.T) {
		chunks := SplitRange(jan1, jan2-1, 24*hourMs)
		assert.Len(t, chunks, 1)
		assert.Equal(t, jan1, chunks[0].Start)
		assert.Equal(t, jan2-1, chunks[0].End)
	})

	t.Run("Chunks Cover Exactly Without Overlap", func(t *testing.T) {
		chunkMillis := 7 * hourMs
		chunks := SplitRange(jan1, jan1+23*hourMs, chunkMillis)
		assert.Len(t, chunks, 4)

		cursor := jan1
		for _, ch := range chunks {
			assert.Equal(t, cursor, ch.Start)
			assert.LessOrEqual(t, ch.End-ch.Start+1, chunkMillis)
			cursor = ch.End + 1
		}
		assert.Equal(t, jan1+23*hourMs+1, cursor)
	})

	t.Run("Degenerate Inputs", func(t *testing.T) {
		assert.Nil(t, SplitRange(jan2, jan1, hourMs))
		assert.Nil(t, SplitRange(jan1, jan2, 0))
	})
}

func TestMissingRanges(t *testing.T) {
	t.Run("No Coverage Means Whole Range", func(t *testing.T) {
		missing := MissingRanges(nil, jan1, jan1+5*hourMs, hourMs)
		assert.Equal(t, []market.MissingRange{{Start: jan1, End: jan1 + 5*hourMs}}, missing)
	})

	t.Run("Fully Covered", func(t *testing.T) {
		cov := &market.Coverage{Min: jan1 - 10*hourMs, Max: jan1 + 10*hourMs}
		assert.Empty(t, MissingRanges(cov, jan1, jan1+5*hourMs, hourMs))
	})

	t.Run("Head Gap Only", func(t *testing.T) {
		cov := &market.Coverage{Min: jan1 + 3*hourMs, Max: jan1 + 10*hourMs}
		missing := MissingRanges(cov, jan1, jan1+5*hourMs, hourMs)
		assert.Equal(t, []market.MissingRange{{Start: jan1, End: jan1 + 2*hourMs}}, missing)
	})

	t.Run("Tail Gap Only", func(t *testing.T) {
		cov := &market.Coverage{Min: jan1, Max: jan1 + 3*hourMs}
		missing := MissingRanges(cov, jan1, jan1+5*hourMs, hourMs)
		assert.Equal(t, []market.MissingRange{{Start: jan1 + 4*hourMs, End: jan1 + 5*hourMs}}, missing)
	})

	t.Run("Both Edges Missing", func(t *testing.T) {
		cov := &market.Coverage{Min: jan1 + 2*hourMs, Max: jan1 + 3*hourMs}
		missing := MissingRanges(cov, jan1, jan1+5*hourMs, hourMs)
		assert.Equal(t, []market.MissingRange{
			{Start: jan1, End: jan1 + hourMs},
			{Start: jan1 + 4*hourMs, End: jan1 + 5*hourMs},
		}, missing)
	})

	t.Run("Adjacent Coverage Leaves No Gap", func(t *testing.T) {
		cov := &market.Coverage{Min: jan1 + hourMs, Max: jan1 + 4*hourMs}
		missing := MissingRanges(cov, jan1+hourMs, jan1+4*hourMs, hourMs)
		assert.Empty(t, missing)
	})
}

func TestRangeBounds(t *testing.T) {
	tf, _ := market.ParseTimeframe("1h")

	t.Run("Boundary End Is Exclusive", func(t *testing.T) {
		first, last := rangeBounds(tf, jan1, jan2)
		assert.Equal(t, jan1, first)
		assert.Equal(t, jan2-hourMs, last)
		assert.Equal(t, int64(24), tf.ExpectedCandles(first, last))
	})

	t.Run("Mid Period End Aligns Down", func(t *testing.T) {
		first, last := rangeBounds(tf, jan1, jan1+90*60*1000)
		assert.Equal(t, jan1, first)
		assert.Equal(t, jan1+hourMs, last)
	})

	t.Run("Point Range Keeps Single Candle", func(t *testing.T) {
		first, last := rangeBounds(tf, jan1, jan1)
		assert.Equal(t, jan1, first)
		assert.Equal(t, jan1, last)
	})
}
