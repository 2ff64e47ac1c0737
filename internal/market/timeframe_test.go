package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const (
	jan1 = int64(1704067200000) // 2024-01-01 00:00:00 UTC
	hour = int64(3600000)
)

func TestParseTimeframe(t *testing.T) {
	t.Run("Valid Keys", func(t *testing.T) {
		tf, err := ParseTimeframe("1h")
		assert.NoError(t, err)
		assert.Equal(t, "1h", tf.Key)
		assert.Equal(t, time.Hour, tf.Duration)
		assert.Equal(t, hour, tf.Step())
	})

	t.Run("Normalizes Case And Whitespace", func(t *testing.T) {
		tf, err := ParseTimeframe("  1D ")
		assert.NoError(t, err)
		assert.Equal(t, "1d", tf.Key)
	})

	t.Run("Rejects Unknown", func(t *testing.T) {
		_, err := ParseTimeframe("7m")
		assert.Error(t, err)
	})
}

func TestAlignRange(t *testing.T) {
	tf, _ := ParseTimeframe("1h")

	t.Run("Aligns Down To Grid", func(t *testing.T) {
		start, end := tf.AlignRange(jan1+1500, jan1+2*hour+59)
		assert.Equal(t, jan1, start)
		assert.Equal(t, jan1+2*hour, end)
	})

	t.Run("Swaps Reversed Bounds", func(t *testing.T) {
		start, end := tf.AlignRange(jan1+5*hour, jan1)
		assert.Equal(t, jan1, start)
		assert.Equal(t, jan1+5*hour, end)
	})

	t.Run("Boundary Stays Put", func(t *testing.T) {
		start, end := tf.AlignRange(jan1, jan1)
		assert.Equal(t, jan1, start)
		assert.Equal(t, jan1, end)
	})
}

func TestExpectedCandles(t *testing.T) {
	tf, _ := ParseTimeframe("1h")

	assert.Equal(t, int64(24), tf.ExpectedCandles(jan1, jan1+23*hour))
	assert.Equal(t, int64(1), tf.ExpectedCandles(jan1, jan1))
	assert.Equal(t, int64(0), tf.ExpectedCandles(jan1, jan1-hour))
}

func TestSupportedTimeframes(t *testing.T) {
	keys := SupportedTimeframes()
	assert.Contains(t, keys, "1m")
	assert.Contains(t, keys, "1h")
	assert.Contains(t, keys, "1w")
	assert.IsIncreasing(t, keys)
}
