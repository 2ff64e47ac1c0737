package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	t.Run("Slash Format", func(t *testing.T) {
		sym := Parse("btc/usdt")
		assert.Equal(t, "BTC", sym.Base)
		assert.Equal(t, "USDT", sym.Quote)
		assert.Equal(t, "BTC/USDT", sym.Internal())
		assert.Equal(t, "BTCUSDT", sym.Compact())
	})

	t.Run("Compact Format", func(t *testing.T) {
		sym := Parse("ETHUSDT")
		assert.Equal(t, "ETH", sym.Base)
		assert.Equal(t, "USDT", sym.Quote)
	})

	t.Run("Settlement Suffix Stripped", func(t *testing.T) {
		sym := Parse("BTC/USDT:USDT")
		assert.Equal(t, "BTCUSDT", sym.Compact())
	})

	t.Run("Unknown Quote", func(t *testing.T) {
		assert.Equal(t, Symbol{}, Parse("FOOBAR"))
	})

	t.Run("Empty", func(t *testing.T) {
		assert.Equal(t, Symbol{}, Parse("  "))
	})
}

func TestCanonical(t *testing.T) {
	assert.Equal(t, "BTCUSDT", Canonical("btc/usdt"))
	assert.Equal(t, "BTCUSDT", Canonical("BTCUSDT"))
	assert.Equal(t, "BTCUSDT", Canonical(" btc/usdt:usdt "))
	assert.Equal(t, "FOOBAR", Canonical("foo/bar"))
	// 解析失败时保底：去分隔符大写，不丢数据。
	assert.Equal(t, "FOOXYZ", Canonical("fooxyz"))
	assert.Equal(t, "", Canonical(""))
}

func TestIsValid(t *testing.T) {
	assert.True(t, IsValid("BTC/USDT"))
	assert.True(t, IsValid("ethusdt"))
	assert.False(t, IsValid("USDT"))
	assert.False(t, IsValid(""))
}
