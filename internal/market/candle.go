package market

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Candle 表示一根已收盘的 K 线。OpenTime 为毫秒时间戳，对齐到周期网格。
// 价格与成交量使用 decimal，避免 float 在反复聚合中产生漂移。
type Candle struct {
	Symbol    string          `json:"symbol"`
	Timeframe string          `json:"timeframe"`
	OpenTime  int64           `json:"open_time"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	Source    string          `json:"source"`
}

// Validate 校验 OHLC 不变量：high/low 必须包住 open/close，且全部非负。
func (c Candle) Validate() error {
	if c.Symbol == "" || c.Timeframe == "" {
		return fmt.Errorf("symbol/timeframe 不能为空")
	}
	if c.OpenTime <= 0 {
		return fmt.Errorf("open_time 非法: %d", c.OpenTime)
	}
	for _, v := range []decimal.Decimal{c.Open, c.High, c.Low, c.Close, c.Volume} {
		if v.IsNegative() {
			return fmt.Errorf("%s %s @%d: 价格/成交量不能为负", c.Symbol, c.Timeframe, c.OpenTime)
		}
	}
	if c.High.LessThan(decimal.Max(c.Open, c.Close, c.Low)) {
		return fmt.Errorf("%s %s @%d: high 低于 open/close/low", c.Symbol, c.Timeframe, c.OpenTime)
	}
	if c.Low.GreaterThan(decimal.Min(c.Open, c.Close, c.High)) {
		return fmt.Errorf("%s %s @%d: low 高于 open/close/high", c.Symbol, c.Timeframe, c.OpenTime)
	}
	return nil
}

// Coverage 描述某个 symbol@timeframe 已落库数据的时间边界（毫秒，闭区间）。
// 由聚合查询派生，不落库。
type Coverage struct {
	Min int64 `json:"min"`
	Max int64 `json:"max"`
}

// Contains 判断 [start,end] 是否完全落在覆盖范围内。
func (c Coverage) Contains(start, end int64) bool {
	return start >= c.Min && end <= c.Max
}

// MissingRange 表示一次补齐调用中计算出的缺失区间（毫秒，闭区间）。仅存活于单次调用。
type MissingRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}
