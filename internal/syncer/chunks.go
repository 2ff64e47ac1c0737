package syncer

import (
	"candlesync/internal/market"
)

// SplitRange 将 [start,end]（毫秒闭区间）切成跨度不超过 chunkMillis 的连续分片。
// 分片首尾相接、互不重叠，并集精确覆盖输入区间。
func SplitRange(start, end, chunkMillis int64) []market.MissingRange {
	if end < start || chunkMillis <= 0 {
		return nil
	}
	var out []market.MissingRange
	cursor := start
	for cursor <= end {
		chunkEnd := cursor + chunkMillis - 1
		if chunkEnd > end {
			chunkEnd = end
		}
		out = append(out, market.MissingRange{Start: cursor, End: chunkEnd})
		cursor = chunkEnd + 1
	}
	return out
}

// MissingRanges 相对当前覆盖计算 [start,end] 中缺失的区间（start/end 均为对齐后的
// open_time，step 为周期毫秒跨度）。只检测覆盖边界之外的缺口：
// 覆盖内部的空洞不在此处发现，也不会被回补。
func MissingRanges(cov *market.Coverage, start, end, step int64) []market.MissingRange {
	if end < start || step <= 0 {
		return nil
	}
	if cov == nil {
		return []market.MissingRange{{Start: start, End: end}}
	}
	var out []market.MissingRange
	if start < cov.Min {
		head := market.MissingRange{Start: start, End: cov.Min - step}
		if head.End >= head.Start {
			out = append(out, head)
		}
	}
	if end > cov.Max {
		tail := market.MissingRange{Start: cov.Max + step, End: end}
		if tail.End >= tail.Start {
			out = append(out, tail)
		}
	}
	return out
}

// rangeBounds 将请求区间换算成应当存在的首尾 open_time。
// end 恰好落在周期边界时视为开区间端点：请求 [00:00, 次日00:00) 的 1h 数据
// 得到 24 根，而不是把次日第一根也算进来。
func rangeBounds(tf market.Timeframe, start, end int64) (int64, int64) {
	firstOpen, lastOpen := tf.AlignRange(start, end)
	if lastOpen == end && lastOpen > firstOpen {
		lastOpen -= tf.Step()
	}
	return firstOpen, lastOpen
}
