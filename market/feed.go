package market

import (
	"context"
	"sort"
	"time"
)

// CandleSource K线来源（便于测试替换）
type CandleSource interface {
	Candles(ctx context.Context, interval string, limit int) ([]Candle, error)
}

// Feed 已收盘K线轮询器。只返回确定已收盘（close_time早于now-1s）
// 且晚于游标的K线，按收盘时间升序。
type Feed struct {
	source   CandleSource
	interval string
	limit    int
	now      func() time.Time
}

// NewFeed 创建K线轮询器
func NewFeed(source CandleSource, interval string, limit int) *Feed {
	return &Feed{
		source:   source,
		interval: interval,
		limit:    limit,
		now:      time.Now,
	}
}

// ClosedSince 拉取收盘时间晚于afterCloseTime的已收盘K线
func (f *Feed) ClosedSince(ctx context.Context, afterCloseTime int64) ([]Candle, error) {
	raw, err := f.source.Candles(ctx, f.interval, f.limit)
	if err != nil {
		return nil, err
	}

	// 1秒安全边界，排除仍在进行中的K线
	cutoff := f.now().UnixMilli() - 1000

	closed := make([]Candle, 0, len(raw))
	for _, c := range raw {
		if c.CloseTime < cutoff && c.CloseTime > afterCloseTime {
			closed = append(closed, c)
		}
	}
	sort.Slice(closed, func(i, j int) bool {
		return closed[i].CloseTime < closed[j].CloseTime
	})
	return closed, nil
}
