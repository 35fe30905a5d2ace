package market

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	candles []Candle
}

func (s *stubSource) Candles(ctx context.Context, interval string, limit int) ([]Candle, error) {
	return s.candles, nil
}

func TestClosedSince(t *testing.T) {
	now := time.UnixMilli(1_700_000_100_000)
	src := &stubSource{candles: []Candle{
		{CloseTime: 1_700_000_099_500, Close: 3}, // 在1秒安全边界内，视为未收盘
		{CloseTime: 1_700_000_050_000, Close: 2},
		{CloseTime: 1_700_000_010_000, Close: 1},
	}}

	f := NewFeed(src, "5m", 200)
	f.now = func() time.Time { return now }

	t.Run("游标为零返回全部已收盘", func(t *testing.T) {
		got, err := f.ClosedSince(context.Background(), 0)
		require.NoError(t, err)
		require.Len(t, got, 2)
		// 升序排列
		assert.Equal(t, 1.0, got[0].Close)
		assert.Equal(t, 2.0, got[1].Close)
	})

	t.Run("游标过滤已处理K线", func(t *testing.T) {
		got, err := f.ClosedSince(context.Background(), 1_700_000_010_000)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, 2.0, got[0].Close)
	})

	t.Run("无新K线返回空", func(t *testing.T) {
		got, err := f.ClosedSince(context.Background(), 1_700_000_050_000)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestBookTicker(t *testing.T) {
	bt := BookTicker{Bid: 100, Ask: 101}
	assert.Equal(t, 100.5, bt.Mid())
	assert.InDelta(t, 0.01, bt.SpreadPct(), 1e-9)

	zero := BookTicker{}
	assert.Equal(t, 0.0, zero.SpreadPct())
}

func TestAvgFillPrice(t *testing.T) {
	t.Run("按成交额加权", func(t *testing.T) {
		o := OrderResult{Fills: []Fill{
			{Price: 100, Qty: 1},
			{Price: 110, Qty: 3},
		}}
		assert.InDelta(t, 107.5, o.AvgFillPrice(), 1e-9)
	})

	t.Run("无明细回退成交额除数量", func(t *testing.T) {
		o := OrderResult{ExecutedQty: 2, CumQuote: 210}
		assert.Equal(t, 105.0, o.AvgFillPrice())
	})

	t.Run("零成交返回零", func(t *testing.T) {
		assert.Equal(t, 0.0, OrderResult{}.AvgFillPrice())
	})
}
