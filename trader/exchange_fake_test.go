package trader

import (
	"context"
	"fmt"
	"sync"

	"dipbot/market"
)

// fakeExchange 测试用内存交易所
type fakeExchange struct {
	mu sync.Mutex

	ticker  market.BookTicker
	candles []market.Candle
	filters market.Filters
	free    map[string]float64

	// 订单簿：orderID -> 预设状态序列（依次弹出，耗尽后重复最后一个）
	nextOrderID int64
	placed      []placedOrder
	statuses    map[int64][]*market.OrderResult
	canceled    []int64
	cancelErr   error

	// 下一笔订单的预设结果脚本（按下单顺序消费）
	scripts []func(oid int64, side, qty, price string) []*market.OrderResult
}

type placedOrder struct {
	ID    int64
	Side  string
	Qty   string
	Price string
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		ticker: market.BookTicker{Bid: 1975.5, Ask: 1976.5},
		filters: market.Filters{
			StepSize:       0.0001,
			StepSizeStr:    "0.00010000",
			TickSize:       0.01,
			TickSizeStr:    "0.01000000",
			MinNotional:    5.0,
			MinQty:         0.0001,
			MultiplierUp:   5.0,
			MultiplierDown: 0.2,
			Status:         "TRADING",
			BaseAsset:      "ETH",
			QuoteAsset:     "USDT",
		},
		free:     map[string]float64{},
		statuses: map[int64][]*market.OrderResult{},
	}
}

func (f *fakeExchange) BookTicker(ctx context.Context) (market.BookTicker, error) {
	return f.ticker, nil
}

func (f *fakeExchange) Candles(ctx context.Context, interval string, limit int) ([]market.Candle, error) {
	return f.candles, nil
}

func (f *fakeExchange) Account(ctx context.Context) (market.Account, error) {
	acc := market.Account{CanTrade: true}
	for asset, free := range f.free {
		acc.Balances = append(acc.Balances, market.Balance{Asset: asset, Free: free})
	}
	return acc, nil
}

func (f *fakeExchange) FreeBalance(ctx context.Context, asset string) (float64, error) {
	return f.free[asset], nil
}

func (f *fakeExchange) Filters(ctx context.Context) (*market.Filters, error) {
	cp := f.filters
	return &cp, nil
}

func (f *fakeExchange) PlaceLimitOrder(ctx context.Context, side, qtyStr, priceStr string) (*market.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextOrderID++
	oid := f.nextOrderID
	f.placed = append(f.placed, placedOrder{ID: oid, Side: side, Qty: qtyStr, Price: priceStr})
	if len(f.scripts) > 0 {
		script := f.scripts[0]
		f.scripts = f.scripts[1:]
		f.statuses[oid] = script(oid, side, qtyStr, priceStr)
	}
	return &market.OrderResult{OrderID: oid, Status: "NEW"}, nil
}

func (f *fakeExchange) TestLimitOrder(ctx context.Context, side, qtyStr, priceStr string) error {
	return nil
}

func (f *fakeExchange) GetOrder(ctx context.Context, orderID int64) (*market.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seq := f.statuses[orderID]
	if len(seq) == 0 {
		return nil, fmt.Errorf("未知订单 %d", orderID)
	}
	res := seq[0]
	if len(seq) > 1 {
		f.statuses[orderID] = seq[1:]
	}
	return res, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, orderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, orderID)
	return f.cancelErr
}
