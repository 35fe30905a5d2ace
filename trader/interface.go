package trader

import (
	"context"

	"dipbot/market"
)

// Exchange 引擎消费的交易所接口，由 market.Client 实现；
// 测试使用内存假实现。
type Exchange interface {
	// 行情
	BookTicker(ctx context.Context) (market.BookTicker, error)
	Candles(ctx context.Context, interval string, limit int) ([]market.Candle, error)

	// 账户
	Account(ctx context.Context) (market.Account, error)
	FreeBalance(ctx context.Context, asset string) (float64, error)

	// 交易规则
	Filters(ctx context.Context) (*market.Filters, error)

	// 订单
	PlaceLimitOrder(ctx context.Context, side string, qtyStr, priceStr string) (*market.OrderResult, error)
	TestLimitOrder(ctx context.Context, side string, qtyStr, priceStr string) error
	GetOrder(ctx context.Context, orderID int64) (*market.OrderResult, error)
	CancelOrder(ctx context.Context, orderID int64) error
}
