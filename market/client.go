package market

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"dipbot/logger"
)

// Client 币安现货网关。所有外部调用都经过重试策略；
// 交易对过滤器带显式TTL缓存。
type Client struct {
	api    *binance.Client
	symbol string
	retry  RetryPolicy

	// 过滤器缓存（显式缓存值+刷新时间戳）
	filters        *Filters
	filtersFetched time.Time
	filtersTTL     time.Duration
}

// NewClient 创建网关并同步服务器时间
func NewClient(apiKey, secretKey, baseURL, symbol string, filtersTTL time.Duration) *Client {
	api := binance.NewClient(apiKey, secretKey)
	if baseURL != "" {
		api.BaseURL = baseURL
	}
	c := &Client{
		api:        api,
		symbol:     symbol,
		retry:      DefaultRetryPolicy(),
		filtersTTL: filtersTTL,
	}
	c.syncServerTime()
	return c
}

// syncServerTime 同步币安服务器时间，避免 Timestamp ahead 错误
func (c *Client) syncServerTime() {
	serverTime, err := c.api.NewServerTimeService().Do(context.Background())
	if err != nil {
		logger.Log.Warnf("⚠️ 同步币安服务器时间失败: %v", err)
		return
	}
	offset := time.Now().UnixMilli() - serverTime
	c.api.TimeOffset = offset
	logger.Log.Infof("⏱ 已同步币安服务器时间，偏移 %dms", offset)
}

// BookTicker 获取最优买卖报价
func (c *Client) BookTicker(ctx context.Context) (BookTicker, error) {
	return call(c.retry, "获取盘口报价", func() (BookTicker, error) {
		tickers, err := c.api.NewListBookTickersService().Symbol(c.symbol).Do(ctx)
		if err != nil {
			return BookTicker{}, fmt.Errorf("获取盘口报价失败: %w", err)
		}
		if len(tickers) == 0 {
			return BookTicker{}, fmt.Errorf("未找到 %s 的盘口报价", c.symbol)
		}
		bid, _ := strconv.ParseFloat(tickers[0].BidPrice, 64)
		ask, _ := strconv.ParseFloat(tickers[0].AskPrice, 64)
		return BookTicker{Bid: bid, Ask: ask}, nil
	})
}

// Candles 获取K线（原样返回，收盘过滤由 Feed 负责）
func (c *Client) Candles(ctx context.Context, interval string, limit int) ([]Candle, error) {
	return call(c.retry, "获取K线", func() ([]Candle, error) {
		klines, err := c.api.NewKlinesService().
			Symbol(c.symbol).
			Interval(interval).
			Limit(limit).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("获取K线失败: %w", err)
		}
		candles := make([]Candle, 0, len(klines))
		for _, k := range klines {
			o, _ := strconv.ParseFloat(k.Open, 64)
			h, _ := strconv.ParseFloat(k.High, 64)
			l, _ := strconv.ParseFloat(k.Low, 64)
			cl, _ := strconv.ParseFloat(k.Close, 64)
			v, _ := strconv.ParseFloat(k.Volume, 64)
			candles = append(candles, Candle{
				CloseTime: k.CloseTime,
				Open:      o, High: h, Low: l, Close: cl, Volume: v,
			})
		}
		return candles, nil
	})
}

// Account 获取账户快照
func (c *Client) Account(ctx context.Context) (Account, error) {
	return call(c.retry, "获取账户信息", func() (Account, error) {
		acc, err := c.api.NewGetAccountService().Do(ctx)
		if err != nil {
			return Account{}, fmt.Errorf("获取账户信息失败: %w", err)
		}
		balances := make([]Balance, 0, len(acc.Balances))
		for _, b := range acc.Balances {
			free, _ := strconv.ParseFloat(b.Free, 64)
			locked, _ := strconv.ParseFloat(b.Locked, 64)
			balances = append(balances, Balance{Asset: b.Asset, Free: free, Locked: locked})
		}
		return Account{CanTrade: acc.CanTrade, Balances: balances}, nil
	})
}

// FreeBalance 获取指定资产的可用余额
func (c *Client) FreeBalance(ctx context.Context, asset string) (float64, error) {
	acc, err := c.Account(ctx)
	if err != nil {
		return 0, err
	}
	bal, found := lo.Find(acc.Balances, func(b Balance) bool { return b.Asset == asset })
	if !found {
		return 0, nil
	}
	return bal.Free, nil
}

// Filters 获取交易对过滤器（TTL内走缓存）
func (c *Client) Filters(ctx context.Context) (*Filters, error) {
	if c.filters != nil && time.Since(c.filtersFetched) < c.filtersTTL {
		return c.filters, nil
	}

	f, err := call(c.retry, "获取交易规则", func() (*Filters, error) {
		return c.fetchFilters(ctx)
	})
	if err != nil {
		return nil, err
	}
	c.filters = f
	c.filtersFetched = time.Now()
	logger.Log.Infof("✓ 交易规则已刷新: step=%s tick=%s minNotional=%.2f minQty=%.6f 带宽[%.2f,%.2f]",
		f.StepSizeStr, f.TickSizeStr, f.MinNotional, f.MinQty, f.MultiplierDown, f.MultiplierUp)
	return f, nil
}

func (c *Client) fetchFilters(ctx context.Context) (*Filters, error) {
	info, err := c.api.NewExchangeInfoService().Symbol(c.symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取交易对信息失败: %w", err)
	}
	if len(info.Symbols) == 0 {
		return nil, fmt.Errorf("未找到交易对 %s", c.symbol)
	}
	s := info.Symbols[0]

	out := &Filters{
		Status:     s.Status,
		BaseAsset:  s.BaseAsset,
		QuoteAsset: s.QuoteAsset,
		// 缺省带宽放宽到[0.2, 5]，与交易所无此过滤器时的行为一致
		MultiplierUp:   5.0,
		MultiplierDown: 0.2,
	}

	var haveLot, haveTick, haveNotional bool
	for _, filter := range s.Filters {
		switch filter["filterType"] {
		case "LOT_SIZE":
			stepStr, ok := filter["stepSize"].(string)
			if !ok {
				continue
			}
			out.StepSizeStr = stepStr
			out.StepSize, _ = strconv.ParseFloat(stepStr, 64)
			if minQty, ok := filter["minQty"].(string); ok {
				out.MinQty, _ = strconv.ParseFloat(minQty, 64)
			}
			haveLot = true
		case "PRICE_FILTER":
			tickStr, ok := filter["tickSize"].(string)
			if !ok {
				continue
			}
			out.TickSizeStr = tickStr
			out.TickSize, _ = strconv.ParseFloat(tickStr, 64)
			haveTick = true
		case "NOTIONAL", "MIN_NOTIONAL":
			// 两代过滤器字段名不同，依次尝试
			for _, key := range []string{"minNotional", "notional", "minNotionalValue"} {
				if mn, ok := filter[key].(string); ok {
					out.MinNotional, _ = strconv.ParseFloat(mn, 64)
					haveNotional = true
					break
				}
			}
		case "PERCENT_PRICE_BY_SIDE", "PERCENT_PRICE":
			if up, ok := filter["multiplierUp"].(string); ok {
				out.MultiplierUp, _ = strconv.ParseFloat(up, 64)
			}
			if down, ok := filter["multiplierDown"].(string); ok {
				out.MultiplierDown, _ = strconv.ParseFloat(down, 64)
			}
		}
	}

	if !haveLot {
		return nil, fmt.Errorf("%s 缺少LOT_SIZE过滤器", c.symbol)
	}
	if !haveTick {
		return nil, fmt.Errorf("%s 缺少PRICE_FILTER过滤器", c.symbol)
	}
	if !haveNotional {
		return nil, fmt.Errorf("%s 缺少NOTIONAL/MIN_NOTIONAL过滤器", c.symbol)
	}
	return out, nil
}

// PlaceLimitOrder 下GTC限价单，返回订单结果
func (c *Client) PlaceLimitOrder(ctx context.Context, side string, qtyStr, priceStr string) (*OrderResult, error) {
	sideType := binance.SideTypeBuy
	if side == "SELL" {
		sideType = binance.SideTypeSell
	}
	// 下单不做自动重试：重复提交会产生重复订单
	resp, err := c.api.NewCreateOrderService().
		Symbol(c.symbol).
		Side(sideType).
		Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Quantity(qtyStr).
		Price(priceStr).
		NewClientOrderID(uuid.NewString()).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("下限价单失败: %w", err)
	}

	execQty, _ := strconv.ParseFloat(resp.ExecutedQuantity, 64)
	cumQuote, _ := strconv.ParseFloat(resp.CummulativeQuoteQuantity, 64)
	result := &OrderResult{
		OrderID:     resp.OrderID,
		Status:      string(resp.Status),
		ExecutedQty: execQty,
		CumQuote:    cumQuote,
	}
	for _, f := range resp.Fills {
		p, _ := strconv.ParseFloat(f.Price, 64)
		q, _ := strconv.ParseFloat(f.Quantity, 64)
		result.Fills = append(result.Fills, Fill{Price: p, Qty: q})
	}
	return result, nil
}

// TestLimitOrder 发送测试单（只验证参数与权限，不进入撮合）
func (c *Client) TestLimitOrder(ctx context.Context, side string, qtyStr, priceStr string) error {
	sideType := binance.SideTypeBuy
	if side == "SELL" {
		sideType = binance.SideTypeSell
	}
	return c.retry.Do("测试下单", func() error {
		return c.api.NewCreateOrderService().
			Symbol(c.symbol).
			Side(sideType).
			Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Quantity(qtyStr).
			Price(priceStr).
			Test(ctx)
	})
}

// GetOrder 查询订单状态
func (c *Client) GetOrder(ctx context.Context, orderID int64) (*OrderResult, error) {
	return call(c.retry, "查询订单", func() (*OrderResult, error) {
		order, err := c.api.NewGetOrderService().
			Symbol(c.symbol).
			OrderID(orderID).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("查询订单状态失败: %w", err)
		}
		execQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)
		cumQuote, _ := strconv.ParseFloat(order.CummulativeQuoteQuantity, 64)
		return &OrderResult{
			OrderID:     order.OrderID,
			Status:      string(order.Status),
			ExecutedQty: execQty,
			CumQuote:    cumQuote,
		}, nil
	})
}

// CancelOrder 取消订单
func (c *Client) CancelOrder(ctx context.Context, orderID int64) error {
	return c.retry.Do("取消订单", func() error {
		_, err := c.api.NewCancelOrderService().
			Symbol(c.symbol).
			OrderID(orderID).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("取消订单失败: %w", err)
		}
		return nil
	})
}
