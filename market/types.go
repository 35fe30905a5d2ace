package market

// BookTicker 最优买卖报价
type BookTicker struct {
	Bid float64
	Ask float64
}

// Mid 中间价
func (b BookTicker) Mid() float64 {
	return (b.Bid + b.Ask) / 2
}

// SpreadPct 点差（相对买一价）
func (b BookTicker) SpreadPct() float64 {
	if b.Bid <= 0 {
		return 0
	}
	return (b.Ask - b.Bid) / b.Bid
}

// Candle 已收盘K线
type Candle struct {
	CloseTime int64 // 毫秒
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Filters 交易对过滤器（LOT_SIZE / PRICE_FILTER / NOTIONAL / PERCENT_PRICE）
type Filters struct {
	StepSize    float64
	StepSizeStr string // 保留原始字符串用于推导数量精度
	TickSize    float64
	TickSizeStr string
	MinNotional float64
	MinQty      float64
	// 百分比价格保护带（相对于当前均价/中间价）
	MultiplierUp   float64
	MultiplierDown float64

	Status     string
	BaseAsset  string
	QuoteAsset string
}

// Balance 账户单资产余额
type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}

// Account 账户快照
type Account struct {
	CanTrade bool
	Balances []Balance
}

// Fill 单笔成交明细
type Fill struct {
	Price float64
	Qty   float64
}

// OrderResult 订单查询/下单结果
type OrderResult struct {
	OrderID     int64
	Status      string // NEW / PARTIALLY_FILLED / FILLED / CANCELED / REJECTED / EXPIRED
	ExecutedQty float64
	CumQuote    float64 // 累计成交金额（计价资产）
	Fills       []Fill
}

// AvgFillPrice 按成交额加权的平均成交价；无成交明细时回退 CumQuote/ExecutedQty
func (o OrderResult) AvgFillPrice() float64 {
	var totalQty, totalCost float64
	for _, f := range o.Fills {
		totalQty += f.Qty
		totalCost += f.Qty * f.Price
	}
	if totalQty > 0 {
		return totalCost / totalQty
	}
	if o.ExecutedQty > 0 {
		return o.CumQuote / o.ExecutedQty
	}
	return 0
}
