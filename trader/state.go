package trader

import (
	"encoding/json"
	"math"

	"dipbot/logger"
)

// Position 持仓状态
type Position string

const (
	HoldingQuote Position = "HOLDING_QUOTE" // 持有计价资产，等待抄底
	HoldingBase  Position = "HOLDING_BASE"  // 持有基础资产，等待止盈/止损
)

// State 引擎的全部持久化状态。单一逻辑所有者是控制循环；
// 每个变更批次后同步落盘一次。
//
// 时间戳字段统一使用Unix秒（float64），与旧版状态文件保持二进制兼容。
type State struct {
	Position      Position `json:"state"`
	EntryPrice    float64  `json:"entry_price"`
	LastSellPrice float64  `json:"last_sell_price"`

	PotQuote float64 `json:"pot_quote"`
	PotBase  float64 `json:"pot_base"`

	DailyLossQuote float64 `json:"daily_loss_quote"`
	TradeCount     int     `json:"trade_count"`
	DayKey         string  `json:"day_key"`
	LastTradeTime  float64 `json:"last_trade_time"`

	ErrorTimestamps []float64 `json:"error_timestamps"`
	PriceHistory    []float64 `json:"price_history"`

	TrendBlockUntil float64 `json:"trend_block_until"`
	LastSMA         float64 `json:"last_sma"`
	LastMid         float64 `json:"last_mid"`

	ReserveHighWatermarkQuote float64 `json:"reserve_high_watermark_quote"`
	ReserveLastValueQuote     float64 `json:"reserve_last_value_quote"`
	ReserveLastActionTS       float64 `json:"reserve_last_action_ts"`
	ReserveLastSeenBase       float64 `json:"reserve_last_seen_base"`

	LastCandleCloseTime int64     `json:"last_candle_close_time"`
	CandleCloses        []float64 `json:"candle_closes"`
}

// NewState 首次运行的默认状态
func NewState() *State {
	return &State{
		Position:        HoldingQuote,
		ErrorTimestamps: []float64{},
		PriceHistory:    []float64{},
		CandleCloses:    []float64{},
	}
}

// UnmarshalJSON 加载状态文档，透明迁移旧版字段名（USDT/ETH时代的键名）
func (s *State) UnmarshalJSON(data []byte) error {
	type alias State
	aux := struct {
		*alias
		LegacyPotQuote        *float64 `json:"pot_usdt"`
		LegacyDailyLoss       *float64 `json:"daily_loss_usdt"`
		LegacyPotBase         *float64 `json:"pot_eth"`
		LegacyReserveLastSeen *float64 `json:"reserve_last_seen_eth"`
	}{alias: (*alias)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.LegacyPotQuote != nil {
		s.PotQuote = *aux.LegacyPotQuote
	}
	if aux.LegacyDailyLoss != nil {
		s.DailyLossQuote = *aux.LegacyDailyLoss
	}
	if aux.LegacyPotBase != nil {
		s.PotBase = *aux.LegacyPotBase
	}
	if aux.LegacyReserveLastSeen != nil {
		s.ReserveLastSeenBase = *aux.LegacyReserveLastSeen
	}

	switch s.Position {
	case "HOLDING_USDT":
		s.Position = HoldingQuote
	case "HOLDING_ETH":
		s.Position = HoldingBase
	case "":
		s.Position = HoldingQuote
	}

	if s.ErrorTimestamps == nil {
		s.ErrorTimestamps = []float64{}
	}
	if s.PriceHistory == nil {
		s.PriceHistory = []float64{}
	}
	if s.CandleCloses == nil {
		s.CandleCloses = []float64{}
	}
	return nil
}

// CapLists 将有界列表截断到配置上限（保留最新条目）
func (s *State) CapLists(trendWindow, smaWindow int) {
	if len(s.PriceHistory) > trendWindow {
		s.PriceHistory = s.PriceHistory[len(s.PriceHistory)-trendWindow:]
	}
	if len(s.CandleCloses) > smaWindow {
		s.CandleCloses = s.CandleCloses[len(s.CandleCloses)-smaWindow:]
	}
}

// AppendSample 追加价格样本并维持窗口上限
func (s *State) AppendSample(price float64, trendWindow int) {
	s.PriceHistory = append(s.PriceHistory, price)
	if len(s.PriceHistory) > trendWindow {
		s.PriceHistory = s.PriceHistory[len(s.PriceHistory)-trendWindow:]
	}
}

// AppendCandleClose 追加K线收盘价并维持窗口上限
func (s *State) AppendCandleClose(close float64, smaWindow int) {
	s.CandleCloses = append(s.CandleCloses, close)
	if len(s.CandleCloses) > smaWindow {
		s.CandleCloses = s.CandleCloses[len(s.CandleCloses)-smaWindow:]
	}
}

// NormalizePots 灰尘归零与负值钳制。
// 基础资产以一个最小交易步长为灰尘界，计价资产以0.01为界。
func (s *State) NormalizePots(stepSize float64) {
	if s.PotBase != 0 && math.Abs(s.PotBase) < stepSize {
		logger.Log.Infof("🧹 清理基础资产灰尘: %.8f -> 0", s.PotBase)
		s.PotBase = 0
	}
	if s.PotBase < 0 {
		logger.Log.Warnf("⚠️ 钳制负的基础资产余额: %.8f -> 0", s.PotBase)
		s.PotBase = 0
	}

	if s.PotQuote != 0 && math.Abs(s.PotQuote) < 0.01 {
		logger.Log.Infof("🧹 清理计价资产灰尘: %.8f -> 0", s.PotQuote)
		s.PotQuote = 0
	}
	if s.PotQuote < 0 {
		logger.Log.Warnf("⚠️ 钳制负的计价资产余额: %.8f -> 0", s.PotQuote)
		s.PotQuote = 0
	}
}
