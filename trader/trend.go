package trader

import (
	"time"

	"dipbot/config"
)

// 趋势门控原因码
const (
	ReasonWarmup         = "WARMUP"
	ReasonStrictOK       = "STRICT_OK"
	ReasonStrictBlocked  = "STRICT_BLOCKED"
	ReasonCrossUpOK      = "REVERSAL_CROSSUP_OK"
	ReasonCrossUpBlocked = "REVERSAL_CROSSUP_BLOCKED"
	ReasonWarmupBounce   = "WARMUP_BOUNCE"
	ReasonBounceOK       = "REVERSAL_BOUNCE3_OK"
	ReasonBounceBlocked  = "REVERSAL_BOUNCE3_BLOCKED"
	ReasonUnknownMode    = "UNKNOWN_MODE"
)

// TrendGate 买入前的趋势/反转确认。
// 持有两份数据：逐样本价格历史（反转判断）和K线收盘窗口（SMA）。
type TrendGate struct {
	cfg *config.Config
}

func NewTrendGate(cfg *config.Config) *TrendGate {
	return &TrendGate{cfg: cfg}
}

// SMA 简单移动平均；空切片返回0
func SMA(prices []float64) float64 {
	if len(prices) == 0 {
		return 0
	}
	var sum float64
	for _, p := range prices {
		sum += p
	}
	return sum / float64(len(prices))
}

// Ready 样本是否满足预热要求
func (g *TrendGate) Ready(s *State) bool {
	return len(s.PriceHistory) >= g.cfg.TrendMinSamples
}

// Confirmed 判断买入门控是否放行，返回(是否放行, 原因码)。
//
// CROSSUP的"前一个"取价格历史的倒数第二个样本；前SMA用去掉最新
// 收盘价的K线窗口计算，与当前SMA同源可比。
func (g *TrendGate) Confirmed(s *State, currentPrice, currentSMA float64) (bool, string) {
	if len(s.PriceHistory) < g.cfg.TrendMinSamples {
		return false, ReasonWarmup
	}

	switch g.cfg.TrendMode {
	case config.TrendStrict:
		required := currentSMA * (1 + g.cfg.MinTrendSpreadPct)
		if currentPrice > required {
			return true, ReasonStrictOK
		}
		return false, ReasonStrictBlocked

	case config.TrendReversal:
		switch g.cfg.ReversalMode {
		case config.ReversalCrossUp:
			prevPrice := currentPrice
			if len(s.PriceHistory) >= 2 {
				prevPrice = s.PriceHistory[len(s.PriceHistory)-2]
			}
			prevSMA := currentSMA
			if len(s.CandleCloses) > 1 {
				prevSMA = SMA(s.CandleCloses[:len(s.CandleCloses)-1])
			}
			required := currentSMA * (1 + g.cfg.MinTrendSpreadPct)
			if prevPrice <= prevSMA && currentPrice > required {
				return true, ReasonCrossUpOK
			}
			return false, ReasonCrossUpBlocked

		case config.ReversalBounce:
			n := g.cfg.ReversalSamples
			if len(s.PriceHistory) < n {
				return false, ReasonWarmupBounce
			}
			// 最近N个样本（含最新）必须严格递增
			subset := s.PriceHistory[len(s.PriceHistory)-n:]
			for i := 0; i < len(subset)-1; i++ {
				if subset[i] >= subset[i+1] {
					return false, ReasonBounceBlocked
				}
			}
			return true, ReasonBounceOK
		}
	}
	return false, ReasonUnknownMode
}

// Blocked 门控失败后的买入冷却是否仍然生效
func (g *TrendGate) Blocked(s *State, now time.Time) bool {
	return float64(now.Unix()) < s.TrendBlockUntil
}

// Arm 启动门控冷却
func (g *TrendGate) Arm(s *State, now time.Time) {
	s.TrendBlockUntil = float64(now.Add(g.cfg.TrendBlockCooldown()).Unix())
}

// BlockRemaining 剩余冷却秒数（用于状态快照日志）
func (g *TrendGate) BlockRemaining(s *State, now time.Time) int {
	rem := int(s.TrendBlockUntil - float64(now.Unix()))
	if rem < 0 {
		return 0
	}
	return rem
}

// AnchorPrice 计算抄底锚点价格。
// 锚点基于last_sell_price，预热完成后可按配置掺入SMA。
func (g *TrendGate) AnchorPrice(s *State, currentPrice, currentSMA float64) float64 {
	anchor := s.LastSellPrice
	if anchor <= 0 {
		anchor = currentPrice
	}
	if !g.Ready(s) {
		return anchor
	}
	switch g.cfg.DipAnchorMode {
	case config.AnchorSMAOnly:
		return currentSMA
	case config.AnchorBlend:
		w := g.cfg.DipBlendSMAWeight
		return currentSMA*w + anchor*(1-w)
	}
	return anchor
}

// FallingKnife 落刀保护：价格远低于SMA时禁止买入
func (g *TrendGate) FallingKnife(currentPrice, currentSMA float64) bool {
	if !(currentSMA > 0) {
		return false
	}
	return currentPrice < currentSMA*(1-g.cfg.MaxUnderSMAPct)
}
