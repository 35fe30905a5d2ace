package trader

import (
	"context"
	"math"
	"time"

	"dipbot/config"
	"dipbot/logger"
	"dipbot/market"
)

// Funder 资金协调器：管理池计价资产不足时卖出基础资产补足。
// 只在HOLDING_QUOTE状态下触发。
type Funder struct {
	cfg  *config.Config
	ex   Exchange
	exec *Executor

	now func() time.Time
}

func NewFunder(cfg *config.Config, ex Exchange, exec *Executor) *Funder {
	return &Funder{cfg: cfg, ex: ex, exec: exec, now: time.Now}
}

// FundIfNeeded 补足管理池。返回状态是否被修改；
// 资金不足或成交价无效时返回FatalError。
func (fd *Funder) FundIfNeeded(ctx context.Context, s *State, targetNotional float64, f *market.Filters) (bool, error) {
	// 95%缓冲避免碎片化的小额补仓
	if s.PotQuote >= targetNotional*0.95 {
		return false, nil
	}

	logger.Log.Infof("📋 补充资金池: 当前 %.2f < 目标 %.2f", s.PotQuote, targetNotional)

	bt, err := fd.ex.BookTicker(ctx)
	if err != nil || bt.Mid() <= 0 {
		logger.Log.Warnf("⚠️ 补仓获取行情失败: %v", err)
		return false, nil
	}
	mid := bt.Mid()

	needed := targetNotional - s.PotQuote
	// 1.02手续费缓冲
	qty := FloorToStep(needed/mid*1.02, f.StepSize)

	freeBase, err := fd.ex.FreeBalance(ctx, f.BaseAsset)
	if err != nil {
		logger.Log.Warnf("⚠️ 补仓获取余额失败: %v", err)
		return false, nil
	}
	if qty > freeBase {
		return false, Fatalf("补仓所需%s不足: 需要 %.6f，可用 %.6f", f.BaseAsset, qty, freeBase)
	}

	// 抬高到最小下单量后必须重新对齐步长
	if qty < f.MinQty {
		qty = f.MinQty
	}
	qty = FloorToStep(qty, f.StepSize)

	logger.Log.Infof("🔔 补仓信号: 卖出 %s 数量 %.6f", f.BaseAsset, qty)

	// 补仓卖出用偏保守的参考价
	ref := math.Max(bt.Bid, mid)
	capMax := mid * f.MultiplierUp
	capMin := mid * f.MultiplierDown

	out := fd.exec.Execute(ctx, "SELL", qty, f, ref, capMin, capMax)
	switch out.Kind {
	case OutcomeCleanTimeout:
		logger.Log.Info("⏱ 补仓订单超时撤销，不计为错误")
		return false, nil
	case OutcomeHardFailure:
		s.ErrorTimestamps = append(s.ErrorTimestamps, float64(fd.now().Unix()))
		logger.Log.Errorf("❌ 补仓订单失败: %v", out.Err)
		return true, nil
	}

	avg := out.Order.AvgFillPrice()
	s.PotQuote += out.Order.CumQuote
	s.LastSellPrice = avg
	s.Position = HoldingQuote
	if s.LastSellPrice <= 0 {
		return true, Fatalf("补仓成交但last_sell_price无效: %.8f", s.LastSellPrice)
	}
	s.LastTradeTime = float64(fd.now().Unix())

	logger.Log.Infof("✅ 资金池已补足: 新池 %.2f %s，参考卖价 %.2f",
		s.PotQuote, f.QuoteAsset, s.LastSellPrice)
	return true, nil
}
