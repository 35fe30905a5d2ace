package trader

import (
	"context"
	"math"
	"time"

	"dipbot/config"
	"dipbot/logger"
	"dipbot/market"
)

// ReserveWatcher 监控池外的基础资产（储备仓位），
// 按市值高水位线做追踪止损，可选自动卖出。
// 储备卖出的回款不进入管理池。
type ReserveWatcher struct {
	cfg  *config.Config
	ex   Exchange
	exec *Executor

	now func() time.Time
}

func NewReserveWatcher(cfg *config.Config, ex Exchange, exec *Executor) *ReserveWatcher {
	return &ReserveWatcher{cfg: cfg, ex: ex, exec: exec, now: time.Now}
}

// ComputeReserve 储备 = 账户可用 - 管理池，低于门槛视为0
func (w *ReserveWatcher) ComputeReserve(freeBase, potBase float64) float64 {
	reserve := freeBase - potBase
	if reserve < w.cfg.ReserveMinBase {
		return 0
	}
	return reserve
}

// Run 执行一轮储备检查。返回状态是否被修改（由调用方落盘）。
func (w *ReserveWatcher) Run(ctx context.Context, s *State, mid float64, f *market.Filters, capMin, capMax float64) bool {
	if !w.cfg.EnableReserveWatcher {
		return false
	}
	nowTS := float64(w.now().Unix())

	freeBase, err := w.ex.FreeBalance(ctx, f.BaseAsset)
	if err != nil {
		logger.Log.Errorf("❌ 储备监控获取%s余额失败: %v", f.BaseAsset, err)
		return false
	}

	reserve := w.ComputeReserve(freeBase, s.PotBase)
	changed := false

	// 储备归零时清空全部追踪状态
	if reserve == 0 {
		if s.ReserveHighWatermarkQuote != 0 {
			s.ReserveHighWatermarkQuote = 0
			changed = true
		}
		if s.ReserveLastSeenBase != 0 {
			s.ReserveLastSeenBase = 0
			changed = true
		}
		if s.ReserveLastValueQuote != 0 {
			s.ReserveLastValueQuote = 0
			changed = true
		}
		return changed
	}

	// 市值取2位小数，避免浮点抖动反复触发
	value := math.Round(reserve*mid*100) / 100
	s.ReserveLastValueQuote = value

	// 仓位规模变化检测：变化超过一个步长或超过5%时水位线重置为当前市值
	prev := s.ReserveLastSeenBase
	delta := math.Abs(reserve - prev)
	if prev > 0 && (delta > f.StepSize || delta > 0.05*prev) {
		logger.Log.Infof("📋 储备规模变化 (%.4f -> %.4f)，水位线重置为当前市值 %.2f", prev, reserve, value)
		s.ReserveHighWatermarkQuote = value
		changed = true
	}
	if s.ReserveLastSeenBase != reserve {
		s.ReserveLastSeenBase = reserve
		changed = true
	}

	// 高水位线上移
	if s.ReserveHighWatermarkQuote == 0 || value > s.ReserveHighWatermarkQuote {
		s.ReserveHighWatermarkQuote = value
		changed = true
	}

	// 动作冷却
	if nowTS-s.ReserveLastActionTS < float64(w.cfg.ReserveBlockCooldownSeconds) {
		return changed
	}

	// 追踪止损触发判断
	trail := s.ReserveHighWatermarkQuote * (1 - w.cfg.ReserveTrailPct)
	if !(s.ReserveHighWatermarkQuote > 0 && value <= trail) {
		return changed
	}

	if !w.cfg.EnableReserveAutosale {
		logger.Log.Warnf("⚠️ 储备卖出信号 (市值 %.2f <= 止损线 %.2f)，自动卖出未启用", value, trail)
		return changed
	}

	logger.Log.Infof("🔔 储备追踪止损触发: 市值 %.2f <= %.2f，储备 %.4f %s",
		value, trail, reserve, f.BaseAsset)

	qty := math.Min(reserve, w.cfg.ReserveMaxSellBase)
	qty = FloorToStep(qty, f.StepSize)
	if qty*mid < f.MinNotional {
		logger.Log.Warn("⚠️ 储备卖出数量低于最小成交额，跳过")
		return changed
	}

	out := w.exec.Execute(ctx, "SELL", qty, f, mid, capMin, capMax)
	// 任何一次卖出尝试（成交与否）后水位线归零，按剩余仓位重新累积
	s.ReserveLastActionTS = nowTS
	s.ReserveHighWatermarkQuote = 0
	switch out.Kind {
	case OutcomeExecuted:
		logger.Log.Infof("✅ 储备卖出成交: 数量 %.4f，回款 %.2f %s（不入管理池）",
			out.Order.ExecutedQty, out.Order.CumQuote, f.QuoteAsset)
	case OutcomeCleanTimeout:
		logger.Log.Info("⏱ 储备卖出超时撤销")
	case OutcomeHardFailure:
		logger.Log.Errorf("❌ 储备卖出失败: %v", out.Err)
	}
	return true
}
