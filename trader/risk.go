package trader

import (
	"time"

	"dipbot/config"
	"dipbot/logger"
)

// RiskController 日内安全约束：日期重置、亏损/次数上限、
// 错误滑动窗口熔断、交易冷却。
type RiskController struct {
	cfg *config.Config
}

func NewRiskController(cfg *config.Config) *RiskController {
	return &RiskController{cfg: cfg}
}

// CheckDailyReset 运营时区日期变更时清零日计数器，返回是否发生重置
func (r *RiskController) CheckDailyReset(s *State, now time.Time) bool {
	today := now.In(r.cfg.Location()).Format("2006-01-02")
	if today == s.DayKey {
		return false
	}
	logger.Log.Infof("🔄 日重置: 新的一天 %s，清零日计数器", today)
	s.DailyLossQuote = 0
	s.TradeCount = 0
	s.DayKey = today
	return true
}

// RecordError 记录一次运行时错误
func (r *RiskController) RecordError(s *State, now time.Time) {
	s.ErrorTimestamps = append(s.ErrorTimestamps, float64(now.Unix()))
}

// CheckErrorWindow 错误熔断器：清理窗口外的旧记录，
// 窗口内错误数达到上限时返回FatalError。
// 返回值changed表示列表被修剪、需要落盘。
func (r *RiskController) CheckErrorWindow(s *State, now time.Time) (changed bool, err error) {
	nowSec := float64(now.Unix())
	window := r.cfg.ErrorWindow().Seconds()

	kept := s.ErrorTimestamps[:0]
	for _, t := range s.ErrorTimestamps {
		if nowSec-t < window {
			kept = append(kept, t)
		}
	}
	changed = len(kept) != len(s.ErrorTimestamps)
	s.ErrorTimestamps = kept

	if len(kept) > 0 {
		logger.Log.Warnf("⚠️ 错误计数: %d/%d (最近%ds内)", len(kept), r.cfg.ErrorLimit, r.cfg.ErrorWindowSeconds)
	}
	if len(kept) >= r.cfg.ErrorLimit {
		return changed, Fatalf("错误熔断: %ds内发生%d次错误", r.cfg.ErrorWindowSeconds, len(kept))
	}
	return changed, nil
}

// CheckCaps 日亏损与日交易次数上限，触发时返回GracefulStop
func (r *RiskController) CheckCaps(s *State) error {
	if s.DailyLossQuote >= r.cfg.MaxDailyLossQuote {
		return &GracefulStop{Reason: "已达日亏损上限"}
	}
	if s.TradeCount >= r.cfg.MaxTradesPerDay {
		return &GracefulStop{Reason: "已达日交易次数上限"}
	}
	return nil
}

// InCooldown 距上次交易是否仍在冷却期内
func (r *RiskController) InCooldown(s *State, now time.Time) bool {
	return float64(now.Unix())-s.LastTradeTime < r.cfg.Cooldown().Seconds()
}

// CooldownRemaining 剩余冷却秒数
func (r *RiskController) CooldownRemaining(s *State, now time.Time) int {
	rem := int(r.cfg.Cooldown().Seconds()) - int(float64(now.Unix())-s.LastTradeTime)
	if rem < 0 {
		return 0
	}
	return rem
}
