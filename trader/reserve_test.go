package trader

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dipbot/config"
	"dipbot/market"
)

func reserveConfig() *config.Config {
	cfg := execConfig()
	cfg.DryRun = true
	cfg.EnableReserveWatcher = true
	cfg.EnableReserveAutosale = false
	cfg.ReserveMinBase = 0.001
	cfg.ReserveTrailPct = 0.03
	cfg.ReserveBlockCooldownSeconds = 300
	cfg.ReserveMaxSellBase = 0.01
	return cfg
}

func newTestWatcher(cfg *config.Config, fe *fakeExchange) *ReserveWatcher {
	return NewReserveWatcher(cfg, fe, NewExecutor(cfg, fe))
}

func TestComputeReserve(t *testing.T) {
	w := newTestWatcher(reserveConfig(), newFakeExchange())

	tests := []struct {
		name     string
		free     float64
		pot      float64
		want     float64
	}{
		{"正常储备", 0.5, 0.3, 0.2},
		{"低于门槛归零", 0.3005, 0.3, 0},
		{"池大于余额", 0.2, 0.3, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.ComputeReserve(tt.free, tt.pot))
		})
	}
}

func TestReserveWatermarkRises(t *testing.T) {
	fe := newFakeExchange()
	fe.free["ETH"] = 0.5
	w := newTestWatcher(reserveConfig(), fe)

	s := NewState()
	s.PotBase = 0.3 // 储备 0.2

	f, _ := fe.Filters(context.Background())
	changed := w.Run(context.Background(), s, 2000, f, 400, 10000)
	require.True(t, changed)
	assert.Equal(t, 400.0, s.ReserveHighWatermarkQuote) // 0.2 * 2000
	assert.InDelta(t, 0.2, s.ReserveLastSeenBase, 1e-9)

	// 价格上涨，水位线跟随
	changed = w.Run(context.Background(), s, 2100, f, 400, 10000)
	require.True(t, changed)
	assert.Equal(t, 420.0, s.ReserveHighWatermarkQuote)

	// 价格回落但未触发，水位线保持
	w.Run(context.Background(), s, 2090, f, 400, 10000)
	assert.Equal(t, 420.0, s.ReserveHighWatermarkQuote)
}

func TestReserveWatermarkResetOnSizeChange(t *testing.T) {
	fe := newFakeExchange()
	fe.free["ETH"] = 0.5
	w := newTestWatcher(reserveConfig(), fe)

	s := NewState()
	s.PotBase = 0.3
	f, _ := fe.Filters(context.Background())
	w.Run(context.Background(), s, 2000, f, 400, 10000)
	require.Equal(t, 400.0, s.ReserveHighWatermarkQuote)

	// 储备规模变化超过5% -> 水位线重置为当前市值
	fe.free["ETH"] = 0.4 // 储备 0.2 -> 0.1
	w.Run(context.Background(), s, 2000, f, 400, 10000)
	assert.Equal(t, 200.0, s.ReserveHighWatermarkQuote)
	assert.InDelta(t, 0.1, s.ReserveLastSeenBase, 1e-9)
}

func TestReserveZeroClearsTracking(t *testing.T) {
	fe := newFakeExchange()
	fe.free["ETH"] = 0.5
	w := newTestWatcher(reserveConfig(), fe)

	s := NewState()
	s.PotBase = 0.3
	f, _ := fe.Filters(context.Background())
	w.Run(context.Background(), s, 2000, f, 400, 10000)
	require.Greater(t, s.ReserveHighWatermarkQuote, 0.0)

	fe.free["ETH"] = 0.3 // 储备归零
	changed := w.Run(context.Background(), s, 2000, f, 400, 10000)
	require.True(t, changed)
	assert.Equal(t, 0.0, s.ReserveHighWatermarkQuote)
	assert.Equal(t, 0.0, s.ReserveLastSeenBase)
	assert.Equal(t, 0.0, s.ReserveLastValueQuote)
}

func TestReserveTrailSignalWithoutAutosale(t *testing.T) {
	fe := newFakeExchange()
	fe.free["ETH"] = 0.5
	w := newTestWatcher(reserveConfig(), fe)

	s := NewState()
	s.PotBase = 0.3
	f, _ := fe.Filters(context.Background())
	w.Run(context.Background(), s, 2000, f, 400, 10000)

	// 市值跌破水位线3% -> 有信号但自动卖出关闭，不下单
	w.Run(context.Background(), s, 1930, f, 400, 10000)
	assert.Empty(t, fe.placed)
	assert.Equal(t, 0.0, s.ReserveLastActionTS)
}

func TestReserveAutosaleExecutes(t *testing.T) {
	cfg := reserveConfig()
	cfg.EnableReserveAutosale = true

	fe := newFakeExchange()
	fe.free["ETH"] = 0.5
	w := newTestWatcher(cfg, fe)

	s := NewState()
	s.PotBase = 0.3
	potBefore := s.PotQuote

	f, _ := fe.Filters(context.Background())
	w.Run(context.Background(), s, 2000, f, 400, 10000)
	require.Equal(t, 400.0, s.ReserveHighWatermarkQuote)

	// 触发追踪止损 -> DRY_RUN模拟卖出，数量受ReserveMaxSellBase限制
	changed := w.Run(context.Background(), s, 1900, f, 400, 10000)
	require.True(t, changed)
	assert.Greater(t, s.ReserveLastActionTS, 0.0)
	assert.Equal(t, 0.0, s.ReserveHighWatermarkQuote, "卖出后水位线归零")
	assert.Equal(t, potBefore, s.PotQuote, "储备卖出回款不入管理池")
}

func TestReserveWatermarkResetOnFailedSellAttempt(t *testing.T) {
	cfg := reserveConfig()
	cfg.EnableReserveAutosale = true
	cfg.DryRun = false

	fe := newFakeExchange()
	fe.free["ETH"] = 0.5
	clean := func(oid int64, side, qty, price string) []*market.OrderResult {
		return []*market.OrderResult{{OrderID: oid, Status: "CANCELED", ExecutedQty: 0}}
	}
	fe.scripts = []func(int64, string, string, string) []*market.OrderResult{clean, clean, clean}

	exec := NewExecutor(cfg, fe)
	exec.sleep = noSleep
	w := NewReserveWatcher(cfg, fe, exec)

	s := NewState()
	s.PotBase = 0.3
	f, _ := fe.Filters(context.Background())
	w.Run(context.Background(), s, 2000, f, 400, 10000)
	require.Equal(t, 400.0, s.ReserveHighWatermarkQuote)

	// 触发卖出但全部干净超时：水位线仍须归零并进入动作冷却
	changed := w.Run(context.Background(), s, 1900, f, 400, 10000)
	require.True(t, changed)
	assert.NotEmpty(t, fe.placed)
	assert.Equal(t, 0.0, s.ReserveHighWatermarkQuote, "卖出尝试失败也要归零水位线")
	assert.Greater(t, s.ReserveLastActionTS, 0.0)
}

func TestReserveActionCooldown(t *testing.T) {
	cfg := reserveConfig()
	cfg.EnableReserveAutosale = true

	fe := newFakeExchange()
	fe.free["ETH"] = 0.5
	w := newTestWatcher(cfg, fe)

	s := NewState()
	s.PotBase = 0.3
	s.ReserveLastActionTS = float64(time.Now().Unix()) // 刚动作过

	f, _ := fe.Filters(context.Background())
	w.Run(context.Background(), s, 2000, f, 400, 10000)
	require.Equal(t, 400.0, s.ReserveHighWatermarkQuote)

	// 市值跌破止损线，但冷却期内不得动作
	w.Run(context.Background(), s, 1900, f, 400, 10000)
	assert.Equal(t, 400.0, s.ReserveHighWatermarkQuote, "冷却期内不得卖出（卖出会清零水位线）")
}

func TestReserveDisabled(t *testing.T) {
	cfg := reserveConfig()
	cfg.EnableReserveWatcher = false

	fe := newFakeExchange()
	fe.free["ETH"] = 0.5
	w := newTestWatcher(cfg, fe)

	s := NewState()
	f, _ := fe.Filters(context.Background())
	assert.False(t, w.Run(context.Background(), s, 2000, f, 400, 10000))
	assert.Equal(t, 0.0, s.ReserveHighWatermarkQuote)
}
