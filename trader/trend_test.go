package trader

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"dipbot/config"
)

func trendConfig(mode config.TrendMode, rev config.ReversalMode) *config.Config {
	return &config.Config{
		TrendMode:              mode,
		ReversalMode:           rev,
		TrendMinSamples:        3,
		TrendWindowSamples:     60,
		ReversalSamples:        3,
		TrendBlockCooldownSecs: 300,
		MinTrendSpreadPct:      0,
		MaxUnderSMAPct:         0.03,
		DipAnchorMode:          config.AnchorLastSellOnly,
		DipBlendSMAWeight:      0.7,
	}
}

func TestTrendGateWarmup(t *testing.T) {
	g := NewTrendGate(trendConfig(config.TrendReversal, config.ReversalBounce))
	s := NewState()
	s.PriceHistory = []float64{10, 11}

	ok, reason := g.Confirmed(s, 11, 10.5)
	assert.False(t, ok)
	assert.Equal(t, ReasonWarmup, reason)
}

func TestTrendGateBounce(t *testing.T) {
	tests := []struct {
		name    string
		history []float64
		wantOK  bool
		reason  string
	}{
		{"严格递增", []float64{10, 11, 12, 13}, true, ReasonBounceOK},
		{"中间回落", []float64{10, 12, 11, 13}, false, ReasonBounceBlocked},
		{"相等不算递增", []float64{10, 11, 11, 12}, false, ReasonBounceBlocked},
		{"只看最近N个", []float64{20, 5, 10, 11, 12}, true, ReasonBounceOK},
	}

	g := NewTrendGate(trendConfig(config.TrendReversal, config.ReversalBounce))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewState()
			s.PriceHistory = tt.history
			ok, reason := g.Confirmed(s, tt.history[len(tt.history)-1], 11)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestTrendGateCrossUp(t *testing.T) {
	g := NewTrendGate(trendConfig(config.TrendReversal, config.ReversalCrossUp))

	// 前值在SMA下方，现值在SMA上方 -> 放行
	s := NewState()
	s.PriceHistory = []float64{99, 98, 101}
	s.CandleCloses = []float64{100, 100, 101} // prev_sma=100, current_sma≈100.33
	ok, reason := g.Confirmed(s, 101, 100.33)
	assert.True(t, ok)
	assert.Equal(t, ReasonCrossUpOK, reason)

	// 前值已在SMA上方，不算上穿
	s2 := NewState()
	s2.PriceHistory = []float64{99, 102, 103}
	s2.CandleCloses = []float64{100, 100, 103}
	ok, reason = g.Confirmed(s2, 103, 101)
	assert.False(t, ok)
	assert.Equal(t, ReasonCrossUpBlocked, reason)
}

func TestTrendGateStrict(t *testing.T) {
	g := NewTrendGate(trendConfig(config.TrendStrict, config.ReversalBounce))
	s := NewState()
	s.PriceHistory = []float64{10, 11, 12}

	ok, reason := g.Confirmed(s, 12, 11)
	assert.True(t, ok)
	assert.Equal(t, ReasonStrictOK, reason)

	ok, reason = g.Confirmed(s, 10, 11)
	assert.False(t, ok)
	assert.Equal(t, ReasonStrictBlocked, reason)
}

func TestTrendBlock(t *testing.T) {
	g := NewTrendGate(trendConfig(config.TrendReversal, config.ReversalBounce))
	s := NewState()
	now := time.Now()

	assert.False(t, g.Blocked(s, now))
	g.Arm(s, now)
	assert.True(t, g.Blocked(s, now))
	assert.False(t, g.Blocked(s, now.Add(301*time.Second)))
	assert.Equal(t, 300, g.BlockRemaining(s, now))
}

func TestAnchorPrice(t *testing.T) {
	s := NewState()
	s.LastSellPrice = 2000
	s.PriceHistory = []float64{1990, 1995, 2000}

	t.Run("仅参考卖价", func(t *testing.T) {
		g := NewTrendGate(trendConfig(config.TrendReversal, config.ReversalBounce))
		assert.Equal(t, 2000.0, g.AnchorPrice(s, 1980, 1990))
	})

	t.Run("仅SMA", func(t *testing.T) {
		cfg := trendConfig(config.TrendReversal, config.ReversalBounce)
		cfg.DipAnchorMode = config.AnchorSMAOnly
		g := NewTrendGate(cfg)
		assert.Equal(t, 1990.0, g.AnchorPrice(s, 1980, 1990))
	})

	t.Run("混合加权", func(t *testing.T) {
		cfg := trendConfig(config.TrendReversal, config.ReversalBounce)
		cfg.DipAnchorMode = config.AnchorBlend
		g := NewTrendGate(cfg)
		// 0.7*1990 + 0.3*2000 = 1993
		assert.InDelta(t, 1993.0, g.AnchorPrice(s, 1980, 1990), 1e-9)
	})

	t.Run("无卖价回退现价", func(t *testing.T) {
		g := NewTrendGate(trendConfig(config.TrendReversal, config.ReversalBounce))
		empty := NewState()
		assert.Equal(t, 1980.0, g.AnchorPrice(empty, 1980, 1990))
	})
}

func TestFallingKnife(t *testing.T) {
	g := NewTrendGate(trendConfig(config.TrendReversal, config.ReversalBounce))

	assert.True(t, g.FallingKnife(960, 1000))   // 4%低于SMA
	assert.False(t, g.FallingKnife(980, 1000))  // 2%以内
	assert.False(t, g.FallingKnife(960, 0))     // SMA未就绪
}

func TestSMA(t *testing.T) {
	assert.Equal(t, 0.0, SMA(nil))
	assert.Equal(t, 2.0, SMA([]float64{1, 2, 3}))
}
