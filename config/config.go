package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// TrendMode 趋势确认模式
type TrendMode string

const (
	TrendStrict   TrendMode = "STRICT"   // 价格必须高于SMA
	TrendReversal TrendMode = "REVERSAL" // 反转确认（见 ReversalMode）
)

// ReversalMode 反转确认子模式
type ReversalMode string

const (
	ReversalCrossUp ReversalMode = "CROSSUP" // 严格上穿：前值≤前SMA 且 现值>现SMA
	ReversalBounce  ReversalMode = "BOUNCE3" // 最近N个样本严格递增
)

// AnchorMode 抄底锚点模式
type AnchorMode string

const (
	AnchorLastSellOnly AnchorMode = "LAST_SELL_ONLY"
	AnchorSMAOnly      AnchorMode = "SMA_ONLY"
	AnchorBlend        AnchorMode = "BLEND" // 权重·SMA + (1-权重)·last_sell_price
)

// WalkInterpolation Walk-The-Limit 报价偏移插值方式
type WalkInterpolation string

const (
	WalkLinear      WalkInterpolation = "LINEAR"
	WalkExponential WalkInterpolation = "EXPONENTIAL"
)

// Config 运行配置。启动时构造一次，之后不可变，显式传入各组件。
type Config struct {
	// 交易对
	Symbol  string
	BaseURL string

	// API密钥
	APIKey    string
	SecretKey string

	// 交易参数
	TradeValueQuote float64 // 目标单笔交易金额（计价资产）
	BuyDropPct      float64 // 抄底跌幅阈值
	TakeProfitPct   float64
	StopLossPct     float64

	// 安全参数
	MaxDailyLossQuote   float64
	MaxTradesPerDay     int
	CooldownSeconds     int
	ErrorLimit          int
	ErrorWindowSeconds  int
	MaxSpreadPct        float64
	MinNotionalBuffer   float64
	MinFillQuote        float64 // 切换持仓状态所需的最小成交金额
	DryRun              bool
	LiveTrading         bool
	RequireStartConfirm bool

	// 固定偏移限价单
	LimitOffsetPct      float64
	OrderTimeoutSeconds int

	// 趋势与反转门控
	TrendWindowSamples     int
	TrendMinSamples        int
	TrendMode              TrendMode
	ReversalMode           ReversalMode
	ReversalSamples        int
	TrendBlockCooldownSecs int
	MinTrendSpreadPct      float64
	MaxUnderSMAPct         float64 // 落刀保护：价格低于SMA超过此比例时禁止买入
	DipAnchorMode          AnchorMode
	DipBlendSMAWeight      float64

	// Walk-The-Limit
	WalkEnabled           bool
	WalkSliceSeconds      int
	WalkMaxTotalSeconds   int
	WalkMaxAttempts       int
	WalkOffsetStartPct    float64
	WalkOffsetEndPct      float64
	WalkMode              WalkInterpolation
	WalkMaxSpreadCrossPct float64

	// 储备监控（管理池之外的基础资产）
	EnableReserveWatcher        bool
	EnableReserveAutosale       bool
	ReserveMinBase              float64
	ReserveTrailPct             float64
	ReserveBlockCooldownSeconds int
	ReserveMaxSellBase          float64

	// K线数据源
	CandleInterval            string
	CandleLimit               int
	CandlePollSeconds         int
	SMAWindowCandles          int
	MaxCandleStalenessSeconds int
	FiltersRefreshSeconds     int

	// 其他
	Timezone      string
	StatePath     string // sqlite状态库路径
	LegacyState   string // 旧版JSON状态文件（存在则迁移导入）
	APIServerPort int
	LogLevel      string
}

// Load 从环境变量构建配置（.env 由 main 先行加载）
func Load() (*Config, error) {
	cfg := &Config{
		Symbol:  getString("SYMBOL", "ETHUSDT"),
		BaseURL: getString("BASE_URL", "https://api.binance.com"),

		APIKey:    os.Getenv("API_KEY"),
		SecretKey: os.Getenv("API_SECRET"),

		// 兼容旧版 *_USDT 配置键
		TradeValueQuote: getFloat("TRADE_VALUE_QUOTE", getFloat("TRADE_VALUE_USDT", 10.0)),
		BuyDropPct:      getFloat("BUY_DROP_PCT", 0.01),
		TakeProfitPct:   getFloat("TAKE_PROFIT_PCT", 0.012),
		StopLossPct:     getFloat("STOP_LOSS_PCT", 0.02),

		MaxDailyLossQuote:   getFloat("MAX_DAILY_LOSS_QUOTE", getFloat("MAX_DAILY_LOSS_USDT", 2.0)),
		MaxTradesPerDay:     getInt("MAX_TRADES_PER_DAY", 10),
		CooldownSeconds:     getInt("COOLDOWN_SECONDS", 120),
		ErrorLimit:          getInt("ERROR_LIMIT", 5),
		ErrorWindowSeconds:  getInt("ERROR_WINDOW_SECONDS", 600),
		MaxSpreadPct:        getFloat("MAX_SPREAD_PCT", 0.003),
		MinNotionalBuffer:   getFloat("MIN_NOTIONAL_BUFFER", 1.05),
		MinFillQuote:        getFloat("MIN_FILL_QUOTE", 5.0),
		DryRun:              getInt("DRY_RUN", 1) == 1,
		LiveTrading:         getString("LIVE_TRADING", "NO") == "YES",
		RequireStartConfirm: getInt("REQUIRE_START_CONFIRM", 1) == 1,

		LimitOffsetPct:      getFloat("LIMIT_OFFSET_PCT", 0.001),
		OrderTimeoutSeconds: getInt("ORDER_TIMEOUT_SECONDS", 60),

		TrendWindowSamples:     getInt("TREND_WINDOW_SAMPLES", 60),
		TrendMinSamples:        getInt("TREND_MIN_SAMPLES", 30),
		TrendMode:              TrendMode(getString("TREND_MODE", "REVERSAL")),
		ReversalMode:           ReversalMode(getString("REVERSAL_MODE", "BOUNCE3")),
		ReversalSamples:        getInt("REVERSAL_SAMPLES", 3),
		TrendBlockCooldownSecs: getInt("TREND_BLOCK_COOLDOWN_SECONDS", 300),
		MinTrendSpreadPct:      getFloat("MIN_TREND_SPREAD_PCT", 0.0),
		MaxUnderSMAPct:         getFloat("MAX_UNDER_SMA_PCT", 0.03),
		DipAnchorMode:          AnchorMode(getString("DIP_ANCHOR_MODE", "BLEND")),
		DipBlendSMAWeight:      getFloat("DIP_BLEND_SMA_WEIGHT", 0.7),

		WalkEnabled:           getString("WALK_ENABLED", "YES") == "YES",
		WalkSliceSeconds:      getInt("WALK_SLICE_SECONDS", 15),
		WalkMaxTotalSeconds:   getInt("WALK_MAX_TOTAL_SECONDS", 180),
		WalkMaxAttempts:       getInt("WALK_MAX_ATTEMPTS", 6),
		WalkOffsetEndPct:      getFloat("WALK_OFFSET_END_PCT", 0.0),
		WalkMode:              WalkInterpolation(getString("WALK_MODE", "LINEAR")),
		WalkMaxSpreadCrossPct: getFloat("WALK_MAX_SPREAD_CROSS_PCT", 0.0002),

		EnableReserveWatcher:        getString("ENABLE_RESERVE_WATCHER", "YES") == "YES",
		EnableReserveAutosale:       getString("ENABLE_RESERVE_AUTOSALE", "NO") == "YES",
		ReserveMinBase:              getFloat("RESERVE_MIN_BASE", getFloat("RESERVE_MIN_ETH", 0.0010)),
		ReserveTrailPct:             getFloat("RESERVE_TRAIL_PCT", 0.03),
		ReserveBlockCooldownSeconds: getInt("RESERVE_BLOCK_COOLDOWN_SECONDS", 300),
		ReserveMaxSellBase:          getFloat("RESERVE_MAX_SELL_BASE", getFloat("RESERVE_MAX_SELL_ETH", 0.01)),

		CandleInterval:            getString("CANDLE_INTERVAL", "5m"),
		CandleLimit:               getInt("CANDLE_LIMIT", 200),
		CandlePollSeconds:         getInt("CANDLE_POLL_SECONDS", 10),
		SMAWindowCandles:          getInt("SMA_WINDOW_CANDLES", 30),
		MaxCandleStalenessSeconds: getInt("MAX_CANDLE_STALENESS_SECONDS", 1200),
		FiltersRefreshSeconds:     getInt("FILTERS_REFRESH_SECONDS", 21600),

		Timezone:      getString("TIMEZONE", "Europe/Stockholm"),
		StatePath:     getString("STATE_DB", "dipbot_state.db"),
		LegacyState:   getString("LEGACY_STATE_FILE", "bot_state.json"),
		APIServerPort: getInt("API_SERVER_PORT", 0),
		LogLevel:      getString("LOG_LEVEL", "info"),
	}

	// Walk开启时固定偏移必须归零，避免双重偏移
	cfg.WalkOffsetStartPct = getFloat("WALK_OFFSET_START_PCT", cfg.LimitOffsetPct)
	if cfg.WalkEnabled {
		cfg.LimitOffsetPct = 0
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}
	return cfg, nil
}

// Validate 验证配置有效性
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("SYMBOL不能为空")
	}
	switch c.TrendMode {
	case TrendStrict, TrendReversal:
	default:
		return fmt.Errorf("TREND_MODE无效: %s (可选 STRICT/REVERSAL)", c.TrendMode)
	}
	switch c.ReversalMode {
	case ReversalCrossUp, ReversalBounce:
	default:
		return fmt.Errorf("REVERSAL_MODE无效: %s (可选 CROSSUP/BOUNCE3)", c.ReversalMode)
	}
	switch c.DipAnchorMode {
	case AnchorLastSellOnly, AnchorSMAOnly, AnchorBlend:
	default:
		return fmt.Errorf("DIP_ANCHOR_MODE无效: %s (可选 LAST_SELL_ONLY/SMA_ONLY/BLEND)", c.DipAnchorMode)
	}
	switch c.WalkMode {
	case WalkLinear, WalkExponential:
	default:
		return fmt.Errorf("WALK_MODE无效: %s (可选 LINEAR/EXPONENTIAL)", c.WalkMode)
	}
	if c.TradeValueQuote <= 0 {
		return fmt.Errorf("TRADE_VALUE_QUOTE必须大于0")
	}
	if c.BuyDropPct <= 0 || c.BuyDropPct >= 1 {
		return fmt.Errorf("BUY_DROP_PCT必须在(0,1)区间")
	}
	if c.TakeProfitPct <= 0 || c.StopLossPct <= 0 {
		return fmt.Errorf("TAKE_PROFIT_PCT和STOP_LOSS_PCT必须大于0")
	}
	if c.TrendMinSamples > c.TrendWindowSamples {
		return fmt.Errorf("TREND_MIN_SAMPLES(%d)不能大于TREND_WINDOW_SAMPLES(%d)",
			c.TrendMinSamples, c.TrendWindowSamples)
	}
	if c.ReversalSamples < 2 {
		return fmt.Errorf("REVERSAL_SAMPLES至少为2")
	}
	if c.WalkMaxAttempts < 1 {
		return fmt.Errorf("WALK_MAX_ATTEMPTS至少为1")
	}
	if c.ErrorLimit < 1 {
		return fmt.Errorf("ERROR_LIMIT至少为1")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE无效: %s", c.Timezone)
	}
	return nil
}

// Location 返回运营时区（Validate已保证可解析）
func (c *Config) Location() *time.Location {
	loc, _ := time.LoadLocation(c.Timezone)
	return loc
}

// Cooldown 交易冷却时长
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// ErrorWindow 熔断器滑动窗口时长
func (c *Config) ErrorWindow() time.Duration {
	return time.Duration(c.ErrorWindowSeconds) * time.Second
}

// TrendBlockCooldown 反转门控失败后的买入冷却
func (c *Config) TrendBlockCooldown() time.Duration {
	return time.Duration(c.TrendBlockCooldownSecs) * time.Second
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		fmt.Printf("无效配置: %s=%s，使用默认值 %v\n", key, v, def)
		return def
	}
	return f
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		fmt.Printf("无效配置: %s=%s，使用默认值 %v\n", key, v, def)
		return def
	}
	return i
}
