package trader

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"time"

	"dipbot/config"
	"dipbot/logger"
	"dipbot/market"
)

// Status 给API服务器的只读状态快照
type Status struct {
	Symbol         string    `json:"symbol"`
	Position       Position  `json:"position"`
	EntryPrice     float64   `json:"entry_price"`
	LastSellPrice  float64   `json:"last_sell_price"`
	PotQuote       float64   `json:"pot_quote"`
	PotBase        float64   `json:"pot_base"`
	DailyLossQuote float64   `json:"daily_loss_quote"`
	TradeCount     int       `json:"trade_count"`
	LastPrice      float64   `json:"last_price"`
	LastSMA        float64   `json:"last_sma"`
	TrendReason    string    `json:"trend_reason"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Engine 持仓状态机与控制循环。状态的唯一写入者；
// 每轮按固定顺序执行安全检查、储备监控、K线摄取和交易逻辑。
type Engine struct {
	cfg   *config.Config
	ex    Exchange
	store *Store
	state *State
	feed  *market.Feed

	gate    *TrendGate
	exec    *Executor
	risk    *RiskController
	reserve *ReserveWatcher
	funder  *Funder

	lastReserveRun time.Time
	snap           atomic.Value // Status

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewEngine(cfg *config.Config, ex Exchange, store *Store, state *State) *Engine {
	exec := NewExecutor(cfg, ex)
	e := &Engine{
		cfg:     cfg,
		ex:      ex,
		store:   store,
		state:   state,
		feed:    market.NewFeed(ex, cfg.CandleInterval, cfg.CandleLimit),
		gate:    NewTrendGate(cfg),
		exec:    exec,
		risk:    NewRiskController(cfg),
		reserve: NewReserveWatcher(cfg, ex, exec),
		funder:  NewFunder(cfg, ex, exec),
		now:     time.Now,
		sleep:   ctxSleep,
	}
	e.publishSnapshot(0, 0, ReasonWarmup)
	return e
}

// Snapshot 最近一次循环结束时的状态快照
func (e *Engine) Snapshot() Status {
	return e.snap.Load().(Status)
}

func (e *Engine) publishSnapshot(price, sma float64, trendReason string) {
	e.snap.Store(Status{
		Symbol:         e.cfg.Symbol,
		Position:       e.state.Position,
		EntryPrice:     e.state.EntryPrice,
		LastSellPrice:  e.state.LastSellPrice,
		PotQuote:       e.state.PotQuote,
		PotBase:        e.state.PotBase,
		DailyLossQuote: e.state.DailyLossQuote,
		TradeCount:     e.state.TradeCount,
		LastPrice:      price,
		LastSMA:        sma,
		TrendReason:    trendReason,
		UpdatedAt:      e.now(),
	})
}

// Run 控制循环。FatalError和GracefulStop向上返回，
// 其余错误记入熔断窗口后继续运行。ctx取消时平稳返回nil。
func (e *Engine) Run(ctx context.Context) error {
	poll := time.Duration(e.cfg.CandlePollSeconds) * time.Second
	for {
		if err := e.runCycle(ctx); err != nil {
			var gs *GracefulStop
			var fe *FatalError
			if errors.As(err, &gs) || errors.As(err, &fe) {
				return err
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}

			logger.Log.Errorf("❌ 主循环错误: %v", err)
			e.risk.RecordError(e.state, e.now())
			_, werr := e.risk.CheckErrorWindow(e.state, e.now())
			e.persist()
			if werr != nil {
				return werr
			}
			if serr := e.sleep(ctx, 5*time.Second); serr != nil {
				return nil
			}
			continue
		}
		if err := e.sleep(ctx, poll); err != nil {
			return nil
		}
	}
}

// persist 落盘当前状态。持久化失败只记日志，不中断交易。
func (e *Engine) persist() {
	e.state.CapLists(e.cfg.TrendWindowSamples, e.cfg.SMAWindowCandles)
	if err := e.store.Save(e.state); err != nil {
		logger.Log.Errorf("❌ 状态落盘失败: %v", err)
	}
}

func (e *Engine) runCycle(ctx context.Context) error {
	now := e.now()
	s := e.state

	// 0. 全局检查
	if e.risk.CheckDailyReset(s, now) {
		e.persist()
	}
	changed, err := e.risk.CheckErrorWindow(s, now)
	if changed {
		e.persist()
	}
	if err != nil {
		return err
	}
	if err := e.risk.CheckCaps(s); err != nil {
		return err
	}

	// 1. 储备监控（60秒节流，成败都推进节流时钟）
	if e.cfg.EnableReserveWatcher && now.Sub(e.lastReserveRun) > time.Minute {
		e.lastReserveRun = now
		if err := e.runReserve(ctx); err != nil {
			return err
		}
	}

	// 2. 拉取新收盘K线
	candles, err := e.feed.ClosedSince(ctx, s.LastCandleCloseTime)
	if err != nil {
		return err
	}
	if len(candles) == 0 {
		logger.Log.Debug("暂无新收盘K线")
		return nil
	}

	// 3. 先更新状态（整批），再做交易决策（只看最新一根）
	for _, c := range candles {
		s.LastCandleCloseTime = c.CloseTime
		s.AppendCandleClose(c.Close, e.cfg.SMAWindowCandles)
		s.AppendSample(c.Close, e.cfg.TrendWindowSamples)
	}
	e.persist()

	latest := candles[len(candles)-1]

	// 陈旧K线保护
	ageMS := now.UnixMilli() - latest.CloseTime
	if ageMS > int64(e.cfg.MaxCandleStalenessSeconds)*1000 {
		logger.Log.Warnf("⚠️ 跳过陈旧K线批次，最新K线已过去 %.1fs", float64(ageMS)/1000)
		return nil
	}

	// 交易冷却（状态已更新，只跳过决策）
	if e.risk.InCooldown(s, now) {
		logger.Log.Debug("交易冷却中，跳过决策")
		return nil
	}

	price := latest.Close
	s.LastMid = price
	sma := SMA(s.CandleCloses)
	s.LastSMA = sma

	f, err := e.ex.Filters(ctx)
	if err != nil {
		return err
	}
	targetNotional := math.Max(e.cfg.TradeValueQuote, f.MinNotional*e.cfg.MinNotionalBuffer)

	// 状态快照日志
	trendReason := ReasonWarmup
	if e.gate.Ready(s) {
		_, trendReason = e.gate.Confirmed(s, price, sma)
	}
	anchor := e.gate.AnchorPrice(s, price, sma)
	dipTarget := anchor * (1 - e.cfg.BuyDropPct)
	candleTime := time.UnixMilli(latest.CloseTime).In(e.cfg.Location()).Format("2006-01-02 15:04:05")
	logger.Log.Infof("📊 K线 [%s] | 价格:%.2f | SMA:%.2f | 池(%.2f/%.4f) | 锚点:%.2f 目标:%.2f 趋势:%s 趋势CD:%ds 交易CD:%ds",
		candleTime, price, sma, s.PotQuote, s.PotBase, anchor, dipTarget,
		trendReason, e.gate.BlockRemaining(s, now), e.risk.CooldownRemaining(s, now))
	e.publishSnapshot(price, sma, trendReason)

	// 4. 实时盘口（执行用单一快照）
	bt, err := e.ex.BookTicker(ctx)
	if err != nil {
		return err
	}
	if bt.Bid <= 0 {
		return nil
	}
	execMid := bt.Mid()
	if e.cfg.MaxSpreadPct > 0 && bt.SpreadPct() > e.cfg.MaxSpreadPct {
		logger.Log.Infof("⚠️ 点差保护: %.4f > %.4f", bt.SpreadPct(), e.cfg.MaxSpreadPct)
		return nil
	}
	capMax := execMid * f.MultiplierUp
	capMin := execMid * f.MultiplierDown

	// 5. 资金池补足（仅持币等待时）
	if s.Position == HoldingQuote && s.PotQuote < f.MinNotional {
		changed, err := e.funder.FundIfNeeded(ctx, s, targetNotional, f)
		if changed {
			e.persist()
		}
		if err != nil {
			return err
		}
		if s.PotQuote < f.MinNotional {
			return Fatalf("资金池 %.2f %s 过小且补仓失败", s.PotQuote, f.QuoteAsset)
		}
	}

	// 6. 买卖决策
	switch s.Position {
	case HoldingQuote:
		return e.tryBuy(ctx, s, price, sma, bt, execMid, f, targetNotional, capMin, capMax, now)
	case HoldingBase:
		return e.trySell(ctx, s, price, bt, execMid, f, targetNotional, capMin, capMax, now)
	}
	return nil
}

func (e *Engine) runReserve(ctx context.Context) error {
	bt, err := e.ex.BookTicker(ctx)
	if err != nil || bt.Mid() <= 0 {
		return nil
	}
	f, err := e.ex.Filters(ctx)
	if err != nil {
		return nil
	}
	mid := bt.Mid()
	if e.reserve.Run(ctx, e.state, mid, f, mid*f.MultiplierDown, mid*f.MultiplierUp) {
		e.persist()
	}
	return nil
}

// tryBuy 抄底买入路径
func (e *Engine) tryBuy(ctx context.Context, s *State, price, sma float64, bt market.BookTicker, execMid float64, f *market.Filters, targetNotional, capMin, capMax float64, now time.Time) error {
	anchor := e.gate.AnchorPrice(s, price, sma)
	target := anchor * (1 - e.cfg.BuyDropPct)
	if price > target {
		return nil
	}

	// 落刀保护
	if e.gate.Ready(s) && e.gate.FallingKnife(price, sma) {
		logger.Log.Infof("🔪 落刀保护: %.2f 低于SMA %.1f%%以上", price, e.cfg.MaxUnderSMAPct*100)
		return nil
	}
	if e.gate.Blocked(s, now) {
		logger.Log.Info("⏱ 趋势冷却生效中")
		return nil
	}
	if !e.gate.Ready(s) {
		logger.Log.Info("📋 预热中: 趋势样本不足")
		return nil
	}
	confirmed, reason := e.gate.Confirmed(s, price, sma)
	if !confirmed {
		logger.Log.Infof("🚫 趋势门控: %s", reason)
		e.gate.Arm(s, now)
		e.persist()
		return nil
	}

	logger.Log.Infof("🔔 买入信号! 价格 %.2f <= 目标 %.2f", price, target)

	// 0.99缓冲预留手续费
	qty := FloorToStep(s.PotQuote/price*0.99, f.StepSize)
	if qty <= 0 {
		return nil
	}

	ref := math.Min(bt.Bid, price)
	if qty*ref < f.MinNotional {
		return Fatalf("买入金额低于最小成交额，资金池过小")
	}
	if !SafeExecutionChecks(qty, execMid, f.MinNotional, targetNotional) {
		return nil
	}

	out := e.exec.Execute(ctx, "BUY", qty, f, ref, capMin, capMax)
	switch out.Kind {
	case OutcomeCleanTimeout:
		logger.Log.Info("⏱ 买入超时，本轮放弃")
		return nil
	case OutcomeHardFailure:
		e.risk.RecordError(s, now)
		_, werr := e.risk.CheckErrorWindow(s, now)
		e.persist()
		return werr
	}

	order := out.Order
	avg := order.AvgFillPrice()
	if avg == 0 {
		avg = price
	}

	s.PotQuote -= order.CumQuote
	if s.PotQuote < 0 {
		s.PotQuote = 0
	}
	s.PotBase += order.ExecutedQty
	s.NormalizePots(f.StepSize)

	// 只有像样的成交才切换持仓状态，碎单留在原状态
	if order.CumQuote >= e.cfg.MinFillQuote && order.ExecutedQty >= f.StepSize {
		s.EntryPrice = avg
		s.Position = HoldingBase
		logger.Log.Infof("✅ 买入成功，入场价: %.2f", s.EntryPrice)
	} else {
		logger.Log.Warnf("⚠️ 买入成交过小 (%.2f %s)，保持持币等待", order.CumQuote, f.QuoteAsset)
	}
	s.LastTradeTime = float64(now.Unix())
	e.persist()
	return nil
}

// trySell 止盈/止损卖出路径
func (e *Engine) trySell(ctx context.Context, s *State, price float64, bt market.BookTicker, execMid float64, f *market.Filters, targetNotional, capMin, capMax float64, now time.Time) error {
	tp := s.EntryPrice * (1 + e.cfg.TakeProfitPct)
	sl := s.EntryPrice * (1 - e.cfg.StopLossPct)

	signal := ""
	switch {
	case price >= tp:
		signal = "TAKE_PROFIT"
	case price <= sl:
		signal = "STOP_LOSS"
	}
	logger.Log.Infof("📊 卖出评估 | 价格:%.2f | 入场:%.2f | 止盈:%.2f | 止损:%.2f | 信号:%s",
		price, s.EntryPrice, tp, sl, orDefault(signal, "NONE"))
	if signal == "" {
		return nil
	}

	logger.Log.Infof("🔔 卖出信号 (%s)，价格 %.2f", signal, price)

	qty := FloorToStep(s.PotBase, f.StepSize)
	if qty <= 0 {
		return Fatalf("卖出数量按步长取整后为0")
	}
	if qty*execMid < f.MinNotional {
		return Fatalf("卖出金额低于最小成交额")
	}
	if !SafeExecutionChecks(qty, execMid, f.MinNotional, targetNotional) {
		return nil
	}

	ref := math.Max(bt.Ask, price)
	out := e.exec.Execute(ctx, "SELL", qty, f, ref, capMin, capMax)
	switch out.Kind {
	case OutcomeCleanTimeout:
		logger.Log.Info("⏱ 卖出超时，本轮放弃")
		return nil
	case OutcomeHardFailure:
		e.risk.RecordError(s, now)
		_, werr := e.risk.CheckErrorWindow(s, now)
		e.persist()
		return werr
	}

	order := out.Order
	avg := order.AvgFillPrice()
	if avg == 0 {
		avg = price
	}

	pnl := (avg - s.EntryPrice) * order.ExecutedQty
	if pnl < 0 {
		s.DailyLossQuote += math.Abs(pnl)
	}

	s.PotBase -= order.ExecutedQty
	s.PotQuote += order.CumQuote
	s.LastSellPrice = avg
	s.NormalizePots(f.StepSize)

	// 剩余持仓是否已降到灰尘级
	isDust := s.PotBase == 0 || s.PotBase*execMid < f.MinNotional

	if order.CumQuote >= e.cfg.MinFillQuote && isDust {
		s.Position = HoldingQuote
		s.TradeCount++
		logger.Log.Infof("✅ 卖出成功 (%s)，PnL: %.4f，今日交易: %d", signal, pnl, s.TradeCount)
	} else {
		logger.Log.Warnf("⚠️ 卖出部分成交 (%.2f %s)，剩余灰尘:%v，保持持仓", order.CumQuote, f.QuoteAsset, isDust)
	}
	s.LastTradeTime = float64(now.Unix())
	e.persist()
	return nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
