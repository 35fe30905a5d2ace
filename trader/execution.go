package trader

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/common"

	"dipbot/config"
	"dipbot/logger"
	"dipbot/market"
)

// OutcomeKind 执行结果分类
type OutcomeKind int

const (
	OutcomeExecuted     OutcomeKind = iota // 有成交（全部或部分）
	OutcomeCleanTimeout                    // 超时且干净撤单，零成交
	OutcomeHardFailure                     // 拒单/撤单失败/API异常
)

// Outcome 一次限价执行的结果
type Outcome struct {
	Kind  OutcomeKind
	Order *market.OrderResult
	Err   error
}

// Executor 限价单执行器：固定偏移限价 或 Walk-The-Limit。
// 两种策略均保证三分类结果，绝不留下未知状态的挂单。
type Executor struct {
	cfg *config.Config
	ex  Exchange

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewExecutor(cfg *config.Config, ex Exchange) *Executor {
	return &Executor{
		cfg:   cfg,
		ex:    ex,
		now:   time.Now,
		sleep: ctxSleep,
	}
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Execute 以参考价为基准执行限价单。
// refPrice是买卖方向各自的保守参考价；capMin/capMax来自百分比价格过滤器。
func (e *Executor) Execute(ctx context.Context, side string, qty float64, f *market.Filters, refPrice, capMin, capMax float64) Outcome {
	finalQty := FloorToStep(qty, f.StepSize)
	if finalQty <= 0 {
		logger.Log.Warn("⚠️ 数量按步长取整后为0，放弃下单")
		return Outcome{Kind: OutcomeHardFailure, Err: Fatalf("数量取整后为0")}
	}
	qtyStr := FormatQty(finalQty, f.StepSizeStr)

	if e.cfg.WalkEnabled {
		return e.walked(ctx, side, qtyStr, f, refPrice, capMin, capMax)
	}
	return e.fixedWithTimeout(ctx, side, qtyStr, f, refPrice, capMin, capMax)
}

// fixedWithTimeout 单笔固定偏移限价单，1秒轮询直到成交或超时撤单
func (e *Executor) fixedWithTimeout(ctx context.Context, side, qtyStr string, f *market.Filters, refPrice, capMin, capMax float64) Outcome {
	offset := e.cfg.LimitOffsetPct
	var price float64
	if side == "BUY" {
		price = refPrice * (1 - offset)
	} else {
		price = refPrice * (1 + offset)
	}
	price = clampPrice(price, capMin, capMax)
	priceStr := FormatPriceSide(price, f.TickSize, f.TickSizeStr, side)

	logger.Log.Infof("📋 准备下单: %s LIMIT %s @ %s (偏移 %.2f%%)", side, qtyStr, priceStr, offset*100)

	if e.cfg.DryRun {
		return Outcome{Kind: OutcomeExecuted, Order: simulatedFill(qtyStr, priceStr)}
	}

	logger.Log.Warnf("🚀 发送真实订单: %s %s @ %s", side, qtyStr, priceStr)
	order, err := e.ex.PlaceLimitOrder(ctx, side, qtyStr, priceStr)
	if err != nil {
		logger.Log.Errorf("❌ 下单失败: %v", err)
		return Outcome{Kind: OutcomeHardFailure, Err: err}
	}
	oid := order.OrderID
	logger.Log.Infof("✓ 订单已提交 (ID: %d)，等待%ds...", oid, e.cfg.OrderTimeoutSeconds)

	deadline := e.now().Add(time.Duration(e.cfg.OrderTimeoutSeconds) * time.Second)
	for e.now().Before(deadline) {
		if err := e.sleep(ctx, time.Second); err != nil {
			return Outcome{Kind: OutcomeHardFailure, Err: err}
		}
		stat, err := e.ex.GetOrder(ctx, oid)
		if err != nil {
			return Outcome{Kind: OutcomeHardFailure, Err: err}
		}
		switch stat.Status {
		case "FILLED":
			logger.Log.Infof("✅ 订单成交 (ID: %d)", oid)
			return Outcome{Kind: OutcomeExecuted, Order: stat}
		case "CANCELED", "REJECTED", "EXPIRED":
			logger.Log.Warnf("⚠️ 订单被外部%s (ID: %d)", stat.Status, oid)
			if stat.ExecutedQty > 0 {
				return Outcome{Kind: OutcomeExecuted, Order: stat}
			}
			return Outcome{Kind: OutcomeHardFailure, Err: Fatalf("订单外部%s且零成交", stat.Status)}
		}
	}

	// 超时，撤单并核实最终状态
	logger.Log.Warnf("⏱ 订单超时(%ds)，撤单 %d...", e.cfg.OrderTimeoutSeconds, oid)
	if err := e.ex.CancelOrder(ctx, oid); err != nil {
		logger.Log.Errorf("❌ 撤单失败 (ID: %d): %v", oid, err)
		return Outcome{Kind: OutcomeHardFailure, Err: err}
	}
	final, err := e.ex.GetOrder(ctx, oid)
	if err != nil {
		return Outcome{Kind: OutcomeHardFailure, Err: err}
	}
	if final.ExecutedQty > 0 {
		logger.Log.Infof("✓ 撤单时发现部分成交: %.8f", final.ExecutedQty)
		return Outcome{Kind: OutcomeExecuted, Order: final}
	}
	logger.Log.Infof("✓ 订单 %d 干净撤销（零成交）", oid)
	return Outcome{Kind: OutcomeCleanTimeout}
}

// walked Walk-The-Limit：从被动报价逐步走向激进报价的多次尝试
func (e *Executor) walked(ctx context.Context, side, qtyStr string, f *market.Filters, refPrice, capMin, capMax float64) Outcome {
	start := e.now()
	offsets := e.walkOffsets()
	logger.Log.Infof("🔄 WALK开始: %s %s | 总时限%ds | 最多%d次",
		side, qtyStr, e.cfg.WalkMaxTotalSeconds, e.cfg.WalkMaxAttempts)

	for i, off := range offsets {
		remaining := float64(e.cfg.WalkMaxTotalSeconds) - e.now().Sub(start).Seconds()
		if remaining <= 0 {
			logger.Log.Warn("⏱ WALK结束: 总时限已到")
			break
		}

		crossCap := e.cfg.WalkMaxSpreadCrossPct
		var price float64
		if side == "BUY" {
			price = refPrice * (1 - off)
			if maxLimit := refPrice * (1 + crossCap); price > maxLimit {
				price = maxLimit
			}
		} else {
			price = refPrice * (1 + off)
			if minLimit := refPrice * (1 - crossCap); price < minLimit {
				price = minLimit
			}
		}
		price = clampPrice(price, capMin, capMax)
		priceStr := FormatPriceSide(price, f.TickSize, f.TickSizeStr, side)

		slice := math.Min(float64(e.cfg.WalkSliceSeconds), remaining)
		if slice < 5 {
			slice = 5
		}

		logger.Log.Infof("🔄 WALK第%d/%d步: %s @ %s (偏移 %.3f%%) 参考价 %.2f",
			i+1, len(offsets), side, priceStr, off*100, refPrice)

		out := e.placeOncePoll(ctx, side, qtyStr, priceStr, time.Duration(slice)*time.Second)
		switch out.Kind {
		case OutcomeExecuted:
			logger.Log.Infof("✅ WALK成功: 第%d步成交", i+1)
			return out
		case OutcomeHardFailure:
			return out
		}
		// 干净超时，走下一步
	}

	logger.Log.Info("⏱ WALK结束: 全部尝试无成交")
	return Outcome{Kind: OutcomeCleanTimeout}
}

// walkOffsets 生成每次尝试的报价偏移序列
func (e *Executor) walkOffsets() []float64 {
	n := e.cfg.WalkMaxAttempts
	start := e.cfg.WalkOffsetStartPct
	end := e.cfg.WalkOffsetEndPct
	offsets := make([]float64, n)
	if n == 1 {
		offsets[0] = start
		return offsets
	}
	for i := 0; i < n; i++ {
		p := float64(i) / float64(n-1)
		switch e.cfg.WalkMode {
		case config.WalkExponential:
			// 前段停留在被动区更久，尾段快速走向终值
			const k = 3.0
			u := (math.Exp(k*p) - 1) / (math.Exp(k) - 1)
			offsets[i] = start + (end-start)*u
		default:
			offsets[i] = start + (end-start)*p
		}
	}
	return offsets
}

// placeOncePoll 放置单笔Walk切片订单，2秒轮询至切片超时后撤单核实
func (e *Executor) placeOncePoll(ctx context.Context, side, qtyStr, priceStr string, window time.Duration) Outcome {
	if e.cfg.DryRun {
		logger.Log.Infof("📋 DRY_RUN: WALK切片模拟%s qty=%s price=%s", side, qtyStr, priceStr)
		return Outcome{Kind: OutcomeExecuted, Order: simulatedFill(qtyStr, priceStr)}
	}

	order, err := e.ex.PlaceLimitOrder(ctx, side, qtyStr, priceStr)
	if err != nil {
		logger.Log.Errorf("❌ WALK切片下单失败: %v", err)
		return Outcome{Kind: OutcomeHardFailure, Err: err}
	}
	oid := order.OrderID

	deadline := e.now().Add(window)
	for e.now().Before(deadline) {
		if err := e.sleep(ctx, 2*time.Second); err != nil {
			return Outcome{Kind: OutcomeHardFailure, Err: err}
		}
		stat, err := e.ex.GetOrder(ctx, oid)
		if err != nil {
			logger.Log.Warnf("⚠️ WALK切片轮询失败: %v", err)
			continue
		}
		switch stat.Status {
		case "FILLED":
			return Outcome{Kind: OutcomeExecuted, Order: stat}
		case "CANCELED", "EXPIRED":
			if stat.ExecutedQty > 0 {
				return Outcome{Kind: OutcomeExecuted, Order: stat}
			}
			return Outcome{Kind: OutcomeCleanTimeout}
		case "REJECTED":
			return Outcome{Kind: OutcomeHardFailure, Err: Fatalf("WALK切片订单被拒 (ID: %d)", oid)}
		}
	}

	logger.Log.Infof("⏱ WALK切片超时(%.0fs)，撤单 %d...", window.Seconds(), oid)
	if err := e.ex.CancelOrder(ctx, oid); err != nil {
		// -2011: 订单已不存在（已成交或已撤销），核实后按结果处理
		var apiErr *common.APIError
		if errors.As(err, &apiErr) && apiErr.Code == -2011 {
			return e.verifyAfterCancel(ctx, oid)
		}
		logger.Log.Errorf("❌ WALK切片撤单失败: %v，最后一次尝试撤单...", err)
		_ = e.ex.CancelOrder(ctx, oid)
		return Outcome{Kind: OutcomeHardFailure, Err: err}
	}
	return e.verifyAfterCancel(ctx, oid)
}

// verifyAfterCancel 撤单后严格核实成交量。核实失败说明成交量未知，
// 按硬失败处理，绝不猜测为零成交。
func (e *Executor) verifyAfterCancel(ctx context.Context, oid int64) Outcome {
	final, err := e.ex.GetOrder(ctx, oid)
	if err != nil {
		logger.Log.Errorf("❌ 撤单后核实订单 %d 失败: %v", oid, err)
		return Outcome{Kind: OutcomeHardFailure, Err: err}
	}
	if final.ExecutedQty > 0 {
		return Outcome{Kind: OutcomeExecuted, Order: final}
	}
	return Outcome{Kind: OutcomeCleanTimeout}
}

// clampPrice 用百分比价格保护带钳制限价
func clampPrice(price, capMin, capMax float64) float64 {
	if capMin > 0 && price < capMin {
		logger.Log.Warnf("⚠️ 限价 %.2f 钳制到下限 %.2f", price, capMin)
		price = capMin
	}
	if capMax > 0 && price > capMax {
		logger.Log.Warnf("⚠️ 限价 %.2f 钳制到上限 %.2f", price, capMax)
		price = capMax
	}
	return price
}

// simulatedFill DRY_RUN下构造完全成交结果
func simulatedFill(qtyStr, priceStr string) *market.OrderResult {
	qty, _ := strconv.ParseFloat(qtyStr, 64)
	price, _ := strconv.ParseFloat(priceStr, 64)
	return &market.OrderResult{
		Status:      "FILLED",
		ExecutedQty: qty,
		CumQuote:    qty * price,
		Fills:       []market.Fill{{Price: price, Qty: qty}},
	}
}

// SafeExecutionChecks 下单前的金额校验：
// 绝对最小成交额 + 目标金额的95%缓冲
func SafeExecutionChecks(qty, mid, minNotional, targetNotional float64) bool {
	notional := qty * mid
	if notional < minNotional {
		logger.Log.Warnf("⚠️ 跳过: 成交额 %.2f < 最小成交额 %.2f", notional, minNotional)
		return false
	}
	if notional < targetNotional*0.95 {
		logger.Log.Warnf("⚠️ 跳过: 成交额 %.2f < 目标金额缓冲 %.2f", notional, targetNotional*0.95)
		return false
	}
	return true
}
