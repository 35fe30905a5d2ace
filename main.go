package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"dipbot/api"
	"dipbot/config"
	"dipbot/logger"
	"dipbot/market"
	"dipbot/trader"
)

func main() {
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("配置加载失败: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, "dipbot_activity.log")

	fmt.Println("=========================================================")
	fmt.Printf("    币安现货抄底机器人 - %s\n", cfg.Symbol)
	fmt.Println(" 安全提示: 仅现货交易，无提币权限。风险自负。")
	fmt.Println(" 日志: dipbot_activity.log")
	fmt.Println("=========================================================")

	// 真实交易双重开关
	if !cfg.DryRun && !cfg.LiveTrading {
		logger.Log.Fatal("❌ 真实交易被拦截。启用需同时设置 DRY_RUN=0 和 LIVE_TRADING=YES")
	}

	if cfg.APIKey == "" || cfg.SecretKey == "" {
		logger.Log.Fatal("❌ .env中缺少 API_KEY 或 API_SECRET")
	}

	client := market.NewClient(cfg.APIKey, cfg.SecretKey, cfg.BaseURL, cfg.Symbol,
		time.Duration(cfg.FiltersRefreshSeconds)*time.Second)
	logger.Log.Infof("✓ 已连接币安节点: %s", cfg.BaseURL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 交易对资产动态发现
	filters, err := client.Filters(ctx)
	if err != nil {
		logger.Log.Fatalf("❌ 获取交易对 %s 信息失败: %v", cfg.Symbol, err)
	}
	logger.Log.Infof("✓ 交易对: %s (基础:%s 计价:%s)", cfg.Symbol, filters.BaseAsset, filters.QuoteAsset)

	store, err := trader.OpenStore(cfg.StatePath)
	if err != nil {
		logger.Log.Fatalf("❌ 打开状态库失败: %v", err)
	}
	defer store.Close()

	state, err := store.Load(cfg.LegacyState, cfg.TrendWindowSamples, cfg.SMAWindowCandles)
	if err != nil {
		logger.Log.Fatalf("❌ 加载状态失败: %v", err)
	}

	// 真实模式下的安全就绪检查
	if !cfg.DryRun && cfg.LiveTrading {
		printPreFlightCheck(ctx, cfg, client, state, filters)
		if err := verifyLiveReadiness(ctx, client, filters); err != nil {
			logger.Log.Fatalf("❌ 真实交易未就绪: %v", err)
		}
		logger.Log.Info("✅ 真实交易就绪检查通过 (账户/交易对/过滤器/测试订单)")
	}

	// 启动确认：资金池过低可能立即触发补仓卖出
	if cfg.RequireStartConfirm {
		if err := confirmStartup(ctx, cfg, client, state, filters); err != nil {
			logger.Log.Errorf("启动确认未通过: %v", err)
			os.Exit(0)
		}
	}

	engine := trader.NewEngine(cfg, client, store, state)

	var apiServer *api.Server
	if cfg.APIServerPort > 0 {
		apiServer = api.NewServer(cfg.APIServerPort, engine)
		apiServer.Start()
	}

	err = engine.Run(ctx)

	if apiServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		apiServer.Stop(shutdownCtx)
		cancel()
	}

	// 统一的顶层退出处理
	var gs *trader.GracefulStop
	var fe *trader.FatalError
	switch {
	case err == nil:
		logger.Log.Info("✓ 机器人已停止")
	case errors.As(err, &gs):
		logger.Log.Warnf("🛑 %v", gs)
	case errors.As(err, &fe):
		logger.Log.Errorf("❌ %v", fe)
		os.Exit(1)
	default:
		logger.Log.Errorf("❌ 异常退出: %v", err)
		os.Exit(1)
	}
}

// printPreFlightCheck 真实交易前的检查清单输出
func printPreFlightCheck(ctx context.Context, cfg *config.Config, client *market.Client, state *trader.State, f *market.Filters) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println(" 起飞前安全检查清单")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Println("[-] 储备监控:")
	fmt.Printf("    启用: %v\n", cfg.EnableReserveWatcher)
	fmt.Printf("    自动卖出: %v\n", cfg.EnableReserveAutosale)
	fmt.Printf("    追踪止损: %.1f%%\n", cfg.ReserveTrailPct*100)

	fmt.Println("[-] 配置:")
	fmt.Printf("    DRY_RUN: %v\n", cfg.DryRun)
	fmt.Printf("    LIVE_TRADING: %v\n", cfg.LiveTrading)
	fmt.Printf("    冷却时间: %ds\n", cfg.CooldownSeconds)
	fmt.Printf("    执行策略: WALK=%v\n", cfg.WalkEnabled)

	fmt.Println("[-] 账户:")
	acc, err := client.Account(ctx)
	if err != nil {
		logger.Log.Fatalf("❌ 获取账户信息失败: %v", err)
	}
	fmt.Printf("    可交易: %v\n", acc.CanTrade)
	for _, b := range acc.Balances {
		if b.Asset == f.BaseAsset || b.Asset == f.QuoteAsset {
			fmt.Printf("    %s 可用余额: %.8f\n", b.Asset, b.Free)
		}
	}

	fmt.Println("[-] 机器人状态:")
	fmt.Printf("    持仓: %s\n", state.Position)
	fmt.Printf("    资金池 %s: %.2f\n", f.QuoteAsset, state.PotQuote)
	fmt.Printf("    资金池 %s: %.6f\n", f.BaseAsset, state.PotBase)
	fmt.Printf("    参考卖价: %.2f | 入场价: %.2f\n", state.LastSellPrice, state.EntryPrice)
	fmt.Printf("    日期键: %s\n", state.DayKey)
	fmt.Println(strings.Repeat("=", 60) + "\n")
}

// verifyLiveReadiness 不下真实订单的就绪验证：
// 账户可交易、交易对状态、过滤器可用、买卖测试订单通过。
func verifyLiveReadiness(ctx context.Context, client *market.Client, f *market.Filters) error {
	logger.Log.Info("🔍 验证真实交易就绪状态（安全模式，不下真实订单）...")

	acc, err := client.Account(ctx)
	if err != nil {
		return fmt.Errorf("获取账户失败: %w", err)
	}
	if !acc.CanTrade {
		return fmt.Errorf("账户canTrade为false，检查API权限或账户状态")
	}

	if f.Status != "TRADING" {
		return fmt.Errorf("交易对状态为 %s，不是 TRADING", f.Status)
	}

	bt, err := client.BookTicker(ctx)
	if err != nil {
		return fmt.Errorf("获取盘口失败: %w", err)
	}

	// 在最小成交额上浮20%的安全数量，买在卖一、卖在买一
	priceForQty := bt.Ask
	if priceForQty <= 0 {
		priceForQty = bt.Mid()
	}
	qty := trader.FloorToStep(f.MinNotional*1.2/priceForQty, f.StepSize)
	if qty < f.MinQty {
		qty = f.MinQty
	}
	qtyStr := trader.FormatQty(qty, f.StepSizeStr)

	buyPrice := trader.FormatPriceSide(bt.Ask, f.TickSize, f.TickSizeStr, "BUY")
	sellPrice := trader.FormatPriceSide(bt.Bid, f.TickSize, f.TickSizeStr, "SELL")

	if err := client.TestLimitOrder(ctx, "BUY", qtyStr, buyPrice); err != nil {
		return fmt.Errorf("买入测试订单失败: %w", err)
	}
	if err := client.TestLimitOrder(ctx, "SELL", qtyStr, sellPrice); err != nil {
		return fmt.Errorf("卖出测试订单失败: %w", err)
	}
	return nil
}

// confirmStartup 资金池过低时要求操作员明确确认
func confirmStartup(ctx context.Context, cfg *config.Config, client *market.Client, state *trader.State, f *market.Filters) error {
	logger.Log.Info("🔍 启动安全检查...")

	needsFunding := false
	if state.Position == trader.HoldingQuote && state.PotQuote < f.MinNotional {
		free, err := client.FreeBalance(ctx, f.BaseAsset)
		if err != nil {
			return fmt.Errorf("获取%s余额失败: %w", f.BaseAsset, err)
		}
		if free > 0 {
			needsFunding = true
		}
	}
	if !needsFunding {
		return nil
	}

	fmt.Println("\n" + strings.Repeat("!", 60))
	fmt.Printf("警告: 资金池 %s 过低，启动后可能立即卖出你的 %s 补仓。\n", f.QuoteAsset, f.BaseAsset)
	fmt.Printf("当前资金池 %s: %.2f\n", f.QuoteAsset, state.PotQuote)
	fmt.Println(strings.Repeat("!", 60))
	fmt.Print("输入 'I UNDERSTAND' 继续，其他任意输入中止: ")

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("读取确认输入失败: %w", err)
	}
	if strings.TrimSpace(line) != "I UNDERSTAND" {
		return fmt.Errorf("操作员中止启动")
	}
	return nil
}
