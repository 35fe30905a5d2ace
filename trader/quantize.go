package trader

import (
	"math"
	"strconv"
	"strings"
)

// 浮点步长除法的容差
const stepEpsilon = 1e-9

// PrecisionFromStep 从过滤器的步长字符串推导小数位数。
// 例如 "0.00100000" -> 3，"1.00000000" -> 0
func PrecisionFromStep(stepStr string) int {
	if !strings.Contains(stepStr, ".") {
		return 0
	}
	s := strings.TrimRight(stepStr, "0")
	s = strings.TrimRight(s, ".")
	if i := strings.Index(s, "."); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}

// FloorToStep 向下取整到步长的整数倍。保证结果不大于原值。
func FloorToStep(val, step float64) float64 {
	if step <= 0 {
		return val
	}
	n := math.Floor(val/step + stepEpsilon)
	q := n * step
	if q > val {
		q = (n - 1) * step
	}
	if q < 0 {
		q = 0
	}
	return q
}

// FormatQty 将已按步长取整的数量格式化为下单字符串
func FormatQty(qty float64, stepStr string) string {
	return strconv.FormatFloat(qty, 'f', PrecisionFromStep(stepStr), 64)
}

// RoundPriceSide 按买卖方向取整到最小报价单位：
// 买单向上（更激进更易成交），卖单向下。
func RoundPriceSide(price, tick float64, side string) float64 {
	if tick <= 0 {
		return price
	}
	ticks := price / tick
	if side == "BUY" {
		return math.Ceil(ticks-stepEpsilon) * tick
	}
	return math.Floor(ticks+stepEpsilon) * tick
}

// FormatPriceSide 方向取整后格式化为下单字符串
func FormatPriceSide(price, tick float64, tickStr, side string) string {
	return strconv.FormatFloat(RoundPriceSide(price, tick, side), 'f', PrecisionFromStep(tickStr), 64)
}
