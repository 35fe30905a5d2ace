package market

import (
	"errors"
	"time"

	"github.com/adshao/go-binance/v2/common"

	"dipbot/logger"
)

// RetryPolicy 可组合的重试策略：尝试预算 + 退避序列 + 永久性错误判定。
// 永久性错误（权限/参数类）立即抛出，不消耗重试预算。
type RetryPolicy struct {
	MaxAttempts int
	Delays      []time.Duration
	Permanent   func(error) bool
}

// DefaultRetryPolicy 默认策略：3次尝试，1s/2s/4s退避，4xx类业务码视为永久
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Delays:      []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second},
		Permanent:   IsPermanentError,
	}
}

// IsPermanentError 判断是否为不可重试的配置类错误。
// 币安4xx类业务码（-2010 禁止交易、-1013 过滤器拒绝、-2011 未知订单等）是
// 配置或权限问题，重试不会改变结果；服务器/网络类码按瞬时错误走退避重试。
func IsPermanentError(err error) bool {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return !isTransientCode(apiErr.Code)
}

// isTransientCode 10xx服务器与网络类错误码（UNKNOWN/DISCONNECTED/
// TOO_MANY_REQUESTS/TIMEOUT/SERVER_BUSY等）。Code为0对应维护页等
// 无法解析成业务错误的5xx响应。
func isTransientCode(code int64) bool {
	switch code {
	case 0, -1000, -1001, -1003, -1006, -1007, -1008, -1016:
		return true
	}
	return false
}

// Do 按策略执行fn，耗尽预算后返回最后一次错误
func (p RetryPolicy) Do(op string, fn func() error) error {
	var lastErr error
	for i := 0; i < p.MaxAttempts; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		if p.Permanent != nil && p.Permanent(err) {
			logger.Log.Errorf("❌ %s 遇到永久性错误，不再重试: %v", op, err)
			return err
		}
		lastErr = err
		if i == p.MaxAttempts-1 {
			break
		}
		delay := p.delay(i)
		logger.Log.Warnf("⚠️ %s 第%d/%d次重试 (%v)，等待 %v...", op, i+1, p.MaxAttempts, err, delay)
		time.Sleep(delay)
	}
	logger.Log.Errorf("❌ %s 重试%d次后仍然失败: %v", op, p.MaxAttempts, lastErr)
	return lastErr
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	if len(p.Delays) == 0 {
		return time.Second
	}
	if attempt >= len(p.Delays) {
		return p.Delays[len(p.Delays)-1]
	}
	return p.Delays[attempt]
}

// call 带重试地执行返回值调用
func call[T any](p RetryPolicy, op string, fn func() (T, error)) (T, error) {
	var out T
	err := p.Do(op, func() error {
		v, err := fn()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
