package trader

import "fmt"

// FatalError 不可恢复的内部错误（不变量被破坏、资金不足等）。
// 内部逻辑只构造并向上传递，由 main 的顶层处理器执行真正的退出。
type FatalError struct {
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("致命错误: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("致命错误: %s", e.Reason)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Fatalf 构造FatalError
func Fatalf(format string, args ...interface{}) *FatalError {
	return &FatalError{Reason: fmt.Sprintf(format, args...)}
}

// GracefulStop 达到安全上限（日亏损/日交易次数）后的平稳停机信号，
// 不是错误状况。
type GracefulStop struct {
	Reason string
}

func (e *GracefulStop) Error() string {
	return fmt.Sprintf("安全停机: %s", e.Reason)
}
