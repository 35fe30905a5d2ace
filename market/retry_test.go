package market

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func immediatePolicy() RetryPolicy {
	p := DefaultRetryPolicy()
	p.Delays = []time.Duration{0} // 测试不等待
	return p
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	p := immediatePolicy()
	attempts := 0
	err := p.Do("测试操作", func() error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("临时故障 %d", attempts)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryExhausted(t *testing.T) {
	p := immediatePolicy()
	attempts := 0
	err := p.Do("测试操作", func() error {
		attempts++
		return errors.New("持续故障")
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryFailFastOnClientError(t *testing.T) {
	p := immediatePolicy()
	attempts := 0
	apiErr := &common.APIError{Code: -2010, Message: "Account has insufficient balance"}
	err := p.Do("测试操作", func() error {
		attempts++
		return apiErr
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts, "权限/参数类错误不得重试")

	var got *common.APIError
	assert.True(t, errors.As(err, &got))
}

func TestRetryServerErrorCodeRetried(t *testing.T) {
	p := immediatePolicy()
	attempts := 0
	err := p.Do("测试操作", func() error {
		attempts++
		return &common.APIError{Code: -1001, Message: "Internal error; unable to process your request. Please try again."}
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts, "服务器类错误码必须走完重试预算")
}

func TestIsPermanentError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"过滤器拒绝", &common.APIError{Code: -1013}, true},
		{"包装后的未知订单", fmt.Errorf("包装: %w", &common.APIError{Code: -2011}), true},
		{"账户受限", &common.APIError{Code: -2010}, true},
		{"服务器断连", &common.APIError{Code: -1001}, false},
		{"限频", &common.APIError{Code: -1003}, false},
		{"网关超时", &common.APIError{Code: -1007}, false},
		{"维护页无业务码", &common.APIError{Code: 0, Message: "<html>503</html>"}, false},
		{"普通传输错误", errors.New("网络超时"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPermanentError(tt.err))
		})
	}
}
