package limiter

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"stockrepair/pkg/core"
	apperr "stockrepair/pkg/error"
	pcore "stockrepair/pkg/provider/core"
)

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorLevel
	}{
		// 致命级错误测试
		{"连接拒绝", errors.New("dial tcp: connection refused"), LevelFatal},
		{"连接重置", errors.New("read: connection reset by peer"), LevelFatal},
		{"主机未找到", errors.New("dial tcp: lookup query2.finance.yahoo.com: no such host"), LevelFatal},
		{"403禁止", errors.New("HTTP/1.1 403 Forbidden"), LevelFatal},
		{"调用方取消", fmt.Errorf("fetch: %w", context.Canceled), LevelFatal},
		{"熔断打开", fmt.Errorf("yahoo: %w", pcore.ErrCircuitOpen), LevelFatal},

		// 网络错误测试
		{"超时", errors.New("i/o timeout"), LevelNetwork},
		{"网络不可达", errors.New("network is unreachable"), LevelNetwork},
		{"暂时失败", errors.New("temporary failure in name resolution"), LevelNetwork},
		{"读TCP失败", errors.New("read tcp: connection reset by peer"), LevelNetwork},
		{"写TCP失败", errors.New("write tcp: broken pipe"), LevelNetwork},
		{"服务端5xx", apperr.NewError(apperr.CodeFetchFailed, "HTTP 502"), LevelNetwork},

		// 限流
		{"HTTP 429", fmt.Errorf("%w: HTTP 429", pcore.ErrRateLimitExceeded), LevelRateLimited},

		// 无效参数测试
		{"无效参数", errors.New("invalid argument"), LevelInvalid},
		{"请求错误", errors.New("HTTP/1.1 400 Bad Request"), LevelInvalid},
		{"未找到", errors.New("HTTP/1.1 404 Not Found"), LevelInvalid},
		{"数据源拒绝", fmt.Errorf("%w: Not Found", pcore.ErrProviderRejected), LevelInvalid},
		{"超出回溯", pcore.ErrLookbackExceeded, LevelInvalid},
		{"无效代码", apperr.WrapError(apperr.CodeInvalidRequest, "validate", core.ErrInvalidSymbol), LevelInvalid},
		{"解析失败", apperr.NewError(apperr.CodeParseFailed, "decode"), LevelInvalid},

		// 未知错误测试
		{"nil错误", nil, LevelUnknown},
		{"其他错误", errors.New("some other error"), LevelUnknown},
	}

	classifier := NewErrorClassifier()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actual := classifier.Classify(tt.err)
			assert.Equal(t, tt.expected, actual, "错误分类应匹配预期: %s", tt.name)
		})
	}
}

func TestRetryStrategy(t *testing.T) {
	tests := []struct {
		name                string
		level               ErrorLevel
		attempt             int
		expectedShouldRetry bool
		expectedWait        time.Duration
		expectedMessage     string
	}{
		// 致命级错误 - 不重试
		{"致命错误-0次", LevelFatal, 0, false, 0, "致命错误，立即终止操作"},
		{"致命错误-1次", LevelFatal, 1, false, 0, "致命错误，立即终止操作"},

		// 网络错误的可重试次数测试
		{"网络错误-0次", LevelNetwork, 0, true, RetryBase1, "网络错误，等待重试..."},
		{"网络错误-1次", LevelNetwork, 1, true, RetryBase2, "网络错误，等待重试..."},
		{"网络错误-2次", LevelNetwork, 2, true, RetryBase3, "网络错误，等待重试..."},
		{"网络错误-3次", LevelNetwork, 3, false, 0, "网络错误已达到最大重试次数，终止此次操作"},

		// 限流退避加倍
		{"限流-0次", LevelRateLimited, 0, true, 2 * RetryBase1, "请求被限流，退避后重试..."},
		{"限流-3次", LevelRateLimited, 3, false, 0, "限流重试次数耗尽，终止此次操作"},

		// 无效参数 - 不重试
		{"无效参数-0次", LevelInvalid, 0, false, 0, "参数无效，跳过重试"},

		// 未知错误 - 不重试
		{"未知错误-0次", LevelUnknown, 0, false, 0, "未知错误，跳过重试"},
	}

	classifier := NewErrorClassifier()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shouldRetry, waitDuration := classifier.GetRetryStrategy(tt.level, tt.attempt)
			message := classifier.GetRetryMessage(tt.level, tt.attempt, waitDuration)

			assert.Equal(t, tt.expectedShouldRetry, shouldRetry, "%s 的重试判定应匹配预期", tt.name)
			assert.Equal(t, tt.expectedWait, waitDuration, "%s 的重试等待时间应匹配预期", tt.name)
			assert.Equal(t, tt.expectedMessage, message, "%s 的重试消息应匹配预期", tt.name)
		})
	}
}

func TestCustomPolicy(t *testing.T) {
	classifier := NewErrorClassifierWithPolicy(RetryPolicy{
		MaxRetries: 5,
		Backoff:    []time.Duration{10 * time.Millisecond, 20 * time.Millisecond},
	})

	ok, wait := classifier.GetRetryStrategy(LevelNetwork, 0)
	assert.True(t, ok)
	assert.Equal(t, 10*time.Millisecond, wait)

	// 超出退避表长度时取最后一个
	ok, wait = classifier.GetRetryStrategy(LevelNetwork, 4)
	assert.True(t, ok)
	assert.Equal(t, 20*time.Millisecond, wait)

	ok, _ = classifier.GetRetryStrategy(LevelNetwork, 5)
	assert.False(t, ok)
}

func TestTimeBoundaryChecking(t *testing.T) {
	classifier := NewErrorClassifier()
	deadline := time.Date(2024, 1, 2, 15, 0, 10, 0, time.UTC)

	tests := []struct {
		name      string
		nextRetry time.Time
		deadline  time.Time
		expected  bool
	}{
		{"截止前足够早", time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC), deadline, true},
		{"刚好在缓冲外", time.Date(2024, 1, 2, 14, 59, 39, 0, time.UTC), deadline, true},
		{"进入缓冲区", time.Date(2024, 1, 2, 14, 59, 40, 0, time.UTC), deadline, false},
		{"超过截止时间", time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC), deadline, false},
		{"没有截止时间", time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, classifier.IsRetryAllowedInTime(tt.nextRetry, tt.deadline))
		})
	}
}
