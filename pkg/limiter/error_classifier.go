package limiter

import (
	"context"
	"errors"
	"strings"
	"time"

	"stockrepair/pkg/core"
	apperr "stockrepair/pkg/error"
	pcore "stockrepair/pkg/provider/core"
)

// ErrorLevel 定义错误的严重级别
type ErrorLevel int

const (
	LevelFatal       ErrorLevel = iota // 致命级，立即终止
	LevelNetwork                       // 网络错误，可重试
	LevelInvalid                       // 无效参数或数据源拒绝，不重试
	LevelUnknown                       // 未知错误
	LevelRateLimited                   // 被数据源限流，退避后重试
)

func (l ErrorLevel) String() string {
	switch l {
	case LevelFatal:
		return "fatal"
	case LevelNetwork:
		return "network"
	case LevelInvalid:
		return "invalid"
	case LevelRateLimited:
		return "rate_limited"
	}
	return "unknown"
}

const (
	MaxRetries = 3               // 最大重试次数
	RetryBase1 = 1 * time.Second // 第一次重试等待时间
	RetryBase2 = 3 * time.Second // 第二次重试等待时间
	RetryBase3 = 5 * time.Second // 第三次重试等待时间

	// rateLimitFactor 限流错误的退避倍数
	rateLimitFactor = 2
)

// RetryPolicy 重试策略
type RetryPolicy struct {
	MaxRetries int             `mapstructure:"max_retries" yaml:"max_retries"`
	Backoff    []time.Duration `mapstructure:"backoff" yaml:"backoff"` // 第 n 次重试的等待时间，超出取最后一个
}

// DefaultRetryPolicy 默认重试策略
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: MaxRetries,
		Backoff:    []time.Duration{RetryBase1, RetryBase2, RetryBase3},
	}
}

func (p RetryPolicy) wait(attempt int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	if attempt >= len(p.Backoff) {
		return p.Backoff[len(p.Backoff)-1]
	}
	return p.Backoff[attempt]
}

// ErrorClassifier 负责根据错误类型进行分类
type ErrorClassifier struct {
	policy RetryPolicy
}

// NewErrorClassifier 创建使用默认重试策略的错误分类器
func NewErrorClassifier() *ErrorClassifier {
	return NewErrorClassifierWithPolicy(DefaultRetryPolicy())
}

// NewErrorClassifierWithPolicy 创建指定重试策略的错误分类器
func NewErrorClassifierWithPolicy(policy RetryPolicy) *ErrorClassifier {
	return &ErrorClassifier{policy: policy}
}

// Policy 当前重试策略
func (c *ErrorClassifier) Policy() RetryPolicy {
	return c.policy
}

// Classify 根据错误链和错误内容分类错误级别
func (c *ErrorClassifier) Classify(err error) ErrorLevel {
	if err == nil {
		return LevelUnknown
	}

	// 先看错误链中的哨兵错误
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return LevelFatal
	case errors.Is(err, pcore.ErrProviderClosed), errors.Is(err, pcore.ErrCircuitOpen):
		return LevelFatal
	case errors.Is(err, pcore.ErrRateLimitExceeded):
		return LevelRateLimited
	case errors.Is(err, pcore.ErrProviderRejected),
		errors.Is(err, pcore.ErrLookbackExceeded),
		errors.Is(err, core.ErrInvalidSymbol),
		errors.Is(err, core.ErrInvalidInterval),
		errors.Is(err, core.ErrInvalidRange):
		return LevelInvalid
	}
	switch apperr.CodeOf(err) {
	case apperr.CodeInvalidRequest, apperr.CodeParseFailed:
		return LevelInvalid
	}

	msg := strings.ToLower(err.Error())

	// 致命级错误 - 立即终止
	switch {
	case strings.Contains(msg, "connection refused"):
		return LevelFatal
	case strings.Contains(msg, "connection reset") && (!strings.Contains(msg, "read tcp") && !strings.Contains(msg, "write tcp")):
		return LevelFatal // 只有直接连接重置才是致命错误，TCP读写重置是网络错误
	case strings.Contains(msg, "no such host"),
		strings.Contains(msg, "nosuchhost"):
		return LevelFatal
	case strings.Contains(msg, "forbidden") && strings.Contains(msg, "403"):
		return LevelFatal
	}

	// 网络错误 - 可重试
	switch {
	case strings.Contains(msg, "timeout"):
		return LevelNetwork
	case strings.Contains(msg, "network is unreachable"):
		return LevelNetwork
	case strings.Contains(msg, "temporary failure"):
		return LevelNetwork
	case strings.Contains(msg, "read tcp") && strings.Contains(msg, "connection reset"):
		return LevelNetwork
	case strings.Contains(msg, "write tcp"):
		return LevelNetwork
	case strings.Contains(msg, "eof"):
		return LevelNetwork
	}

	// 无效参数 - 通常可忽略
	switch {
	case strings.Contains(msg, "invalid argument"):
		return LevelInvalid
	case strings.Contains(msg, "bad request"):
		return LevelInvalid
	case strings.Contains(msg, "not found") && strings.Contains(msg, "404"):
		return LevelInvalid
	}

	// 其余的获取失败（如 5xx）按网络错误重试
	if apperr.CodeOf(err) == apperr.CodeFetchFailed {
		return LevelNetwork
	}
	return LevelUnknown
}

// GetRetryStrategy 根据错误级别和已重试次数提供重试策略
func (c *ErrorClassifier) GetRetryStrategy(level ErrorLevel, attempt int) (shouldRetry bool, waitDuration time.Duration) {
	switch level {
	case LevelNetwork:
		if attempt >= c.policy.MaxRetries {
			return false, 0
		}
		return true, c.policy.wait(attempt)

	case LevelRateLimited:
		if attempt >= c.policy.MaxRetries {
			return false, 0
		}
		return true, rateLimitFactor * c.policy.wait(attempt)

	default:
		// 致命、无效参数或未知错误，不重试
		return false, 0
	}
}

// IsRetryAllowedInTime 检查下次重试是否早于截止时间（保留30秒缓冲），零值截止时间不限制
func (c *ErrorClassifier) IsRetryAllowedInTime(nextRetryTime time.Time, deadline time.Time) bool {
	if deadline.IsZero() {
		return true
	}
	buffer := 30 * time.Second
	return nextRetryTime.Before(deadline.Add(-buffer))
}

// GetRetryMessage 获取重试提示信息
func (c *ErrorClassifier) GetRetryMessage(level ErrorLevel, attempt int, nextWait time.Duration) string {
	switch level {
	case LevelFatal:
		return "致命错误，立即终止操作"
	case LevelNetwork:
		if attempt >= c.policy.MaxRetries {
			return "网络错误已达到最大重试次数，终止此次操作"
		}
		return "网络错误，等待重试..."
	case LevelRateLimited:
		if attempt >= c.policy.MaxRetries {
			return "限流重试次数耗尽，终止此次操作"
		}
		return "请求被限流，退避后重试..."
	case LevelInvalid:
		return "参数无效，跳过重试"
	case LevelUnknown:
		return "未知错误，跳过重试"
	default:
		return "错误处理中..."
	}
}
