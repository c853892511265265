package limiter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrStopped 遇到致命错误后限制器停止放行
var ErrStopped = errors.New("limiter stopped after fatal error")

// Config 限制器配置
type Config struct {
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"` // <=0 表示不限速
	Burst             int           `mapstructure:"burst" yaml:"burst"`
	Retry             RetryPolicy   `mapstructure:"retry" yaml:"retry"`
	FatalCooldown     time.Duration `mapstructure:"fatal_cooldown" yaml:"fatal_cooldown"` // 致命错误后暂停放行的时长
}

// DefaultConfig 默认每秒2次请求
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 2,
		Burst:             1,
		Retry:             DefaultRetryPolicy(),
		FatalCooldown:     time.Minute,
	}
}

// Decision 一次请求结果的处理决定
type Decision struct {
	Retry bool          // 是否重试
	Wait  time.Duration // 重试前等待时间
	Level ErrorLevel
	Err   error // 不重试时返回给调用方的错误
}

// Limiter 统筹数据源调用的限速、重试与熔断
// 令牌桶控制请求速率，错误分级决定是否重试，致命错误后在冷却期内停止放行
type Limiter struct {
	mu         sync.RWMutex
	bucket     *rate.Limiter
	classifier *ErrorClassifier
	cooldown   time.Duration

	// 统计信息
	totalRequests   int64
	totalErrors     int64
	totalRetries    int64
	lastRequestTime time.Time
	lastError       error

	// 安全开关
	stopUntil time.Time
}

// NewLimiter 创建限制器，未设置重试策略时使用默认值
func NewLimiter(cfg Config) *Limiter {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	policy := cfg.Retry
	if policy.MaxRetries == 0 && len(policy.Backoff) == 0 {
		policy = DefaultRetryPolicy()
	}
	cooldown := cfg.FatalCooldown
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &Limiter{
		bucket:     rate.NewLimiter(limit, burst),
		classifier: NewErrorClassifierWithPolicy(policy),
		cooldown:   cooldown,
	}
}

// Classifier 错误分类器
func (l *Limiter) Classifier() *ErrorClassifier {
	return l.classifier
}

// Wait 阻塞直到可以发送下一次请求
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.RLock()
	until, lastErr := l.stopUntil, l.lastError
	l.mu.RUnlock()
	if time.Now().Before(until) {
		return fmt.Errorf("%w: %v", ErrStopped, lastErr)
	}
	return l.bucket.Wait(ctx)
}

// RecordResult 记录一次请求结果，attempt 为已重试次数
func (l *Limiter) RecordResult(ctx context.Context, err error, attempt int) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.lastRequestTime = time.Now()
	l.totalRequests++

	if err == nil {
		l.lastError = nil
		return Decision{}
	}

	l.totalErrors++
	l.lastError = err
	level := l.classifier.Classify(err)

	switch level {
	case LevelFatal:
		// 超时或取消只终止本次请求
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			l.stopUntil = time.Now().Add(l.cooldown)
		}
		return Decision{Level: level, Err: err}

	case LevelNetwork, LevelRateLimited:
		shouldRetry, wait := l.classifier.GetRetryStrategy(level, attempt)
		if !shouldRetry {
			return Decision{Level: level, Err: fmt.Errorf("retries exhausted after %d attempts: %w", attempt, err)}
		}
		var deadline time.Time
		if d, ok := ctx.Deadline(); ok {
			deadline = d
		}
		if !l.classifier.IsRetryAllowedInTime(time.Now().Add(wait), deadline) {
			return Decision{Level: level, Err: fmt.Errorf("retry would exceed deadline: %w", err)}
		}
		l.totalRetries++
		return Decision{Retry: true, Wait: wait, Level: level}

	default:
		return Decision{Level: level, Err: err}
	}
}

// IsSafeToContinue 是否仍可继续请求
func (l *Limiter) IsSafeToContinue() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return !time.Now().Before(l.stopUntil)
}

// GetStatus 获取限制器当前状态
func (l *Limiter) GetStatus() map[string]interface{} {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return map[string]interface{}{
		"force_stop":        time.Now().Before(l.stopUntil),
		"has_last_error":    l.lastError != nil,
		"last_request_time": l.lastRequestTime,
		"total_requests":    l.totalRequests,
		"total_errors":      l.totalErrors,
		"total_retries":     l.totalRetries,
		"rate_limit":        float64(l.bucket.Limit()),
		"burst":             l.bucket.Burst(),
	}
}

// Reset 重置状态
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.lastError = nil
	l.stopUntil = time.Time{}
	l.totalRequests = 0
	l.totalErrors = 0
	l.totalRetries = 0
}
