package limiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "stockrepair/pkg/error"
	pcore "stockrepair/pkg/provider/core"
)

func fastConfig() Config {
	return Config{
		RequestsPerSecond: 0,
		Retry: RetryPolicy{
			MaxRetries: 2,
			Backoff:    []time.Duration{time.Millisecond, 2 * time.Millisecond},
		},
		FatalCooldown: 50 * time.Millisecond,
	}
}

func TestLimiter_RecordResult(t *testing.T) {
	ctx := context.Background()

	t.Run("成功不重试", func(t *testing.T) {
		l := NewLimiter(fastConfig())
		d := l.RecordResult(ctx, nil, 0)
		assert.False(t, d.Retry)
		assert.NoError(t, d.Err)
	})

	t.Run("网络错误重试直到耗尽", func(t *testing.T) {
		l := NewLimiter(fastConfig())
		err := apperr.NewError(apperr.CodeFetchFailed, "HTTP 503")

		d := l.RecordResult(ctx, err, 0)
		assert.True(t, d.Retry)
		assert.Equal(t, time.Millisecond, d.Wait)
		assert.Equal(t, LevelNetwork, d.Level)

		d = l.RecordResult(ctx, err, 1)
		assert.True(t, d.Retry)

		d = l.RecordResult(ctx, err, 2)
		assert.False(t, d.Retry)
		require.Error(t, d.Err)
		assert.Contains(t, d.Err.Error(), "retries exhausted")

		status := l.GetStatus()
		assert.Equal(t, int64(3), status["total_errors"])
		assert.Equal(t, int64(2), status["total_retries"])
	})

	t.Run("无效请求直接返回", func(t *testing.T) {
		l := NewLimiter(fastConfig())
		d := l.RecordResult(ctx, pcore.ErrProviderRejected, 0)
		assert.False(t, d.Retry)
		assert.ErrorIs(t, d.Err, pcore.ErrProviderRejected)
		assert.True(t, l.IsSafeToContinue())
	})

	t.Run("截止时间不足时不重试", func(t *testing.T) {
		l := NewLimiter(Config{Retry: RetryPolicy{MaxRetries: 3, Backoff: []time.Duration{time.Minute}}})
		dctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		d := l.RecordResult(dctx, errors.New("i/o timeout"), 0)
		assert.False(t, d.Retry)
		assert.Contains(t, d.Err.Error(), "deadline")
	})
}

func TestLimiter_FatalCooldown(t *testing.T) {
	l := NewLimiter(fastConfig())
	ctx := context.Background()

	d := l.RecordResult(ctx, errors.New("dial tcp: connection refused"), 0)
	assert.Equal(t, LevelFatal, d.Level)
	assert.False(t, l.IsSafeToContinue())

	err := l.Wait(ctx)
	assert.ErrorIs(t, err, ErrStopped)

	// 冷却期结束后恢复
	time.Sleep(60 * time.Millisecond)
	assert.True(t, l.IsSafeToContinue())
	assert.NoError(t, l.Wait(ctx))

	// 取消不触发冷却
	l.RecordResult(ctx, context.Canceled, 0)
	assert.True(t, l.IsSafeToContinue())

	l.RecordResult(ctx, errors.New("dial tcp: connection refused"), 0)
	l.Reset()
	assert.True(t, l.IsSafeToContinue())
}

func TestLimiter_Wait(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 20, Burst: 1})

	started := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}
	// 第一个令牌立即可用，之后每 50ms 一个
	assert.GreaterOrEqual(t, time.Since(started), 90*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, l.Wait(ctx))
}
