package resilience

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Retryable 判断一个错误是否值得重试
type Retryable func(err error) bool

// RetryConfig 指数退避重试配置
type RetryConfig struct {
	BaseDelay   time.Duration // 首次退避延迟
	Multiplier  float64       // 退避倍数
	MaxDelay    time.Duration // 单次退避上限
	MaxAttempts int           // 最大尝试次数（包括首次）
	Jitter      float64       // 抖动比例 [0,1)，0 表示关闭
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		BaseDelay:   2 * time.Second,
		Multiplier:  2,
		MaxDelay:    60 * time.Second,
		MaxAttempts: 5,
	}
}

func (c RetryConfig) normalized() RetryConfig {
	d := DefaultRetryConfig()
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.Multiplier < 1 {
		c.Multiplier = d.Multiplier
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		c.Jitter = 0
	}
	return c
}

// Delay 计算第 attempt 次失败后的退避时长（attempt 从 1 开始），不含抖动
func (c RetryConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(c.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= c.Multiplier
		if d >= float64(c.MaxDelay) {
			return c.MaxDelay
		}
	}
	if d > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(d)
}

// RetryExhaustedError 所有尝试均失败后返回，附带尝试次数与总耗时
type RetryExhaustedError struct {
	LastErr  error
	Attempts int
	Elapsed  time.Duration
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts in %s: %v", e.Attempts, e.Elapsed, e.LastErr)
}

func (e *RetryExhaustedError) Unwrap() error { return e.LastErr }

// Retry 按配置执行 op。retryable 返回 false 的错误在首次失败后立即返回；
// 可重试错误按 min(BaseDelay*Multiplier^(n-1), MaxDelay) 退避，
// 耗尽后返回 *RetryExhaustedError。clock 为 nil 时使用系统时钟。
func Retry(ctx context.Context, clock Clock, cfg RetryConfig, retryable Retryable, op func(ctx context.Context) error) error {
	if clock == nil {
		clock = SystemClock()
	}
	cfg = cfg.normalized()

	start := clock.Now()
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		lastErr = err

		if attempt < cfg.MaxAttempts {
			delay := cfg.Delay(attempt)
			if cfg.Jitter > 0 {
				delay += time.Duration(rand.Float64() * cfg.Jitter * float64(delay))
			}
			if err := clock.Sleep(ctx, delay); err != nil {
				return err
			}
		}
	}

	return &RetryExhaustedError{
		LastErr:  lastErr,
		Attempts: cfg.MaxAttempts,
		Elapsed:  clock.Now().Sub(start),
	}
}
