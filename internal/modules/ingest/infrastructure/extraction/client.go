package extraction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"OmniIngest/internal/modules/ingest/domain/repository"
	"OmniIngest/pkg/resilience"

	"go.uber.org/zap"
)

// FailedError 重试预算耗尽后的最终失败
type FailedError struct {
	LastErr  error
	Attempts int
	Elapsed  time.Duration
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("extraction failed after %d attempts in %s: %v", e.Attempts, e.Elapsed, e.LastErr)
}

func (e *FailedError) Unwrap() error { return e.LastErr }

// RejectedError 不可重试错误导致的快速失败，不消耗重试预算
type RejectedError struct {
	Err error
}

func (e *RejectedError) Error() string { return fmt.Sprintf("extraction rejected: %v", e.Err) }
func (e *RejectedError) Unwrap() error { return e.Err }

// Client 在 Extractor 之上叠加重试策略与熔断。
// 重试发生在熔断边界之内：熔断器观察的是每一次独立尝试的成败，
// 而不是整个重试序列；被熔断器直接拒绝的尝试不计入失败计数
type Client struct {
	inner   repository.Extractor
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
	clock   resilience.Clock
	logger  *zap.Logger
}

func NewClient(inner repository.Extractor, breaker *resilience.CircuitBreaker, retry resilience.RetryConfig, clock resilience.Clock, logger *zap.Logger) *Client {
	if clock == nil {
		clock = resilience.SystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{inner: inner, breaker: breaker, retry: retry, clock: clock, logger: logger}
}

func (c *Client) Extract(ctx context.Context, objectKey string, schemaJSON string) (string, error) {
	var payload string
	attempt := 0

	err := resilience.Retry(ctx, c.clock, c.retry, c.retryable, func(ctx context.Context) error {
		attempt++
		if err := c.breaker.Allow(); err != nil {
			c.logger.Warn("extraction attempt rejected by circuit breaker",
				zap.String("object_key", objectKey),
				zap.Int("attempt", attempt))
			return err
		}

		p, err := c.inner.Extract(ctx, objectKey, schemaJSON)
		if err != nil {
			c.breaker.RecordFailure()
			c.logger.Warn("extraction attempt failed",
				zap.String("object_key", objectKey),
				zap.Int("attempt", attempt),
				zap.Bool("retryable", IsRetryable(err)),
				zap.Error(err))
			return err
		}

		c.breaker.RecordSuccess()
		payload = p
		return nil
	})

	if err == nil {
		return payload, nil
	}

	var exhausted *resilience.RetryExhaustedError
	if errors.As(err, &exhausted) {
		return "", &FailedError{LastErr: exhausted.LastErr, Attempts: exhausted.Attempts, Elapsed: exhausted.Elapsed}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "", err
	}

	return "", &RejectedError{Err: err}
}

// retryable 熔断器拒绝视为瞬时状况，退避后重试给它半开的机会
func (c *Client) retryable(err error) bool {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return true
	}
	return IsRetryable(err)
}
