package extraction

import (
	"errors"
	"fmt"
)

// 外部抽取服务的错误分类。限流/连接/超时/5xx 值得重试，
// 4xx/鉴权/校验错误重试也不会成功，直接失败

type RateLimitedError struct {
	Message string
}

func (e *RateLimitedError) Error() string {
	if e.Message == "" {
		return "extraction service rate limited"
	}
	return "extraction service rate limited: " + e.Message
}

type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string { return fmt.Sprintf("extraction connection error: %v", e.Err) }
func (e *ConnectionError) Unwrap() error { return e.Err }

type TimeoutError struct {
	Err error
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("extraction timeout: %v", e.Err) }
func (e *TimeoutError) Unwrap() error { return e.Err }

type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("extraction server error (status %d): %s", e.Status, e.Message)
}

type ClientError struct {
	Status  int
	Message string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("extraction client error (status %d): %s", e.Status, e.Message)
}

type AuthError struct {
	Message string
}

func (e *AuthError) Error() string { return "extraction auth error: " + e.Message }

type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return "extraction validation error: " + e.Message }

// IsRetryable 判断抽取错误是否值得重试
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var rl *RateLimitedError
	var conn *ConnectionError
	var to *TimeoutError
	if errors.As(err, &rl) || errors.As(err, &conn) || errors.As(err, &to) {
		return true
	}

	var srv *ServerError
	if errors.As(err, &srv) {
		return srv.Status >= 500
	}

	return false
}
