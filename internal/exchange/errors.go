package exchange

import (
	"fmt"
	"time"
)

// ClientError 表示 4xx（非限流）类错误：请求本身有问题，重试没有意义。
type ClientError struct {
	Status int
	Code   int64
	Msg    string
}

func (e *ClientError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("exchange client error: status=%d code=%d msg=%s", e.Status, e.Code, e.Msg)
	}
	return fmt.Sprintf("exchange client error: status=%d", e.Status)
}

// RateLimitError 表示 429/418：触发限流或被临时封禁，重试预算耗尽后升级为硬失败。
type RateLimitError struct {
	Status     int
	RetryAfter time.Duration
	Attempts   int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("exchange rate limited: status=%d retry_after=%s attempts=%d", e.Status, e.RetryAfter, e.Attempts)
}

// TransientError 表示 5xx 或网络层错误：可安全重试的只读请求，预算耗尽后返回。
type TransientError struct {
	Status   int // 0 表示网络错误
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("exchange transient error: status=%d attempts=%d: %v", e.Status, e.Attempts, e.Err)
	}
	return fmt.Sprintf("exchange transient error: status=%d attempts=%d", e.Status, e.Attempts)
}

func (e *TransientError) Unwrap() error { return e.Err }

// CircuitOpenError 表示熔断器处于打开状态，请求未发出。
type CircuitOpenError struct {
	Name string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("exchange circuit open: %s", e.Name)
}
