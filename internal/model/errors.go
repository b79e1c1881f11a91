package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrAborted 协作取消的哨兵错误，让下游把中止与失败区分开
var ErrAborted = errors.New("run aborted")

// ValidationError 在任何外部调用之前拒绝非法输入
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// BudgetExceededError 预估或实际花费超过上限
type BudgetExceededError struct {
	Projected float64
	Remaining float64
	Ceiling   float64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded: projected $%.2f, remaining $%.2f of $%.2f ceiling",
		e.Projected, e.Remaining, e.Ceiling)
}

// RateLimitedError 滑动窗口内的单次调用被拒
type RateLimitedError struct {
	Service    string
	Reason     string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited on %s: %s (retry after %s)", e.Service, e.Reason, e.RetryAfter)
}

// BackendErrorKind 视频后端已知失败特征的分类
type BackendErrorKind string

const (
	BackendTimeout         BackendErrorKind = "timeout"
	BackendRateLimited     BackendErrorKind = "rate_limited"
	BackendCreditExhausted BackendErrorKind = "credit_exhausted"
	BackendBadResponse     BackendErrorKind = "bad_response"
	BackendRemote          BackendErrorKind = "remote"
)

// BackendError 单个后端的一次失败。会计入熔断记录，
// 但自身绝不让整次运行失败。
type BackendError struct {
	Backend    string
	Kind       BackendErrorKind
	Message    string
	RetryAfter time.Duration // 仅rate_limited使用
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Backend, e.Kind, e.Message)
}
