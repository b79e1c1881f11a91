package video

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"storyreel/internal/backend"
	"storyreel/internal/breaker"
	"storyreel/internal/budget"
	"storyreel/internal/model"
)

const (
	// DefaultCallTimeout 单次视频生成调用的墙钟超时
	DefaultCallTimeout = 5 * time.Minute
	// maxRateLimitRetries 同一后端因限流自动重试的次数上限
	maxRateLimitRetries = 1
	// defaultRetryAfter 限流响应未携带提示时的默认等待
	defaultRetryAfter = 3 * time.Second
)

// Generator 真实客户端与测试桩共用的生成接口
type Generator interface {
	Generate(ctx context.Context, spec backend.Spec, p backend.GenerateParams) (json.RawMessage, error)
}

// Result 一次成功生成的产物
type Result struct {
	ClipURL  string
	Backend  string
	Duration int // 实际使用的时长（秒）
	Cost     float64
}

// Stage 按优先级链逐个尝试视频后端：熔断、限流、预算、超时
// 全部在这里裁决。链路耗尽才算场景失败。
type Stage struct {
	gen      Generator
	registry *backend.Registry
	breaker  *breaker.Breaker
	governor *budget.Governor
	timeout  time.Duration
	log      *logrus.Entry

	sleep func(ctx context.Context, d time.Duration) error
}

func NewStage(gen Generator, registry *backend.Registry, brk *breaker.Breaker, governor *budget.Governor, timeout time.Duration) *Stage {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Stage{
		gen:      gen,
		registry: registry,
		breaker:  brk,
		governor: governor,
		timeout:  timeout,
		log:      logrus.WithField("stage", "video"),
		sleep:    ctxSleep,
	}
}

// Generate 为一个场景生成视频片段。chain为空时使用默认链。
func (s *Stage) Generate(ctx context.Context, prompt string, duration int, chain []string) (*Result, error) {
	if len(chain) == 0 {
		chain = s.registry.DefaultChain()
	}

	var failures []string
	enabled := 0

	for _, id := range chain {
		if ctx.Err() != nil {
			return nil, model.ErrAborted
		}

		spec, ok := s.registry.Lookup(id)
		if !ok || !spec.Enabled {
			continue
		}
		enabled++

		if !s.breaker.CanExecute(id) {
			failures = append(failures, fmt.Sprintf("%s: circuit open", id))
			continue
		}

		if err := s.governor.CheckRate("video:" + id); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", id, err))
			continue
		}

		d := backend.ClampDuration(spec, duration)
		cost := float64(d) * spec.CostPerSecond
		if cost > s.governor.Remaining() {
			failures = append(failures, fmt.Sprintf("%s: insufficient budget for $%.2f clip", id, cost))
			continue
		}

		res, berr := s.tryBackend(ctx, spec, prompt, d, cost)
		if berr == nil {
			return res, nil
		}
		if errors.Is(berr, model.ErrAborted) {
			return nil, model.ErrAborted
		}
		var budgetErr *model.BudgetExceededError
		if errors.As(berr, &budgetErr) {
			return nil, berr
		}
		failures = append(failures, berr.Error())
	}

	if enabled == 0 {
		return nil, fmt.Errorf("no enabled models in chain %v", chain)
	}
	return nil, fmt.Errorf("all backends failed: %s", strings.Join(failures, "; "))
}

// tryBackend 在单个后端上尝试生成，限流时按提示延迟后在同一后端
// 重试有限次；连续失败达到2次则不再重试，交给链上的下一个后端。
func (s *Stage) tryBackend(ctx context.Context, spec backend.Spec, prompt string, duration int, cost float64) (*Result, error) {
	retries := 0
	for {
		raw, err := s.callWithTimeout(ctx, spec, prompt, duration)
		if errors.Is(err, model.ErrAborted) {
			// 协作取消不是后端的错，不计入熔断记录
			return nil, model.ErrAborted
		}
		if err == nil {
			url, nerr := backend.ExtractClipURL(raw)
			if nerr == nil {
				s.breaker.RecordSuccess(spec.ID)
				s.log.WithFields(logrus.Fields{"backend": spec.ID, "duration": duration}).Info("clip generated")
				if terr := s.governor.Track("video", cost); terr != nil {
					return nil, terr
				}
				return &Result{ClipURL: url, Backend: spec.ID, Duration: duration, Cost: cost}, nil
			}
			err = nerr
		}

		s.breaker.RecordFailure(spec.ID)
		be := classify(spec.ID, err)
		s.log.WithFields(logrus.Fields{"backend": spec.ID, "kind": be.Kind}).Warn(be.Message)

		if be.Kind == model.BackendRateLimited && retries < maxRateLimitRetries && s.breaker.Failures(spec.ID) < 2 {
			wait := be.RetryAfter + time.Second
			s.log.WithFields(logrus.Fields{"backend": spec.ID, "wait": wait}).Info("rate limited, retrying same backend")
			if serr := s.sleep(ctx, wait); serr != nil {
				return nil, model.ErrAborted
			}
			retries++
			continue
		}
		return nil, be
	}
}

func (s *Stage) callWithTimeout(ctx context.Context, spec backend.Spec, prompt string, duration int) (json.RawMessage, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.gen.Generate(callCtx, spec, backend.GenerateParams{Prompt: prompt, Duration: duration})
	if err != nil {
		if ctx.Err() != nil {
			return nil, model.ErrAborted
		}
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("timed out after %s", s.timeout)
		}
	}
	return raw, err
}

var retryAfterRe = regexp.MustCompile(`retry[_\s-]?after[":\s]*(\d+)`)

// classify 把已知的失败特征转换成可操作的错误文本
func classify(backendID string, err error) *model.BackendError {
	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "timed out"):
		return &model.BackendError{Backend: backendID, Kind: model.BackendTimeout, Message: msg}

	case strings.Contains(lower, "http 402"),
		strings.Contains(lower, "payment"),
		strings.Contains(lower, "insufficient credit"),
		strings.Contains(lower, "credit"):
		return &model.BackendError{
			Backend: backendID,
			Kind:    model.BackendCreditExhausted,
			Message: fmt.Sprintf("credits exhausted, top up the %s account: %s", backendID, msg),
		}

	case strings.Contains(lower, "http 429"),
		strings.Contains(lower, "rate limit"),
		strings.Contains(lower, "too many requests"):
		retryAfter := defaultRetryAfter
		if m := retryAfterRe.FindStringSubmatch(lower); m != nil {
			if secs, perr := strconv.Atoi(m[1]); perr == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return &model.BackendError{
			Backend:    backendID,
			Kind:       model.BackendRateLimited,
			Message:    msg,
			RetryAfter: retryAfter,
		}

	case strings.Contains(lower, "no recognized url"),
		strings.Contains(lower, "unrecognized response"),
		strings.Contains(lower, "is not a url"),
		strings.Contains(lower, "contains no url"),
		strings.Contains(lower, "empty response"):
		return &model.BackendError{Backend: backendID, Kind: model.BackendBadResponse, Message: msg}

	default:
		return &model.BackendError{Backend: backendID, Kind: model.BackendRemote, Message: msg}
	}
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
