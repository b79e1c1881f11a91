package breaker

import (
	"sync"
	"time"
)

const (
	// DefaultThreshold 连续失败次数达到该值后熔断
	DefaultThreshold = 3
	// DefaultResetTimeout 熔断后自动恢复的时间
	DefaultResetTimeout = 2 * time.Minute
)

type record struct {
	failures    int
	lastFailure time.Time
}

// Breaker 按模型维度记忆失败，临时剔除持续出错的视频后端。
// closed → 连续失败达到阈值后 open → 超时后自动回到 closed。
// 超时后的下一次调用是普通尝试，没有单独的半开探测状态。
type Breaker struct {
	mu           sync.Mutex
	threshold    int
	resetTimeout time.Duration
	records      map[string]*record

	now func() time.Time
}

func New(threshold int, resetTimeout time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if resetTimeout <= 0 {
		resetTimeout = DefaultResetTimeout
	}
	return &Breaker{
		threshold:    threshold,
		resetTimeout: resetTimeout,
		records:      make(map[string]*record),
		now:          time.Now,
	}
}

// CanExecute 返回该后端当前是否允许调用。熔断超时一旦过去，记录被丢弃，
// 无需任何成功即恢复放行。
func (b *Breaker) CanExecute(backend string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.records[backend]
	if !ok || r.failures < b.threshold {
		return true
	}
	if b.now().Sub(r.lastFailure) >= b.resetTimeout {
		delete(b.records, backend)
		return true
	}
	return false
}

// RecordFailure 累加连续失败计数
func (b *Breaker) RecordFailure(backend string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.records[backend]
	if !ok {
		r = &record{}
		b.records[backend] = r
	}
	r.failures++
	r.lastFailure = b.now()
}

// RecordSuccess 任何状态下的一次成功立即清除记录
func (b *Breaker) RecordSuccess(backend string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.records, backend)
}

// Failures 返回当前连续失败次数
func (b *Breaker) Failures(backend string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.records[backend]; ok {
		return r.failures
	}
	return 0
}

// Snapshot 返回各后端的失败计数，用于状态接口展示
func (b *Breaker) Snapshot() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]int, len(b.records))
	for k, r := range b.records {
		out[k] = r.failures
	}
	return out
}
