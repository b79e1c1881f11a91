package budget

import (
	"fmt"
	"math"
	"sync"
	"time"

	"storyreel/internal/model"
)

const (
	// DefaultCeiling 单进程生命周期内的硬性花费上限（美元）
	DefaultCeiling = 50.0
)

// Limits 按服务的滑动窗口限流阈值
type Limits struct {
	PerMinute int `yaml:"per_minute"`
	PerHour   int `yaml:"per_hour"`
}

// CostEstimate 一次运行的成本预估，启动前校验用
type CostEstimate struct {
	Scenes     int     `json:"scenes"`
	VideoCost  float64 `json:"video_cost"`
	ScriptCost float64 `json:"script_cost"`
	Total      float64 `json:"total"`
}

// Governor 跟踪累计花费并执行按服务的请求频率窗口。
// 所有场景任务共享同一个实例，方法内部用互斥锁保护。
type Governor struct {
	mu      sync.Mutex
	ceiling float64
	spent   float64
	limits  map[string]Limits
	calls   map[string][]time.Time

	now func() time.Time
}

func NewGovernor(ceiling float64, limits map[string]Limits) *Governor {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	if limits == nil {
		limits = map[string]Limits{}
	}
	return &Governor{
		ceiling: ceiling,
		limits:  limits,
		calls:   make(map[string][]time.Time),
		now:     time.Now,
	}
}

// SceneCount 场景数 = ceil(总时长/场景时长)，最少为1
func SceneCount(totalDuration, sceneDuration int) int {
	if totalDuration <= 0 || sceneDuration <= 0 {
		return 1
	}
	k := int(math.Ceil(float64(totalDuration) / float64(sceneDuration)))
	if k < 1 {
		k = 1
	}
	return k
}

// Estimate 按场景拆分的成本预估
func (g *Governor) Estimate(totalDuration, sceneDuration int, videoCostPerSecond, scriptCostPerScene float64) CostEstimate {
	k := SceneCount(totalDuration, sceneDuration)
	video := float64(k) * float64(sceneDuration) * videoCostPerSecond
	script := float64(k) * scriptCostPerScene
	return CostEstimate{
		Scenes:     k,
		VideoCost:  video,
		ScriptCost: script,
		Total:      video + script,
	}
}

// WithinCeiling 预估是否同时低于上限和剩余额度
func (g *Governor) WithinCeiling(est CostEstimate) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return est.Total <= g.ceiling && est.Total <= g.ceiling-g.spent
}

// Remaining 剩余额度
func (g *Governor) Remaining() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ceiling - g.spent
}

// Spent 已记录的累计花费
func (g *Governor) Spent() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.spent
}

// Ceiling 固定上限
func (g *Governor) Ceiling() float64 {
	return g.ceiling
}

// CheckRate 滑动窗口限流检查。分钟窗和小时窗独立判断，
// 允许时记录本次调用，拒绝时返回带重试提示的错误。
func (g *Governor) CheckRate(service string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	lim, ok := g.limits[service]
	if !ok || (lim.PerMinute <= 0 && lim.PerHour <= 0) {
		// 未配置限流的服务不记时间戳，避免无界增长
		return nil
	}

	now := g.now()
	kept := g.calls[service][:0]
	for _, t := range g.calls[service] {
		if now.Sub(t) < time.Hour {
			kept = append(kept, t)
		}
	}
	g.calls[service] = kept

	if lim.PerHour > 0 && len(kept) >= lim.PerHour {
		oldest := kept[0]
		return &model.RateLimitedError{
			Service:    service,
			Reason:     fmt.Sprintf("%d requests in the last hour (limit %d)", len(kept), lim.PerHour),
			RetryAfter: time.Hour - now.Sub(oldest),
		}
	}

	if lim.PerMinute > 0 {
		inMinute := 0
		var oldestInMinute time.Time
		for _, t := range kept {
			if now.Sub(t) < time.Minute {
				if inMinute == 0 {
					oldestInMinute = t
				}
				inMinute++
			}
		}
		if inMinute >= lim.PerMinute {
			return &model.RateLimitedError{
				Service:    service,
				Reason:     fmt.Sprintf("%d requests in the last minute (limit %d)", inMinute, lim.PerMinute),
				RetryAfter: time.Minute - now.Sub(oldestInMinute),
			}
		}
	}

	g.calls[service] = append(g.calls[service], now)
	return nil
}

// Track 记录一笔已经发生的真实花费。累计超过上限时返回硬错误——
// 外部花费无法撤销，所以这里只能事后报警，事前靠 Estimate 拦截。
func (g *Governor) Track(service string, cost float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.spent += cost
	if g.spent > g.ceiling {
		return &model.BudgetExceededError{
			Projected: g.spent,
			Remaining: 0,
			Ceiling:   g.ceiling,
		}
	}
	return nil
}
