package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Status 已注册任务的状态
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

// DefaultRetention 终态条目在被清扫前对状态查询保持可见的时长
const DefaultRetention = 30 * time.Minute

type entry struct {
	ctx        context.Context
	cancel     context.CancelFunc
	status     Status
	finishedAt time.Time
}

// Registry 把外部任务ID映射到取消context和状态。
// 取消是协作式的：流水线在每个挂起点检查context，按自己的节奏退出。
type Registry struct {
	mu        sync.Mutex
	entries   map[string]*entry
	retention time.Duration

	now func() time.Time
}

func NewRegistry(retention time.Duration) *Registry {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Registry{
		entries:   make(map[string]*entry),
		retention: retention,
		now:       time.Now,
	}
}

// Create 注册任务并返回其取消context。context从Background派生
// 而非HTTP请求：运行的生命周期长于请求。
func (r *Registry) Create(jobID string) (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[jobID]; exists {
		return nil, fmt.Errorf("job %s already registered", jobID)
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.entries[jobID] = &entry{ctx: ctx, cancel: cancel, status: StatusRunning}
	return ctx, nil
}

// Context 返回任务的取消context（如任务存在）
func (r *Registry) Context(jobID string) (context.Context, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[jobID]
	if !ok {
		return nil, false
	}
	return e.ctx, true
}

// Abort 任务仍在运行时触发其context取消并返回是否生效。
// 已到终态的任务不受影响。
func (r *Registry) Abort(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[jobID]
	if !ok || e.status != StatusRunning {
		return false
	}
	e.cancel()
	e.status = StatusAborted
	e.finishedAt = r.now()
	return true
}

// Complete 将任务置为终态。先到的Abort优先。
func (r *Registry) Complete(jobID string, status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[jobID]
	if !ok || e.status != StatusRunning {
		return
	}
	e.cancel()
	e.status = status
	e.finishedAt = r.now()
}

// Status 返回任务当前状态
func (r *Registry) Status(jobID string) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[jobID]
	if !ok {
		return "", false
	}
	return e.status, true
}

// Sweep 移除超过保留期的终态条目，返回移除数量
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	cutoff := r.now().Add(-r.retention)
	for id, e := range r.entries {
		if e.status != StatusRunning && e.finishedAt.Before(cutoff) {
			delete(r.entries, id)
			removed++
		}
	}
	return removed
}

// StartSweeper 周期执行Sweep直到ctx被取消
func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := r.Sweep(); n > 0 {
					logrus.WithField("removed", n).Debug("swept terminal jobs")
				}
			}
		}
	}()
}
