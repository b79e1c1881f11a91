package progress

import (
	"sync"
	"time"

	"storyreel/internal/model"
)

// 上报给进度回调的场景状态
const (
	StatusGenerating = "generating"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusAborted    = "aborted"
)

// Update 一次运行中的单个进度变化
type Update struct {
	SceneIndex int           `json:"scene_index"`
	Percent    float64       `json:"percent"`
	Elapsed    time.Duration `json:"elapsed"`
	Status     string        `json:"status"`
}

// Callbacks 两个回调都是可选的
type Callbacks struct {
	OnProgress func(Update)
	OnScene    func(model.Scene)
}

// Summary 运行结束后的计时与计数汇总
type Summary struct {
	Started    time.Time
	Finished   time.Time
	Elapsed    time.Duration
	Total      int
	Successful int
	Failed     int
	Aborted    int
}

// Tracker 累计各场景的状态和耗时。并发运行的场景任务都上报到同一实例。
type Tracker struct {
	mu       sync.Mutex
	total    int
	settled  int
	started  time.Time
	finished time.Time
	summary  Summary
	cb       Callbacks

	now func() time.Time
}

func NewTracker(total int, cb Callbacks) *Tracker {
	t := &Tracker{total: total, cb: cb, now: time.Now}
	t.started = t.now()
	return t
}

// SceneStarted 上报某场景的流水线任务已开始
func (t *Tracker) SceneStarted(index int) {
	t.mu.Lock()
	pct := t.percentLocked()
	elapsed := t.now().Sub(t.started)
	t.mu.Unlock()

	t.emitProgress(Update{SceneIndex: index, Percent: pct, Elapsed: elapsed, Status: StatusGenerating})
}

// SceneFinished 记录一个已定型的场景，无论成败
func (t *Tracker) SceneFinished(scene model.Scene) {
	t.mu.Lock()
	t.settled++
	switch {
	case scene.Success:
		t.summary.Successful++
	case scene.Aborted:
		t.summary.Aborted++
	default:
		t.summary.Failed++
	}
	pct := t.percentLocked()
	elapsed := t.now().Sub(t.started)
	t.mu.Unlock()

	status := StatusCompleted
	if scene.Aborted {
		status = StatusAborted
	} else if !scene.Success {
		status = StatusFailed
	}
	t.emitProgress(Update{SceneIndex: scene.Index, Percent: pct, Elapsed: elapsed, Status: status})
	if t.cb.OnScene != nil {
		t.cb.OnScene(scene)
	}
}

// Finish 结束本次运行并返回汇总
func (t *Tracker) Finish() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finished = t.now()
	t.summary.Started = t.started
	t.summary.Finished = t.finished
	t.summary.Elapsed = t.finished.Sub(t.started)
	t.summary.Total = t.total
	return t.summary
}

func (t *Tracker) percentLocked() float64 {
	if t.total == 0 {
		return 100
	}
	return float64(t.settled) / float64(t.total) * 100
}

func (t *Tracker) emitProgress(u Update) {
	if t.cb.OnProgress != nil {
		t.cb.OnProgress(u)
	}
}
