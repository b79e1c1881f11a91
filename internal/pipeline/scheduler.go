package pipeline

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"storyreel/internal/model"
)

// Task 执行单个场景的流水线并返回定型的场景。任务在每个挂起点
// 观察ctx，运行取消后再调用也只会立即返回一个已中止的场景。
type Task func(ctx context.Context) model.Scene

// Scheduler 限制同时运行的场景任务数。超过顺序阈值的长运行
// 退化为严格串行并加场景间延迟，避开远端的每分钟上限。
type Scheduler struct {
	MaxConcurrent       int
	SequentialThreshold int
	InterSceneDelay     time.Duration
}

func NewScheduler(maxConcurrent, sequentialThreshold int, interSceneDelay time.Duration) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	if sequentialThreshold <= 0 {
		sequentialThreshold = 3
	}
	if interSceneDelay <= 0 {
		interSceneDelay = 8 * time.Second
	}
	return &Scheduler{
		MaxConcurrent:       maxConcurrent,
		SequentialThreshold: sequentialThreshold,
		InterSceneDelay:     interSceneDelay,
	}
}

// Run 执行全部任务，结果按场景原始顺序返回，与完成顺序无关。
// 每个任务恰好被调用一次：取消后的调用不发远端请求，
// 只合成已中止的场景。
func (s *Scheduler) Run(ctx context.Context, tasks []Task) []model.Scene {
	results := make([]model.Scene, len(tasks))

	if len(tasks) > s.SequentialThreshold {
		logrus.WithFields(logrus.Fields{
			"scenes": len(tasks),
			"delay":  s.InterSceneDelay,
		}).Info("long run, switching to sequential scheduling")
		for i, task := range tasks {
			if i > 0 && ctx.Err() == nil {
				s.pause(ctx)
			}
			results[i] = task(ctx)
		}
		return results
	}

	g := &errgroup.Group{}
	g.SetLimit(s.MaxConcurrent)
	for i, task := range tasks {
		g.Go(func() error {
			results[i] = task(ctx)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Scheduler) pause(ctx context.Context) {
	timer := time.NewTimer(s.InterSceneDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
