package pipeline

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyreel/internal/model"
)

func sceneTask(index int, invoked *atomic.Int32) Task {
	return func(ctx context.Context) model.Scene {
		invoked.Add(1)
		return model.Scene{Index: index, Success: ctx.Err() == nil, Aborted: ctx.Err() != nil}
	}
}

func TestRunConcurrentKeepsOrder(t *testing.T) {
	s := NewScheduler(2, 3, time.Millisecond)

	var invoked atomic.Int32
	tasks := []Task{sceneTask(1, &invoked), sceneTask(2, &invoked), sceneTask(3, &invoked)}

	scenes := s.Run(context.Background(), tasks)

	require.Len(t, scenes, 3)
	for i, sc := range scenes {
		assert.Equal(t, i+1, sc.Index, "results in scene order regardless of completion order")
		assert.True(t, sc.Success)
	}
	assert.Equal(t, int32(3), invoked.Load())
}

func TestRunSequentialAboveThreshold(t *testing.T) {
	s := NewScheduler(2, 3, time.Millisecond)

	var order []int
	tasks := make([]Task, 5)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) model.Scene {
			order = append(order, len(order)+1) // no lock needed, sequential path
			return model.Scene{Index: len(order), Success: true}
		}
	}

	scenes := s.Run(context.Background(), tasks)

	require.Len(t, scenes, 5)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, order, "long runs execute strictly in order")
}

func TestRunInvokesEveryTaskAfterCancellation(t *testing.T) {
	s := NewScheduler(2, 3, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var invoked atomic.Int32
	tasks := []Task{sceneTask(1, &invoked), sceneTask(2, &invoked), sceneTask(3, &invoked)}

	scenes := s.Run(ctx, tasks)

	assert.Equal(t, int32(3), invoked.Load(), "tasks still run to synthesize aborted scenes")
	for _, sc := range scenes {
		assert.True(t, sc.Aborted)
	}
}

func TestNewSchedulerDefaults(t *testing.T) {
	s := NewScheduler(0, 0, 0)
	assert.Equal(t, 2, s.MaxConcurrent)
	assert.Equal(t, 3, s.SequentialThreshold)
	assert.Equal(t, 8*time.Second, s.InterSceneDelay)
}
