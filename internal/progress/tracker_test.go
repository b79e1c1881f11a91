package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyreel/internal/model"
)

func TestTrackerCountsAndPercent(t *testing.T) {
	var updates []Update
	var scenes []model.Scene
	tr := NewTracker(4, Callbacks{
		OnProgress: func(u Update) { updates = append(updates, u) },
		OnScene:    func(s model.Scene) { scenes = append(scenes, s) },
	})

	tr.SceneStarted(1)
	tr.SceneFinished(model.Scene{Index: 1, Success: true})
	tr.SceneFinished(model.Scene{Index: 2})
	tr.SceneFinished(model.Scene{Index: 3, Aborted: true})
	tr.SceneFinished(model.Scene{Index: 4, Success: true})

	sum := tr.Finish()
	assert.Equal(t, 4, sum.Total)
	assert.Equal(t, 2, sum.Successful)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Aborted)
	assert.False(t, sum.Finished.Before(sum.Started))

	require.Len(t, updates, 5)
	assert.Equal(t, StatusGenerating, updates[0].Status)
	assert.Equal(t, float64(0), updates[0].Percent)
	assert.Equal(t, StatusCompleted, updates[1].Status)
	assert.Equal(t, float64(25), updates[1].Percent)
	assert.Equal(t, StatusFailed, updates[2].Status)
	assert.Equal(t, StatusAborted, updates[3].Status)
	assert.Equal(t, float64(100), updates[4].Percent)

	assert.Len(t, scenes, 4, "scene callback fires once per settled scene")
}

func TestTrackerWithoutCallbacks(t *testing.T) {
	tr := NewTracker(1, Callbacks{})
	tr.SceneStarted(1)
	tr.SceneFinished(model.Scene{Index: 1, Success: true})

	sum := tr.Finish()
	assert.Equal(t, 1, sum.Successful)
}
