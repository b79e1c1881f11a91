package video

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyreel/internal/backend"
	"storyreel/internal/breaker"
	"storyreel/internal/budget"
	"storyreel/internal/model"
)

const clipBody = `{"video_url":"https://cdn.example.com/clip.mp4"}`

type fakeResp struct {
	raw string
	err error
}

// fakeGen serves a queue of canned responses per backend and records the
// order backends were called in.
type fakeGen struct {
	queues map[string][]fakeResp
	calls  []string
}

func (f *fakeGen) Generate(_ context.Context, spec backend.Spec, _ backend.GenerateParams) (json.RawMessage, error) {
	f.calls = append(f.calls, spec.ID)
	q := f.queues[spec.ID]
	if len(q) == 0 {
		return nil, fmt.Errorf("unexpected call to %s", spec.ID)
	}
	resp := q[0]
	f.queues[spec.ID] = q[1:]
	if resp.err != nil {
		return nil, resp.err
	}
	return json.RawMessage(resp.raw), nil
}

func newTestStage(gen Generator, ceiling float64) (*Stage, *breaker.Breaker, *budget.Governor) {
	brk := breaker.New(3, 2*time.Minute)
	gov := budget.NewGovernor(ceiling, nil)
	s := NewStage(gen, backend.NewRegistry(backend.DefaultSpecs()), brk, gov, time.Minute)
	s.sleep = func(context.Context, time.Duration) error { return nil }
	return s, brk, gov
}

func TestGenerateFirstBackendSucceeds(t *testing.T) {
	gen := &fakeGen{queues: map[string][]fakeResp{
		"seedance": {{raw: clipBody}},
	}}
	s, _, gov := newTestStage(gen, 50)

	res, err := s.Generate(context.Background(), "a rooftop chase", 6, nil)
	require.NoError(t, err)

	assert.Equal(t, "seedance", res.Backend)
	assert.Equal(t, "https://cdn.example.com/clip.mp4", res.ClipURL)
	assert.Equal(t, 6, res.Duration)
	assert.InDelta(t, 0.24, res.Cost, 1e-9)
	assert.InDelta(t, 0.24, gov.Spent(), 1e-9, "cost tracked against the budget")
}

func TestGenerateFallsThroughChain(t *testing.T) {
	gen := &fakeGen{queues: map[string][]fakeResp{
		"seedance": {{err: errors.New("http 500: internal error")}},
		"kling":    {{raw: clipBody}},
	}}
	s, brk, _ := newTestStage(gen, 50)

	res, err := s.Generate(context.Background(), "p", 6, nil)
	require.NoError(t, err)

	assert.Equal(t, "kling", res.Backend)
	assert.Equal(t, []string{"seedance", "kling"}, gen.calls)
	assert.Equal(t, 1, brk.Failures("seedance"), "failure recorded before falling through")
}

func TestGenerateSkipsOpenCircuit(t *testing.T) {
	gen := &fakeGen{queues: map[string][]fakeResp{
		"kling": {{raw: clipBody}},
	}}
	s, brk, _ := newTestStage(gen, 50)
	for i := 0; i < 3; i++ {
		brk.RecordFailure("seedance")
	}

	res, err := s.Generate(context.Background(), "p", 6, nil)
	require.NoError(t, err)

	assert.Equal(t, "kling", res.Backend)
	assert.NotContains(t, gen.calls, "seedance", "open circuit means no call at all")
}

func TestGenerateNoEnabledModels(t *testing.T) {
	specs := backend.DefaultSpecs()
	for i := range specs {
		specs[i].Enabled = false
	}
	gen := &fakeGen{queues: map[string][]fakeResp{}}
	brk := breaker.New(3, 2*time.Minute)
	s := NewStage(gen, backend.NewRegistry(specs), brk, budget.NewGovernor(50, nil), time.Minute)

	_, err := s.Generate(context.Background(), "p", 6, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no enabled models in chain")
	assert.Empty(t, gen.calls)
}

func TestGenerateRetriesSameBackendOnRateLimit(t *testing.T) {
	gen := &fakeGen{queues: map[string][]fakeResp{
		"seedance": {
			{err: errors.New("http 429: rate limit exceeded, retry after 3")},
			{raw: clipBody},
		},
	}}
	s, _, _ := newTestStage(gen, 50)

	var slept []time.Duration
	s.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	res, err := s.Generate(context.Background(), "p", 6, nil)
	require.NoError(t, err)

	assert.Equal(t, "seedance", res.Backend)
	assert.Equal(t, []string{"seedance", "seedance"}, gen.calls)
	// hinted 3s plus the fixed safety margin
	require.Len(t, slept, 1)
	assert.Equal(t, 4*time.Second, slept[0])
}

func TestGenerateGivesUpRateLimitedBackend(t *testing.T) {
	gen := &fakeGen{queues: map[string][]fakeResp{
		"seedance": {
			{err: errors.New("http 429: too many requests")},
			{err: errors.New("http 429: too many requests")},
		},
		"kling": {{raw: clipBody}},
	}}
	s, _, _ := newTestStage(gen, 50)

	res, err := s.Generate(context.Background(), "p", 6, nil)
	require.NoError(t, err)

	assert.Equal(t, "kling", res.Backend)
	assert.Equal(t, []string{"seedance", "seedance", "kling"}, gen.calls)
}

func TestGenerateSkipsUnaffordableBackends(t *testing.T) {
	gen := &fakeGen{queues: map[string][]fakeResp{}}
	s, _, _ := newTestStage(gen, 0.01)

	_, err := s.Generate(context.Background(), "p", 6, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient budget")
	assert.Empty(t, gen.calls, "unaffordable backends are skipped, not called")
}

// cancelGen 在调用进行中触发取消，模拟运行被中途取消的时序
type cancelGen struct {
	cancel context.CancelFunc
}

func (g *cancelGen) Generate(ctx context.Context, _ backend.Spec, _ backend.GenerateParams) (json.RawMessage, error) {
	g.cancel()
	return nil, ctx.Err()
}

func TestGenerateCancelledMidCallLeavesBreakerUntouched(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gen := &cancelGen{cancel: cancel}
	s, brk, gov := newTestStage(gen, 50)

	_, err := s.Generate(ctx, "p", 6, nil)
	require.ErrorIs(t, err, model.ErrAborted)

	assert.Zero(t, brk.Failures("seedance"), "an abort is not a backend failure")
	assert.Zero(t, gov.Spent())
}

func TestGenerateAbortsOnCancelledContext(t *testing.T) {
	gen := &fakeGen{queues: map[string][]fakeResp{}}
	s, _, _ := newTestStage(gen, 50)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Generate(ctx, "p", 6, nil)
	assert.ErrorIs(t, err, model.ErrAborted)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		kind       model.BackendErrorKind
		retryAfter time.Duration
	}{
		{"timeout", errors.New("timed out after 5m0s"), model.BackendTimeout, 0},
		{"payment required", errors.New("http 402: payment required"), model.BackendCreditExhausted, 0},
		{"credit wording", errors.New("insufficient credit remaining"), model.BackendCreditExhausted, 0},
		{"rate limit with hint", errors.New(`http 429: {"error":"rate limit","retry_after": 7}`), model.BackendRateLimited, 7 * time.Second},
		{"rate limit without hint", errors.New("http 429: too many requests"), model.BackendRateLimited, defaultRetryAfter},
		{"bad response", errors.New("response object has no recognized url key"), model.BackendBadResponse, 0},
		{"unknown", errors.New("connection reset by peer"), model.BackendRemote, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			be := classify("kling", tt.err)
			assert.Equal(t, tt.kind, be.Kind)
			assert.Equal(t, "kling", be.Backend)
			if tt.retryAfter > 0 {
				assert.Equal(t, tt.retryAfter, be.RetryAfter)
			}
		})
	}
}
