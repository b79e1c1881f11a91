package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"storyreel/internal/backend"
	"storyreel/internal/budget"
	"storyreel/internal/characters"
	"storyreel/internal/model"
	"storyreel/internal/progress"
	"storyreel/internal/prompt"
	"storyreel/internal/script"
	"storyreel/internal/video"
)

const (
	// MaxTotalDuration 请求总时长的绝对上限（秒）
	MaxTotalDuration = 600
	// minPremiseLen 故事前提的最小长度
	minPremiseLen = 10
	// storySoFarLimit 滚动概要的长度上限，防止逐场景无限增长
	storySoFarLimit = 2000
	// persistTimeout 运行结束（含取消）后持久化的独立超时
	persistTimeout = 30 * time.Second
	// estScriptCostPerScene 预估用的单场景脚本成本（美元）
	estScriptCostPerScene = 0.02
	// fallbackVideoCostPerSecond 链上无可用后端时的预估单价
	fallbackVideoCostPerSecond = 0.05
)

// ScriptStage 场景脚本生成
type ScriptStage interface {
	Generate(ctx context.Context, req script.Request) (model.SceneScript, error)
}

// VideoStage 视频片段生成
type VideoStage interface {
	Generate(ctx context.Context, prompt string, duration int, chain []string) (*video.Result, error)
}

// CharacterSource 角色查询
type CharacterSource interface {
	Resolve(ctx context.Context, ids []string) ([]model.Character, error)
}

// ClipStore 片段转存，可为nil
type ClipStore interface {
	StoreClip(ctx context.Context, clipURL, runID string, sceneIndex int) (string, error)
}

// RecordSaver 运行记录持久化，可为nil
type RecordSaver interface {
	Save(ctx context.Context, res *model.RunResult) (string, error)
}

// Orchestrator 把脚本、提示词、视频、预算、进度组装成端到端的
// CreateMovie 流程。所有依赖显式注入，便于每个测试持有独立实例。
type Orchestrator struct {
	Script     ScriptStage
	Video      VideoStage
	Characters CharacterSource
	Clips      ClipStore
	Records    RecordSaver
	Governor   *budget.Governor
	Registry   *backend.Registry
	Scheduler  *Scheduler
	Callbacks  progress.Callbacks

	log *logrus.Entry
}

func NewOrchestrator(scriptStage ScriptStage, videoStage VideoStage, chars CharacterSource,
	clips ClipStore, records RecordSaver, governor *budget.Governor,
	registry *backend.Registry, scheduler *Scheduler, callbacks progress.Callbacks) *Orchestrator {
	return &Orchestrator{
		Script:     scriptStage,
		Video:      videoStage,
		Characters: chars,
		Clips:      clips,
		Records:    records,
		Governor:   governor,
		Registry:   registry,
		Scheduler:  scheduler,
		Callbacks:  callbacks,
		log:        logrus.WithField("component", "pipeline"),
	}
}

// CreateMovie 执行一次完整的运行。场景级失败被吞进Scene记录，
// 只有输入校验、启动前预算拒绝、以及"零成功且未取消"会让入口本身报错。
func (o *Orchestrator) CreateMovie(ctx context.Context, req model.StoryRequest) (*model.RunResult, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}

	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	log := o.log.WithField("run_id", runID)

	chars, err := o.Characters.Resolve(ctx, req.CharacterIDs)
	if err != nil {
		// 角色查询失败不允许导致整次运行失败
		log.WithError(err).Warn("character resolution failed, synthesizing placeholders")
		chars = placeholders(req.CharacterIDs)
	}

	k := budget.SceneCount(req.TotalDuration, req.SceneDuration)

	// 任何场景启动前先按整体预估过一遍预算
	est := o.Governor.Estimate(req.TotalDuration, req.SceneDuration,
		o.estimateVideoCost(req.ModelChain), estScriptCostPerScene)
	if !o.Governor.WithinCeiling(est) {
		return nil, &model.BudgetExceededError{
			Projected: est.Total,
			Remaining: o.Governor.Remaining(),
			Ceiling:   o.Governor.Ceiling(),
		}
	}

	log.WithFields(logrus.Fields{"scenes": k, "estimate": est.Total}).Info("run started")

	tracker := progress.NewTracker(k, o.Callbacks)
	startSpent := o.Governor.Spent()
	startedAt := time.Now()

	// 连贯性状态按场景顺序显式传递：场景n从n-1的channel拿快照，
	// 脚本生成完立即发布给n+1。并发只作用在视频调用上，脚本严格有序。
	conts := make([]chan model.Continuity, k)
	for i := range conts {
		conts[i] = make(chan model.Continuity, 1)
	}
	conts[0] <- model.Continuity{}

	tasks := make([]Task, k)
	for i := 0; i < k; i++ {
		tasks[i] = o.buildSceneTask(i, k, req, chars, runID, conts, tracker)
	}

	scenes := o.Scheduler.Run(ctx, tasks)
	summary := tracker.Finish()

	result := &model.RunResult{
		RunID:       runID,
		Premise:     req.Premise,
		SceneCount:  k,
		Successful:  summary.Successful,
		Failed:      summary.Failed,
		Aborted:     summary.Aborted,
		Scenes:      scenes,
		Characters:  chars,
		TotalCost:   o.Governor.Spent() - startSpent,
		StartedAt:   startedAt,
		FinishedAt:  summary.Finished,
		GeneratedAt: time.Now(),
	}
	result.Status = runStatus(ctx, summary, k)

	o.persist(result, log)

	if result.Successful == 0 && result.Status != model.RunStatusAborted {
		return result, fmt.Errorf("run %s produced no scenes: %s", runID, firstError(scenes))
	}

	log.WithFields(logrus.Fields{
		"status":     result.Status,
		"successful": result.Successful,
		"failed":     result.Failed,
		"aborted":    result.Aborted,
		"cost":       result.TotalCost,
	}).Info("run finished")
	return result, nil
}

// buildSceneTask 组装单个场景的任务。无论成功、失败还是被取消，
// 任务都必须向后继场景发布一份连贯性快照，否则后继会永远阻塞。
func (o *Orchestrator) buildSceneTask(i, total int, req model.StoryRequest,
	chars []model.Character, runID string, conts []chan model.Continuity,
	tracker *progress.Tracker) Task {

	return func(ctx context.Context) model.Scene {
		scene := model.Scene{Index: i + 1, StartedAt: time.Now()}
		cont := <-conts[i]
		forward := func(next model.Continuity) {
			if i+1 < total {
				conts[i+1] <- next
			}
		}

		finalize := func() model.Scene {
			scene.FinishedAt = time.Now()
			tracker.SceneFinished(scene)
			return scene
		}

		if ctx.Err() != nil {
			forward(cont)
			scene.Aborted = true
			scene.Error = "aborted before start"
			return finalize()
		}

		tracker.SceneStarted(scene.Index)

		sc, err := o.Script.Generate(ctx, script.Request{
			Premise:        req.Premise,
			Characters:     chars,
			Continuity:     cont,
			SceneIndex:     scene.Index,
			SceneTotal:     total,
			StyleReference: req.StyleReference,
		})
		if err != nil {
			// 脚本没产出，连贯性原样传递给后继
			forward(cont)
			if errors.Is(err, model.ErrAborted) || ctx.Err() != nil {
				scene.Aborted = true
				scene.Error = "aborted during script generation"
			} else {
				scene.Error = err.Error()
			}
			return finalize()
		}
		scene.Script = sc
		forward(model.Continuity{
			StorySoFar: extendStory(cont.StorySoFar, sc.Summary),
			LastHook:   sc.ContinuityHook,
		})

		scene.Prompt = prompt.Build(sc, chars, cont, req.StyleReference)

		res, err := o.Video.Generate(ctx, scene.Prompt, req.SceneDuration, req.ModelChain)
		if err != nil {
			if errors.Is(err, model.ErrAborted) || ctx.Err() != nil {
				scene.Aborted = true
				scene.Error = "aborted during video generation"
			} else {
				scene.Error = err.Error()
			}
			return finalize()
		}

		scene.Backend = res.Backend
		scene.Duration = res.Duration
		scene.ClipURL = res.ClipURL
		if o.Clips != nil {
			hosted, serr := o.Clips.StoreClip(ctx, res.ClipURL, runID, scene.Index)
			if serr != nil {
				// 转存失败保留原始URL
				o.log.WithError(serr).WithField("scene", scene.Index).Warn("clip rehost failed, keeping backend url")
			} else {
				scene.ClipURL = hosted
			}
		}
		scene.Success = true
		return finalize()
	}
}

// persist 用独立的超时context写运行记录——取消的运行也要保留已完成的部分
func (o *Orchestrator) persist(result *model.RunResult, log *logrus.Entry) {
	if o.Records == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	recordID, err := o.Records.Save(pctx, result)
	if err != nil {
		log.WithError(err).Error("run record persistence failed")
		return
	}
	result.RecordID = recordID
}

func (o *Orchestrator) estimateVideoCost(chain []string) float64 {
	if len(chain) == 0 {
		chain = o.Registry.DefaultChain()
	}
	for _, id := range chain {
		if spec, ok := o.Registry.Lookup(id); ok && spec.Enabled {
			return spec.CostPerSecond
		}
	}
	return fallbackVideoCostPerSecond
}

// Validate 请求入参校验，HTTP层和CreateMovie共用
func Validate(req model.StoryRequest) error {
	if len(strings.TrimSpace(req.Premise)) < minPremiseLen {
		return &model.ValidationError{Field: "premise", Reason: fmt.Sprintf("must be at least %d characters", minPremiseLen)}
	}
	if len(req.CharacterIDs) == 0 {
		return &model.ValidationError{Field: "character_ids", Reason: "must not be empty"}
	}
	if req.SceneDuration <= 0 {
		return &model.ValidationError{Field: "scene_duration", Reason: "must be positive"}
	}
	if req.TotalDuration <= 0 {
		return &model.ValidationError{Field: "total_duration", Reason: "must be positive"}
	}
	if req.TotalDuration > MaxTotalDuration {
		return &model.ValidationError{Field: "total_duration", Reason: fmt.Sprintf("must not exceed %d seconds", MaxTotalDuration)}
	}
	return nil
}

func runStatus(ctx context.Context, summary progress.Summary, total int) string {
	switch {
	case summary.Aborted > 0 && ctx.Err() != nil:
		return model.RunStatusAborted
	case summary.Successful == total:
		return model.RunStatusCompleted
	case summary.Successful > 0:
		return model.RunStatusPartial
	default:
		return model.RunStatusFailed
	}
}

func extendStory(soFar, summary string) string {
	joined := strings.TrimSpace(soFar + " " + summary)
	if len(joined) > storySoFarLimit {
		// 从尾部保留，起点前移到rune边界
		start := len(joined) - storySoFarLimit
		for start < len(joined) && !utf8.RuneStart(joined[start]) {
			start++
		}
		joined = joined[start:]
	}
	return joined
}

func placeholders(ids []string) []model.Character {
	out := make([]model.Character, 0, len(ids))
	for _, id := range ids {
		out = append(out, characters.Placeholder(id))
	}
	return out
}

func firstError(scenes []model.Scene) string {
	for _, s := range scenes {
		if s.Error != "" {
			return s.Error
		}
	}
	return "unknown failure"
}
