package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"storyreel/internal/backend"
	"storyreel/internal/breaker"
	"storyreel/internal/budget"
	"storyreel/internal/characters"
	"storyreel/internal/config"
	"storyreel/internal/jobs"
	"storyreel/internal/model"
	"storyreel/internal/pipeline"
	"storyreel/internal/progress"
	"storyreel/internal/script"
	"storyreel/internal/storage"
	"storyreel/internal/video"
)

func main() {
	_ = godotenv.Load()
	config.InitLogger()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logrus.WithError(err).Fatal("load config failed")
	}

	srv, err := newServer(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("server init failed")
	}

	r := gin.Default()
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/api/backends", srv.listBackends)
	r.POST("/api/movies", srv.createMovie)
	r.GET("/api/movies/:id", srv.getMovie)
	r.POST("/api/movies/:id/cancel", srv.cancelMovie)

	srv.jobs.StartSweeper(context.Background(), 5*time.Minute)

	logrus.WithField("addr", cfg.ListenAddr).Info("storyreel listening")
	if err := r.Run(cfg.ListenAddr); err != nil {
		logrus.WithError(err).Fatal("server exited")
	}
}

type server struct {
	orch     *pipeline.Orchestrator
	jobs     *jobs.Registry
	registry *backend.Registry
	brk      *breaker.Breaker
	governor *budget.Governor

	mu      sync.Mutex
	results map[string]*model.RunResult
}

func newServer(cfg *config.Config) (*server, error) {
	governor := budget.NewGovernor(cfg.Budget.Ceiling, cfg.Budget.RateLimits)
	brk := breaker.New(breaker.DefaultThreshold, breaker.DefaultResetTimeout)
	registry := backend.NewRegistry(cfg.Backends)

	chatModel, err := buildChatModel(cfg)
	if err != nil {
		return nil, err
	}
	scriptStage := script.NewStage(chatModel, governor,
		cfg.Script.Temperature, cfg.Script.MaxTokens, cfg.Script.CostPer1KTokens)

	client := backend.NewClientDefault()
	client.Mock = client.Mock || cfg.Mock
	videoStage := video.NewStage(client, registry, brk, governor, video.DefaultCallTimeout)

	var charSource pipeline.CharacterSource
	var records pipeline.RecordSaver
	if cfg.DatabaseDSN != "" {
		db, err := storage.Open(cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("database init: %w", err)
		}
		charSource = characters.NewStore(db)
		records = storage.NewRecordStore(db)
	} else {
		// 没有数据库也能跑：角色全部走占位合成，记录不落库
		logrus.Warn("no database configured, characters synthesized, records not persisted")
		charSource = characters.NewStore(nil)
	}

	var clips pipeline.ClipStore
	if cfg.Blob.Endpoint != "" || cfg.Mock {
		store, err := storage.NewBlobStore(cfg.Blob)
		if err != nil {
			return nil, fmt.Errorf("blob store init: %w", err)
		}
		clips = store
	}

	scheduler := pipeline.NewScheduler(cfg.Scheduler.MaxConcurrent,
		cfg.Scheduler.SequentialThreshold,
		time.Duration(cfg.Scheduler.InterSceneDelaySec)*time.Second)

	callbacks := progress.Callbacks{
		OnProgress: func(u progress.Update) {
			logrus.WithFields(logrus.Fields{
				"scene":   u.SceneIndex,
				"percent": fmt.Sprintf("%.0f%%", u.Percent),
				"status":  u.Status,
			}).Info("progress")
		},
	}

	orch := pipeline.NewOrchestrator(scriptStage, videoStage, charSource,
		clips, records, governor, registry, scheduler, callbacks)

	return &server{
		orch:     orch,
		jobs:     jobs.NewRegistry(jobs.DefaultRetention),
		registry: registry,
		brk:      brk,
		governor: governor,
		results:  make(map[string]*model.RunResult),
	}, nil
}

func buildChatModel(cfg *config.Config) (einomodel.BaseChatModel, error) {
	apiKey := os.Getenv("ARK_API_KEY")
	if cfg.Mock || apiKey == "" {
		logrus.Warn("running with offline chat model, scripts will be canned")
		return offlineChatModel{}, nil
	}
	return ark.NewChatModel(context.Background(), &ark.ChatModelConfig{
		APIKey: apiKey,
		Model:  cfg.Script.Model,
	})
}

// offlineChatModel 无密钥/联调模式下的文本模型替身，返回固定格式的脚本
type offlineChatModel struct{}

func (offlineChatModel) Generate(_ context.Context, _ []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	return schema.AssistantMessage(
		"VISUAL: A wide establishing shot, the characters move through the scene with steady purpose.\n"+
			"DIALOGUE:\n"+
			"CONTINUITY HOOK: Everyone is mid-stride, facing screen right.\n"+
			"SUMMARY: The story moves forward one beat.", nil), nil
}

func (offlineChatModel) Stream(_ context.Context, _ []*schema.Message, _ ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not supported in offline mode")
}

func (s *server) createMovie(c *gin.Context) {
	var req model.StoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	// 校验在入队前完成，坏请求不占任务槽
	if err := pipeline.Validate(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobID := req.RunID
	if jobID == "" {
		jobID = uuid.NewString()
	}
	req.RunID = jobID

	ctx, err := s.jobs.Create(jobID)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	go s.run(ctx, jobID, req)

	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID, "status": string(jobs.StatusRunning)})
}

func (s *server) run(ctx context.Context, jobID string, req model.StoryRequest) {
	res, err := s.orch.CreateMovie(ctx, req)
	if res != nil {
		s.mu.Lock()
		s.results[jobID] = res
		s.mu.Unlock()
	}

	switch {
	case res != nil && res.Status == model.RunStatusAborted:
		s.jobs.Complete(jobID, jobs.StatusAborted)
	case err != nil:
		logrus.WithError(err).WithField("job_id", jobID).Error("run failed")
		s.jobs.Complete(jobID, jobs.StatusFailed)
	default:
		s.jobs.Complete(jobID, jobs.StatusCompleted)
	}
}

func (s *server) getMovie(c *gin.Context) {
	jobID := c.Param("id")
	status, ok := s.jobs.Status(jobID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown job"})
		return
	}

	s.mu.Lock()
	res := s.results[jobID]
	s.mu.Unlock()

	body := gin.H{"job_id": jobID, "status": string(status)}
	if res != nil {
		body["result"] = res
	}
	c.JSON(http.StatusOK, body)
}

func (s *server) cancelMovie(c *gin.Context) {
	jobID := c.Param("id")
	if _, ok := s.jobs.Status(jobID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown job"})
		return
	}
	if !s.jobs.Abort(jobID) {
		c.JSON(http.StatusConflict, gin.H{"error": "job is not running"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID, "status": string(jobs.StatusAborted)})
}

func (s *server) listBackends(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"backends": s.registry.Specs(),
		"failures": s.brk.Snapshot(),
		"budget": gin.H{
			"ceiling":   s.governor.Ceiling(),
			"spent":     s.governor.Spent(),
			"remaining": s.governor.Remaining(),
		},
	})
}
