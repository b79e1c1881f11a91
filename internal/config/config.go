package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"storyreel/internal/backend"
	"storyreel/internal/budget"
	"storyreel/internal/storage"
)

// ScriptConfig 文本模型相关配置
type ScriptConfig struct {
	Model           string  `yaml:"model"`
	Temperature     float32 `yaml:"temperature"`
	MaxTokens       int     `yaml:"max_tokens"`
	CostPer1KTokens float64 `yaml:"cost_per_1k_tokens"`
}

// SchedulerConfig 场景调度相关配置
type SchedulerConfig struct {
	MaxConcurrent       int `yaml:"max_concurrent"`
	SequentialThreshold int `yaml:"sequential_threshold"`
	InterSceneDelaySec  int `yaml:"inter_scene_delay_sec"`
}

// BudgetConfig 花费上限与按服务的限流窗口
type BudgetConfig struct {
	Ceiling    float64                  `yaml:"ceiling"`
	RateLimits map[string]budget.Limits `yaml:"rate_limits"`
}

// ElevenLabsConfig 语音合成配置，当前版本尚未接入，仅占位
type ElevenLabsConfig struct {
	APIKey string `yaml:"api_key"`
}

// Config 服务的全量配置。默认值 < yaml文件 < 环境变量，逐层覆盖。
type Config struct {
	ListenAddr  string             `yaml:"listen_addr"`
	Mock        bool               `yaml:"mock"`
	Budget      BudgetConfig       `yaml:"budget"`
	Scheduler   SchedulerConfig    `yaml:"scheduler"`
	Script      ScriptConfig       `yaml:"script"`
	Backends    []backend.Spec     `yaml:"backends"`
	DatabaseDSN string             `yaml:"database_dsn"`
	Blob        storage.BlobConfig `yaml:"blob"`
	ElevenLabs  ElevenLabsConfig   `yaml:"elevenlabs"`
}

func defaults() *Config {
	return &Config{
		ListenAddr: ":8080",
		Budget: BudgetConfig{
			Ceiling: budget.DefaultCeiling,
			RateLimits: map[string]budget.Limits{
				"script":         {PerMinute: 20, PerHour: 200},
				"video:seedance": {PerMinute: 6, PerHour: 60},
				"video:kling":    {PerMinute: 4, PerHour: 40},
				"video:ltx":      {PerMinute: 10, PerHour: 120},
			},
		},
		Scheduler: SchedulerConfig{
			MaxConcurrent:       2,
			SequentialThreshold: 3,
			InterSceneDelaySec:  8,
		},
		Script: ScriptConfig{
			Model:           "doubao-seed-1-6-250615",
			Temperature:     0.8,
			MaxTokens:       800,
			CostPer1KTokens: 0.004,
		},
		Backends: backend.DefaultSpecs(),
	}
}

// Load 读取配置。path为空或文件不存在时只用默认值加环境变量。
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("BUDGET_CEILING"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			c.Budget.Ceiling = f
		}
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		c.DatabaseDSN = v
	}
	if v := os.Getenv("BLOB_ENDPOINT"); v != "" {
		c.Blob.Endpoint = v
	}
	if v := os.Getenv("BLOB_ACCESS_KEY"); v != "" {
		c.Blob.AccessKey = v
	}
	if v := os.Getenv("BLOB_SECRET_KEY"); v != "" {
		c.Blob.SecretKey = v
	}
	if v := os.Getenv("BLOB_BUCKET"); v != "" {
		c.Blob.Bucket = v
	}
	if v := os.Getenv("BLOB_PUBLIC_URL"); v != "" {
		c.Blob.PublicURL = v
	}
	if v := os.Getenv("ELEVENLABS_API_KEY"); v != "" {
		c.ElevenLabs.APIKey = v
	}
	if v := strings.ToLower(os.Getenv("GEN_MOCK")); v == "1" || v == "true" {
		c.Mock = true
	}
	c.Blob.Mock = c.Mock
}

// InitLogger 初始化logrus，级别由LOG_LEVEL控制，默认info
func InitLogger() {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	level := logrus.InfoLevel
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if parsed, err := logrus.ParseLevel(v); err == nil {
			level = parsed
		}
	}
	logrus.SetLevel(level)
}
