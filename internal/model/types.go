package model

import "time"

// StoryRequest 一次生成长片请求的输入
type StoryRequest struct {
	Premise        string   `json:"premise"`                   // 故事前提，至少10个字符
	CharacterIDs   []string `json:"character_ids"`             // 角色ID列表，不能为空
	TotalDuration  int      `json:"total_duration"`            // 目标总时长（秒）
	SceneDuration  int      `json:"scene_duration"`            // 每个场景的目标时长（秒）
	ModelChain     []string `json:"model_chain,omitempty"`     // 视频模型优先级链，空则使用默认链
	StyleReference string   `json:"style_reference,omitempty"` // 可选的风格参考
	RunID          string   `json:"run_id,omitempty"`          // 运行ID，空则自动生成
}

// Character 角色信息，一次运行中只读
type Character struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	BaseStyle         string `json:"base_style"`                    // 基础视觉风格提示词
	Personality       string `json:"personality"`                   // 性格描述
	ReferenceImageURL string `json:"reference_image_url,omitempty"` // 参考图片URL
	VisualDetails     string `json:"visual_details,omitempty"`      // 补充视觉细节
}

// SceneScript 解析后的场景脚本
type SceneScript struct {
	Raw            string `json:"raw"`             // LLM返回的原始文本
	Visual         string `json:"visual"`          // 画面描述
	Dialogue       string `json:"dialogue"`        // 对白
	ContinuityHook string `json:"continuity_hook"` // 场景结尾的动作/状态，供下一场景衔接
	Summary        string `json:"summary"`         // 剧情概要
}

// Continuity 滚动的叙事状态，场景n完成后写入，场景n+1消费
type Continuity struct {
	StorySoFar string `json:"story_so_far"` // 到目前为止的故事概要
	LastHook   string `json:"last_hook"`    // 上一场景结尾的衔接钩子
}

// Scene 单个场景的完整记录，结束后不再修改
type Scene struct {
	Index      int         `json:"index"` // 1开始，连续编号
	Script     SceneScript `json:"script"`
	Prompt     string      `json:"prompt,omitempty"`   // 组装后的视频生成提示词
	Backend    string      `json:"backend,omitempty"`  // 实际使用的视频模型
	ClipURL    string      `json:"clip_url,omitempty"` // 生成的视频片段URL
	Duration   int         `json:"duration,omitempty"` // 实际使用的时长（秒）
	Success    bool        `json:"success"`
	Aborted    bool        `json:"aborted,omitempty"` // 被取消而非失败
	Error      string      `json:"error,omitempty"`
	StartedAt  time.Time   `json:"started_at,omitempty"`
	FinishedAt time.Time   `json:"finished_at,omitempty"`
}

// 运行最终状态
const (
	RunStatusCompleted = "completed"
	RunStatusPartial   = "partial"
	RunStatusFailed    = "failed"
	RunStatusAborted   = "aborted"
)

// RunResult 一次运行的聚合结果
type RunResult struct {
	RunID       string      `json:"run_id"`
	Premise     string      `json:"premise"`
	Status      string      `json:"status"`
	SceneCount  int         `json:"scene_count"`
	Successful  int         `json:"successful"`
	Failed      int         `json:"failed"`
	Aborted     int         `json:"aborted"`
	Scenes      []Scene     `json:"scenes"`     // 按场景序号排列，包含全部k个槽位
	Characters  []Character `json:"characters"` // 本次运行使用的角色
	TotalCost   float64     `json:"total_cost"` // 本次运行记录的花费（美元）
	StartedAt   time.Time   `json:"started_at"`
	FinishedAt  time.Time   `json:"finished_at"`
	GeneratedAt time.Time   `json:"generated_at"`
	RecordID    string      `json:"record_id,omitempty"` // 持久化记录句柄，持久化失败时为空
}

// FailedScenes 返回失败（非取消）的场景列表
func (r *RunResult) FailedScenes() []Scene {
	var out []Scene
	for _, s := range r.Scenes {
		if !s.Success && !s.Aborted {
			out = append(out, s)
		}
	}
	return out
}
