package script

import (
	"context"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"

	"storyreel/internal/budget"
	"storyreel/internal/model"
)

const directorInstruction = `You are a film director writing one scene of a continuous movie.
Respond with exactly four labeled sections, in this order and nothing else:
VISUAL: the full visual description of the scene, camera and motion included.
DIALOGUE: any spoken lines, or leave empty.
CONTINUITY HOOK: the exact motion and physical state of every character at the final frame, so the next scene can pick up seamlessly.
SUMMARY: one or two prose sentences of what happened.`

// Request 第n/k个场景的导演输入
type Request struct {
	Premise        string
	Characters     []model.Character
	Continuity     model.Continuity
	SceneIndex     int // 1-based
	SceneTotal     int
	StyleReference string
}

// Stage 调用文本模型生成衔接前文的结构化场景脚本。
// 限流和token成本都经过共享的governor。
type Stage struct {
	chatModel       einomodel.BaseChatModel
	governor        *budget.Governor
	temperature     float32
	maxTokens       int
	costPer1KTokens float64
	log             *logrus.Entry
}

func NewStage(chatModel einomodel.BaseChatModel, governor *budget.Governor, temperature float32, maxTokens int, costPer1KTokens float64) *Stage {
	if maxTokens <= 0 {
		maxTokens = 800
	}
	return &Stage{
		chatModel:       chatModel,
		governor:        governor,
		temperature:     temperature,
		maxTokens:       maxTokens,
		costPer1KTokens: costPer1KTokens,
		log:             logrus.WithField("stage", "script"),
	}
}

// Generate 生成场景脚本。限流拒绝让该场景失败；模型失败则换用
// 确定性的填充脚本，流水线继续而不是中止整次运行。
func (s *Stage) Generate(ctx context.Context, req Request) (model.SceneScript, error) {
	if err := s.governor.CheckRate("script"); err != nil {
		return model.SceneScript{}, err
	}

	messages, err := s.buildMessages(ctx, req)
	if err != nil {
		s.log.WithError(err).Warn("prompt build failed, using filler script")
		return Filler(req), nil
	}

	resp, err := s.chatModel.Generate(ctx, messages,
		einomodel.WithTemperature(s.temperature),
		einomodel.WithMaxTokens(s.maxTokens),
	)
	if err != nil {
		if ctx.Err() != nil {
			return model.SceneScript{}, model.ErrAborted
		}
		s.log.WithError(err).WithField("scene", req.SceneIndex).Warn("script generation failed, using filler")
		return Filler(req), nil
	}

	parsed := Parse(resp.Content)

	if resp.ResponseMeta != nil && resp.ResponseMeta.Usage != nil {
		cost := float64(resp.ResponseMeta.Usage.TotalTokens) / 1000 * s.costPer1KTokens
		if err := s.governor.Track("script", cost); err != nil {
			return parsed, err
		}
	}
	return parsed, nil
}

func (s *Stage) buildMessages(ctx context.Context, req Request) ([]*schema.Message, error) {
	template := prompt.FromMessages(schema.FString,
		schema.SystemMessage(directorInstruction),
		schema.UserMessage("Story premise: {premise}\n"+
			"Characters:\n{characters}\n"+
			"Story so far: {story_so_far}\n"+
			"Previous scene ended with: {last_hook}\n"+
			"{style}"+
			"Write scene {scene_index} of {scene_total}."),
	)
	style := ""
	if req.StyleReference != "" {
		style = fmt.Sprintf("Style reference: %s\n", req.StyleReference)
	}
	storySoFar := req.Continuity.StorySoFar
	if storySoFar == "" {
		storySoFar = "Nothing yet, this is the opening scene."
	}
	lastHook := req.Continuity.LastHook
	if lastHook == "" {
		lastHook = "n/a"
	}
	return template.Format(ctx, map[string]any{
		"premise":      req.Premise,
		"characters":   describeCharacters(req.Characters),
		"story_so_far": storySoFar,
		"last_hook":    lastHook,
		"style":        style,
		"scene_index":  req.SceneIndex,
		"scene_total":  req.SceneTotal,
	})
}

func describeCharacters(chars []model.Character) string {
	var b strings.Builder
	for _, c := range chars {
		fmt.Fprintf(&b, "- %s: %s", c.Name, c.Personality)
		if c.VisualDetails != "" {
			fmt.Fprintf(&b, " (%s)", c.VisualDetails)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Filler 仅凭请求构造确定性的替代脚本，模型不可用时使用
func Filler(req Request) model.SceneScript {
	names := make([]string, 0, len(req.Characters))
	for _, c := range req.Characters {
		names = append(names, c.Name)
	}
	cast := strings.Join(names, ", ")
	visual := fmt.Sprintf("Scene %d of %d. %s. The story of %q moves forward as the characters press on.",
		req.SceneIndex, req.SceneTotal, cast, req.Premise)
	return model.SceneScript{
		Raw:            visual,
		Visual:         visual,
		Dialogue:       "",
		ContinuityHook: "The characters hold their positions, mid-motion, facing the same direction as before.",
		Summary:        fmt.Sprintf("Scene %d advances the story without major turns.", req.SceneIndex),
	}
}
