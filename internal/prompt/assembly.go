package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"storyreel/internal/model"
)

// MaxLen 视频后端接受的提示词长度硬上限（字节）
const MaxLen = 4000

// styleLock 把摄影风格锁定到整次运行的每个场景，
// 避免片段剪在一起时出现可见的风格漂移。
const styleLock = `[STYLE LOCK] Cinematic live-action footage, 35mm lens, natural color grading, soft key light, shallow depth of field. Keep the exact same camera style, grading and lighting as every other scene of this movie.`

// Build 纯函数：解析后的脚本+角色+连贯性状态进，一条有界的提示词出。
// 截断最后做，按字节长度计，后端把结果当作不透明文本。
func Build(script model.SceneScript, characters []model.Character, prev model.Continuity, styleReference string) string {
	var b strings.Builder

	b.WriteString(script.Visual)
	b.WriteString("\n\n")

	if script.Dialogue != "" {
		fmt.Fprintf(&b, "Dialogue: %s\n\n", script.Dialogue)
	}

	if prev.LastHook != "" {
		fmt.Fprintf(&b, "[CONTINUITY] The scene opens exactly where the previous one ended: %s\n\n", prev.LastHook)
	}

	b.WriteString(styleLock)
	b.WriteString("\n\n")

	for _, c := range characters {
		b.WriteString(identityLock(c))
		b.WriteString("\n")
	}

	if styleReference != "" {
		fmt.Fprintf(&b, "\n[REFERENCE] %s\n", styleReference)
	}

	out := b.String()
	if len(out) > MaxLen {
		// 截断点回退到rune边界，避免切出非法UTF-8
		n := MaxLen
		for n > 0 && !utf8.RuneStart(out[n]) {
			n--
		}
		out = out[:n]
	}
	return out
}

// identityLock 描述单个角色并要求外观恒定
func identityLock(c model.Character) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[IDENTITY LOCK: %s] %s.", c.Name, c.BaseStyle)
	if c.Personality != "" {
		fmt.Fprintf(&b, " Personality: %s.", c.Personality)
	}
	if c.VisualDetails != "" {
		fmt.Fprintf(&b, " Visual details: %s.", c.VisualDetails)
	}
	if c.ReferenceImageURL != "" {
		fmt.Fprintf(&b, " Reference image: %s.", c.ReferenceImageURL)
	}
	fmt.Fprintf(&b, " %s must look identical in every scene: same face, same outfit, same build. Never change their appearance.", c.Name)
	return b.String()
}
