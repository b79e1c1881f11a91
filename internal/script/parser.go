package script

import (
	"strings"
	"unicode/utf8"

	"storyreel/internal/model"
)

// 导演模型被要求输出的段落标签，顺序固定
const (
	labelVisual   = "VISUAL:"
	labelDialogue = "DIALOGUE:"
	labelHook     = "CONTINUITY HOOK:"
	labelSummary  = "SUMMARY:"
)

var labels = []string{labelVisual, labelDialogue, labelHook, labelSummary}

const fallbackVisualLen = 500

// Parse 从原始脚本中提取四个带标签的段落。解析锚定格式且从不失败：
// 缺VISUAL时退化为原文截断前缀，对白和钩子默认为空，
// 概要退化为通用的衔接句。
func Parse(raw string) model.SceneScript {
	s := model.SceneScript{
		Raw:            raw,
		Visual:         section(raw, labelVisual),
		Dialogue:       section(raw, labelDialogue),
		ContinuityHook: section(raw, labelHook),
		Summary:        section(raw, labelSummary),
	}

	if s.Visual == "" {
		v := strings.TrimSpace(raw)
		if len(v) > fallbackVisualLen {
			n := fallbackVisualLen
			for n > 0 && !utf8.RuneStart(v[n]) {
				n--
			}
			v = v[:n]
		}
		s.Visual = v
	}
	if s.Summary == "" {
		s.Summary = "The story continues from the previous scene."
	}
	return s
}

// section 定位标签并取到下一个已知标签或文本结尾
func section(raw, label string) string {
	upper := strings.ToUpper(raw)
	start := strings.Index(upper, label)
	if start < 0 {
		return ""
	}
	start += len(label)

	end := len(raw)
	for _, other := range labels {
		if other == label {
			continue
		}
		if idx := strings.Index(upper[start:], other); idx >= 0 && start+idx < end {
			end = start + idx
		}
	}
	return strings.TrimSpace(raw[start:end])
}
