package script

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestParseWellFormedScript(t *testing.T) {
	raw := `VISUAL: A narrow alley at dusk, rain on the cobblestones, the detective walks toward camera.
DIALOGUE: "You were never supposed to follow me here."
CONTINUITY HOOK: The detective stops mid-stride, left hand on the door handle, facing the red door.
SUMMARY: The detective reaches the hideout and hesitates at the door.`

	s := Parse(raw)

	assert.Equal(t, raw, s.Raw)
	assert.Equal(t, "A narrow alley at dusk, rain on the cobblestones, the detective walks toward camera.", s.Visual)
	assert.Equal(t, `"You were never supposed to follow me here."`, s.Dialogue)
	assert.Equal(t, "The detective stops mid-stride, left hand on the door handle, facing the red door.", s.ContinuityHook)
	assert.Equal(t, "The detective reaches the hideout and hesitates at the door.", s.Summary)
}

func TestParseIsCaseInsensitiveOnLabels(t *testing.T) {
	raw := "visual: a quiet street\nsummary: nothing happens"

	s := Parse(raw)
	assert.Equal(t, "a quiet street", s.Visual)
	assert.Equal(t, "nothing happens", s.Summary)
}

func TestParseDegradesWithoutLabels(t *testing.T) {
	raw := "The model ignored the format and wrote freeform prose about the scene instead."

	s := Parse(raw)
	assert.Equal(t, raw, s.Visual, "unlabeled text becomes the visual")
	assert.Empty(t, s.Dialogue)
	assert.Empty(t, s.ContinuityHook)
	assert.Equal(t, "The story continues from the previous scene.", s.Summary)
}

func TestParseTruncatesLongFallbackVisual(t *testing.T) {
	raw := strings.Repeat("x", 1200)

	s := Parse(raw)
	assert.Len(t, s.Visual, fallbackVisualLen)
}

func TestParseFallbackVisualKeepsRunesIntact(t *testing.T) {
	raw := strings.Repeat("雨", 400) // 1200 bytes, no labels

	s := Parse(raw)
	assert.LessOrEqual(t, len(s.Visual), fallbackVisualLen)
	assert.True(t, utf8.ValidString(s.Visual))
}

func TestParseEmptyDialogueSection(t *testing.T) {
	raw := "VISUAL: wide shot\nDIALOGUE:\nCONTINUITY HOOK: standing still\nSUMMARY: a beat passes"

	s := Parse(raw)
	assert.Equal(t, "wide shot", s.Visual)
	assert.Empty(t, s.Dialogue)
	assert.Equal(t, "standing still", s.ContinuityHook)
}

func TestFillerIsDeterministic(t *testing.T) {
	req := Request{Premise: "a heist goes wrong", SceneIndex: 2, SceneTotal: 4}

	a := Filler(req)
	b := Filler(req)
	assert.Equal(t, a, b)
	assert.NotEmpty(t, a.Visual)
	assert.NotEmpty(t, a.ContinuityHook)
	assert.NotEmpty(t, a.Summary)
}
