package characters

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveWithoutDatabase(t *testing.T) {
	s := NewStore(nil)

	chars, err := s.Resolve(context.Background(), []string{"aaa-111", "bbb-222"})
	require.NoError(t, err, "missing database degrades to placeholders")

	require.Len(t, chars, 2)
	assert.Equal(t, "aaa-111", chars[0].ID)
	assert.Equal(t, "bbb-222", chars[1].ID, "request order preserved")
	assert.NotEmpty(t, chars[0].Name)
	assert.NotEmpty(t, chars[0].BaseStyle)
}

func TestPlaceholderIsDeterministic(t *testing.T) {
	a := Placeholder("f47ac10b-58cc")
	b := Placeholder("f47ac10b-58cc")
	assert.Equal(t, a, b)
	assert.Equal(t, "Character F47AC10B", a.Name, "long ids abbreviated to eight chars")

	short := Placeholder("c1")
	assert.Equal(t, "Character C1", short.Name)
}
