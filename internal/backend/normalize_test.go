package backend

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractClipURL(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
	}{
		{"bare string", `"https://cdn.example.com/a.mp4"`, "https://cdn.example.com/a.mp4"},
		{"array of urls", `["https://cdn.example.com/a.mp4","https://cdn.example.com/b.mp4"]`, "https://cdn.example.com/a.mp4"},
		{"video_url key", `{"video_url":"https://cdn.example.com/a.mp4"}`, "https://cdn.example.com/a.mp4"},
		{"url key", `{"url":"http://cdn.example.com/a.mp4"}`, "http://cdn.example.com/a.mp4"},
		{"nested output", `{"output":{"url":"https://cdn.example.com/a.mp4"}}`, "https://cdn.example.com/a.mp4"},
		{"nested data array", `{"data":["https://cdn.example.com/a.mp4"]}`, "https://cdn.example.com/a.mp4"},
		{"deeply nested result", `{"result":{"data":{"video_url":"https://cdn.example.com/a.mp4"}}}`, "https://cdn.example.com/a.mp4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url, err := ExtractClipURL(json.RawMessage(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, url)
		})
	}
}

func TestExtractClipURLRejectsUnknownShapes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty body", ``},
		{"string that is not a url", `"job accepted"`},
		{"array without urls", `["pending","queued"]`},
		{"object without known keys", `{"status":"processing","id":"abc"}`},
		{"number", `42`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExtractClipURL(json.RawMessage(tt.raw))
			assert.Error(t, err)
		})
	}
}
