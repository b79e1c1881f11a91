package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultBase = "https://api.videogen.example.com"
)

// Client 视频生成后端的统一HTTP客户端。每个后端只是不同的路径和参数，
// 鉴权和请求逻辑共用。Mock模式下返回固定结果，便于无密钥联调。
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Mock       bool
}

func NewClientDefault() *Client {
	apiKey := os.Getenv("VIDEO_API_KEY")
	return &Client{
		BaseURL:    baseURLFromEnv(),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 5 * time.Minute},
		Mock:       mockFromEnv(),
	}
}

func NewClientWithTimeout(timeout time.Duration) *Client {
	c := NewClientDefault()
	c.HTTPClient = &http.Client{Timeout: timeout}
	return c
}

func baseURLFromEnv() string {
	if v := os.Getenv("VIDEO_API_BASE"); v != "" {
		return v
	}
	return defaultBase
}

func mockFromEnv() bool {
	v := strings.ToLower(os.Getenv("GEN_MOCK"))
	return v == "1" || v == "true"
}

// GenerateParams 单次视频生成调用的输入
type GenerateParams struct {
	Prompt   string
	Duration int // 秒，已按后端范围收敛
}

// Generate 调用指定后端生成一段视频，返回原始响应体交由
// ExtractClipURL 归一。HTTP错误会带上响应体文本，供上层分类。
func (c *Client) Generate(ctx context.Context, spec Spec, p GenerateParams) (json.RawMessage, error) {
	if c.Mock {
		return json.RawMessage(`{"video_url":"https://cdn.storyreel.example.com/mock/clip.mp4"}`), nil
	}

	body := map[string]any{
		"model":        spec.ID,
		"prompt":       p.Prompt,
		"duration":     p.Duration,
		"fps":          spec.FPS,
		"aspect_ratio": spec.AspectRatio,
	}
	return c.postJSON(ctx, spec.Path, body)
}

func (c *Client) postJSON(ctx context.Context, path string, body any) (json.RawMessage, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, strings.NewReader(string(b)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	logrus.WithFields(logrus.Fields{"path": path, "bytes": len(b)}).Debug("backend request")
	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	bodyBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("http %d: %s", res.StatusCode, string(bodyBytes))
	}
	return json.RawMessage(bodyBytes), nil
}
