package backend

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractClipURL 把不同后端五花八门的响应体归一成一个片段URL。
// 已知形态：URL数组、带已知键的对象、裸字符串。无法识别的形态
// 是解码错误，不允许悄悄返回空值。
func ExtractClipURL(raw json.RawMessage) (string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return "", fmt.Errorf("empty response body")
	}

	// 裸字符串
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if isClipURL(s) {
			return s, nil
		}
		return "", fmt.Errorf("response string is not a url: %q", truncate(s, 80))
	}

	// URL数组
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil {
		for _, u := range arr {
			if isClipURL(u) {
				return u, nil
			}
		}
		return "", fmt.Errorf("response array contains no url")
	}

	// 带已知键的对象
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		for _, key := range []string{"video_url", "url", "clip_url"} {
			if v, ok := obj[key]; ok {
				var u string
				if json.Unmarshal(v, &u) == nil && isClipURL(u) {
					return u, nil
				}
			}
		}
		// 嵌套的 output / data 再走一遍
		for _, key := range []string{"output", "data", "result"} {
			if v, ok := obj[key]; ok {
				if u, err := ExtractClipURL(v); err == nil {
					return u, nil
				}
			}
		}
		return "", fmt.Errorf("response object has no recognized url key")
	}

	return "", fmt.Errorf("unrecognized response shape: %s", truncate(trimmed, 120))
}

func isClipURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
