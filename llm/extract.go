package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	// ErrEmptyResponse 模型返回空文本
	ErrEmptyResponse = errors.New("empty response from LLM; expected JSON content")
	// ErrNoJSON 文本中找不到 JSON 对象
	ErrNoJSON = errors.New("unable to locate JSON object in response")
	// ErrInvalidJSON 找到了 JSON 片段但无法解析
	ErrInvalidJSON = errors.New("invalid JSON in response")
)

// ExtractJSON 从模型回复中取出 JSON 对象。
// 先尝试整体解析；失败时截取第一个 '{' 到最后一个 '}' 之间的片段再解析。
func ExtractJSON(response string) (map[string]any, error) {
	raw, err := jsonSpan(response)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("%w: failed to decode JSON object: %w", ErrInvalidJSON, err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// DecodeJSON 与 ExtractJSON 相同的定位规则，解码到 v
func DecodeJSON(response string, v any) error {
	raw, err := jsonSpan(response)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("%w: failed to decode JSON from response snippet. Original response: %s: %w", ErrInvalidJSON, strings.TrimSpace(response), err)
	}
	return nil
}

func jsonSpan(response string) (string, error) {
	response = strings.TrimSpace(response)
	if response == "" {
		return "", ErrEmptyResponse
	}
	if gjson.Valid(response) && gjson.Parse(response).IsObject() {
		return response, nil
	}

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("%w: %q", ErrNoJSON, response)
	}

	snippet := response[start : end+1]
	if !gjson.Valid(snippet) {
		return "", fmt.Errorf("%w: failed to decode JSON from response snippet. Original response: %s", ErrInvalidJSON, response)
	}
	return snippet, nil
}
