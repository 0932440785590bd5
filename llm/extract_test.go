package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    map[string]any
		wantErr error
	}{
		{
			name:  "direct object",
			input: `{"next_node": "sipoc", "mode": "quick"}`,
			want:  map[string]any{"next_node": "sipoc", "mode": "quick"},
		},
		{
			name:  "surrounded by prose",
			input: "Sure! Here you go:\n```json\n{\"message\": \"hi\", \"n\": 2}\n```\nAnything else?",
			want:  map[string]any{"message": "hi", "n": float64(2)},
		},
		{
			name:  "whitespace trimmed",
			input: "  \n {\"a\": [1, 2]} \n",
			want:  map[string]any{"a": []any{float64(1), float64(2)}},
		},
		{
			name:    "empty",
			input:   "   ",
			wantErr: ErrEmptyResponse,
		},
		{
			name:    "no braces",
			input:   "I cannot help with that.",
			wantErr: ErrNoJSON,
		},
		{
			name:    "reversed braces",
			input:   "} nope {",
			wantErr: ErrNoJSON,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractJSON_BrokenSnippet(t *testing.T) {
	_, err := ExtractJSON(`prefix {"a": } suffix`)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidJSON)
	assert.NotErrorIs(t, err, ErrNoJSON)
	assert.Contains(t, err.Error(), "Original response")
}

func TestDecodeJSON_TypeMismatch(t *testing.T) {
	var out struct {
		Steps []string `json:"steps"`
	}
	err := DecodeJSON(`{"steps": "not a list"}`, &out)
	assert.ErrorIs(t, err, ErrInvalidJSON)
}

func TestDecodeJSON_Typed(t *testing.T) {
	var out struct {
		NextNode string   `json:"next_node"`
		Suggest  []string `json:"suggested_next"`
	}
	err := DecodeJSON("ok -> {\"next_node\":\"a3\",\"suggested_next\":[\"x\",\"y\"]}", &out)
	require.NoError(t, err)
	assert.Equal(t, "a3", out.NextNode)
	assert.Equal(t, []string{"x", "y"}, out.Suggest)
}

func TestProperty_ExtractJSONIgnoresSurroundingProse(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		key := rapid.StringMatching(`[a-z_]{1,12}`).Draw(rt, "key")
		value := rapid.StringMatching(`[A-Za-z0-9 .,]{0,40}`).Draw(rt, "value")
		prefix := rapid.StringMatching(`[A-Za-z0-9 .,:\n]{0,40}`).Draw(rt, "prefix")
		suffix := rapid.StringMatching(`[A-Za-z0-9 .,:\n]{0,40}`).Draw(rt, "suffix")

		body, err := json.Marshal(map[string]string{key: value})
		if err != nil {
			rt.Fatalf("marshal: %v", err)
		}

		got, err := ExtractJSON(prefix + string(body) + suffix)
		if err != nil {
			rt.Fatalf("extract: %v", err)
		}
		if got[key] != value {
			rt.Fatalf("expected %q for %q, got %v", value, key, got[key])
		}
	})
}
