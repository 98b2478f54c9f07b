package llmutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONObject(t *testing.T) {
	testCases := []struct {
		name     string
		response string
		want     string
		wantErr  bool
	}{
		{"bare object", `{"action":"done"}`, `{"action":"done"}`, false},
		{"fenced json", "Here you go:\n```json\n{\"action\":\"click\",\"index\":3}\n```", `{"action":"click","index":3}`, false},
		{"fenced without language", "```\n{\"a\":1}\n```", `{"a":1}`, false},
		{"embedded in prose", `I will click it. {"action":"click","index":1} Done thinking.`, `{"action":"click","index":1}`, false},
		{"nested braces", `text {"action":"type","params":{"text":"x"}} tail`, `{"action":"type","params":{"text":"x"}}`, false},
		{"no object", "I cannot decide.", "", true},
		{"empty", "   ", "", true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ExtractJSONObject(tc.response)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrNoJSONObject)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeObject(t *testing.T) {
	obj, err := DecodeObject("```json\n{\"index\": 12, \"params\": {\"text\": \"hi\"}}\n```")
	require.NoError(t, err)
	assert.Equal(t, float64(12), obj["index"])
	assert.Equal(t, map[string]any{"text": "hi"}, obj["params"])

	_, err = DecodeObject(`{"index": }`)
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "héll...", Truncate("héllo", 4))
	assert.Equal(t, "abc", Truncate("abc", 3))
	assert.Equal(t, "", Truncate("abc", 0))
}
