package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONCodeFence(t *testing.T) {
	raw := "```json\n{\"status\": \"PASS\", \"verdict\": \"ready\"}\n```"
	v, ok := ExtractJSON(raw)
	require.True(t, ok)
	obj, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "PASS", obj["status"])
}

func TestExtractJSONBareFence(t *testing.T) {
	raw := "```\n{\"a\": 1}\n```"
	v, ok := ExtractJSON(raw)
	require.True(t, ok)
	assert.Equal(t, float64(1), v.(map[string]any)["a"])
}

func TestExtractJSONLeadingProse(t *testing.T) {
	raw := "Sure! Here is the analysis you asked for:\n{\"roomName\": \"Kitchen\", \"status\": \"NEEDS_WORK\"}\nLet me know if you need anything else."
	v, ok := ExtractJSON(raw)
	require.True(t, ok)
	assert.Equal(t, "Kitchen", v.(map[string]any)["roomName"])
}

func TestExtractJSONTrailingComma(t *testing.T) {
	raw := `{"checklist": ["Counter: stow mail",], "status": "NEEDS_WORK",}`
	v, ok := ExtractJSON(raw)
	require.True(t, ok)
	obj := v.(map[string]any)
	assert.Equal(t, "NEEDS_WORK", obj["status"])
	assert.Len(t, obj["checklist"], 1)
}

func TestExtractJSONArray(t *testing.T) {
	raw := "here you go\n[{\"roomType\": \"kitchen\"}, {\"roomType\": \"living-room\"}]"
	v, ok := ExtractJSON(raw)
	require.True(t, ok)
	arr, ok := v.([]any)
	require.True(t, ok)
	assert.Len(t, arr, 2)
}

func TestExtractJSONNestedBraces(t *testing.T) {
	raw := `prose {"outer": {"inner": [1, 2]}} trailing`
	v, ok := ExtractJSON(raw)
	require.True(t, ok)
	outer := v.(map[string]any)["outer"].(map[string]any)
	assert.Len(t, outer["inner"], 2)
}

func TestExtractJSONStrayCloserInProse(t *testing.T) {
	raw := `score: 5} {"status": "PASS", "verdict": "ready"}`
	v, ok := ExtractJSON(raw)
	require.True(t, ok)
	assert.Equal(t, "PASS", v.(map[string]any)["status"])

	raw = "checklist:]\n[{\"roomType\": \"kitchen\"}]"
	v, ok = ExtractJSON(raw)
	require.True(t, ok)
	_, isArr := v.([]any)
	assert.True(t, isArr)
}

func TestExtractJSONGarbage(t *testing.T) {
	for _, raw := range []string{"", "   ", "no json here", "{broken", "{{{", "]["} {
		v, ok := ExtractJSON(raw)
		assert.False(t, ok, "input %q", raw)
		assert.Nil(t, v)
	}
}
