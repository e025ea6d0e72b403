package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_SortsKeysAndIndents(t *testing.T) {
	data, err := MarshalCanonical(map[string]any{
		"zeta":  1,
		"alpha": []any{"b", true},
		"mid":   map[string]any{},
		"empty": []any{},
	})
	require.NoError(t, err)

	want := `{
  "alpha": [
    "b",
    true
  ],
  "empty": [],
  "mid": {},
  "zeta": 1
}
`
	assert.Equal(t, want, string(data))
}

func TestMarshalCanonical_Structs(t *testing.T) {
	data, err := MarshalCanonical(StepResult{Action: "send", Conversation: "C1", MessageID: "M100"})
	require.NoError(t, err)

	want := `{
  "action": "send",
  "conversation": "C1",
  "message_id": "M100"
}
`
	assert.Equal(t, want, string(data))
}

func TestMarshalCanonical_Strings(t *testing.T) {
	// "e" followed by a combining acute accent normalizes to U+00E9.
	data, err := MarshalCanonical(map[string]any{"s": "cafe\u0301 <b>&"})
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"s\": \"caf\u00e9 <b>&\"\n}\n", string(data))
}

func TestMarshalCanonical_Forbidden(t *testing.T) {
	_, err := MarshalCanonical(map[string]any{"f": 1.5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats are forbidden")

	_, err = MarshalCanonical(map[string]any{"n": nil})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "null is forbidden")
}

func TestMarshalCanonical_Deterministic(t *testing.T) {
	v := map[string]any{"b": 2, "a": 1, "c": map[string]any{"y": "1", "x": "2"}}
	first, err := MarshalCanonical(v)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := MarshalCanonical(v)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
