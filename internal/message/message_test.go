package message

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_AppliesDefaults(t *testing.T) {
	t.Parallel()

	m := New("abc", 10, "", Fields{})

	assert.Equal(t, "abc", m.ID)
	assert.Equal(t, int64(10), m.Timestamp)
	assert.Equal(t, DefaultTarget, m.Target)
	assert.Equal(t, DefaultType, m.Type)
	assert.Empty(t, m.Message)
	assert.Nil(t, m.Extra)
}

func TestNew_AssignedFieldsWinOverCallerFields(t *testing.T) {
	t.Parallel()

	m := New("abc", 10, "main", Fields{
		"id":        "spoofed",
		"timestamp": 1,
		"target":    "modal",
		"message":   "step1",
		"type":      "warning",
		"progress":  42,
	})

	assert.Equal(t, "abc", m.ID)
	assert.Equal(t, int64(10), m.Timestamp)
	assert.Equal(t, "main", m.Target)
	assert.Equal(t, "step1", m.Message)
	assert.Equal(t, "warning", m.Type)
	assert.Equal(t, map[string]any{"progress": 42}, m.Extra)
}

func TestMessage_MarshalJSON_IsFlatObject(t *testing.T) {
	t.Parallel()

	m := New("abc", 10, "main", Fields{"message": "hi", "step": "2/5"})

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"abc","timestamp":10,"target":"main","type":"info","message":"hi","step":"2/5"}`, string(data))
}

func TestMessage_UnmarshalJSON_KeepsExtraFieldsUntouched(t *testing.T) {
	t.Parallel()

	in := `{"id":"x1","timestamp":1700000000,"target":"modal","type":"custom","message":"","big":12345678901234567890,"nested":{"a":[1,2]}}`

	var m Message
	require.NoError(t, json.Unmarshal([]byte(in), &m))

	assert.Equal(t, "x1", m.ID)
	assert.Equal(t, int64(1700000000), m.Timestamp)
	assert.Equal(t, "modal", m.Target)
	assert.Equal(t, "custom", m.Type)

	out, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
	assert.Contains(t, string(out), "12345678901234567890")
}

func TestMessage_UnmarshalJSON_RejectsNonObject(t *testing.T) {
	t.Parallel()

	var m Message
	assert.Error(t, json.Unmarshal([]byte(`null`), &m))
	assert.Error(t, json.Unmarshal([]byte(`[1]`), &m))
}

func TestFilter_PreservesOrder(t *testing.T) {
	t.Parallel()

	msgs := []Message{
		{ID: "1", Target: "main"},
		{ID: "2", Target: "modal"},
		{ID: "3", Target: "main"},
	}

	got := Filter(msgs, "main")
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "3", got[1].ID)

	assert.Len(t, Filter(msgs, ""), 3)
}

func TestAfter_IsStrictlyGreater(t *testing.T) {
	t.Parallel()

	msgs := []Message{
		{ID: "a", Timestamp: 10},
		{ID: "b", Timestamp: 10},
		{ID: "c", Timestamp: 20},
	}

	got := After(msgs, 10)
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].ID)
}
