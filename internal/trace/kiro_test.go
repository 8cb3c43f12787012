package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKiroConversation_ExtractsFromHistory(t *testing.T) {
	doc := `{
		"history": [
			{
				"user": {"timestamp": "2026-02-23T21:20:31.146289-08:00"},
				"assistant": {"ToolUse": {"message_id": "m1", "tool_uses": [
					{"id": "t1", "name": "fs_read", "args": {"path": "a.txt"}},
					{"id": "t2", "name": "fs_write", "args": {"path": "b.txt", "content": "hi"}}
				]}}
			},
			{"user": {}, "assistant": {"Response": {"content": "done"}}},
			{"user": {}, "assistant": null},
			{"user": {}, "assistant": {"ToolUse": {"tool_uses": [{"name": "noArgs", "args": null}]}}}
		]
	}`

	calls, err := NewParser().ParseKiroConversation([]byte(doc))
	require.NoError(t, err)
	require.Len(t, calls, 3)

	assert.Equal(t, "fs_read", calls[0].Name)
	assert.Equal(t, "fs_write", calls[1].Name)
	assert.Equal(t, "noArgs", calls[2].Name)
	assert.Equal(t, 0, calls[2].Input.Len())

	path, ok := calls[0].Input.Text("path")
	require.True(t, ok)
	assert.Equal(t, "a.txt", path)
	assert.Equal(t, 2026, calls[0].Timestamp.Year())
}

func TestParseKiroConversation_Errors(t *testing.T) {
	p := NewParser()

	_, err := p.ParseKiroConversation([]byte(`{ invalid json }`))
	assert.Error(t, err)

	_, err = p.ParseKiroConversation([]byte(`{"foo": "bar"}`))
	assert.Error(t, err)

	calls, err := p.ParseKiroConversation([]byte(`{"history": []}`))
	require.NoError(t, err)
	assert.Empty(t, calls)
}

func TestSequenceFromCalls(t *testing.T) {
	calls, err := NewParser().ParseKiroConversation([]byte(`{"history":[{"user":{},"assistant":{"ToolUse":{"tool_uses":[{"name":"a","args":{}},{"name":"b","args":{}}]}}}]}`))
	require.NoError(t, err)

	seq := SequenceFromCalls(calls)
	assert.Equal(t, []string{"a", "b"}, seq.Tools())
	assert.Equal(t, 1, seq.At(1).Seq)
}
