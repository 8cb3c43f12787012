package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNameMapping_ZeroValueIsIdentity(t *testing.T) {
	var m NameMapping
	assert.Equal(t, "Read", m.Canonical("Read"))
	assert.Equal(t, "anything", m.Native("anything"))
	assert.False(t, m.HasNative("Read"))
}

func TestNameMapping_RoundTrip(t *testing.T) {
	m := NewNameMapping(map[string]string{
		"fs_read":      ToolRead,
		"execute_bash": ToolBash,
	})

	assert.Equal(t, ToolRead, m.Canonical("fs_read"))
	assert.Equal(t, ToolBash, m.Canonical("execute_bash"))
	assert.Equal(t, "unknown_tool", m.Canonical("unknown_tool"))

	assert.Equal(t, "fs_read", m.Native(ToolRead))
	assert.Equal(t, ToolWrite, m.Native(ToolWrite))
	assert.Equal(t, 2, m.Len())
}

func TestKiroMapping(t *testing.T) {
	m := NewKiro().Mapping()

	tests := map[string]string{
		"fs_read":      ToolRead,
		"execute_bash": ToolBash,
		"fs_write":     ToolWrite,
		"fs_edit":      ToolEdit,
		"glob":         ToolGlob,
		"grep":         ToolGrep,
		"use_aws":      "use_aws",
	}
	for native, want := range tests {
		assert.Equal(t, want, m.Canonical(native), native)
	}
}

func TestClaudeMappingCoversCanonicalTools(t *testing.T) {
	m := NewClaude().Mapping()
	for _, tool := range CanonicalTools {
		assert.True(t, m.HasNative(tool), tool)
		assert.Equal(t, tool, m.Canonical(tool))
	}
}
