package agent

// Canonical tool names. Assertions are written against these; every
// backend maps its native names onto them.
const (
	ToolRead         = "Read"
	ToolWrite        = "Write"
	ToolEdit         = "Edit"
	ToolBash         = "Bash"
	ToolGlob         = "Glob"
	ToolGrep         = "Grep"
	ToolLS           = "LS"
	ToolTask         = "Task"
	ToolWebFetch     = "WebFetch"
	ToolWebSearch    = "WebSearch"
	ToolNotebookEdit = "NotebookEdit"
	ToolAskUser      = "AskUserQuestion"
	ToolTodoWrite    = "TodoWrite"
	ToolKillShell    = "KillShell"
	ToolTaskOutput   = "TaskOutput"
)

// CanonicalTools lists every canonical tool name.
var CanonicalTools = []string{
	ToolRead, ToolWrite, ToolEdit, ToolBash, ToolGlob, ToolGrep, ToolLS,
	ToolTask, ToolWebFetch, ToolWebSearch, ToolNotebookEdit, ToolAskUser,
	ToolTodoWrite, ToolKillShell, ToolTaskOutput,
}

// NameMapping translates a backend's native tool names to canonical
// names. Names without an entry pass through unchanged, so the zero
// value is the identity mapping.
type NameMapping struct {
	toCanonical   map[string]string
	fromCanonical map[string]string
}

// NewNameMapping builds a mapping from native→canonical pairs.
func NewNameMapping(pairs map[string]string) NameMapping {
	m := NameMapping{
		toCanonical:   make(map[string]string, len(pairs)),
		fromCanonical: make(map[string]string, len(pairs)),
	}
	for native, canonical := range pairs {
		m.toCanonical[native] = canonical
		m.fromCanonical[canonical] = native
	}
	return m
}

// Canonical returns the canonical name for a native tool name.
func (m NameMapping) Canonical(native string) string {
	if c, ok := m.toCanonical[native]; ok {
		return c
	}
	return native
}

// Native returns the backend's name for a canonical tool name.
func (m NameMapping) Native(canonical string) string {
	if n, ok := m.fromCanonical[canonical]; ok {
		return n
	}
	return canonical
}

// HasNative reports whether native has an explicit entry.
func (m NameMapping) HasNative(native string) bool {
	_, ok := m.toCanonical[native]
	return ok
}

// Len returns the number of explicit entries.
func (m NameMapping) Len() int {
	return len(m.toCanonical)
}
