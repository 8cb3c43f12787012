package testfile

import (
	"fmt"
	"strings"

	"github.com/tatimblin/aptitude/internal/agent"
)

// toolAliases maps lowercased names, including legacy snake_case
// spellings, to canonical tool names.
var toolAliases = func() map[string]string {
	m := make(map[string]string, len(agent.CanonicalTools)+16)
	for _, name := range agent.CanonicalTools {
		m[strings.ToLower(name)] = name
	}
	for alias, name := range map[string]string{
		"read_file":         agent.ToolRead,
		"write_file":        agent.ToolWrite,
		"edit_file":         agent.ToolEdit,
		"execute_command":   agent.ToolBash,
		"glob_files":        agent.ToolGlob,
		"search_files":      agent.ToolGrep,
		"list_directory":    agent.ToolLS,
		"web_fetch":         agent.ToolWebFetch,
		"web_search":        agent.ToolWebSearch,
		"notebook_edit":     agent.ToolNotebookEdit,
		"ask_user":          agent.ToolAskUser,
		"ask_user_question": agent.ToolAskUser,
		"todo_write":        agent.ToolTodoWrite,
		"kill_shell":        agent.ToolKillShell,
		"task_output":       agent.ToolTaskOutput,
	} {
		m[alias] = name
	}
	return m
}()

// ResolveTool returns the canonical name for a tool name written in a
// test file. Matching is case-insensitive.
func ResolveTool(name string) (string, error) {
	if tool, ok := toolAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return tool, nil
	}
	return "", fmt.Errorf("unknown tool %q, available tools: %s", name, strings.Join(agent.CanonicalTools, ", "))
}
