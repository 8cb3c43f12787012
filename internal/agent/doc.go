// Package agent launches coding agents and recovers their traces.
//
// Each backend implements Adapter. Claude Code writes a JSONL session
// log under ~/.claude/projects and supports live observation through
// LiveTracer. Kiro keeps its conversation in a SQLite database that is
// read once the run is over.
//
// Execute is the entry point used by the harness:
//
//	reg := agent.DefaultRegistry(logger)
//	a, err := reg.Resolve(ctx, "claude")
//	if err != nil {
//	    return err
//	}
//	exec, err := agent.Execute(ctx, a, prompt, agent.ExecConfig{WorkDir: dir}, agent.ExecuteOptions{})
//
// The returned Sequence uses canonical tool names (see NameMapping) and
// is always derived from the complete log after the agent has exited.
package agent
