// Package trace turns agent execution logs into Action Sequences.
//
// An execution log is a JSONL file, one record per line. Records of type
// "assistant" carry message content blocks; each block of type
// "tool_use" is one tool invocation:
//
//	{"type":"assistant","timestamp":"2024-01-19T12:00:00Z",
//	 "message":{"content":[{"type":"tool_use","id":"1","name":"Read",
//	   "input":{"file_path":"/tmp/a.txt"}}]}}
//
// Every other record and block is ignored. Parsing is lenient: a line
// that is not valid JSON, such as a partially written last line, is
// skipped without failing the read.
//
// # Reading
//
// ReadFile parses a complete log in one pass. It is the authoritative
// source of a Sequence once the agent has exited.
//
// A Tailer observes a log while the agent is still writing it. A Locator
// picks the log belonging to the execution: the most recently created
// log under the project directory that was not present before launch
// and was not created before the execution started. The Tailer then
// polls the file, consuming only newline-terminated lines past its byte
// watermark, and performs a final drain after Stop.
//
// Kiro stores conversations in SQLite rather than JSONL;
// Parser.ParseKiroConversation handles that document shape.
package trace
