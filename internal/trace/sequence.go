package trace

import (
	"fmt"
	"time"

	"github.com/tatimblin/aptitude/internal/canonical"
)

// Sequence is the ordered, append-only record of actions from one
// execution. Once finished it never changes; accessors return copies.
type Sequence struct {
	actions []Action
	stdout  *string
}

// NewSequence builds a finished sequence, renumbering Seq by position.
func NewSequence(actions ...Action) *Sequence {
	var b Builder
	for _, a := range actions {
		b.Append(a.Tool, a.Params, a.Timestamp)
	}
	return b.Finish()
}

// Actions returns a copy of the recorded actions in order.
func (s *Sequence) Actions() []Action {
	if s == nil {
		return []Action{}
	}
	out := make([]Action, len(s.actions))
	copy(out, s.actions)
	return out
}

// Len returns the number of actions.
func (s *Sequence) Len() int {
	if s == nil {
		return 0
	}
	return len(s.actions)
}

// At returns the action at position i.
func (s *Sequence) At(i int) Action {
	return s.actions[i]
}

// Stdout returns the captured final output, if any was attached.
func (s *Sequence) Stdout() (string, bool) {
	if s == nil || s.stdout == nil {
		return "", false
	}
	return *s.stdout, true
}

// WithStdout returns a copy of the sequence carrying the agent's output.
func (s *Sequence) WithStdout(stdout string) *Sequence {
	out := &Sequence{actions: s.Actions(), stdout: &stdout}
	return out
}

// Normalize returns a copy with every tool name passed through canon.
func (s *Sequence) Normalize(canon func(native string) string) *Sequence {
	actions := s.Actions()
	for i := range actions {
		actions[i].Tool = canon(actions[i].Tool)
	}
	return &Sequence{actions: actions, stdout: s.stdout}
}

// Tools returns the tool names in order.
func (s *Sequence) Tools() []string {
	out := make([]string, 0, s.Len())
	for _, a := range s.Actions() {
		out = append(out, a.Tool)
	}
	return out
}

// Fingerprint returns a stable content hash of the tool/params list.
// Timestamps and stdout are excluded so a re-read of the same log
// yields the same fingerprint.
func (s *Sequence) Fingerprint() (string, error) {
	list := make([]any, 0, s.Len())
	for _, a := range s.Actions() {
		list = append(list, map[string]any{
			"tool":   a.Tool,
			"params": a.Params.Map(),
		})
	}
	data, err := canonical.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return canonical.Hash(canonical.DomainSequence, data), nil
}

// Builder accumulates actions, assigning Seq in arrival order.
type Builder struct {
	actions []Action
}

// Append records an action and returns it with its assigned Seq.
func (b *Builder) Append(tool string, params Params, ts time.Time) Action {
	a := Action{
		Tool:      tool,
		Params:    params,
		Seq:       len(b.actions),
		Timestamp: ts,
	}
	b.actions = append(b.actions, a)
	return a
}

// Len returns the number of actions appended so far.
func (b *Builder) Len() int {
	return len(b.actions)
}

// Finish freezes the builder's contents into a Sequence.
func (b *Builder) Finish() *Sequence {
	actions := make([]Action, len(b.actions))
	copy(actions, b.actions)
	return &Sequence{actions: actions}
}
