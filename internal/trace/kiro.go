package trace

import (
	"encoding/json"
	"errors"
	"fmt"
)

type kiroConversation struct {
	History *[]kiroEntry `json:"history"`
}

type kiroEntry struct {
	User struct {
		Timestamp string `json:"timestamp"`
	} `json:"user"`
	Assistant json.RawMessage `json:"assistant"`
}

type kiroToolUse struct {
	ToolUse *struct {
		ToolUses []struct {
			Name string `json:"name"`
			Args Params `json:"args"`
		} `json:"tool_uses"`
	} `json:"ToolUse"`
}

// ParseKiroConversation extracts tool invocations from a Kiro
// conversation document. Each history entry's user timestamp is applied
// to the tool uses in that entry's assistant turn. Entries whose
// assistant turn is not a tool use are ignored. A document that is not
// valid JSON or lacks a history array is an error.
func (p *Parser) ParseKiroConversation(doc []byte) ([]RawCall, error) {
	var conv kiroConversation
	if err := json.Unmarshal(doc, &conv); err != nil {
		return nil, fmt.Errorf("parse kiro conversation: %w", err)
	}
	if conv.History == nil {
		return nil, errors.New("parse kiro conversation: missing history")
	}

	var calls []RawCall
	for i, entry := range *conv.History {
		if len(entry.Assistant) == 0 || string(entry.Assistant) == "null" {
			continue
		}
		var turn kiroToolUse
		if err := json.Unmarshal(entry.Assistant, &turn); err != nil {
			p.skip(fmt.Sprintf("history[%d]: unexpected assistant turn", i), err)
			continue
		}
		if turn.ToolUse == nil {
			continue
		}

		ts := p.timestamp(entry.User.Timestamp)
		for _, tu := range turn.ToolUse.ToolUses {
			calls = append(calls, RawCall{Name: tu.Name, Input: tu.Args, Timestamp: ts})
		}
	}
	return calls, nil
}

// SequenceFromCalls numbers raw calls into a finished Sequence.
func SequenceFromCalls(calls []RawCall) *Sequence {
	var b Builder
	for _, c := range calls {
		b.Append(c.Name, c.Input, c.Timestamp)
	}
	return b.Finish()
}
