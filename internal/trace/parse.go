package trace

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"sync/atomic"
	"time"
)

// RawCall is a tool invocation extracted from one log record, before it
// is given a position in a sequence.
type RawCall struct {
	Name      string
	Input     Params
	Timestamp time.Time
}

// record is the subset of a JSONL log record the parser reads.
type record struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Message   *struct {
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

type contentBlock struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Name  string `json:"name"`
	Input Params `json:"input"`
}

// Parser extracts tool invocations from execution log records.
// It is lenient: a line that does not parse is skipped and counted.
// Safe for concurrent use.
type Parser struct {
	now     func() time.Time
	logger  *slog.Logger
	skipped atomic.Int64
}

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// WithClock sets the clock used when a record carries no timestamp.
func WithClock(now func() time.Time) ParserOption {
	return func(p *Parser) {
		p.now = now
	}
}

// WithLogger sets the logger for skipped-line diagnostics.
func WithLogger(logger *slog.Logger) ParserOption {
	return func(p *Parser) {
		p.logger = logger
	}
}

// NewParser creates a parser using the wall clock and a discarding logger.
func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{
		now:    time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ParseRecord returns the tool invocations in one log record, in block
// order. Non-assistant records, text blocks, tool results, blank lines
// and malformed input all yield nil.
func (p *Parser) ParseRecord(line []byte) []RawCall {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}

	var rec record
	if err := json.Unmarshal(line, &rec); err != nil {
		p.skip("malformed record", err)
		return nil
	}
	if rec.Type != "assistant" || rec.Message == nil || len(rec.Message.Content) == 0 {
		return nil
	}

	var blocks []contentBlock
	if err := json.Unmarshal(rec.Message.Content, &blocks); err != nil {
		p.skip("malformed content", err)
		return nil
	}

	ts := p.timestamp(rec.Timestamp)
	var calls []RawCall
	for _, b := range blocks {
		if b.Type != "tool_use" {
			continue
		}
		calls = append(calls, RawCall{
			Name:      b.Name,
			Input:     b.Input,
			Timestamp: ts,
		})
	}
	return calls
}

// Skipped returns how many lines were dropped as unparseable.
func (p *Parser) Skipped() int {
	return int(p.skipped.Load())
}

func (p *Parser) timestamp(raw string) time.Time {
	if raw != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			return ts.UTC()
		}
	}
	return p.now().UTC()
}

func (p *Parser) skip(reason string, err error) {
	p.skipped.Add(1)
	p.logger.Debug("skipping log line", "reason", reason, "error", err)
}
