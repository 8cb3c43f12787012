package trace

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

// ResourceError reports a log that could not be opened or read.
// It is fatal to the read that produced it.
type ResourceError struct {
	Path string
	Op   string
	Err  error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ResourceError) Unwrap() error {
	return e.Err
}

// ReadFile parses a complete execution log into a Sequence.
// Line-level problems are skipped; only failing to open or read the
// file is an error.
func ReadFile(path string, parser *Parser) (*Sequence, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ResourceError{Path: path, Op: "open", Err: err}
	}
	defer f.Close()

	seq, err := Read(f, parser)
	if err != nil {
		return nil, &ResourceError{Path: path, Op: "read", Err: err}
	}
	return seq, nil
}

// Read parses every record from r in order.
func Read(r io.Reader, parser *Parser) (*Sequence, error) {
	if parser == nil {
		parser = NewParser()
	}

	var b Builder
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			for _, call := range parser.ParseRecord(line) {
				b.Append(call.Name, call.Input, call.Timestamp)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return b.Finish(), nil
}
