package trace

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"
)

// Default polling intervals for the live reader.
const (
	DefaultDiscoverInterval = 200 * time.Millisecond
	DefaultTailInterval     = 100 * time.Millisecond
)

// EventKind identifies a live reader event.
type EventKind int

const (
	// SessionDetected carries the path of the selected log.
	SessionDetected EventKind = iota
	// ActionObserved carries a newly parsed action.
	ActionObserved
	// StreamError carries a non-fatal read problem.
	StreamError
)

func (k EventKind) String() string {
	switch k {
	case SessionDetected:
		return "session_detected"
	case ActionObserved:
		return "action_observed"
	case StreamError:
		return "stream_error"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is emitted by a Tailer while the agent runs.
type Event struct {
	Kind   EventKind
	Path   string
	Action Action
	Err    error
}

// TailerOption configures a Tailer.
type TailerOption func(*Tailer)

// WithIntervals overrides the discovery and tail polling intervals.
// Zero values keep the defaults.
func WithIntervals(discover, tail time.Duration) TailerOption {
	return func(t *Tailer) {
		if discover > 0 {
			t.discoverEvery = discover
		}
		if tail > 0 {
			t.tailEvery = tail
		}
	}
}

// WithParser sets the record parser.
func WithParser(p *Parser) TailerOption {
	return func(t *Tailer) {
		t.parser = p
	}
}

// WithTailLogger sets the logger.
func WithTailLogger(logger *slog.Logger) TailerOption {
	return func(t *Tailer) {
		t.logger = logger
	}
}

// Tailer observes a log while it is being written. It first polls for
// the execution's log to appear, then polls it for complete lines past
// a byte watermark. A trailing partial line is left for the next poll.
//
// The log is opened read-only and never locked or modified.
type Tailer struct {
	locator       *Locator
	parser        *Parser
	logger        *slog.Logger
	discoverEvery time.Duration
	tailEvery     time.Duration

	events   chan Event
	stop     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	path    string
	offset  int64
	builder Builder
}

// NewTailer creates a Tailer for the log the locator will find.
func NewTailer(locator *Locator, opts ...TailerOption) *Tailer {
	t := &Tailer{
		locator:       locator,
		discoverEvery: DefaultDiscoverInterval,
		tailEvery:     DefaultTailInterval,
		events:        make(chan Event, 64),
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if t.parser == nil {
		t.parser = NewParser(WithLogger(t.logger))
	}
	return t
}

// Events returns the event stream. It is closed when Run returns.
// The consumer must keep receiving until then.
func (t *Tailer) Events() <-chan Event {
	return t.events
}

// Stop signals that the agent process has exited. Run performs a final
// drain and returns.
func (t *Tailer) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

// Path returns the selected log, or "" if none has been found.
func (t *Tailer) Path() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.path
}

// Observed returns the actions seen so far.
func (t *Tailer) Observed() *Sequence {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.builder.Finish()
}

// Run discovers and tails the log until Stop is called or ctx ends.
func (t *Tailer) Run(ctx context.Context) error {
	defer close(t.events)

	found, err := t.discover(ctx)
	if err != nil || !found {
		return err
	}

	f, err := os.Open(t.Path())
	if err != nil {
		rerr := &ResourceError{Path: t.Path(), Op: "open", Err: err}
		t.emit(ctx, Event{Kind: StreamError, Path: t.Path(), Err: rerr})
		return rerr
	}
	defer f.Close()

	ticker := time.NewTicker(t.tailEvery)
	defer ticker.Stop()

	for {
		t.drain(ctx, f)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.stop:
			t.drain(ctx, f)
			return nil
		case <-ticker.C:
		}
	}
}

// discover polls until the locator finds a log. After Stop it makes
// one last attempt.
func (t *Tailer) discover(ctx context.Context) (bool, error) {
	ticker := time.NewTicker(t.discoverEvery)
	defer ticker.Stop()

	for {
		path, ok, err := t.locator.Find()
		if err != nil {
			t.emit(ctx, Event{Kind: StreamError, Err: err})
		}
		if ok {
			t.mu.Lock()
			t.path = path
			t.mu.Unlock()
			t.logger.Debug("session log detected", "path", path)
			t.emit(ctx, Event{Kind: SessionDetected, Path: path})
			return true, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-t.stop:
			path, ok, _ := t.locator.Find()
			if !ok {
				t.logger.Debug("no session log found before exit", "dir", t.locator.Dir())
				return false, nil
			}
			t.mu.Lock()
			t.path = path
			t.mu.Unlock()
			t.emit(ctx, Event{Kind: SessionDetected, Path: path})
			return true, nil
		case <-ticker.C:
		}
	}
}

// drain reads every complete line past the watermark.
func (t *Tailer) drain(ctx context.Context, f *os.File) {
	t.mu.Lock()
	offset := t.offset
	t.mu.Unlock()

	data, err := io.ReadAll(io.NewSectionReader(f, offset, math.MaxInt64-offset))
	if err != nil {
		t.emit(ctx, Event{Kind: StreamError, Path: f.Name(), Err: &ResourceError{Path: f.Name(), Op: "read", Err: err}})
		return
	}

	end := bytes.LastIndexByte(data, '\n')
	if end < 0 {
		return
	}
	complete := data[:end+1]

	var observed []Action
	t.mu.Lock()
	for len(complete) > 0 {
		i := bytes.IndexByte(complete, '\n')
		line := complete[:i]
		complete = complete[i+1:]
		for _, call := range t.parser.ParseRecord(line) {
			observed = append(observed, t.builder.Append(call.Name, call.Input, call.Timestamp))
		}
	}
	t.offset = offset + int64(end+1)
	t.mu.Unlock()

	for _, a := range observed {
		t.emit(ctx, Event{Kind: ActionObserved, Path: f.Name(), Action: a})
	}
}

func (t *Tailer) emit(ctx context.Context, ev Event) {
	select {
	case t.events <- ev:
	case <-ctx.Done():
	}
}
