package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/tatimblin/aptitude/internal/trace"
)

// ExecuteOptions tunes Execute.
type ExecuteOptions struct {
	// Observer receives live reader events while the agent runs.
	// It is called from a single goroutine.
	Observer func(trace.Event)

	// Polling intervals for the live reader. Zero keeps the defaults.
	DiscoverInterval time.Duration
	TailInterval     time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// Execution is the outcome of one agent run.
type Execution struct {
	Agent string

	// Sequence is the authoritative trace with canonical tool names,
	// re-read from the complete log after the agent exited. It carries
	// the agent's stdout when there was any.
	Sequence *trace.Sequence

	// Live is what the live reader observed, with native names.
	// Empty for backends without a live log.
	Live *trace.Sequence

	Raw *RawResult
}

// Execute launches the agent, observes its log while it runs when the
// backend supports that, and once it exits derives the final Sequence
// from the complete log. The live observation is for progress only.
func Execute(ctx context.Context, a Adapter, prompt string, cfg ExecConfig, opts ExecuteOptions) (*Execution, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	tailer, tailDone := startLiveReader(ctx, a, cfg, opts, logger, now())

	raw, launchErr := a.Launch(ctx, prompt, cfg)

	var live *trace.Sequence
	if tailer != nil {
		tailer.Stop()
		if err := <-tailDone; err != nil && ctx.Err() == nil {
			logger.Debug("live reader stopped with error", "agent", a.Name(), "error", err)
		}
		live = tailer.Observed()
		if raw != nil && raw.SessionLog == "" && tailer.Path() != "" {
			raw.SessionLog = tailer.Path()
		}
	}

	if launchErr != nil {
		return nil, fmt.Errorf("launch %s: %w", a.Name(), launchErr)
	}

	logger.Debug("agent exited", "agent", a.Name(), "exit_code", raw.ExitCode, "session_log", raw.SessionLog)

	seq, err := a.ParseTrace(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("read %s trace: %w", a.Name(), err)
	}

	seq = seq.Normalize(a.Mapping().Canonical)
	if raw.HasStdout {
		seq = seq.WithStdout(raw.Stdout)
	}

	return &Execution{
		Agent:    a.Name(),
		Sequence: seq,
		Live:     live,
		Raw:      raw,
	}, nil
}

// startLiveReader starts a Tailer for backends that implement
// LiveTracer. It returns nil when live reading is unavailable.
func startLiveReader(ctx context.Context, a Adapter, cfg ExecConfig, opts ExecuteOptions, logger *slog.Logger, startedAt time.Time) (*trace.Tailer, <-chan error) {
	lt, ok := a.(LiveTracer)
	if !ok {
		return nil, nil
	}
	loc, err := lt.Locate(cfg, startedAt)
	if err != nil {
		logger.Debug("live reader disabled", "agent", a.Name(), "error", err)
		return nil, nil
	}

	tailer := trace.NewTailer(loc,
		trace.WithIntervals(opts.DiscoverInterval, opts.TailInterval),
		trace.WithTailLogger(logger),
	)

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for ev := range tailer.Events() {
			if opts.Observer != nil {
				opts.Observer(ev)
			}
		}
	}()

	done := make(chan error, 1)
	go func() {
		err := tailer.Run(ctx)
		<-drained
		done <- err
	}()
	return tailer, done
}
