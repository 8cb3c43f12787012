package trace

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// LogExt is the extension of JSONL execution logs.
const LogExt = ".jsonl"

// CreationSlack is subtracted from the execution start when comparing
// creation times. File timestamps come from a coarse kernel clock and
// may trail time.Now.
const CreationSlack = time.Second

// ListLogs returns every execution log below dir, skipping subagent
// logs. A missing dir yields an empty list.
func ListLogs(dir string) ([]string, error) {
	var logs []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if d.Name() == "subagents" {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) == LogExt {
			logs = append(logs, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(logs)
	return logs, nil
}

// Locator finds the log written by one execution. Logs that existed
// when the Locator was created never qualify, and neither does a log
// created before the execution started.
type Locator struct {
	dir       string
	startedAt time.Time
	snapshot  map[string]struct{}
	createdAt func(path string) (time.Time, error)
}

// NewLocator snapshots the logs currently under dir. Call it before
// launching the agent.
func NewLocator(dir string, startedAt time.Time) (*Locator, error) {
	existing, err := ListLogs(dir)
	if err != nil {
		return nil, err
	}
	return NewLocatorWithSnapshot(dir, startedAt, existing), nil
}

// NewLocatorWithSnapshot builds a Locator from an explicit snapshot.
func NewLocatorWithSnapshot(dir string, startedAt time.Time, existing []string) *Locator {
	snapshot := make(map[string]struct{}, len(existing))
	for _, p := range existing {
		snapshot[p] = struct{}{}
	}
	return &Locator{
		dir:       dir,
		startedAt: startedAt,
		snapshot:  snapshot,
		createdAt: CreationTime,
	}
}

// Dir returns the directory being searched.
func (l *Locator) Dir() string {
	return l.dir
}

// Snapshot returns the logs excluded from selection.
func (l *Locator) Snapshot() []string {
	out := make([]string, 0, len(l.snapshot))
	for p := range l.snapshot {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Find returns the most recently created qualifying log.
// ok is false when no log qualifies yet.
func (l *Locator) Find() (path string, ok bool, err error) {
	logs, err := ListLogs(l.dir)
	if err != nil {
		return "", false, err
	}

	threshold := l.startedAt.Add(-CreationSlack)
	var newest time.Time
	for _, p := range logs {
		if _, seen := l.snapshot[p]; seen {
			continue
		}
		created, err := l.createdAt(p)
		if err != nil {
			continue
		}
		if created.Before(threshold) {
			continue
		}
		if !ok || created.After(newest) {
			path, newest, ok = p, created, true
		}
	}
	return path, ok, nil
}

// CreationTime returns when path was created, falling back to its
// modification time where the platform does not record birth time.
func CreationTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	if t, ok := birthTime(path, info); ok {
		return t, nil
	}
	return info.ModTime(), nil
}

// ProjectLogDir maps a working directory to the per-project log
// directory under root, using the "/" to "-" naming convention.
// It falls back to root when the project directory does not exist yet.
func ProjectLogDir(root, workDir string) string {
	name := strings.ReplaceAll(filepath.ToSlash(workDir), "/", "-")
	dir := filepath.Join(root, name)
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return dir
	}
	return root
}
