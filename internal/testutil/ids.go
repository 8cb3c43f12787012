package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs generates run IDs "test-run-0001", "test-run-0002", ...
//
// It replaces the UUIDv7 generator in tests so persisted run history and
// golden output are reproducible.
type SequentialIDs struct {
	mu sync.Mutex
	n  int
}

// Generate returns the next ID.
func (g *SequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("test-run-%04d", g.n)
}
