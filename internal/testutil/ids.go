package testutil

import (
	"fmt"
	"sync"
)

// FixedIDGenerator generates predictable instance ids.
//
// This enables deterministic runner tests and golden comparison of saved
// sessions: the same scenario produces the same ids every run.
//
// Thread-safety: FixedIDGenerator is safe for concurrent use.
type FixedIDGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewFixedIDGenerator creates a generator returning prefix-1, prefix-2, ...
//
// If prefix is empty, "test-instance" is used.
func NewFixedIDGenerator(prefix string) *FixedIDGenerator {
	if prefix == "" {
		prefix = "test-instance"
	}
	return &FixedIDGenerator{prefix: prefix}
}

// Generate returns the next id.
//
// Implements host.IDGenerator.
func (g *FixedIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
