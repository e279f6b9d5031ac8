package testutil

import (
	"fmt"
	"sync"
)

// SequenceIDs generates predictable ids for notification and message
// generators: prefix followed by a zero-padded counter starting at 1.
//
//	gen := NewSequenceIDs("")
//	gen.Generate() // "000001"
//	gen.Generate() // "000002"
//
// Thread-safety: safe for concurrent use via internal mutex.
type SequenceIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceIDs returns a generator with the given prefix.
func NewSequenceIDs(prefix string) *SequenceIDs {
	return &SequenceIDs{prefix: prefix}
}

// Generate returns the next id.
func (g *SequenceIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s%06d", g.prefix, g.n)
}

// Reset restarts the counter so a scenario can be replayed with
// identical ids.
func (g *SequenceIDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
