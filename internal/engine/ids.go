package engine

import (
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/inbox/internal/model"
)

// IDGenerator produces the unique part of provisional message ids.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 strings, so provisional ids
// created by one client sort in creation order.
//
// Safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a hyphenated UUIDv7.
// Panics if the system random source fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined values in order, for deterministic tests.
type FixedGenerator struct {
	mu     sync.Mutex
	values []string
	idx    int
}

// NewFixedGenerator creates a generator that returns values in order.
func NewFixedGenerator(values ...string) *FixedGenerator {
	return &FixedGenerator{values: values}
}

// Generate returns the next value. Panics when exhausted, so a test that
// sends more messages than it planned for fails loudly.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.values) {
		panic("FixedGenerator: all values exhausted")
	}
	v := g.values[g.idx]
	g.idx++
	return v
}

// provisionalID namespaces a generated value so it can't collide with a
// server id.
func provisionalID(gen IDGenerator) string {
	return model.ProvisionalPrefix + gen.Generate()
}
