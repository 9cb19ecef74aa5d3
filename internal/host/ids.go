package host

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// RequestIDGenerator generates request ids for correlation. The id is
// echoed in the X-Request-Id header and attached to every log line.
type RequestIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 request ids.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
//
// Panics if UUID generation fails, which only happens when the system
// random source is broken.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined ids in order. It is used by tests
// that compare headers and logs.
//
// Thread-safety: safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next id.
//
// Panics when all ids are consumed: a test served more requests than it
// planned for.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}

// counter numbers served requests. Every call to next returns a unique,
// strictly increasing value.
type counter struct {
	seq atomic.Int64
}

func (c *counter) next() int64    { return c.seq.Add(1) }
func (c *counter) current() int64 { return c.seq.Load() }
