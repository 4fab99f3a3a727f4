package testfixtures

import (
	"fmt"
	"sync"
)

// IDGenerator hands out predictable, zero padded ids such as "session-001" and
// remembers every id it issued.
type IDGenerator struct {
	mu     sync.Mutex
	prefix string
	issued []string
}

// NewIDGenerator returns a generator for prefix, "session" when empty.
func NewIDGenerator(prefix string) *IDGenerator {
	if prefix == "" {
		prefix = "session"
	}
	return &IDGenerator{prefix: prefix}
}

// Next issues the next id.
func (g *IDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := fmt.Sprintf("%s-%03d", g.prefix, len(g.issued)+1)
	g.issued = append(g.issued, id)
	return id
}

// NextFunc adapts Next to the func() string the services take.
func (g *IDGenerator) NextFunc() func() string {
	if g == nil {
		return func() string { return "" }
	}
	return g.Next
}

// Issued returns the ids handed out so far, oldest first.
func (g *IDGenerator) Issued() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.issued...)
}
