package testfixtures

import (
	"fmt"
	"sync"
)

// IDGenerator hands out "<prefix>-<n>" identifiers and remembers them so tests
// can assert which rows a service created.
type IDGenerator struct {
	mu     sync.Mutex
	prefix string
	issued []string
}

// NewIDGenerator returns a generator for prefix, defaulting to "id".
func NewIDGenerator(prefix string) *IDGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &IDGenerator{prefix: prefix}
}

// Next returns the next identifier.
func (g *IDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := fmt.Sprintf("%s-%d", g.prefix, len(g.issued)+1)
	g.issued = append(g.issued, id)
	return id
}

// NextFunc exposes Next for injection into services.
func (g *IDGenerator) NextFunc() func() string {
	if g == nil {
		return func() string { return "" }
	}
	return g.Next
}

// Issued returns every identifier handed out so far, oldest first.
func (g *IDGenerator) Issued() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.issued...)
}

// Last returns the most recent identifier, or "" before the first call.
func (g *IDGenerator) Last() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.issued) == 0 {
		return ""
	}
	return g.issued[len(g.issued)-1]
}
