// Package report implements the batch mistake collector.
//
// Recoverable failures (exhausted retries, parse errors, undeliverable
// messages) are appended here instead of aborting the batch, and flushed to
// the operator channel once per run by the dispatcher.
package report

import (
	"fmt"
	"sync"
)

// Collector is an append-only list of human-readable failure descriptions.
// It is safe for concurrent appends and passed explicitly through the call
// graph, never read as ambient global state.
type Collector struct {
	mu       sync.Mutex
	mistakes []string
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Add appends a formatted mistake description.
func (c *Collector) Add(format string, args ...any) {
	c.mu.Lock()
	c.mistakes = append(c.mistakes, fmt.Sprintf(format, args...))
	c.mu.Unlock()
}

// Len returns the number of recorded mistakes.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.mistakes)
}

// Drain returns all recorded mistakes and clears the collector.
func (c *Collector) Drain() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.mistakes
	c.mistakes = nil
	return out
}
