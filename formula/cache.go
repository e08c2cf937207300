package formula

import (
	"sync"

	"github.com/timzifer/vfunc/value"
)

// Key identifies a parsed formula: the owner that evaluates it and its exact
// text.
type Key struct {
	Owner string
	Text  string
}

// Stats counts cache activity since the cache was created.
type Stats struct {
	Hits   uint64
	Misses uint64
	Parses uint64
}

// Cache memoizes parsed programs per owner and text. It has no per-entry
// invalidation; structural edits clear it as a whole.
type Cache struct {
	mu      sync.Mutex
	entries map[Key]*Program
	stats   Stats
}

// NewCache returns an empty parse cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[Key]*Program)}
}

// GetOrParse returns the cached program for key or parses, stores and returns
// a new one. hit reports whether the parser was skipped. An entry whose
// identifiers resolve differently under vars is parsed again and replaced.
// Failed parses are not stored.
func (c *Cache) GetOrParse(key Key, vars []value.Variable, parse func() (*Program, error)) (prog *Program, hit bool, err error) {
	c.mu.Lock()
	if prog, ok := c.entries[key]; ok && prog.Text == key.Text && prog.Matches(vars) {
		c.stats.Hits++
		c.mu.Unlock()
		return prog, true, nil
	}
	c.stats.Misses++
	c.mu.Unlock()

	prog, err = parse()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Parses++
	if err != nil {
		return nil, false, err
	}
	c.entries[key] = prog
	return prog, false, nil
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[Key]*Program)
}

// Len returns the number of cached programs.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
