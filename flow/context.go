package flow

import "sync"

// Context is FlowController's persistent context map (spec.md §4.2
// "Context map"). Unlike the Python source's single-threaded loop, this
// port model delivers distinct inputs on distinct goroutines, so unlike
// the source (which needs no locking at all between awaits), Context uses
// a mutex to stay safe under genuine concurrent access — the one place
// spec.md §9's "actor per output port" translation changes a documented
// invariant rather than just its implementation.
type Context struct {
	mu sync.Mutex
	m  map[string]any
}

func newContext() *Context {
	return &Context{m: make(map[string]any)}
}

// Get returns the value stored under key, and whether one exists.
func (c *Context) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	return v, ok
}

// Set stores v under key.
func (c *Context) Set(key string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = v
}

// Delete removes key.
func (c *Context) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
}
