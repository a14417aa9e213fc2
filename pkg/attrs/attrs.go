// Package attrs implements the attribute container: a namespaced,
// opaque per-entity metadata map. It replaces dynamic "plugin data"
// machinery with a single typed multi-map.
package attrs

import "sync"

// key identifies one attribute slot: a namespace (normally a plugin or
// collaborator name, e.g. "cgroup" or "recipe") plus a key within it.
type key struct {
	ns, name string
}

// Container is a namespaced multi-map (ns, key) -> opaque value, safe
// for concurrent use. The zero value is ready to use.
type Container struct {
	mu   sync.RWMutex
	data map[key]any
}

// New creates an empty Container.
func New() *Container {
	return &Container{data: make(map[key]any)}
}

// Set stores value under (ns, name), overwriting any previous value.
func (c *Container) Set(ns, name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = make(map[key]any)
	}
	c.data[key{ns, name}] = value
}

// Get retrieves the value stored under (ns, name).
func (c *Container) Get(ns, name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[key{ns, name}]
	return v, ok
}

// Delete removes the value stored under (ns, name), if any.
func (c *Container) Delete(ns, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key{ns, name})
}

// Namespace returns a view restricted to one namespace, keyed by name.
func (c *Container) Namespace(ns string) map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any)
	for k, v := range c.data {
		if k.ns == ns {
			out[k.name] = v
		}
	}
	return out
}

// Len reports the total number of entries across all namespaces.
func (c *Container) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
