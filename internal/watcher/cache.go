package watcher

import "sync"

// contentCache keeps the last-seen text of watched files so changes can be
// diffed. Bounded by insertion order: once full, the oldest-inserted entry
// is evicted for each new key.
type contentCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]string
	order    []string
}

func newContentCache(capacity int) *contentCache {
	return &contentCache{
		capacity: capacity,
		entries:  make(map[string]string, capacity),
	}
}

func (c *contentCache) get(path string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	content, ok := c.entries[path]
	return content, ok
}

func (c *contentCache) put(path, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[path]; exists {
		c.entries[path] = content
		return
	}
	if len(c.order) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[path] = content
	c.order = append(c.order, path)
}

func (c *contentCache) remove(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[path]; !exists {
		return
	}
	delete(c.entries, path)
	for i, p := range c.order {
		if p == path {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *contentCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
