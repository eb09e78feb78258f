package fingerprint

import (
	"container/list"
	"strings"
	"sync"
)

// hashCache is a small LRU keyed by absolute folder path. Entries are
// dropped when the watcher reports activity under the path.
type hashCache struct {
	mu    sync.Mutex
	cap   int
	order *list.List
	items map[string]*list.Element
}

type cacheEntry struct {
	path string
	hash string
}

func newHashCache(capacity int) *hashCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &hashCache{
		cap:   capacity,
		order: list.New(),
		items: make(map[string]*list.Element),
	}
}

func (c *hashCache) get(path string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[path]
	if !ok {
		return "", false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).hash, true
}

func (c *hashCache) put(path, hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[path]; ok {
		el.Value.(*cacheEntry).hash = hash
		c.order.MoveToFront(el)
		return
	}
	c.items[path] = c.order.PushFront(&cacheEntry{path: path, hash: hash})
	for c.order.Len() > c.cap {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).path)
	}
}

// invalidate drops the entry for path and for every cached ancestor of
// path, since a change below a folder changes that folder's hash too.
func (c *hashCache) invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for cached, el := range c.items {
		if cached == path || strings.HasPrefix(path, strings.TrimRight(cached, "/")+"/") {
			c.order.Remove(el)
			delete(c.items, cached)
		}
	}
}

func (c *hashCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
