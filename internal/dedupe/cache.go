// Package dedupe remembers recently seen keys for a bounded time.
package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key  string
	seen time.Time
}

// Cache is a thread-safe, TTL-bounded and size-bounded set of seen keys.
// The list is ordered by last sighting, oldest at the front, so expiry and
// eviction both pop from the front.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// New creates a cache that forgets keys after ttl and holds at most maxSize
// keys.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Cache{
		seen:    make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Check reports whether key was seen within the TTL.
func (c *Cache) Check(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked()
	_, ok := c.seen[key]
	return ok
}

// CheckAndMark reports whether key was already seen and marks it either way.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked()
	_, ok := c.seen[key]
	c.markLocked(key)
	return ok
}

// Mark records key as seen now.
func (c *Cache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked()
	c.markLocked(key)
}

// Forget drops every key with the given prefix.
func (c *Cache) Forget(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, el := range c.seen {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			c.order.Remove(el)
			delete(c.seen, key)
		}
	}
}

// Len returns the number of live keys.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked()
	return len(c.seen)
}

func (c *Cache) markLocked(key string) {
	now := c.now()
	if el, ok := c.seen[key]; ok {
		el.Value.(*entry).seen = now
		c.order.MoveToBack(el)
		return
	}
	if len(c.seen) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			c.order.Remove(front)
			delete(c.seen, front.Value.(*entry).key)
		}
	}
	c.seen[key] = c.order.PushBack(&entry{key: key, seen: now})
}

func (c *Cache) expireLocked() {
	now := c.now()
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		e := front.Value.(*entry)
		if now.Sub(e.seen) < c.ttl {
			return
		}
		c.order.Remove(front)
		delete(c.seen, e.key)
	}
}
