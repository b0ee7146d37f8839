// ABOUTME: Thread-safe TTL + size bounded set of recently seen message ids
// ABOUTME: Used by the conversation service to drop replayed broadcast notifications

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Defaults used when the configuration leaves them unset.
const (
	DefaultTTL     = 10 * time.Minute
	DefaultMaxSize = 10_000
)

type entry struct {
	id     string
	seenAt time.Time
}

// Cache tracks message ids seen within the TTL. When full, the id seen
// longest ago is evicted. Expired ids are swept lazily on insert, so no
// background goroutine is needed.
type Cache struct {
	mu      sync.Mutex
	ids     map[string]*list.Element
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// New creates a cache. Non-positive arguments use the defaults.
func New(ttl time.Duration, maxSize int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Cache{
		ids:     make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Seen reports whether id was already recorded within the TTL, and records it
// if not. The check and the insert are atomic.
func (c *Cache) Seen(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.sweepLocked(now)

	if elem, ok := c.ids[id]; ok {
		if now.Sub(elem.Value.(*entry).seenAt) < c.ttl {
			return true
		}
		c.removeLocked(elem)
	}

	if len(c.ids) >= c.maxSize {
		c.removeLocked(c.order.Front())
	}
	c.ids[id] = c.order.PushBack(&entry{id: id, seenAt: now})
	return false
}

// Contains reports whether id is recorded and unexpired without recording it.
func (c *Cache) Contains(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.ids[id]
	if !ok {
		return false
	}
	return c.now().Sub(elem.Value.(*entry).seenAt) < c.ttl
}

// Len returns the number of recorded ids, including any not yet swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}

// Reset forgets every id.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = make(map[string]*list.Element)
	c.order.Init()
}

// sweepLocked drops expired ids from the front. Insert order equals seenAt
// order, so the sweep stops at the first live entry.
func (c *Cache) sweepLocked(now time.Time) {
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		if now.Sub(front.Value.(*entry).seenAt) < c.ttl {
			return
		}
		c.removeLocked(front)
	}
}

func (c *Cache) removeLocked(elem *list.Element) {
	if elem == nil {
		return
	}
	c.order.Remove(elem)
	delete(c.ids, elem.Value.(*entry).id)
}
