package rangemap

import (
	"sync"
	"sync/atomic"

	"gendb/pkg/segment"
	"gendb/pkg/types"
)

// ReaderCache is an LRU of decoded segment readers keyed by region address.
type ReaderCache struct {
	mu       sync.Mutex
	capacity int
	items    map[types.Address]*cacheItem
	head     *cacheItem
	tail     *cacheItem

	hits   atomic.Int64
	misses atomic.Int64
}

type cacheItem struct {
	addr   types.Address
	reader *segment.Reader
	prev   *cacheItem
	next   *cacheItem
}

func NewReaderCache(capacity int) *ReaderCache {
	if capacity < 1 {
		capacity = 1
	}
	return &ReaderCache{
		capacity: capacity,
		items:    make(map[types.Address]*cacheItem),
	}
}

func (c *ReaderCache) Get(addr types.Address) (*segment.Reader, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, found := c.items[addr]
	if !found {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.moveToHead(item)
	return item.reader, true
}

func (c *ReaderCache) Set(addr types.Address, r *segment.Reader) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, found := c.items[addr]; found {
		item.reader = r
		c.moveToHead(item)
		return
	}

	item := &cacheItem{addr: addr, reader: r}
	c.addToHead(item)
	c.items[addr] = item

	if len(c.items) > c.capacity {
		c.unlink(c.tail)
	}
}

// Retain evicts every reader whose address keep rejects.
func (c *ReaderCache) Retain(keep func(types.Address) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for item := c.head; item != nil; {
		next := item.next
		if !keep(item.addr) {
			c.unlink(item)
			evicted++
		}
		item = next
	}
	return evicted
}

func (c *ReaderCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns hit and miss counts.
func (c *ReaderCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *ReaderCache) moveToHead(item *cacheItem) {
	if item == c.head {
		return
	}
	c.detach(item)
	c.addToHead(item)
}

func (c *ReaderCache) addToHead(item *cacheItem) {
	item.prev = nil
	item.next = c.head
	if c.head != nil {
		c.head.prev = item
	}
	c.head = item
	if c.tail == nil {
		c.tail = item
	}
}

func (c *ReaderCache) detach(item *cacheItem) {
	if item.prev != nil {
		item.prev.next = item.next
	} else {
		c.head = item.next
	}
	if item.next != nil {
		item.next.prev = item.prev
	} else {
		c.tail = item.prev
	}
	item.prev, item.next = nil, nil
}

func (c *ReaderCache) unlink(item *cacheItem) {
	if item == nil {
		return
	}
	c.detach(item)
	delete(c.items, item.addr)
}
