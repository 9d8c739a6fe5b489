// Package pathcache remembers where the entries of recently resolved paths are stored.
//
// The cache is a fixed size LRU list combined with a hash index. Besides exact
// lookups it can return the longest cached prefix of a path, so that a path
// walk can start in the middle of the tree instead of at the root.
package pathcache

import (
	"strings"
)

// DefaultCapacity is the number of paths a cache holds if nothing else is configured.
const DefaultCapacity = 7

// Separator separates the segments of the cached paths.
const Separator = "/"

// Location identifies the short slot of a directory entry on the device.
type Location struct {
	Sector uint32
	Offset uint32
	Attr   uint8
	// Name is the display name of the entry.
	Name string
}

// same reports whether both point to the same slot with the same attributes.
func (l Location) same(other Location) bool {
	return l.Sector == other.Sector && l.Offset == other.Offset && l.Attr == other.Attr
}

type node struct {
	path string
	loc  Location

	// prev and next link the LRU list, head is the most recently used one.
	prev, next *node
	// nextH links the nodes of the same hash bucket.
	nextH *node
}

// Cache maps paths to locations. It is not safe for concurrent use.
// A Cache with a capacity of 0 or less holds nothing.
type Cache struct {
	capacity int
	size     int

	head, tail *node
	buckets    []*node
}

// New creates an empty cache.
func New(capacity int) *Cache {
	c := &Cache{capacity: capacity}
	if capacity > 0 {
		c.buckets = make([]*node, capacity)
	}
	return c
}

// hash is DJB2 over the path reduced to the number of buckets.
func hash(path string, buckets int) int {
	h := uint32(5381)
	for i := 0; i < len(path); i++ {
		h = h*33 + uint32(path[i])
	}
	return int(h % uint32(buckets))
}

// Len returns the number of cached paths.
func (c *Cache) Len() int {
	return c.size
}

// Capacity returns the maximum number of cached paths.
func (c *Cache) Capacity() int {
	return c.capacity
}

// find searches the hash index without changing the LRU order.
func (c *Cache) find(path string) *node {
	if c.capacity <= 0 {
		return nil
	}
	for n := c.buckets[hash(path, c.capacity)]; n != nil; n = n.nextH {
		if n.path == path {
			return n
		}
	}
	return nil
}

// Get returns the location of exactly path and marks it as most recently used.
func (c *Cache) Get(path string) (Location, bool) {
	n := c.find(path)
	if n == nil {
		return Location{}, false
	}
	c.moveToFront(n)
	return n.loc, true
}

// Lookup returns the location of path or of its longest cached prefix.
// rest is the part of path which is not covered by the returned location,
// without a leading separator. It is "" for an exact match.
func (c *Cache) Lookup(path string) (loc Location, rest string, ok bool) {
	prefix := path
	for prefix != "" {
		if n := c.find(prefix); n != nil {
			c.moveToFront(n)
			return n.loc, strings.TrimPrefix(path[len(prefix):], Separator), true
		}

		i := strings.LastIndex(prefix, Separator)
		if i < 0 {
			break
		}
		prefix = prefix[:i]
	}
	return Location{}, "", false
}

// Insert adds path or, if it is already cached, updates its location.
// Either way it becomes the most recently used path. If the cache is full,
// the least recently used path is evicted first.
func (c *Cache) Insert(path string, loc Location) (evicted string, ok bool) {
	if c.capacity <= 0 {
		return "", false
	}

	if n := c.find(path); n != nil {
		n.loc = loc
		c.moveToFront(n)
		return "", false
	}

	if c.size >= c.capacity {
		evicted = c.tail.path
		c.remove(c.tail)
		ok = true
	}

	n := &node{path: path, loc: loc}
	bucket := hash(path, c.capacity)
	n.nextH = c.buckets[bucket]
	c.buckets[bucket] = n
	c.pushFront(n)
	c.size++
	return evicted, ok
}

// Remove drops every path whose location points to the same slot as loc.
// It returns the number of removed paths.
func (c *Cache) Remove(loc Location) int {
	removed := 0
	for n := c.head; n != nil; {
		next := n.next
		if n.loc.same(loc) {
			c.remove(n)
			removed++
		}
		n = next
	}
	return removed
}

// Purge drops all paths.
func (c *Cache) Purge() {
	c.head = nil
	c.tail = nil
	c.size = 0
	for i := range c.buckets {
		c.buckets[i] = nil
	}
}

// Paths returns the cached paths from the most to the least recently used one.
func (c *Cache) Paths() []string {
	paths := make([]string, 0, c.size)
	for n := c.head; n != nil; n = n.next {
		paths = append(paths, n.path)
	}
	return paths
}

// remove unlinks n from the LRU list and from its bucket.
func (c *Cache) remove(n *node) {
	c.unlink(n)

	bucket := hash(n.path, c.capacity)
	if c.buckets[bucket] == n {
		c.buckets[bucket] = n.nextH
	} else {
		for prev := c.buckets[bucket]; prev != nil; prev = prev.nextH {
			if prev.nextH == n {
				prev.nextH = n.nextH
				break
			}
		}
	}
	n.nextH = nil
	c.size--
}

func (c *Cache) unlink(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		c.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		c.tail = n.prev
	}
	n.prev = nil
	n.next = nil
}

func (c *Cache) pushFront(n *node) {
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
}

func (c *Cache) moveToFront(n *node) {
	if c.head == n {
		return
	}
	c.unlink(n)
	c.pushFront(n)
}
