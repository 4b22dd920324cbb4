// Package sizedlru implements an LRU index that bounds the total size
// of the values it holds, rather than their number.
package sizedlru

import "container/list"

// Sized is implemented by the values stored in an LRU.
type Sized interface {
	Size() int64
}

// LRU keeps the sum of its values' sizes at or below maxSize by
// evicting the least recently used entries. A maxSize of zero disables
// eviction. LRU is not safe for concurrent use.
type LRU[V Sized] struct {
	maxSize     int64
	currentSize int64

	// Front is most recently used.
	order *list.List
	items map[string]*list.Element

	// Called for each evicted entry, but not for replaced or removed ones.
	onEvict func(key string, value V)
}

type entry[V Sized] struct {
	key   string
	value V
}

// New returns an empty LRU. onEvict may be nil.
func New[V Sized](maxSize int64, onEvict func(key string, value V)) *LRU[V] {
	return &LRU[V]{
		maxSize: maxSize,
		order:   list.New(),
		items:   make(map[string]*list.Element),
		onEvict: onEvict,
	}
}

// Add stores value under key and marks it most recently used, evicting
// other entries until the total fits. A value that could never fit is
// rejected with ok == false. If key was already present, its previous
// value is returned with replaced == true.
func (c *LRU[V]) Add(key string, value V) (prev V, replaced bool, ok bool) {
	if c.maxSize != 0 && value.Size() > c.maxSize {
		return prev, false, false
	}

	delta := value.Size()
	el, replaced := c.items[key]
	if replaced {
		e := el.Value.(*entry[V])
		prev = e.value
		delta -= prev.Size()
		e.value = value
		c.order.MoveToFront(el)
	} else {
		el = c.order.PushFront(&entry[V]{key: key, value: value})
		c.items[key] = el
	}

	// A replacement can grow the total too.
	for c.maxSize != 0 && c.currentSize+delta > c.maxSize {
		victim := c.order.Back()
		if victim == nil || victim == el {
			break
		}
		e := c.remove(victim)
		if c.onEvict != nil {
			c.onEvict(e.key, e.value)
		}
	}

	c.currentSize += delta

	return prev, replaced, true
}

// Get returns the value stored under key and marks it most recently used.
func (c *LRU[V]) Get(key string) (V, bool) {
	el, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}

	c.order.MoveToFront(el)
	return el.Value.(*entry[V]).value, true
}

// Peek is like Get, but leaves the recency order alone.
func (c *LRU[V]) Peek(key string) (V, bool) {
	el, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	return el.Value.(*entry[V]).value, true
}

// Remove drops key without calling onEvict.
func (c *LRU[V]) Remove(key string) {
	if el, ok := c.items[key]; ok {
		c.remove(el)
	}
}

// Range calls f for each entry from the least to the most recently
// used, until f returns false. f must not modify the LRU.
func (c *LRU[V]) Range(f func(key string, value V) bool) {
	for el := c.order.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*entry[V])
		if !f(e.key, e.value) {
			return
		}
	}
}

func (c *LRU[V]) Len() int {
	return len(c.items)
}

func (c *LRU[V]) CurrentSize() int64 {
	return c.currentSize
}

func (c *LRU[V]) MaxSize() int64 {
	return c.maxSize
}

func (c *LRU[V]) remove(el *list.Element) *entry[V] {
	c.order.Remove(el)
	e := el.Value.(*entry[V])
	delete(c.items, e.key)
	c.currentSize -= e.value.Size()
	return e
}
