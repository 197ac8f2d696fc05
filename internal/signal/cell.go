// Package signal provides a last-value-wins broadcast cell.
package signal

import "sync"

// Cell holds a value and broadcasts changes to subscribers. A subscriber
// that falls behind only sees the latest value.
type Cell[T comparable] struct {
	mu    sync.Mutex
	value T
	subs  map[int]chan T
	next  int
}

func NewCell[T comparable](initial T) *Cell[T] {
	return &Cell[T]{value: initial, subs: make(map[int]chan T)}
}

func (c *Cell[T]) Load() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Store sets v and notifies subscribers. Storing the current value is a no-op.
func (c *Cell[T]) Store(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.value == v {
		return
	}
	c.value = v
	for _, ch := range c.subs {
		offer(ch, v)
	}
}

// Subscribe returns a channel that receives the current value immediately
// and every later change. cancel closes the channel.
func (c *Cell[T]) Subscribe() (<-chan T, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.next
	c.next++
	ch := make(chan T, 1)
	ch <- c.value
	c.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

// offer replaces an unread value in ch with v.
func offer[T any](ch chan T, v T) {
	select {
	case <-ch:
	default:
	}
	ch <- v
}
