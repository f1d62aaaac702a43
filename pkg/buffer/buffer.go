package buffer

import (
	"sync"

	"github.com/c360/ntscope/errors"
)

// OverflowPolicy defines what Write does when the ring is full.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest item to make room.
	DropOldest OverflowPolicy = iota

	// DropNewest discards the item being written.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// DropCallback is called, outside the ring lock, with every dropped item.
type DropCallback[T any] func(item T)

// Ring is a fixed-capacity FIFO that never blocks the writer. Consumers
// wait on Ready and drain with ReadBatch.
type Ring[T any] struct {
	mu       sync.Mutex
	items    []T
	head     int // next write position
	tail     int // next read position
	size     int
	closed   bool
	dropped  int64
	ready    chan struct{}
	opts     *options[T]
	metrics  *ringMetrics
	capacity int
}

// NewRing creates a ring holding at most capacity items. A capacity below
// one is raised to one.
func NewRing[T any](capacity int, opts ...Option[T]) (*Ring[T], error) {
	if capacity <= 0 {
		capacity = 1
	}
	o := applyOptions(opts...)

	r := &Ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		ready:    make(chan struct{}, 1),
		opts:     o,
	}
	if o.registry != nil {
		m, err := newRingMetrics(o.registry, o.name)
		if err != nil {
			return nil, errors.WrapTransient(err, "Ring", "NewRing", "metrics registration")
		}
		r.metrics = m
	}
	return r, nil
}

// Write appends item, applying the overflow policy when full.
func (r *Ring[T]) Write(item T) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.WrapInvalid(errors.ErrShuttingDown, "Ring", "Write", "ring closed")
	}

	var dropped T
	drop := false
	if r.size == r.capacity {
		drop = true
		r.dropped++
		if r.opts.policy == DropNewest {
			r.mu.Unlock()
			r.metrics.drop()
			r.callDrop(item)
			return nil
		}
		dropped = r.items[r.tail]
		r.tail = (r.tail + 1) % r.capacity
		r.size--
	}

	r.items[r.head] = item
	r.head = (r.head + 1) % r.capacity
	r.size++
	size := r.size
	r.mu.Unlock()

	select {
	case r.ready <- struct{}{}:
	default:
	}

	r.metrics.write(size, r.capacity)
	if drop {
		r.metrics.drop()
		r.callDrop(dropped)
	}
	return nil
}

func (r *Ring[T]) callDrop(item T) {
	if r.opts.onDrop != nil {
		r.opts.onDrop(item)
	}
}

// ReadBatch removes and returns up to limit items in FIFO order.
func (r *Ring[T]) ReadBatch(limit int) []T {
	if limit <= 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	n := min(limit, r.size)
	if n == 0 {
		return nil
	}

	var zero T
	out := make([]T, n)
	for i := range out {
		out[i] = r.items[r.tail]
		r.items[r.tail] = zero
		r.tail = (r.tail + 1) % r.capacity
	}
	r.size -= n
	r.metrics.setSize(r.size, r.capacity)
	return out
}

// Ready is signalled after writes. A receive does not guarantee items are
// still present; another reader may have drained them.
func (r *Ring[T]) Ready() <-chan struct{} {
	return r.ready
}

// Len returns the number of queued items.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Capacity returns the maximum number of queued items.
func (r *Ring[T]) Capacity() int {
	return r.capacity
}

// Dropped returns how many items overflow has discarded.
func (r *Ring[T]) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close rejects further writes and unregisters metrics. Queued items stay
// readable.
func (r *Ring[T]) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	if r.metrics != nil {
		r.opts.registry.UnregisterService("buffer." + r.opts.name)
	}
}
