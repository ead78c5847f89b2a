// Package ring provides a bounded channel with overwrite-oldest semantics.
//
// Producers never block: when the buffer is full the oldest element is
// dropped to make room. Consumers read over a plain receive channel, so a
// slow UI or API poller can never stall bridge callbacks.
package ring

// Channel is a bounded channel-like buffer that drops the oldest element
// when full.
type Channel[T any] struct {
	ch chan T
}

// New creates a Channel with the given capacity.
func New[T any](capacity int) *Channel[T] {
	if capacity <= 0 {
		panic("ring: capacity must be > 0")
	}
	return &Channel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel. Consumers can range over
// it until Close.
func (c *Channel[T]) C() <-chan T {
	return c.ch
}

// Send inserts v, dropping the oldest buffered element if the channel is
// full. It reports whether an element was dropped. Send never blocks.
func (c *Channel[T]) Send(v T) bool {
	dropped := false
	select {
	case c.ch <- v:
	default:
		select {
		case <-c.ch:
			dropped = true
		default:
		}
		c.ch <- v
	}
	return dropped
}

// TryReceive attempts a non-blocking receive. The ok result is false if no
// value is ready.
func (c *Channel[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-c.ch:
		return v, ok
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of buffered elements.
func (c *Channel[T]) Len() int { return len(c.ch) }

// Cap returns the channel capacity.
func (c *Channel[T]) Cap() int { return cap(c.ch) }

// Close closes the underlying channel. Send panics after Close.
func (c *Channel[T]) Close() { close(c.ch) }
