// Package ring provides the fixed-capacity rolling windows used by the
// encoder and mediator. Pushing onto a full buffer drops the oldest value.
package ring

// Buffer is a fixed-capacity FIFO window. The zero value is unusable; use New.
type Buffer[T any] struct {
	data  []T
	start int
	size  int
}

// New allocates a buffer holding at most capacity values. capacity < 1 is treated as 1.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{data: make([]T, capacity)}
}

// Push appends v, evicting the oldest value when full.
func (b *Buffer[T]) Push(v T) {
	if b.size < len(b.data) {
		b.data[(b.start+b.size)%len(b.data)] = v
		b.size++
		return
	}
	b.data[b.start] = v
	b.start = (b.start + 1) % len(b.data)
}

// Len returns the number of stored values.
func (b *Buffer[T]) Len() int { return b.size }

// Cap returns the fixed capacity.
func (b *Buffer[T]) Cap() int { return len(b.data) }

// Full reports whether Len == Cap.
func (b *Buffer[T]) Full() bool { return b.size == len(b.data) }

// At returns the i-th value, 0 being the oldest. It panics when i is out of range.
func (b *Buffer[T]) At(i int) T {
	if i < 0 || i >= b.size {
		panic("ring: index out of range")
	}
	return b.data[(b.start+i)%len(b.data)]
}

// Latest returns the newest value and false when the buffer is empty.
func (b *Buffer[T]) Latest() (T, bool) {
	var zero T
	if b.size == 0 {
		return zero, false
	}
	return b.At(b.size - 1), true
}

// Tail copies the newest n values, oldest first. n is capped at Len.
func (b *Buffer[T]) Tail(n int) []T {
	if n > b.size {
		n = b.size
	}
	if n <= 0 {
		return nil
	}
	out := make([]T, n)
	for i := 0; i < n; i++ {
		out[i] = b.At(b.size - n + i)
	}
	return out
}

// Values copies every stored value, oldest first.
func (b *Buffer[T]) Values() []T { return b.Tail(b.size) }

// Reset empties the buffer without reallocating.
func (b *Buffer[T]) Reset() {
	var zero T
	for i := range b.data {
		b.data[i] = zero
	}
	b.start = 0
	b.size = 0
}
