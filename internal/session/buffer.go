package session

// Buffer is a fixed-capacity FIFO that evicts the oldest element on overflow.
// It is owned by the UI loop and is not safe for concurrent use.
type Buffer[T any] struct {
	items []T
	head  int // index of the oldest element
	size  int
}

// NewBuffer returns an empty buffer. A non-positive capacity is treated as 1.
func NewBuffer[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Push appends v and reports whether the oldest element was evicted to make room.
func (b *Buffer[T]) Push(v T) bool {
	if b.size < len(b.items) {
		b.items[(b.head+b.size)%len(b.items)] = v
		b.size++
		return false
	}
	b.items[b.head] = v
	b.head = (b.head + 1) % len(b.items)
	return true
}

func (b *Buffer[T]) Len() int { return b.size }

func (b *Buffer[T]) Cap() int { return len(b.items) }

// At returns the i-th element, oldest first.
func (b *Buffer[T]) At(i int) T {
	if i < 0 || i >= b.size {
		panic("session: buffer index out of range")
	}
	return b.items[(b.head+i)%len(b.items)]
}

// Last returns the newest element.
func (b *Buffer[T]) Last() (T, bool) {
	if b.size == 0 {
		var zero T
		return zero, false
	}
	return b.At(b.size - 1), true
}

// Each calls fn for every element, oldest first.
func (b *Buffer[T]) Each(fn func(T)) {
	for i := 0; i < b.size; i++ {
		fn(b.items[(b.head+i)%len(b.items)])
	}
}

// Slice copies the contents, oldest first.
func (b *Buffer[T]) Slice() []T {
	out := make([]T, 0, b.size)
	b.Each(func(v T) { out = append(out, v) })
	return out
}

func (b *Buffer[T]) Reset() {
	var zero T
	for i := range b.items {
		b.items[i] = zero
	}
	b.head = 0
	b.size = 0
}
