// Package refbuf holds the circular store of reference frames used as the
// motion comparison baseline.
package refbuf

// Buffer is a fixed-capacity ring. Once Cap() entries have been pushed, the
// slot under the cursor always holds the entry pushed exactly Cap() pushes
// before the next one. Not safe for concurrent use.
type Buffer[P any] struct {
	slots  []P
	cursor int
	count  int
}

// New returns an empty buffer. Capacity below one is raised to one.
func New[P any](capacity int) *Buffer[P] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[P]{slots: make([]P, capacity)}
}

// Push stores p over the oldest entry and advances the cursor. The
// overwritten entry is returned with ok set once the buffer is full, so the
// caller can release it.
func (b *Buffer[P]) Push(p P) (evicted P, ok bool) {
	if b.count == len(b.slots) {
		evicted, ok = b.slots[b.cursor], true
	} else {
		b.count++
	}
	b.slots[b.cursor] = p
	b.cursor = (b.cursor + 1) % len(b.slots)
	return evicted, ok
}

// Baseline returns the comparison reference for the next frame. While the
// buffer is still filling it returns the oldest entry, which is closer in
// time than Cap() frames and therefore a weaker baseline. It returns false
// only when nothing has been pushed.
func (b *Buffer[P]) Baseline() (P, bool) {
	var zero P
	switch {
	case b.count == 0:
		return zero, false
	case b.count < len(b.slots):
		return b.slots[0], true
	default:
		return b.slots[b.cursor], true
	}
}

func (b *Buffer[P]) Len() int { return b.count }

func (b *Buffer[P]) Cap() int { return len(b.slots) }

// Full reports whether the bootstrap phase is over.
func (b *Buffer[P]) Full() bool { return b.count == len(b.slots) }

// Drain hands every stored entry, oldest first, to release and empties the
// buffer.
func (b *Buffer[P]) Drain(release func(P)) {
	var zero P
	start := 0
	if b.count == len(b.slots) {
		start = b.cursor
	}
	for i := 0; i < b.count; i++ {
		idx := (start + i) % len(b.slots)
		if release != nil {
			release(b.slots[idx])
		}
		b.slots[idx] = zero
	}
	b.count = 0
	b.cursor = 0
}
