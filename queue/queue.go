package queue

// Queue is a FIFO of pending events. A batch pushed with PushFront is
// popped before anything already queued, preserving the batch order. It is
// not safe for concurrent use; the owning service guards it.
type Queue[T any] struct {
	events []T
}

func New[T any](maybeSize ...int) *Queue[T] {
	q := &Queue[T]{}
	if len(maybeSize) > 0 {
		q.events = make([]T, 0, maybeSize[0])
	}
	return q
}

func (q *Queue[T]) Len() int {
	return len(q.events)
}

func (q *Queue[T]) Pop() (T, bool) {
	var zero T
	if len(q.events) == 0 {
		return zero, false
	}
	event := q.events[0]
	q.events[0] = zero
	q.events = q.events[1:]
	return event, true
}

func (q *Queue[T]) Peek() (T, bool) {
	var zero T
	if len(q.events) == 0 {
		return zero, false
	}
	return q.events[0], true
}

func (q *Queue[T]) Push(events ...T) {
	q.events = append(q.events, events...)
}

func (q *Queue[T]) PushFront(events ...T) {
	if len(events) == 0 {
		return
	}
	merged := make([]T, 0, len(events)+len(q.events))
	merged = append(merged, events...)
	q.events = append(merged, q.events...)
}

// DropFront removes leading events for which drop returns true and reports how many were removed.
func (q *Queue[T]) DropFront(drop func(T) bool) int {
	n := 0
	for n < len(q.events) && drop(q.events[n]) {
		n++
	}
	if n > 0 {
		clear(q.events[:n])
		q.events = q.events[n:]
	}
	return n
}

func (q *Queue[T]) Clear() {
	clear(q.events)
	q.events = q.events[:0]
}
