package sequence

import "container/heap"

// Item is an entry of a DueQueue. The pointer returned by Push stays valid
// until the item is popped or removed and can be used to reschedule it.
type Item[T any] struct {
	Value T
	Due   uint64
	seq   uint64
	index int
}

type dueHeap[T any] struct {
	items []*Item[T]
}

func (h *dueHeap[T]) Len() int {
	return len(h.items)
}

// Less orders by due time, then by insertion order, so entries that share a
// due time come out in the order they were pushed.
func (h *dueHeap[T]) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if a.Due != b.Due {
		return a.Due < b.Due
	}
	return a.seq < b.seq
}

func (h *dueHeap[T]) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *dueHeap[T]) Push(x any) {
	item := x.(*Item[T])
	item.index = len(h.items)
	h.items = append(h.items, item)
}

func (h *dueHeap[T]) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	h.items = old[0 : n-1]
	return item
}

// DueQueue is a min-heap keyed by due time. Not safe for concurrent use.
type DueQueue[T any] struct {
	h   dueHeap[T]
	seq uint64
}

func NewDueQueue[T any]() *DueQueue[T] {
	q := &DueQueue[T]{}
	heap.Init(&q.h)
	return q
}

func (q *DueQueue[T]) Push(value T, due uint64) *Item[T] {
	q.seq++
	item := &Item[T]{
		Value: value,
		Due:   due,
		seq:   q.seq,
	}
	heap.Push(&q.h, item)
	return item
}

func (q *DueQueue[T]) Pop() (T, bool) {
	if q.h.Len() == 0 {
		var zero T
		return zero, false
	}
	item := heap.Pop(&q.h).(*Item[T])
	return item.Value, true
}

// PopDue pops the earliest entry if it is due at now.
func (q *DueQueue[T]) PopDue(now uint64) (T, bool) {
	if q.h.Len() == 0 || q.h.items[0].Due > now {
		var zero T
		return zero, false
	}
	return q.Pop()
}

func (q *DueQueue[T]) Peek() (*Item[T], bool) {
	if q.h.Len() == 0 {
		return nil, false
	}
	return q.h.items[0], true
}

// Reschedule moves a queued item to a new due time. It reports false if the
// item already left the queue.
func (q *DueQueue[T]) Reschedule(item *Item[T], due uint64) bool {
	if item.index < 0 || item.index >= q.h.Len() || q.h.items[item.index] != item {
		return false
	}
	item.Due = due
	q.seq++
	item.seq = q.seq
	heap.Fix(&q.h, item.index)
	return true
}

// Contains reports whether item is still queued.
func (q *DueQueue[T]) Contains(item *Item[T]) bool {
	return item.index >= 0 && item.index < q.h.Len() && q.h.items[item.index] == item
}

func (q *DueQueue[T]) Remove(item *Item[T]) bool {
	if !q.Contains(item) {
		return false
	}
	heap.Remove(&q.h, item.index)
	return true
}

func (q *DueQueue[T]) Len() int {
	return q.h.Len()
}

func (q *DueQueue[T]) IsEmpty() bool {
	return q.h.Len() == 0
}
