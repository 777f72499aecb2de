package monitor

// deque is a stable priority queue: Enqueue inserts a new item immediately
// before the first existing item whose priority is strictly lower, so
// equal-or-higher-priority items keep FIFO order ahead of it.
type deque struct {
	items []*Intervention
}

func (q *deque) Enqueue(i *Intervention) {
	pos := len(q.items)
	for idx, existing := range q.items {
		if existing.Priority < i.Priority {
			pos = idx
			break
		}
	}
	q.items = append(q.items, nil)
	copy(q.items[pos+1:], q.items[pos:])
	q.items[pos] = i
}

// Dequeue pops the head item: the highest priority, oldest first among
// equals. It does not look at cooldown; Monitor.Execute checks that
// before calling it.
func (q *deque) Dequeue() (*Intervention, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

func (q *deque) Peek() (*Intervention, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	return q.items[0], true
}

func (q *deque) Len() int { return len(q.items) }

// Snapshot returns a shallow copy of the queue contents, highest priority
// first, for status reporting.
func (q *deque) Snapshot() []*Intervention {
	out := make([]*Intervention, len(q.items))
	copy(out, q.items)
	return out
}
