package device

// EventQueue is the ordered sequence of labeled completion events recorded
// during one round. It is drained strictly FIFO during finalization so the
// timeline sees causally ordered, non-overlapping intervals. A queue belongs
// to exactly one round and is not safe for concurrent use.
type EventQueue struct {
	items []queuedEvent
}

type queuedEvent struct {
	label string
	event Event
}

// Push appends an event. An empty label means the event is a pure
// synchronization marker with no timeline interval.
func (q *EventQueue) Push(label string, e Event) {
	q.items = append(q.items, queuedEvent{label: label, event: e})
}

// Pop removes and returns the oldest event.
func (q *EventQueue) Pop() (string, Event, bool) {
	if len(q.items) == 0 {
		return "", nil, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item.label, item.event, true
}

// Len returns the number of queued events.
func (q *EventQueue) Len() int {
	return len(q.items)
}
