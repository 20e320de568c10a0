package queue

import "github.com/livinlefevreloca/tally/internal/metric"

// Queue is a strict FIFO of runnable metric definitions for one pass.
// It is drained, never circular; a new pass builds a new queue.
type Queue struct {
	items []*metric.Definition
	head  int
}

// Build creates a queue from the definitions returned by the store,
// dropping any definition without query text and keeping the relative
// order of the rest. Only the first definition of a repeated id is kept.
// The queue references the caller's definitions so the worker can mutate
// them in place.
func Build(definitions []metric.Definition) *Queue {
	items := make([]*metric.Definition, 0, len(definitions))
	seen := make(map[string]struct{}, len(definitions))
	for i := range definitions {
		if !definitions[i].Runnable() {
			continue
		}
		if _, ok := seen[definitions[i].ID]; ok {
			continue
		}
		seen[definitions[i].ID] = struct{}{}
		items = append(items, &definitions[i])
	}
	return &Queue{items: items}
}

// Duplicates returns the ids that appear more than once in definitions
func Duplicates(definitions []metric.Definition) []string {
	counts := make(map[string]int, len(definitions))
	var dups []string
	for _, def := range definitions {
		counts[def.ID]++
		if counts[def.ID] == 2 {
			dups = append(dups, def.ID)
		}
	}
	return dups
}

// TakeNext pops the head of the queue
// Returns nil and false once the queue is drained
func (q *Queue) TakeNext() (*metric.Definition, bool) {
	if q.head >= len(q.items) {
		return nil, false
	}
	def := q.items[q.head]
	q.items[q.head] = nil
	q.head++
	return def, true
}

// Pending returns the metrics not yet taken, in queue order
func (q *Queue) Pending() []*metric.Definition {
	out := make([]*metric.Definition, q.Len())
	copy(out, q.items[q.head:])
	return out
}

// Len returns the number of metrics not yet taken
func (q *Queue) Len() int {
	return len(q.items) - q.head
}

// Total returns the number of runnable metrics the queue was built with
func (q *Queue) Total() int {
	return len(q.items)
}

// Empty reports whether the queue has been drained
func (q *Queue) Empty() bool {
	return q.Len() == 0
}
