// Package waitqueue implements the FIFO of suspended per-write tasks
// described in spec §2: a queue of vtypes.Waiter with a
// callback-on-notify contract. It is intrusive (no separate list node
// allocation) per the cyclic-reference design note in §9.
package waitqueue

import "github.com/berithfoundation/vdocore/internal/vtypes"

// Queue is a singly-linked FIFO. It is not safe for concurrent use by
// more than one goroutine; callers are expected to hold it under their
// own zone-thread affinity, matching §5's "no preemptive locks inside
// zone code".
type Queue struct {
	head   vtypes.Waiter
	tail   vtypes.Waiter
	length int
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{}
}

// Len reports the number of queued waiters.
func (q *Queue) Len() int {
	return q.length
}

// IsEmpty reports whether the queue has no waiters.
func (q *Queue) IsEmpty() bool {
	return q.length == 0
}

// Enqueue appends w to the tail of the queue.
func (q *Queue) Enqueue(w vtypes.Waiter) {
	w.SetNextWaiter(nil)
	if q.tail == nil {
		q.head = w
	} else {
		q.tail.SetNextWaiter(w)
	}
	q.tail = w
	q.length++
}

// Dequeue removes and returns the head waiter, or nil if the queue is
// empty.
func (q *Queue) Dequeue() vtypes.Waiter {
	w := q.head
	if w == nil {
		return nil
	}
	q.head = w.NextWaiter()
	if q.head == nil {
		q.tail = nil
	}
	w.SetNextWaiter(nil)
	q.length--
	return w
}

// Peek returns the head waiter without removing it.
func (q *Queue) Peek() vtypes.Waiter {
	return q.head
}

// NotifyAll drains the queue in FIFO order, invoking fn for each waiter.
// fn may itself enqueue into an unrelated queue (e.g. during a fork) but
// must not re-enqueue into this queue while it is draining.
func (q *Queue) NotifyAll(fn func(vtypes.Waiter)) {
	for {
		w := q.Dequeue()
		if w == nil {
			return
		}
		fn(w)
	}
}

// TransferAllTo moves every waiter from q to dst, preserving order. Used
// by the hash lock fork/rollover path (§4.1) to hand an old lock's
// waiters to its replacement.
func (q *Queue) TransferAllTo(dst *Queue) {
	q.NotifyAll(func(w vtypes.Waiter) {
		dst.Enqueue(w)
	})
}
