package vtypes

import "context"

// DataVIO is one in-flight logical-block write. The hash lock engine and
// recovery journal are both external callers against this type; its real
// home (the VIO write path) is out of scope for this module (§1).
//
// DataVIO satisfies waitqueue.Waiter via an intrusive next-pointer instead
// of being boxed into a container-owned list node (§9, cyclic references).
type DataVIO struct {
	ID uint64

	Hash ChunkName

	// Allocated is this write's own physical block, if one was reserved
	// before the index was consulted.
	Allocated     PBN
	HasAllocation bool

	NewMapped Mapping

	// Payload is this write's block content. The real VIO write path
	// (how bytes arrive from a kernel block request) is out of scope
	// (§1); collaborators that touch physical storage read and write
	// this field directly.
	Payload []byte

	Duplicate    DuplicateLocation
	HasDuplicate bool
	IsDuplicate  bool

	// LockHolder is the back-pointer to the owning hash lock. It is
	// opaque here (only the hashlock package dereferences it) so this
	// package does not import hashlock and create a cycle.
	LockHolder interface{}

	// ThreadAffinity records which hash-zone this data_vio's hash maps
	// to, so collaborators can dispatch continuations back to it.
	ThreadAffinity int

	// RecoveryJournalPoint is the zero point until this data_vio is admitted to the
	// recovery journal, after which it holds the journal point of its
	// increment or decrement entry.
	RecoveryJournalPoint JournalPoint

	Operation OperationType

	Result error

	// Callback fires exactly once, when this data_vio's work is fully
	// done (committed, bypassed, or failed). It is the "existing
	// callback the upstream caller registered" of §7.
	Callback func(ctx context.Context, vio *DataVIO)

	next Waiter
}

// Waiter is the intrusive FIFO node contract used by waitqueue.Queue.
type Waiter interface {
	SetNextWaiter(w Waiter)
	NextWaiter() Waiter
}

func (d *DataVIO) SetNextWaiter(w Waiter) { d.next = w }
func (d *DataVIO) NextWaiter() Waiter     { return d.next }

// Continue invokes the registered callback, the "existing callback the
// upstream caller registered" path of §7's error propagation paragraph.
func (d *DataVIO) Continue(ctx context.Context) {
	if d.Callback != nil {
		d.Callback(ctx, d)
	}
}

// Fail stamps a result and continues, the cancellation primitive of §5:
// "setting [an error result] and re-dispatching continue_on_error".
func (d *DataVIO) Fail(ctx context.Context, err error) {
	d.Result = err
	d.Continue(ctx)
}
