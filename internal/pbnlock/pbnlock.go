// Package pbnlock implements the reference-counted read/write lock on a
// physical block number described in spec §3 and §4.3. A pbnlock.Lock is
// the one piece of state genuinely shared across zones (§5): holder_count
// and the increment budget are mutated only from the PBN's owning
// physical zone, but many hash locks hold a pointer to the same instance.
package pbnlock

import "sync/atomic"

// Type is the kind of access a PBN lock grants.
type Type int

const (
	Read Type = iota
	Write
	BlockMap
)

func (t Type) String() string {
	switch t {
	case Read:
		return "read"
	case Write:
		return "write"
	case BlockMap:
		return "block-map"
	default:
		return "unknown"
	}
}

// Lock is a PBN lock as the hash lock engine observes it (§4.3). All
// mutation of holderCount and remainingIncrements must happen on the
// owning physical zone's thread; claimIncrement is written as a CAS loop
// so that invariant is enforced even if a caller slips up in a test.
type Lock struct {
	lockType Type

	holderCount int32

	// incrementLimit is the slab-reported bound on further references
	// obtainable for this block; it is fixed once, at provisional
	// upgrade, from the owning zone.
	incrementLimit uint32

	// remainingIncrements counts down from incrementLimit as
	// ClaimIncrement succeeds.
	remainingIncrements uint32

	provisional bool
}

// New returns a freshly acquired lock of the given type. It is not yet
// provisional; SetIncrementLimit must be called from the owning zone
// before any hash lock shares it (§4.3).
func New(lockType Type) *Lock {
	return &Lock{lockType: lockType}
}

// Type reports the kind of access this lock grants.
func (l *Lock) Type() Type {
	return l.lockType
}

// IsReadLock reports whether this lock grants read (sharable) access.
func (l *Lock) IsReadLock() bool {
	return l.lockType == Read
}

// IsProvisional reports whether SetIncrementLimit has been called on
// this lock.
func (l *Lock) IsProvisional() bool {
	return l.provisional
}

// SetIncrementLimit sets the slab-reported increment bound. Must only be
// called from the PBN's owning zone (§4.3), and only once.
func (l *Lock) SetIncrementLimit(limit uint32) {
	l.provisional = true
	l.incrementLimit = limit
	atomic.StoreUint32(&l.remainingIncrements, limit)
}

// IncrementLimit returns the bound set by SetIncrementLimit.
func (l *Lock) IncrementLimit() uint32 {
	return l.incrementLimit
}

// RemainingIncrements reports how many claims are left.
func (l *Lock) RemainingIncrements() uint32 {
	return atomic.LoadUint32(&l.remainingIncrements)
}

// ClaimIncrement atomically takes one of the remaining increments,
// returning false once the budget is exhausted (§4.3). This is the
// primitive that forces a DEDUPING rollover once a duplicate PBN runs
// out of reference slots.
func (l *Lock) ClaimIncrement() bool {
	for {
		cur := atomic.LoadUint32(&l.remainingIncrements)
		if cur == 0 {
			return false
		}
		if atomic.CompareAndSwapUint32(&l.remainingIncrements, cur, cur-1) {
			return true
		}
	}
}

// DowngradeWriteToRead converts a write-type lock held on a newly
// written block into a sharable read lock (§4.3).
func (l *Lock) DowngradeWriteToRead() {
	l.lockType = Read
}

// HolderCount reports how many hash locks and write VIOs currently share
// this lock.
func (l *Lock) HolderCount() int32 {
	return atomic.LoadInt32(&l.holderCount)
}

// AddHolder registers one more holder (a hash lock or write VIO) and
// returns the updated count.
func (l *Lock) AddHolder() int32 {
	return atomic.AddInt32(&l.holderCount, 1)
}

// RemoveHolder releases one holder and returns the updated count. The
// final release must happen from the owning zone (§5).
func (l *Lock) RemoveHolder() int32 {
	return atomic.AddInt32(&l.holderCount, -1)
}
