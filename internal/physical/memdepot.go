package physical

import (
	"context"
	"sync"

	"github.com/berithfoundation/vdocore/internal/pbnlock"
	"github.com/berithfoundation/vdocore/internal/vdolog"
	"github.com/berithfoundation/vdocore/internal/vtypes"
)

// MemSlabDepot is an in-memory stand-in for the slab depot (§1, out of
// scope). It tracks one pbnlock.Lock per currently-locked PBN and a
// reference budget per PBN, just enough surface for the hash lock
// engine's LOCKING/UNLOCKING states and its own tests to exercise.
type MemSlabDepot struct {
	mu sync.Mutex

	// refBudget is how many increments a PBN has left before it is
	// "full" from the slab's perspective. A PBN with no entry or a budget
	// of 0 counts as a fresh, unreferenced block, which AttemptLock
	// provisions with defaultIncrementLimit; a non-zero budget marks an
	// already-referenced block and becomes the lock's increment limit.
	refBudget map[vtypes.PBN]uint32
	locks     map[vtypes.PBN]*pbnlock.Lock

	log *vdolog.Logger
}

// NewMemSlabDepot returns an empty depot. Use SeedDuplicate to pre-load a
// PBN with an existing reference budget, simulating a block the dedupe
// index already has advice for.
func NewMemSlabDepot() *MemSlabDepot {
	return &MemSlabDepot{
		refBudget: make(map[vtypes.PBN]uint32),
		locks:     make(map[vtypes.PBN]*pbnlock.Lock),
		log:       vdolog.New("slab-depot"),
	}
}

// SeedDuplicate pre-populates pbn with remainingIncrements references
// left, as if it had already been written and dedup candidates had
// claimed some of its budget.
func (d *MemSlabDepot) SeedDuplicate(pbn vtypes.PBN, remainingIncrements uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refBudget[pbn] = remainingIncrements
}

// AttemptLock implements SlabDepot.
func (d *MemSlabDepot) AttemptLock(_ context.Context, pbn vtypes.PBN, lockType pbnlock.Type, zone int) (*pbnlock.Lock, uint32, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.locks[pbn]; ok {
		if existing.Type() == pbnlock.Write {
			// Tie-break rule from §4.1 LOCKING: a write-type lock
			// already held on the candidate forces the caller to
			// abandon the attempt.
			return nil, 0, false, errAlreadyWriteLocked
		}
		existing.AddHolder()
		return existing, existing.IncrementLimit(), false, nil
	}

	budget, wasUnreferenced := d.refBudget[pbn]
	if !wasUnreferenced {
		budget = 0
	}
	wasUnreferenced = !wasUnreferenced || budget == 0
	lock := pbnlock.New(lockType)
	lock.AddHolder()
	if wasUnreferenced {
		// A previously unreferenced block; the slab hands back a fresh
		// increment budget the owning zone must install (§4.3).
		lock.SetIncrementLimit(defaultIncrementLimit)
	} else {
		lock.SetIncrementLimit(budget)
	}
	d.locks[pbn] = lock
	d.log.Debug("attempted pbn lock", "pbn", pbn, "zone", zone, "fresh", wasUnreferenced)
	return lock, lock.IncrementLimit(), wasUnreferenced, nil
}

// ReleaseLock implements SlabDepot.
func (d *MemSlabDepot) ReleaseLock(_ context.Context, lock *pbnlock.Lock, pbn vtypes.PBN, zone int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	remaining := lock.RemoveHolder()
	d.log.Debug("released pbn lock", "pbn", pbn, "zone", zone, "holders_left", remaining)
	if remaining <= 0 {
		delete(d.locks, pbn)
	}
	return nil
}

const defaultIncrementLimit = 254

var errAlreadyWriteLocked = &depotError{"pbn already write-locked"}

type depotError struct{ msg string }

func (e *depotError) Error() string { return e.msg }

// MemSlabJournalCommitter is a no-op stand-in for the slab depot's
// tail-block commit call (§4.5 commit-threshold pressure).
type MemSlabJournalCommitter struct {
	log *vdolog.Logger

	mu       sync.Mutex
	Requests []vtypes.SequenceNumber
}

func NewMemSlabJournalCommitter() *MemSlabJournalCommitter {
	return &MemSlabJournalCommitter{log: vdolog.New("slab-journal-committer")}
}

func (c *MemSlabJournalCommitter) CommitOldestTailBlocks(_ context.Context, olderThan vtypes.SequenceNumber) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Requests = append(c.Requests, olderThan)
	c.log.Debug("commit threshold pressure", "older_than", olderThan)
	return nil
}

// MemBlockMapEraNotifier records each era advance for assertions.
type MemBlockMapEraNotifier struct {
	mu   sync.Mutex
	Eras []vtypes.SequenceNumber
}

func NewMemBlockMapEraNotifier() *MemBlockMapEraNotifier {
	return &MemBlockMapEraNotifier{}
}

func (n *MemBlockMapEraNotifier) AdvanceEra(_ context.Context, tail vtypes.SequenceNumber) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Eras = append(n.Eras, tail)
}
