// Package engine wires the hash lock state machine's external
// collaborators (index client, slab depot, packer, physical block
// store) and the recovery journal into one runnable unit, the way a
// real VDO target's constructor would bind its subsystems together.
// Nothing here is named in spec.md; it exists so cmd/vdoharness has a
// single thing to drive.
package engine

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/berithfoundation/vdocore/internal/hashlock"
	"github.com/berithfoundation/vdocore/internal/hashzone"
	"github.com/berithfoundation/vdocore/internal/index"
	"github.com/berithfoundation/vdocore/internal/pbnlock"
	"github.com/berithfoundation/vdocore/internal/physical"
	"github.com/berithfoundation/vdocore/internal/recoveryjournal"
	"github.com/berithfoundation/vdocore/internal/vdolog"
	"github.com/berithfoundation/vdocore/internal/vtypes"
)

// Collaborators binds the hash lock engine's QUERYING/LOCKING/VERIFYING
// /WRITING/UPDATING/UNLOCKING entry actions to concrete implementations.
// It satisfies hashlock.Collaborators.
type Collaborators struct {
	Index      index.Client
	Depot      physical.SlabDepot
	Store      physical.BlockStore
	Packer     physical.Packer
	nextPBN    uint64
	log        *vdolog.Logger
}

// NewCollaborators wires the given subsystems together; nextPBN seeds
// the toy physical-block allocator used when a write needs a fresh PBN.
func NewCollaborators(idx index.Client, depot physical.SlabDepot, store physical.BlockStore, packer physical.Packer, firstFreePBN uint64) *Collaborators {
	return &Collaborators{
		Index:   idx,
		Depot:   depot,
		Store:   store,
		Packer:  packer,
		nextPBN: firstFreePBN,
		log:     vdolog.New("hash-lock-collaborators"),
	}
}

func (c *Collaborators) allocatePBN() vtypes.PBN {
	return vtypes.PBN(atomic.AddUint64(&c.nextPBN, 1) - 1)
}

// Query implements hashlock.Collaborators: consult the dedupe index for
// existing advice on the agent's hash (§4.1 QUERYING).
func (c *Collaborators) Query(ctx context.Context, lock *hashlock.Lock, agent *vtypes.DataVIO) {
	advice, found, err := c.Index.Query(ctx, agent.Hash)
	if err != nil {
		lock.ContinueOnError(ctx, agent, err)
		return
	}
	if found {
		agent.Duplicate = advice.DuplicateLocation
		agent.HasDuplicate = true
		agent.IsDuplicate = true
		lock.RecordAdvice(true)
	} else {
		agent.HasDuplicate = false
		lock.RecordAdvice(false)
	}
	lock.Continue(ctx, agent)
}

// AttemptPBNLock implements hashlock.Collaborators (§4.1 LOCKING).
func (c *Collaborators) AttemptPBNLock(ctx context.Context, lock *hashlock.Lock, agent *vtypes.DataVIO) {
	pbnLock, incrementLimit, _, err := c.Depot.AttemptLock(ctx, agent.Duplicate.PBN, pbnlock.Read, agent.ThreadAffinity)
	if err != nil {
		agent.IsDuplicate = false
		lock.Continue(ctx, agent)
		return
	}
	if incrementLimit == 0 {
		// Tie-break rule (§4.1 LOCKING): the slab has no increments left
		// to hand out for this PBN, so the candidate is abandoned and
		// the agent falls back to writing its own copy.
		if err := c.Depot.ReleaseLock(ctx, pbnLock, agent.Duplicate.PBN, agent.ThreadAffinity); err != nil {
			c.log.Warn("release pbn lock failed", "pbn", agent.Duplicate.PBN, "err", err)
		}
		agent.IsDuplicate = false
		lock.Continue(ctx, agent)
		return
	}
	lock.SetDuplicateLock(pbnLock)
	agent.IsDuplicate = true
	lock.Continue(ctx, agent)
}

// Verify implements hashlock.Collaborators: read the duplicate candidate
// back and byte-compare it against the agent's payload (§4.1 VERIFYING).
func (c *Collaborators) Verify(ctx context.Context, lock *hashlock.Lock, agent *vtypes.DataVIO) {
	stored, compressed, err := c.Store.ReadBlock(ctx, agent.Duplicate.PBN)
	if err != nil {
		lock.RecordVerification(false)
		lock.Continue(ctx, agent)
		return
	}
	raw, err := c.Packer.Decompress(stored, compressed)
	if err != nil {
		lock.RecordVerification(false)
		lock.Continue(ctx, agent)
		return
	}
	matches := bytesEqual(raw, agent.Payload)
	lock.RecordVerification(matches)
	lock.Continue(ctx, agent)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ShareBlock implements hashlock.Collaborators: every member of a
// DEDUPING group simply records the shared PBN as its own mapping (no
// I/O, the block is already on disk).
func (c *Collaborators) ShareBlock(ctx context.Context, lock *hashlock.Lock, members []*vtypes.DataVIO) {
	for _, m := range members {
		m.NewMapped = vtypes.Mapping{PBN: m.Duplicate.PBN}
		m.HasAllocation = true
		lock.Continue(ctx, m)
	}
}

// Write implements hashlock.Collaborators: compress and store the
// agent's payload under a freshly allocated PBN (§4.1 WRITING).
func (c *Collaborators) Write(ctx context.Context, lock *hashlock.Lock, agent *vtypes.DataVIO) {
	out, compressed := c.Packer.Compress(agent.Payload)
	pbn := c.allocatePBN()
	if err := c.Store.WriteBlock(ctx, pbn, out, compressed); err != nil {
		lock.ContinueOnError(ctx, agent, err)
		return
	}
	agent.NewMapped = vtypes.Mapping{PBN: pbn, Compressed: compressed}
	agent.HasAllocation = true
	lock.Continue(ctx, agent)
}

// UpdateIndex implements hashlock.Collaborators (§4.1 UPDATING).
func (c *Collaborators) UpdateIndex(ctx context.Context, lock *hashlock.Lock, agent *vtypes.DataVIO) {
	advice := index.Advice{DuplicateLocation: vtypes.DuplicateLocation{PBN: agent.NewMapped.PBN}}
	if err := c.Index.Update(ctx, agent.Hash, advice); err != nil {
		c.log.Warn("index update failed", "hash", agent.Hash, "err", err)
	}
	lock.Continue(ctx, agent)
}

// ReleasePBNLock implements hashlock.Collaborators (§4.1 UNLOCKING).
func (c *Collaborators) ReleasePBNLock(ctx context.Context, lock *hashlock.Lock) {
	agent := lock.AgentOrMember()
	if dup := lock.DuplicateLock(); dup != nil {
		if err := c.Depot.ReleaseLock(ctx, dup, agent.Duplicate.PBN, agent.ThreadAffinity); err != nil {
			c.log.Warn("release pbn lock failed", "pbn", agent.Duplicate.PBN, "err", err)
		}
	}
	lock.Continue(ctx, agent)
}

// ContentComparer implements hashzone.ContentComparer by byte-comparing
// the raw payloads two data_vios were given, the collision check behind
// hashzone.Zone.Acquire's hash-table hit path (§4.1 "Hash collisions").
type ContentComparer struct{}

func (ContentComparer) ContentMatches(existing, candidate *vtypes.DataVIO) bool {
	if existing == nil || candidate == nil {
		return false
	}
	return bytesEqual(existing.Payload, candidate.Payload)
}

// Engine bundles a set of hash zones sharing one recovery journal, the
// shape a real VDO target assembles at start-of-day.
type Engine struct {
	Zones   []*hashzone.Zone
	Journal *recoveryjournal.Journal
}

// New builds an Engine with numZones hash zones, each bound to the same
// collaborators and comparer, backed by journal.
func New(numZones int, collaborators hashlock.Collaborators, comparer hashzone.ContentComparer, journal *recoveryjournal.Journal) *Engine {
	zones := make([]*hashzone.Zone, numZones)
	for i := range zones {
		zones[i] = hashzone.New(i, collaborators, comparer)
	}
	return &Engine{Zones: zones, Journal: journal}
}

// ZoneFor picks the hash zone owning hash, a simple modulo hash of the
// chunk name's first byte.
func (e *Engine) ZoneFor(hash vtypes.ChunkName) *hashzone.Zone {
	return e.Zones[int(hash[0])%len(e.Zones)]
}

// Submit routes vio through its hash zone's Acquire/Enter and, once a
// mapping has been decided, admits it to the recovery journal. All of
// the wired collaborators above resolve synchronously, so by the time
// Enter returns, the agent either has a mapping or a failure result; in
// a real target this boundary is where the write's own continuation
// would fire and the lock's remaining UPDATING/UNLOCKING/DESTROYING
// steps continue independently in the background.
func (e *Engine) Submit(ctx context.Context, vio *vtypes.DataVIO) error {
	vio.ThreadAffinity = int(vio.Hash[0]) % len(e.Zones)
	zone := e.ZoneFor(vio.Hash)
	lock := zone.Acquire(ctx, vio, nil)
	if lock == nil {
		return fmt.Errorf("engine: hash collision, data_vio %d bypassed dedupe", vio.ID)
	}
	lock.Enter(ctx, vio)
	// The wired collaborators above are synchronous, so a lock with no
	// other members reaches its terminal state before Enter returns;
	// return it to the zone's pool so the next writer of this hash finds
	// the index's advice instead of a stale registry entry.
	if lock.State() == hashlock.StateDestroying {
		zone.Release(lock)
	}
	if vio.Result != nil {
		return vio.Result
	}
	e.Journal.AddEntry(ctx, vio)
	return vio.Result
}
