// Package hashzone implements the per-thread shard owning a map from
// content hash to hash lock, and the pool that allocates hash lock
// objects (spec §4.2). Only the owning zone's thread may mutate a
// zone's map or any lock registered in it (§5).
package hashzone

import (
	"context"
	"sync"

	"github.com/berithfoundation/vdocore/internal/hashlock"
	"github.com/berithfoundation/vdocore/internal/vdolog"
	"github.com/berithfoundation/vdocore/internal/vtypes"
)

// ContentComparer compares a candidate data_vio's content against the
// data already bound to a lock, the external collaborator behind the
// hash-collision check in acquire() (§4.1 "Hash collisions").
type ContentComparer interface {
	ContentMatches(existing, candidate *vtypes.DataVIO) bool
}

// Zone is a hash-zone shard: a single-threaded owner of a chunk-name to
// hash-lock map and a reusable pool of lock objects. It implements
// hashlock.ZoneHandle so hash locks can call back into their owning
// zone without hashlock importing this package (§9 "cyclic references",
// resolved the way a consumer-defined interface avoids an import cycle).
type Zone struct {
	id int

	mu       sync.Mutex
	registry map[vtypes.ChunkName]*hashlock.Lock
	pool     []*hashlock.Lock

	comparer ContentComparer
	log      *vdolog.Logger

	validAdvice   uint64
	staleAdvice   uint64
	collisions    uint64
	dataMatches   uint64
	collaborators hashlock.Collaborators
}

// New returns an empty zone bound to id, using collaborators for every
// hash lock it allocates and comparer to resolve hash collisions.
func New(id int, collaborators hashlock.Collaborators, comparer ContentComparer) *Zone {
	return &Zone{
		id:            id,
		registry:      make(map[vtypes.ChunkName]*hashlock.Lock),
		comparer:      comparer,
		collaborators: collaborators,
		log:           vdolog.New("hash-zone"),
	}
}

func (z *Zone) ID() int { return z.id }

// Acquire returns the hash lock registered for vio's hash, allocating a
// fresh one if none exists. previous, when non-nil, is the lock a fork
// is replacing: the new lock takes its place in the registry (§4.1
// "Fork (rollover)").
func (z *Zone) Acquire(ctx context.Context, vio *vtypes.DataVIO, previous *hashlock.Lock) *hashlock.Lock {
	z.mu.Lock()

	if previous == nil {
		if existing, ok := z.registry[vio.Hash]; ok {
			if z.comparer == nil || z.comparer.ContentMatches(existing.AgentOrMember(), vio) {
				z.dataMatches++
				z.mu.Unlock()
				existing.AddMember(vio)
				return existing
			}
			z.collisions++
			z.mu.Unlock()
			// Content differs under the same hash: bypass dedupe silently
			// for this data_vio rather than binding it to a lock whose
			// members do not actually share content.
			return nil
		}
	}

	lock := z.allocate()
	lock.Register(z.id, vio.Hash)
	z.registry[vio.Hash] = lock
	z.mu.Unlock()
	return lock
}

// allocate returns a lock object from the pool, or a fresh one if the
// pool is empty (§9: arena of hash locks, zone-local handle).
func (z *Zone) allocate() *hashlock.Lock {
	if n := len(z.pool); n > 0 {
		lock := z.pool[n-1]
		z.pool = z.pool[:n-1]
		return lock
	}
	return hashlock.New(z.collaborators, z)
}

// Release returns lock to the pool; only valid from DESTROYING (§4.2).
func (z *Zone) Release(lock *hashlock.Lock) {
	z.mu.Lock()
	defer z.mu.Unlock()
	if lock.IsRegistered() {
		delete(z.registry, lock.Hash())
	}
	lock.Reset()
	z.pool = append(z.pool, lock)
}

// Replace is called during fork: newLock takes old's place in the
// registry while old remains live but unregistered (§4.1).
func (z *Zone) Replace(old, newLock *hashlock.Lock) {
	z.mu.Lock()
	defer z.mu.Unlock()
	old.Unregister()
	newLock.Register(z.id, old.Hash())
	z.registry[old.Hash()] = newLock
}

// BumpValidAdvice, BumpStaleAdvice, BumpCollision, and BumpDataMatch
// track the per-zone counters named in §4.2.
func (z *Zone) BumpValidAdvice() { z.mu.Lock(); z.validAdvice++; z.mu.Unlock() }
func (z *Zone) BumpStaleAdvice() { z.mu.Lock(); z.staleAdvice++; z.mu.Unlock() }
func (z *Zone) BumpCollision()   { z.mu.Lock(); z.collisions++; z.mu.Unlock() }
func (z *Zone) BumpDataMatch()   { z.mu.Lock(); z.dataMatches++; z.mu.Unlock() }

// Counters is a point-in-time snapshot of the zone's dedupe counters.
type Counters struct {
	ValidAdvice, StaleAdvice, Collisions, DataMatches uint64
	RegisteredLocks, PooledLocks                      int
}

func (z *Zone) Snapshot() Counters {
	z.mu.Lock()
	defer z.mu.Unlock()
	return Counters{
		ValidAdvice:     z.validAdvice,
		StaleAdvice:     z.staleAdvice,
		Collisions:      z.collisions,
		DataMatches:     z.dataMatches,
		RegisteredLocks: len(z.registry),
		PooledLocks:     len(z.pool),
	}
}
