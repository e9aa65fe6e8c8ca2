// Package physical specifies the interfaces the dedup core consumes
// from its external collaborators (§1: physical zones, slab depot, block
// map, packer) without implementing those subsystems. The
// implementations in this package are the stand-ins used by this
// module's own tests and by cmd/vdoharness; a real VDO target would
// supply its own.
package physical

import (
	"context"

	"github.com/berithfoundation/vdocore/internal/pbnlock"
	"github.com/berithfoundation/vdocore/internal/vtypes"
)

// BlockStore is the physical block content store a hash lock's VERIFYING
// and WRITING states read from and write to.
type BlockStore interface {
	ReadBlock(ctx context.Context, pbn vtypes.PBN) (data []byte, compressed bool, err error)
	WriteBlock(ctx context.Context, pbn vtypes.PBN, data []byte, compressed bool) error
}

// SlabDepot is the out-of-scope collaborator that owns physical block
// reference counts and hands out PBN locks (§4.1 LOCKING, §4.3).
type SlabDepot interface {
	// AttemptLock tries to acquire a lock of lockType on pbn for the
	// requesting zone. incrementLimit is how many new references the
	// slab allows on pbn (0 means none), and wasUnreferenced reports
	// whether pbn had no references before this call.
	AttemptLock(ctx context.Context, pbn vtypes.PBN, lockType pbnlock.Type, zone int) (lock *pbnlock.Lock, incrementLimit uint32, wasUnreferenced bool, err error)

	// ReleaseLock drops a hash lock's hold on a PBN lock from the PBN's
	// owning zone, the only place §5 permits that mutation.
	ReleaseLock(ctx context.Context, lock *pbnlock.Lock, pbn vtypes.PBN, zone int) error
}

// Packer is the compress/decompress collaborator of the WRITING and
// VERIFYING states.
type Packer interface {
	Compress(data []byte) (out []byte, compressed bool)
	Decompress(data []byte, wasCompressed bool) ([]byte, error)
}

// SlabJournalCommitter is the external call the recovery journal makes
// under commit-threshold pressure (§4.5): force the oldest slab journal
// tail blocks to commit so the slab-journal reap head can advance.
type SlabJournalCommitter interface {
	CommitOldestTailBlocks(ctx context.Context, olderThan vtypes.SequenceNumber) error
}

// BlockMapEraNotifier is the external call the recovery journal makes
// when its active block becomes full and the tail advances (§4.5).
type BlockMapEraNotifier interface {
	AdvanceEra(ctx context.Context, tail vtypes.SequenceNumber)
}

// JournalBlockStore is the on-disk medium for a single journal block's
// fixed slot (§6). The slab-journal/block-map disk format is out of
// scope, but the journal's own persisted block is not.
type JournalBlockStore interface {
	WriteBlock(ctx context.Context, blockNumber uint64, payload []byte) error
	ReadBlock(ctx context.Context, blockNumber uint64) ([]byte, error)
}

// FlushResource is the journal's single outstanding flush I/O resource
// (§3), issued before publishing a new reap head under any non-SYNC
// write policy (§4.5).
type FlushResource interface {
	Flush(ctx context.Context) error
}
