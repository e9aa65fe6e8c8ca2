// Package vtypes holds the data shapes shared across the dedup core:
// content hashes, physical block numbers, journal points, and the
// data_vio itself. None of these types own zone-thread affinity logic;
// that lives in the packages that mutate them.
package vtypes

import (
	"encoding/hex"
	"fmt"
)

// ChunkName is a fixed-width content hash identifying a block for dedup.
type ChunkName [32]byte

func (c ChunkName) String() string {
	return hex.EncodeToString(c[:8])
}

// PBN is a physical block number.
type PBN uint64

// SequenceNumber identifies a recovery journal tail position. VDO
// reserves the top 16 bits of a 64-bit word, so a sequence number must
// never reach 1<<48.
type SequenceNumber uint64

// MaxSequenceNumber is the overflow boundary from recovery_journal's tail
// invariant (§3): tail MUST NOT exceed 2^48.
const MaxSequenceNumber SequenceNumber = 1 << 48

// JournalPoint identifies a single journal entry slot.
type JournalPoint struct {
	SequenceNumber SequenceNumber
	EntryCount     uint16
}

func (p JournalPoint) String() string {
	return fmt.Sprintf("%d.%d", p.SequenceNumber, p.EntryCount)
}

// Before reports whether p precedes q in commit order.
func (p JournalPoint) Before(q JournalPoint) bool {
	if p.SequenceNumber != q.SequenceNumber {
		return p.SequenceNumber < q.SequenceNumber
	}
	return p.EntryCount < q.EntryCount
}

// AtOrBefore reports whether p precedes or equals q.
func (p JournalPoint) AtOrBefore(q JournalPoint) bool {
	return p == q || p.Before(q)
}

// ZeroJournalPoint is the point recorded on a data_vio that has not yet
// been admitted to the journal.
var ZeroJournalPoint = JournalPoint{}

// ZoneType distinguishes the two independent reap fronts (§4.5, §9): they
// must never be collapsed into one head.
type ZoneType int

const (
	LogicalZone ZoneType = iota
	PhysicalZone
)

func (z ZoneType) String() string {
	if z == LogicalZone {
		return "logical"
	}
	return "physical"
}

// OperationType is the kind of reference-count delta a journal entry
// records (§4.5).
type OperationType int

const (
	DataIncrement OperationType = iota
	DataDecrement
	BlockMapIncrement
	BlockMapDecrement
)

func (o OperationType) IsIncrement() bool {
	return o == DataIncrement || o == BlockMapIncrement
}

func (o OperationType) IsBlockMap() bool {
	return o == BlockMapIncrement || o == BlockMapDecrement
}

func (o OperationType) String() string {
	switch o {
	case DataIncrement:
		return "data-increment"
	case DataDecrement:
		return "data-decrement"
	case BlockMapIncrement:
		return "block-map-increment"
	case BlockMapDecrement:
		return "block-map-decrement"
	default:
		return "unknown-operation"
	}
}

// Mapping is a logical-to-physical mapping with its compression state.
type Mapping struct {
	PBN        PBN
	Compressed bool
	Unmapped   bool
}

// DuplicateLocation is an index-returned or verified candidate duplicate.
type DuplicateLocation struct {
	PBN  PBN
	Zone int
	Slot uint8
}
