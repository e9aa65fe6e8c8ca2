// Package journalblock implements the in-memory accumulator for
// recovery-journal entries destined for one on-disk block (spec §4.4).
package journalblock

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/berithfoundation/vdocore/internal/vdoerr"
	"github.com/berithfoundation/vdocore/internal/vtypes"
	"github.com/berithfoundation/vdocore/internal/waitqueue"
)

// Entry is one committed record inside a journal block.
type Entry struct {
	JournalPoint vtypes.JournalPoint
	Operation    vtypes.OperationType
	Mapping      vtypes.Mapping
	PBN          vtypes.PBN
}

// Block accumulates entries for one block_number = sequence_number mod
// size slot until it is full and committed.
type Block struct {
	entriesPerBlock uint16

	sequenceNumber vtypes.SequenceNumber
	blockNumber    uint64

	entries               []Entry
	entriesInCommit       uint16
	uncommittedEntryCount uint16
	committing            bool

	entryWaiters  *waitqueue.Queue
	commitWaiters *waitqueue.Queue

	pendingSuccess func(*Block)
	pendingError   func(*Block, error)
}

// New returns an uninitialized block sized for entriesPerBlock entries.
// It must be given a sequence number with Initialize before use.
func New(entriesPerBlock uint16) *Block {
	return &Block{
		entriesPerBlock: entriesPerBlock,
		entryWaiters:    waitqueue.New(),
		commitWaiters:   waitqueue.New(),
	}
}

// Initialize resets a recycled block to serve sequenceNumber.
func (b *Block) Initialize(sequenceNumber vtypes.SequenceNumber, journalSize uint64) {
	b.sequenceNumber = sequenceNumber
	b.blockNumber = uint64(sequenceNumber) % journalSize
	b.entries = b.entries[:0]
	b.entriesInCommit = 0
	b.uncommittedEntryCount = 0
	b.committing = false
}

func (b *Block) SequenceNumber() vtypes.SequenceNumber { return b.sequenceNumber }
func (b *Block) BlockNumber() uint64                   { return b.blockNumber }
func (b *Block) EntryCount() uint16                    { return uint16(len(b.entries)) }
func (b *Block) IsFull() bool       { return uint16(len(b.entries)) >= b.entriesPerBlock }
func (b *Block) IsEmpty() bool      { return len(b.entries) == 0 }
func (b *Block) IsDirty() bool      { return b.uncommittedEntryCount > 0 }
func (b *Block) IsCommitting() bool { return b.committing }

// CanCommit reports whether the block may begin a new commit: it must
// be dirty and not already have one outstanding.
func (b *Block) CanCommit() bool {
	return !b.committing && b.IsDirty()
}

// EnqueueEntry appends op against the block, recording the resulting
// journal point into point for the caller (normally stamped onto the
// originating data_vio by the recovery journal).
func (b *Block) EnqueueEntry(op vtypes.OperationType, mapping vtypes.Mapping, pbn vtypes.PBN) (vtypes.JournalPoint, error) {
	if b.IsFull() {
		return vtypes.JournalPoint{}, vdoerr.ErrJournalFull
	}
	point := vtypes.JournalPoint{SequenceNumber: b.sequenceNumber, EntryCount: uint16(len(b.entries))}
	b.entries = append(b.entries, Entry{JournalPoint: point, Operation: op, Mapping: mapping, PBN: pbn})
	b.uncommittedEntryCount++
	return point, nil
}

// AddEntryWaiter enqueues a waiter that wants to be notified once its
// entry has committed.
func (b *Block) AddEntryWaiter(w vtypes.Waiter) { b.entryWaiters.Enqueue(w) }

// AddCommitWaiter enqueues a waiter for the block's commit completion,
// independent of which entries it holds (used by drain/flush logic).
func (b *Block) AddCommitWaiter(w vtypes.Waiter) { b.commitWaiters.Enqueue(w) }

// ReleaseAllWaiters drains both waiter queues through notify regardless
// of commit state, used when the journal degrades to read-only and
// every outstanding data_vio must be told so (§4.5).
func (b *Block) ReleaseAllWaiters(notify func(vtypes.Waiter)) {
	b.entryWaiters.NotifyAll(notify)
	b.commitWaiters.NotifyAll(notify)
}

// Commit begins the single outstanding write for this block. While
// committing is true, a re-submission is silently ignored, matching the
// "ignore resubmission while committing" contract. onSuccess/onError are
// invoked with the block once the simulated write completes; the caller
// drives completion by calling CompleteCommit.
func (b *Block) Commit(onSuccess func(*Block), onError func(*Block, error)) {
	if b.committing || !b.IsDirty() {
		return
	}
	b.committing = true
	b.entriesInCommit = b.uncommittedEntryCount
	b.pendingSuccess = onSuccess
	b.pendingError = onError
}

// CompleteCommit is invoked by the recovery journal's I/O completion
// path once the underlying write of this block's slot has landed.
// notify is called once per queued entry/commit waiter, in FIFO order,
// so the journal can advance its commit_point and release each data_vio
// in journal-point order (§8 property 3).
func (b *Block) CompleteCommit(notify func(vtypes.Waiter)) {
	if !b.committing {
		return
	}
	b.uncommittedEntryCount -= b.entriesInCommit
	b.entriesInCommit = 0
	b.committing = false
	cb := b.pendingSuccess
	b.pendingSuccess = nil
	b.pendingError = nil
	if notify == nil {
		notify = func(vtypes.Waiter) {}
	}
	b.entryWaiters.NotifyAll(notify)
	b.commitWaiters.NotifyAll(notify)
	if cb != nil {
		cb(b)
	}
}

// FailCommit is invoked when the underlying write fails; the journal
// never retries, so this is terminal for the block's pending entries.
// notify is called once per queued entry/commit waiter so the journal
// can fail every affected data_vio.
func (b *Block) FailCommit(err error, notify func(vtypes.Waiter)) {
	if !b.committing {
		return
	}
	b.committing = false
	cb := b.pendingError
	b.pendingSuccess = nil
	b.pendingError = nil
	if notify == nil {
		notify = func(vtypes.Waiter) {}
	}
	b.entryWaiters.NotifyAll(notify)
	b.commitWaiters.NotifyAll(notify)
	if cb != nil {
		cb(b, err)
	}
}

const (
	recoveryCountOffset = 0
	entryCountOffset    = 1
	headerSize          = 3
	entryEncodedSize    = 1 + 8 + 8 + 1 // operation byte, pbn, mapping.pbn, unmapped/compressed flags folded
)

// Encode serializes the block's committed entries into its fixed
// on-disk slot, stamping recoveryCount per §6 so a later Decode can
// reject a cross-generation replay.
func (b *Block) Encode(recoveryCount uint8) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(recoveryCount)
	var countBytes [2]byte
	binary.LittleEndian.PutUint16(countBytes[:], uint16(len(b.entries)))
	buf.Write(countBytes[:])
	for _, e := range b.entries {
		buf.WriteByte(byte(e.Operation))
		var pbnBytes [8]byte
		binary.LittleEndian.PutUint64(pbnBytes[:], uint64(e.PBN))
		buf.Write(pbnBytes[:])
		binary.LittleEndian.PutUint64(pbnBytes[:], uint64(e.Mapping.PBN))
		buf.Write(pbnBytes[:])
		flags := byte(0)
		if e.Mapping.Compressed {
			flags |= 1
		}
		if e.Mapping.Unmapped {
			flags |= 2
		}
		buf.WriteByte(flags)
	}
	return buf.Bytes()
}

// Decode parses a block previously written by Encode, rejecting it if
// the stamped recovery-count byte does not match expectedRecoveryCount
// (kvdo's cross-generation replay guard, supplemented here because
// spec.md names the byte but not the reject path).
func Decode(buf []byte, sequenceNumber vtypes.SequenceNumber, journalSize uint64, entriesPerBlock uint16, expectedRecoveryCount uint8) (*Block, error) {
	if len(buf) < headerSize {
		return nil, fmt.Errorf("journalblock: buffer too short: %d bytes", len(buf))
	}
	stamped := buf[recoveryCountOffset]
	if stamped != expectedRecoveryCount {
		return nil, vdoerr.ErrRecoveryCountMismatch
	}
	count := binary.LittleEndian.Uint16(buf[entryCountOffset:headerSize])
	b := New(entriesPerBlock)
	b.Initialize(sequenceNumber, journalSize)

	pos := headerSize
	for i := uint16(0); i < count; i++ {
		if pos+entryEncodedSize > len(buf) {
			return nil, fmt.Errorf("journalblock: truncated entry %d", i)
		}
		op := vtypes.OperationType(buf[pos])
		pos++
		pbn := vtypes.PBN(binary.LittleEndian.Uint64(buf[pos : pos+8]))
		pos += 8
		mappedPBN := vtypes.PBN(binary.LittleEndian.Uint64(buf[pos : pos+8]))
		pos += 8
		flags := buf[pos]
		pos++
		mapping := vtypes.Mapping{
			PBN:        mappedPBN,
			Compressed: flags&1 != 0,
			Unmapped:   flags&2 != 0,
		}
		point := vtypes.JournalPoint{SequenceNumber: sequenceNumber, EntryCount: i}
		b.entries = append(b.entries, Entry{JournalPoint: point, Operation: op, Mapping: mapping, PBN: pbn})
	}
	b.uncommittedEntryCount = 0
	return b, nil
}
