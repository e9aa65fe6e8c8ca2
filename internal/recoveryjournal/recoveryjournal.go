// Package recoveryjournal implements the on-disk, crash-recoverable
// append-only log of reference-count deltas (spec §3, §4.5, §6): tail
// advancement, commit scheduling under sync/async write policy, the two
// independent reap fronts, drain/resume, and read-only degradation.
package recoveryjournal

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/pborman/uuid"

	"github.com/berithfoundation/vdocore/internal/journalblock"
	"github.com/berithfoundation/vdocore/internal/lockcounter"
	"github.com/berithfoundation/vdocore/internal/physical"
	"github.com/berithfoundation/vdocore/internal/vdoerr"
	"github.com/berithfoundation/vdocore/internal/vdolog"
	"github.com/berithfoundation/vdocore/internal/vtypes"
	"github.com/berithfoundation/vdocore/internal/waitqueue"
)

// WritePolicy selects the journal's commit-batching behavior (§4.5).
type WritePolicy int

const (
	SyncPolicy WritePolicy = iota
	AsyncPolicy
	AsyncUnsafePolicy
)

func (p WritePolicy) String() string {
	switch p {
	case SyncPolicy:
		return "sync"
	case AsyncPolicy:
		return "async"
	case AsyncUnsafePolicy:
		return "async-unsafe"
	default:
		return "unknown"
	}
}

// AdminState is the journal's drain/resume lifecycle state (§4.5).
type AdminState int

const (
	AdminNormal AdminState = iota
	AdminSuspending
	AdminSaving
	AdminSaved
	AdminResuming
)

// headerID/Major/Minor/Size are the persisted state's fixed
// header fields (§6): id=RECOVERY_JOURNAL, version 7.0, 24-byte payload.
const (
	headerID      = 7
	headerMajor   = 7
	headerMinor   = 0
	headerSize    = 24
	headerEncoded = 1 + 2 + 2 + 4 + headerSize
)

// Config bundles a Journal's fixed tunables and collaborators.
type Config struct {
	Size             uint64 // number of blocks in the ring
	EntriesPerBlock  uint16
	NumLogicalZones  int
	NumPhysicalZones int
	WritePolicy      WritePolicy

	Store       physical.JournalBlockStore
	Flush       physical.FlushResource
	Committer   physical.SlabJournalCommitter
	EraNotifier physical.BlockMapEraNotifier
}

// Journal is the recovery journal. All of its mutable state is confined
// to the journal thread (§5); this implementation guards that
// confinement with a mutex instead of an actual dedicated goroutine,
// since there is no real scheduler in this module's scope (§9).
type Journal struct {
	mu  sync.Mutex
	log *vdolog.Logger

	cfg Config

	tail            vtypes.SequenceNumber
	appendPoint     vtypes.JournalPoint
	blockMapHead    vtypes.SequenceNumber
	slabJournalHead vtypes.SequenceNumber

	availableSpace        int
	pendingDecrementCount int
	diskFullCount         int

	free   []*journalblock.Block
	active []*journalblock.Block

	incrementWaiters *waitqueue.Queue
	decrementWaiters *waitqueue.Queue

	adminState AdminState
	readOnly   bool

	addingEntries     bool
	pendingWriteCount int

	recoveryCount uint8
	commitPoint   vtypes.JournalPoint

	logicalBlocksUsed  uint64
	blockMapDataBlocks uint64

	lockCounter *lockcounter.Counter
}

// New allocates a journal ring of cfg.Size free blocks and activates the
// first one at tail 0.
func New(cfg Config) *Journal {
	j := &Journal{
		log:              vdolog.New("recovery-journal"),
		cfg:              cfg,
		availableSpace:   int(cfg.Size) * int(cfg.EntriesPerBlock),
		incrementWaiters: waitqueue.New(),
		decrementWaiters: waitqueue.New(),
	}
	j.lockCounter = lockcounter.New(int(cfg.Size), cfg.NumLogicalZones, cfg.NumPhysicalZones, j.onSlotUnlocked)
	for i := uint64(0); i < cfg.Size; i++ {
		j.free = append(j.free, journalblock.New(cfg.EntriesPerBlock))
	}
	j.activateNextFreeBlock()
	return j
}

func (j *Journal) activeBlock() *journalblock.Block {
	if len(j.active) == 0 {
		return nil
	}
	return j.active[len(j.active)-1]
}

func (j *Journal) activateNextFreeBlock() {
	if len(j.free) == 0 {
		panic("recoveryjournal: tail advance with no free blocks; ring size and available_space disagree")
	}
	block := j.free[len(j.free)-1]
	j.free = j.free[:len(j.free)-1]
	block.Initialize(j.tail, j.cfg.Size)
	j.lockCounter.Initialize(int(j.tail%j.cfg.Size), j.cfg.EntriesPerBlock)
	j.active = append(j.active, block)
}

func (j *Journal) slotFor(seq vtypes.SequenceNumber) int { return int(uint64(seq) % j.cfg.Size) }

// Tail, BlockMapHead, SlabJournalHead, AvailableSpace, IsReadOnly, and
// AdminStateValue expose read-only snapshots for tests and diagnostics.
func (j *Journal) Tail() vtypes.SequenceNumber {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.tail
}

func (j *Journal) BlockMapHead() vtypes.SequenceNumber {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.blockMapHead
}

func (j *Journal) SlabJournalHead() vtypes.SequenceNumber {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.slabJournalHead
}

// JournalHead is the min of the two independent reap fronts (§3).
func (j *Journal) JournalHead() vtypes.SequenceNumber {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.journalHeadLocked()
}

func (j *Journal) journalHeadLocked() vtypes.SequenceNumber {
	if j.blockMapHead < j.slabJournalHead {
		return j.blockMapHead
	}
	return j.slabJournalHead
}

func (j *Journal) AvailableSpace() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.availableSpace
}

func (j *Journal) IsReadOnly() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.readOnly
}

func (j *Journal) AdminStateValue() AdminState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.adminState
}

func (j *Journal) DiskFullCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.diskFullCount
}

// AddEntry admits vio into the journal (§4.5 "Append"). Rejection for an
// invalid admin state or a read-only journal calls vio back immediately
// with the appropriate error.
func (j *Journal) AddEntry(ctx context.Context, vio *vtypes.DataVIO) {
	j.mu.Lock()

	if j.readOnly {
		j.mu.Unlock()
		vio.Fail(ctx, vdoerr.ErrReadOnly)
		return
	}
	if j.adminState != AdminNormal {
		j.mu.Unlock()
		vio.Fail(ctx, vdoerr.ErrAdminStateInvalid)
		return
	}

	j.appendPoint.EntryCount++
	if j.appendPoint.EntryCount >= uint16(j.cfg.EntriesPerBlock) {
		j.appendPoint.EntryCount = 0
		j.appendPoint.SequenceNumber++
	}

	if vio.Operation.IsIncrement() {
		j.incrementWaiters.Enqueue(vio)
	} else {
		j.pendingDecrementCount++
		j.decrementWaiters.Enqueue(vio)
	}

	j.assignEntries(ctx)
	j.mu.Unlock()
}

// assignEntries drains decrement_waiters first, then increment_waiters,
// under the single-entry re-entry guard described in §4.5. Must be
// called with j.mu held.
func (j *Journal) assignEntries(ctx context.Context) {
	if j.addingEntries {
		return
	}
	j.addingEntries = true
	defer func() { j.addingEntries = false }()

	for !j.decrementWaiters.IsEmpty() {
		if j.availableSpace <= 0 {
			j.enterReadOnlyLocked(ctx, vdoerr.ErrJournalFull)
			return
		}
		vio := j.decrementWaiters.Dequeue().(*vtypes.DataVIO)
		j.pendingDecrementCount--
		j.assignEntry(ctx, vio)
	}

	for !j.incrementWaiters.IsEmpty() {
		if j.availableSpace-j.pendingDecrementCount <= 1 {
			j.diskFullCount++
			break
		}
		vio := j.incrementWaiters.Dequeue().(*vtypes.DataVIO)
		j.assignEntry(ctx, vio)
	}

	if j.pendingWriteCount == 0 {
		if block := j.activeBlock(); block != nil && block.IsDirty() {
			j.scheduleCommit(ctx, block)
		}
	}
	j.checkCommitThreshold(ctx)
}

// assignEntry journals one admitted data_vio against the active block,
// advancing the tail first if it is full. Must be called with j.mu held.
func (j *Journal) assignEntry(ctx context.Context, vio *vtypes.DataVIO) {
	block := j.activeBlock()
	if block.IsFull() {
		j.advanceTail(ctx, block)
		block = j.activeBlock()
	}

	point, err := block.EnqueueEntry(vio.Operation, vio.NewMapped, vio.Allocated)
	if err != nil {
		// The tail advance above guarantees room; a failure here means
		// the ring and available_space bookkeeping have diverged.
		panic(fmt.Sprintf("recoveryjournal: enqueue onto freshly advanced block failed: %v", err))
	}
	vio.RecoveryJournalPoint = point
	block.AddEntryWaiter(vio)

	zoneID := int(uint64(vio.NewMapped.PBN) % uint64(j.cfg.NumPhysicalZones))
	slot := j.slotFor(point.SequenceNumber)
	if vio.Operation.IsIncrement() {
		j.lockCounter.AcquireLock(slot, vtypes.PhysicalZone, zoneID)
	} else {
		j.lockCounter.ReleaseLock(slot, vtypes.PhysicalZone, zoneID)
	}
	j.availableSpace--

	if !vio.NewMapped.Unmapped {
		if vio.Operation.IsIncrement() {
			j.logicalBlocksUsed++
		} else {
			j.logicalBlocksUsed--
		}
	}
	if vio.Operation.IsBlockMap() {
		if vio.Operation.IsIncrement() {
			j.blockMapDataBlocks++
		} else {
			j.blockMapDataBlocks--
		}
	}

	if block.IsFull() {
		j.scheduleCommit(ctx, block)
	}
}

// advanceTail pops a free block, activates it, and notifies the block
// map to advance its era (§4.5 "Tail advance"). Must be called with j.mu
// held.
func (j *Journal) advanceTail(ctx context.Context, full *journalblock.Block) {
	// full is already the most recent entry in j.active (it was pushed
	// there by activateNextFreeBlock's predecessor call); nothing to
	// reorder, active_tail_blocks stays ordered oldest-first by
	// construction.
	j.tail++
	if j.tail >= vtypes.MaxSequenceNumber {
		j.enterReadOnlyLocked(ctx, vdoerr.ErrJournalOverflow)
		return
	}
	j.activateNextFreeBlock()
	if j.cfg.EraNotifier != nil {
		j.cfg.EraNotifier.AdvanceEra(ctx, j.tail)
	}
}

// scheduleCommit starts a commit for block per the configured write
// policy (§4.5 "Commit policy"). Must be called with j.mu held.
func (j *Journal) scheduleCommit(ctx context.Context, block *journalblock.Block) {
	if !block.CanCommit() {
		return
	}
	if j.pendingWriteCount > 0 {
		// Only one outstanding write is modeled regardless of policy: the
		// real ASYNC policy defers precisely because another commit is
		// outstanding, and SYNC/ASYNC_UNSAFE never race two block writes
		// against this single-threaded stand-in journal thread anyway.
		return
	}

	correlation := uuid.New()
	j.pendingWriteCount++
	block.Commit(
		func(b *journalblock.Block) { j.onCommitSucceeded(ctx, b, correlation) },
		func(b *journalblock.Block, err error) { j.onCommitFailed(ctx, b, err, correlation) },
	)

	payload := block.Encode(j.recoveryCount)
	var writeErr error
	if j.cfg.Store != nil {
		writeErr = j.cfg.Store.WriteBlock(ctx, block.BlockNumber(), payload)
	}
	if writeErr != nil {
		block.FailCommit(writeErr, j.failureNotifier(ctx, writeErr))
		return
	}
	block.CompleteCommit(j.successNotifier(ctx))
}

// successNotifier advances commit_point in journal-point order (§8
// property 3) and releases each waiter on its normal completion path.
func (j *Journal) successNotifier(ctx context.Context) func(vtypes.Waiter) {
	return func(w vtypes.Waiter) {
		vio := w.(*vtypes.DataVIO)
		if vio.RecoveryJournalPoint.Before(j.commitPoint) {
			panic("recoveryjournal: commit waiter released out of journal-point order")
		}
		j.commitPoint = vio.RecoveryJournalPoint
		vio.Continue(ctx)
	}
}

// failureNotifier fails every waiter on the block with err, without
// advancing commit_point (the entries never committed).
func (j *Journal) failureNotifier(ctx context.Context, err error) func(vtypes.Waiter) {
	return func(w vtypes.Waiter) {
		w.(*vtypes.DataVIO).Fail(ctx, err)
	}
}

func (j *Journal) onCommitSucceeded(ctx context.Context, block *journalblock.Block, correlation string) {
	j.pendingWriteCount--
	j.log.Debug("journal block committed", "seq", block.SequenceNumber(), "correlation", correlation)
	j.lockCounter.ReleaseJournalLock(j.slotFor(block.SequenceNumber()))
	j.checkReap(ctx)
	j.retryAfterReap(ctx)
}

func (j *Journal) onCommitFailed(ctx context.Context, block *journalblock.Block, err error, correlation string) {
	j.pendingWriteCount--
	j.log.Error("journal block write failed", "seq", block.SequenceNumber(), "correlation", correlation, "err", err)
	j.enterReadOnlyLocked(ctx, vdoerr.ErrReadOnly)
}

// checkCommitThreshold forces the oldest slab journal tail blocks to
// commit once tail - slab_journal_head exceeds 2/3 of the ring (§4.5).
// Must be called with j.mu held.
func (j *Journal) checkCommitThreshold(ctx context.Context) {
	if j.cfg.Committer == nil {
		return
	}
	threshold := vtypes.SequenceNumber((j.cfg.Size * 2) / 3)
	if j.tail-j.slabJournalHead > threshold {
		if err := j.cfg.Committer.CommitOldestTailBlocks(ctx, j.slabJournalHead); err != nil {
			j.log.Warn("slab journal commit-threshold call failed", "err", err)
		}
	}
}

// checkReap advances block_map_reap_head and slab_journal_reap_head
// independently (§4.5, §9) while their respective zone type holds no
// lock on the block at that position, then frees any block both heads
// have passed back to the free ring. Must be called with j.mu held.
func (j *Journal) checkReap(ctx context.Context) {
	for j.blockMapHead < j.tail && !j.lockCounter.IsLockedByAnyLogicalZone(j.slotFor(j.blockMapHead)) {
		j.blockMapHead++
	}
	for j.slabJournalHead < j.tail && !j.lockCounter.IsLockedByAnyPhysicalZone(j.slotFor(j.slabJournalHead)) {
		j.slabJournalHead++
	}

	newHead := j.journalHeadLocked()
	recovered := 0
	for len(j.active) > 0 && j.active[0].SequenceNumber() < newHead {
		block := j.active[0]
		if j.lockCounter.IsLocked(j.slotFor(block.SequenceNumber())) {
			break
		}
		j.active = j.active[1:]
		j.free = append(j.free, block)
		recovered++
	}
	if recovered > 0 {
		if j.cfg.WritePolicy != SyncPolicy && j.cfg.Flush != nil {
			if err := j.cfg.Flush.Flush(ctx); err != nil {
				j.log.Warn("pre-reap flush failed", "err", err)
			}
		}
		j.availableSpace += recovered * int(j.cfg.EntriesPerBlock)
	}
}

func (j *Journal) retryAfterReap(ctx context.Context) {
	j.assignEntries(ctx)
}

// onSlotUnlocked is lockcounter's notify-when-zero callback; reap
// progress is also driven eagerly from checkReap, so this only logs.
func (j *Journal) onSlotUnlocked(slot int) {
	j.log.Debug("journal block slot fully unlocked", "slot", slot)
}

// AcquireBlockReference and ReleaseBlockReference are the external
// consumer operations named in §6:
// acquire/release_recovery_journal_block_reference.
func (j *Journal) AcquireBlockReference(seq vtypes.SequenceNumber, zoneType vtypes.ZoneType, zoneID int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.lockCounter.AcquireLock(j.slotFor(seq), zoneType, zoneID)
}

func (j *Journal) ReleaseBlockReference(ctx context.Context, seq vtypes.SequenceNumber, zoneType vtypes.ZoneType, zoneID int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.lockCounter.ReleaseLock(j.slotFor(seq), zoneType, zoneID)
	j.checkReap(ctx)
	j.retryAfterReap(ctx)
	j.checkCommitThreshold(ctx)
}

// enterReadOnlyLocked notifies every waiter of read-only failure and
// attempts drain completion (§4.5 "Read-only degradation"). Must be
// called with j.mu held.
func (j *Journal) enterReadOnlyLocked(ctx context.Context, cause error) {
	if j.readOnly {
		return
	}
	j.readOnly = true
	j.log.Error("recovery journal entering read-only", "cause", vdoerr.WithCallSite(cause))

	failAll := func(q *waitqueue.Queue) {
		q.NotifyAll(func(w vtypes.Waiter) {
			w.(*vtypes.DataVIO).Fail(ctx, vdoerr.ErrReadOnly)
		})
	}
	failAll(j.incrementWaiters)
	failAll(j.decrementWaiters)
	notify := j.failureNotifier(ctx, vdoerr.ErrReadOnly)
	for _, block := range j.active {
		block.ReleaseAllWaiters(notify)
	}
	j.checkDrainCompleteLocked()
}

// Drain records the requested admin state and reports whether the drain
// has already completed (§4.5 "Drain & resume").
func (j *Journal) Drain(operation AdminState) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.adminState = operation
	return j.checkDrainCompleteLocked()
}

func (j *Journal) checkDrainCompleteLocked() bool {
	if j.adminState != AdminSuspending && j.adminState != AdminSaving {
		return false
	}
	notReaping := j.pendingWriteCount == 0
	noWaiters := j.incrementWaiters.IsEmpty() && j.decrementWaiters.IsEmpty()
	if !notReaping || !noWaiters {
		return false
	}
	if j.adminState == AdminSaving {
		for _, b := range j.active {
			if !b.IsEmpty() {
				return false
			}
		}
	}
	if j.adminState == AdminSaving {
		j.adminState = AdminSaved
	}
	return true
}

// Resume transitions the journal back to NORMAL; it fails if the
// journal is read-only.
func (j *Journal) Resume() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.readOnly {
		return vdoerr.ErrReadOnly
	}
	j.adminState = AdminNormal
	return nil
}

// EncodeState serializes the journal's persisted header+payload (§6).
func (j *Journal) EncodeState() []byte {
	j.mu.Lock()
	defer j.mu.Unlock()

	journalStart := j.journalHeadLocked()
	if j.adminState == AdminSaved {
		journalStart = j.tail
	}
	return encodeState(journalStart, j.logicalBlocksUsed, j.blockMapDataBlocks)
}

func encodeState(journalStart vtypes.SequenceNumber, logicalBlocksUsed, blockMapDataBlocks uint64) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(headerID)
	writeUint16(buf, headerMajor)
	writeUint16(buf, headerMinor)
	writeUint32(buf, headerSize)
	writeUint64(buf, uint64(journalStart))
	writeUint64(buf, logicalBlocksUsed)
	writeUint64(buf, blockMapDataBlocks)
	return buf.Bytes()
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

// DecodedState is the decoded persisted journal state (§6).
type DecodedState struct {
	JournalStart       vtypes.SequenceNumber
	LogicalBlocksUsed  uint64
	BlockMapDataBlocks uint64
}

// DecodeState validates the header and parses the payload fields.
func DecodeState(buf []byte) (DecodedState, error) {
	if len(buf) < headerEncoded {
		return DecodedState{}, fmt.Errorf("recoveryjournal: state buffer too short: %d bytes", len(buf))
	}
	pos := 0
	id := buf[pos]
	pos++
	major := binary.LittleEndian.Uint16(buf[pos : pos+2])
	pos += 2
	minor := binary.LittleEndian.Uint16(buf[pos : pos+2])
	pos += 2
	size := binary.LittleEndian.Uint32(buf[pos : pos+4])
	pos += 4
	if id != headerID || major != headerMajor || minor != headerMinor || size != headerSize {
		return DecodedState{}, fmt.Errorf("recoveryjournal: header mismatch: id=%d major=%d minor=%d size=%d", id, major, minor, size)
	}
	journalStart := binary.LittleEndian.Uint64(buf[pos : pos+8])
	pos += 8
	logicalBlocksUsed := binary.LittleEndian.Uint64(buf[pos : pos+8])
	pos += 8
	blockMapDataBlocks := binary.LittleEndian.Uint64(buf[pos : pos+8])
	return DecodedState{
		JournalStart:       vtypes.SequenceNumber(journalStart),
		LogicalBlocksUsed:  logicalBlocksUsed,
		BlockMapDataBlocks: blockMapDataBlocks,
	}, nil
}
