// Package hashlock implements the per-hash state machine coordinating
// dedupe among concurrent writers of identical content (spec §4.1).
// enter/continue/continue_on_error all run on the lock's owning hash
// zone thread (§5); this package has no locking of its own and relies
// on that single-threaded affinity, the same way the zone's map and
// waiters are only ever touched from their owning thread.
package hashlock

import (
	"context"

	mapset "github.com/deckarep/golang-set"
	"github.com/pborman/uuid"

	"github.com/berithfoundation/vdocore/internal/pbnlock"
	"github.com/berithfoundation/vdocore/internal/vdoerr"
	"github.com/berithfoundation/vdocore/internal/vdolog"
	"github.com/berithfoundation/vdocore/internal/vtypes"
	"github.com/berithfoundation/vdocore/internal/waitqueue"
)

// State is the hash lock's state discriminant (§3, §9: a closed set,
// dispatched with a structured match rather than a vtable).
type State int

const (
	StateInitializing State = iota
	StateQuerying
	StateLocking
	StateVerifying
	StateDeduping
	StateWriting
	StateUpdating
	StateUnlocking
	StateBypassing
	StateDestroying
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "INITIALIZING"
	case StateQuerying:
		return "QUERYING"
	case StateLocking:
		return "LOCKING"
	case StateVerifying:
		return "VERIFYING"
	case StateDeduping:
		return "DEDUPING"
	case StateWriting:
		return "WRITING"
	case StateUpdating:
		return "UPDATING"
	case StateUnlocking:
		return "UNLOCKING"
	case StateBypassing:
		return "BYPASSING"
	case StateDestroying:
		return "DESTROYING"
	default:
		return "UNKNOWN"
	}
}

// ZoneHandle is the hash zone operations a lock needs from its owner,
// defined here (not in hashzone) so this package never imports hashzone
// and creates a cycle: hashzone already imports hashlock to hold
// *Lock values in its registry (§9).
type ZoneHandle interface {
	ID() int
	Acquire(ctx context.Context, vio *vtypes.DataVIO, previous *Lock) *Lock
	Replace(old, newLock *Lock)
	BumpValidAdvice()
	BumpStaleAdvice()
	BumpDataMatch()
}

// Collaborators is the set of asynchronous external operations a hash
// lock's states invoke (index query, PBN lock, verify, write, update,
// release); each must eventually call back Continue or ContinueOnError
// for the agent it was given (§9: continuation records posted into
// per-thread work queues — modeled here as a plain callback interface
// since the real scheduler is out of scope, §1).
type Collaborators interface {
	Query(ctx context.Context, lock *Lock, agent *vtypes.DataVIO)
	AttemptPBNLock(ctx context.Context, lock *Lock, agent *vtypes.DataVIO)
	Verify(ctx context.Context, lock *Lock, agent *vtypes.DataVIO)
	ShareBlock(ctx context.Context, lock *Lock, members []*vtypes.DataVIO)
	Write(ctx context.Context, lock *Lock, agent *vtypes.DataVIO)
	UpdateIndex(ctx context.Context, lock *Lock, agent *vtypes.DataVIO)
	ReleasePBNLock(ctx context.Context, lock *Lock)
}

// Lock is the per-content-hash state machine of §3/§4.1.
type Lock struct {
	id            string
	zone          ZoneHandle
	collaborators Collaborators
	log           *vdolog.Logger

	state State
	hash  vtypes.ChunkName

	registered bool

	agent   *vtypes.DataVIO
	waiters *waitqueue.Queue
	members mapset.Set

	duplicate     vtypes.DuplicateLocation
	hasDuplicate  bool
	verified      bool
	verifyCounted bool
	updateAdvice  bool
	duplicateLock *pbnlock.Lock

	agentIsDone bool
}

// New returns a fresh INITIALIZING lock bound to zone.
func New(collaborators Collaborators, zone ZoneHandle) *Lock {
	return &Lock{
		id:            uuid.New(),
		zone:          zone,
		collaborators: collaborators,
		waiters:       waitqueue.New(),
		members:       mapset.NewSet(),
		log:           vdolog.New("hash-lock"),
	}
}

func (l *Lock) State() State             { return l.state }
func (l *Lock) Hash() vtypes.ChunkName   { return l.hash }
func (l *Lock) IsRegistered() bool       { return l.registered }
func (l *Lock) ReferenceCount() int      { return l.members.Cardinality() }
func (l *Lock) DuplicateLock() *pbnlock.Lock { return l.duplicateLock }

// Register marks the lock as owning the zone's hash-table slot for
// hash, per §3's `registered` bool.
func (l *Lock) Register(zoneID int, hash vtypes.ChunkName) {
	l.registered = true
	l.hash = hash
}

func (l *Lock) Unregister() { l.registered = false }

// AgentOrMember returns a representative data_vio for content
// comparison against a hash-collision candidate (§4.1).
func (l *Lock) AgentOrMember() *vtypes.DataVIO {
	if l.agent != nil {
		return l.agent
	}
	for _, v := range l.members.ToSlice() {
		return v.(*vtypes.DataVIO)
	}
	return nil
}

// AddMember adds vio to the member set without changing state; callers
// use Enter for the full admission contract.
func (l *Lock) AddMember(vio *vtypes.DataVIO) {
	vio.LockHolder = l
	l.members.Add(vio)
}

// Reset clears the lock back to its zero value for reuse from the pool
// (§4.2 "returns the object to the pool").
func (l *Lock) Reset() {
	l.id = uuid.New()
	l.state = StateInitializing
	l.hash = vtypes.ChunkName{}
	l.registered = false
	l.agent = nil
	l.waiters = waitqueue.New()
	l.members = mapset.NewSet()
	l.duplicate = vtypes.DuplicateLocation{}
	l.hasDuplicate = false
	l.verified = false
	l.verifyCounted = false
	l.updateAdvice = false
	l.duplicateLock = nil
	l.agentIsDone = false
}

// DebugString is a one-line dump of the lock's shape, grounded on
// kvdo's sysfs dump_hash_lock (supplemented feature, not in spec.md).
func (l *Lock) DebugString() string {
	return l.state.String() + " refs=" + itoa(l.ReferenceCount()) +
		" dup=" + itoa(int(l.duplicate.PBN)) + " registered=" + boolStr(l.registered)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b [20]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		b[i] = '-'
	}
	return string(b[i:])
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// Enter admits vio to the lock (§4.1 "enter(data_vio) admits a
// write"). A fresh lock's only valid target is INITIALIZING; later
// arrivals either queue as waiters or, in DEDUPING, attempt to share
// the duplicate block immediately.
func (l *Lock) Enter(ctx context.Context, vio *vtypes.DataVIO) {
	vio.LockHolder = l

	switch l.state {
	case StateInitializing:
		l.agent = vio
		l.members.Add(vio)
		l.enterState(ctx, StateQuerying)
	case StateDeduping:
		l.members.Add(vio)
		if l.duplicateLock != nil && l.duplicateLock.ClaimIncrement() {
			l.collaborators.ShareBlock(ctx, l, []*vtypes.DataVIO{vio})
		} else {
			l.fork(ctx, vio)
		}
	case StateBypassing, StateDestroying:
		// The lock is on its way out; the caller should not have handed
		// this data_vio a reference to it, but fail safe rather than
		// silently drop the write.
		vio.Fail(ctx, vdoerr.ErrBogusState)
	default:
		l.waiters.Enqueue(vio)
	}
}

// enterState sets the new state and runs its entry action (§4.1, §9).
func (l *Lock) enterState(ctx context.Context, s State) {
	l.state = s
	switch s {
	case StateQuerying:
		l.collaborators.Query(ctx, l, l.agent)
	case StateLocking:
		l.collaborators.AttemptPBNLock(ctx, l, l.agent)
	case StateVerifying:
		l.collaborators.Verify(ctx, l, l.agent)
	case StateDeduping:
		l.enterDeduping(ctx)
	case StateWriting:
		if !l.selectWritingAgent(ctx) {
			return
		}
		l.collaborators.Write(ctx, l, l.agent)
	case StateUpdating:
		l.collaborators.UpdateIndex(ctx, l, l.agent)
	case StateUnlocking:
		l.collaborators.ReleasePBNLock(ctx, l)
	case StateBypassing:
		l.enterBypassing(ctx)
	case StateDestroying:
		l.enterDestroying(ctx)
	}
}

// enterDeduping releases the entering data_vio plus as many already
// queued waiters as the duplicate lock has increments left for, one at
// a time, into the per-vio share-block operation. A nil duplicateLock
// means the shared block is content this lock just wrote itself (no
// existing duplicate was ever claimed against), so every waiter shares
// it unconditionally; otherwise the first waiter a claim fails for —
// and everyone still queued behind it — forks off to a new lock instead
// of pretending the whole batch deduped (§4.1 DEDUPING, §8 scenario 5:
// "rollover").
func (l *Lock) enterDeduping(ctx context.Context) {
	members := []*vtypes.DataVIO{l.agent}
	l.agent = nil

	for !l.waiters.IsEmpty() {
		vio := l.waiters.Dequeue().(*vtypes.DataVIO)
		if l.duplicateLock != nil && !l.duplicateLock.ClaimIncrement() {
			l.fork(ctx, vio)
			break
		}
		l.members.Add(vio)
		members = append(members, vio)
	}

	l.collaborators.ShareBlock(ctx, l, members)
}

// selectWritingAgent implements the WRITING agent-selection rule
// (§4.1): prefer the current agent if it has an allocation; else the
// first waiter with one, swapped to the front. No allocation anywhere
// means BYPASSING.
func (l *Lock) selectWritingAgent(ctx context.Context) bool {
	if l.agent != nil && l.agent.HasAllocation {
		return true
	}
	var found *vtypes.DataVIO
	remaining := waitqueue.New()
	l.waiters.NotifyAll(func(w vtypes.Waiter) {
		vio := w.(*vtypes.DataVIO)
		if found == nil && vio.HasAllocation {
			found = vio
			return
		}
		remaining.Enqueue(vio)
	})
	l.waiters = remaining
	if found == nil {
		if l.agent != nil {
			remaining2 := waitqueue.New()
			remaining2.Enqueue(l.agent)
			l.waiters.TransferAllTo(remaining2)
			l.waiters = remaining2
		}
		l.agent = nil
		l.enterState(ctx, StateBypassing)
		return false
	}
	if l.agent != nil {
		l.waiters.Enqueue(l.agent)
	}
	l.agent = found
	l.members.Add(found)
	return true
}

// Continue is invoked by a collaborator when the asynchronous operation
// it started for vio has completed successfully (§4.1 contract).
func (l *Lock) Continue(ctx context.Context, vio *vtypes.DataVIO) {
	switch l.state {
	case StateQuerying:
		l.afterQuerying(ctx)
	case StateLocking:
		l.afterLocking(ctx, vio)
	case StateVerifying:
		l.afterVerifying(ctx)
	case StateDeduping:
		l.afterDedupingMember(ctx, vio)
	case StateWriting:
		l.afterWriting(ctx, vio)
	case StateUpdating:
		l.afterUpdating(ctx)
	case StateUnlocking:
		l.afterUnlocking(ctx)
	case StateBypassing, StateDestroying:
		// terminal; nothing left to drive forward.
	default:
		vio.Fail(ctx, vdoerr.ErrBogusState)
	}
}

// ContinueOnError aborts the lock's current async action (§4.1
// "Errors"). If vio is the agent, the whole lock bypasses; otherwise
// only vio is ejected.
func (l *Lock) ContinueOnError(ctx context.Context, vio *vtypes.DataVIO, err error) {
	vio.Result = err
	if l.state == StateBypassing || l.state == StateDestroying {
		vio.Continue(ctx)
		return
	}
	if vio == l.agent {
		l.enterState(ctx, StateBypassing)
		return
	}
	l.members.Remove(vio)
	vio.Continue(ctx)
}

// afterQuerying routes on whether the index had advice. Fresh (no
// advice) data always schedules an index update once it lands, so a
// later writer of the same content finds it (§4.1 QUERYING/UPDATING).
func (l *Lock) afterQuerying(ctx context.Context) {
	if l.hasDuplicate {
		l.enterState(ctx, StateLocking)
	} else {
		l.updateAdvice = true
		l.enterState(ctx, StateWriting)
	}
}

func (l *Lock) afterLocking(ctx context.Context, vio *vtypes.DataVIO) {
	switch {
	case !vio.IsDuplicate:
		l.enterState(ctx, StateWriting)
	case !l.verified:
		l.enterState(ctx, StateVerifying)
	case l.duplicateLock == nil || !l.duplicateLock.ClaimIncrement():
		l.verified = false
		l.updateAdvice = true
		l.enterState(ctx, StateUnlocking)
	default:
		l.enterState(ctx, StateDeduping)
	}
}

// RecordAdvice is called by the Query collaborator once it knows
// whether the index returned a candidate duplicate.
func (l *Lock) RecordAdvice(found bool) {
	l.hasDuplicate = found
}

// SetDuplicateLock installs the PBN lock a successful AttemptPBNLock
// obtained, so later states can claim increments against it or
// downgrade it once the agent's own write has landed.
func (l *Lock) SetDuplicateLock(lock *pbnlock.Lock) {
	l.duplicateLock = lock
}

// RecordVerification is called by the Verify collaborator with the
// byte-compare outcome before calling Continue.
func (l *Lock) RecordVerification(matched bool) {
	l.verified = matched
	if !l.verifyCounted {
		l.verifyCounted = true
		if matched {
			l.zone.BumpValidAdvice()
		} else {
			l.zone.BumpStaleAdvice()
		}
	}
}

func (l *Lock) afterVerifying(ctx context.Context) {
	if l.verified && l.duplicateLock != nil && l.duplicateLock.ClaimIncrement() {
		l.enterState(ctx, StateDeduping)
		return
	}
	l.updateAdvice = true
	l.verified = false
	l.enterState(ctx, StateUnlocking)
}

// afterDedupingMember handles one member's share-block completion; the
// last to return becomes the next agent (§4.1 DEDUPING).
func (l *Lock) afterDedupingMember(ctx context.Context, vio *vtypes.DataVIO) {
	if l.ReferenceCount() > 1 {
		// Other members may still be sharing; only the last one standing
		// drives the transition onward. The caller (collaborator) is
		// expected to call this once per member; we treat the member as
		// done by removing it unless it is the one chosen to continue.
		l.members.Remove(vio)
		return
	}
	l.members.Remove(vio)
	l.agent = vio
	if l.updateAdvice {
		l.members.Add(vio)
		l.enterState(ctx, StateUpdating)
	} else {
		l.members.Add(vio)
		l.enterState(ctx, StateUnlocking)
	}
}

func (l *Lock) afterWriting(ctx context.Context, vio *vtypes.DataVIO) {
	l.duplicate = vtypes.DuplicateLocation{PBN: vio.NewMapped.PBN}
	l.verified = true

	if vio.NewMapped.Compressed && l.registered {
		l.updateAdvice = true
	}

	if !l.waiters.IsEmpty() {
		l.agentIsDone = true
		l.enterState(ctx, StateDeduping)
		return
	}
	if l.updateAdvice {
		l.enterState(ctx, StateUpdating)
		return
	}
	if l.duplicateLock != nil {
		l.duplicateLock.DowngradeWriteToRead()
		l.enterState(ctx, StateUnlocking)
		return
	}
	l.enterState(ctx, StateDestroying)
}

func (l *Lock) afterUpdating(ctx context.Context) {
	l.updateAdvice = false
	if !l.waiters.IsEmpty() {
		l.agentIsDone = true
		l.enterState(ctx, StateDeduping)
		return
	}
	if l.duplicateLock != nil {
		l.enterState(ctx, StateUnlocking)
		return
	}
	l.enterState(ctx, StateDestroying)
}

func (l *Lock) afterUnlocking(ctx context.Context) {
	l.duplicateLock = nil
	if !l.verified {
		l.enterState(ctx, StateWriting)
		return
	}
	if !l.waiters.IsEmpty() {
		if l.agent != nil {
			l.members.Remove(l.agent)
		}
		newAgent := l.waiters.Dequeue().(*vtypes.DataVIO)
		l.agent = newAgent
		l.members.Add(newAgent)
		l.enterState(ctx, StateLocking)
		return
	}
	l.enterState(ctx, StateDestroying)
}

// fork implements §4.1 "Fork (rollover)": a new lock takes the old
// lock's registry slot and all of its waiters, including the triggering
// data_vio, then goes straight to WRITING.
func (l *Lock) fork(ctx context.Context, triggering *vtypes.DataVIO) {
	newLock := New(l.collaborators, l.zone)
	l.updateAdvice = false
	newLock.updateAdvice = true
	newLock.hash = l.hash

	l.zone.Replace(l, newLock)

	l.waiters.TransferAllTo(newLock.waiters)
	l.members.Remove(triggering)

	newLock.agent = triggering
	newLock.members.Add(triggering)
	triggering.LockHolder = newLock
	newLock.enterState(ctx, StateWriting)
}

// enterBypassing drops any held duplicate lock and fails every waiter
// and the agent with vdoerr.ErrHashLockAbort (§4.1 BYPASSING); none of
// their data is written by this lock.
func (l *Lock) enterBypassing(ctx context.Context) {
	l.updateAdvice = false
	if l.duplicateLock != nil {
		l.collaborators.ReleasePBNLock(ctx, l)
		l.duplicateLock = nil
	}
	l.waiters.NotifyAll(func(w vtypes.Waiter) {
		vio := w.(*vtypes.DataVIO)
		l.members.Remove(vio)
		vio.Fail(ctx, vdoerr.ErrHashLockAbort)
	})
	if l.agent != nil {
		agent := l.agent
		l.agent = nil
		l.members.Remove(agent)
		agent.Fail(ctx, vdoerr.ErrHashLockAbort)
	}
	l.enterState(ctx, StateDestroying)
}

// enterDestroying drops the agent and checks that reference_count has
// reached zero (§3, §4.1). It does not unregister or pool the lock; the
// caller does that through the zone's Release.
func (l *Lock) enterDestroying(ctx context.Context) {
	if l.agent != nil {
		l.members.Remove(l.agent)
		l.agent = nil
	}
	if l.ReferenceCount() != 0 {
		panic("hashlock: DESTROYING entered with a nonzero reference count")
	}
}
