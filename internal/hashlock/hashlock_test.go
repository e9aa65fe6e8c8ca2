package hashlock

import (
	"context"
	"testing"

	"github.com/berithfoundation/vdocore/internal/pbnlock"
	"github.com/berithfoundation/vdocore/internal/vdoerr"
	"github.com/berithfoundation/vdocore/internal/vtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeZone is a minimal ZoneHandle recording fork replacements and
// advice counters, without any real registry (hashzone has its own
// tests for the registry/pool machinery).
type fakeZone struct {
	id          int
	replacedOld *Lock
	replacedNew *Lock
	valid       int
	stale       int
	dataMatch   int
}

func (z *fakeZone) ID() int { return z.id }
func (z *fakeZone) Acquire(context.Context, *vtypes.DataVIO, *Lock) *Lock { return nil }
func (z *fakeZone) Replace(old, newLock *Lock) {
	z.replacedOld = old
	z.replacedNew = newLock
}
func (z *fakeZone) BumpValidAdvice() { z.valid++ }
func (z *fakeZone) BumpStaleAdvice() { z.stale++ }
func (z *fakeZone) BumpDataMatch()   { z.dataMatch++ }

// fakeCollaborators is a scripted Collaborators: each method stamps the
// lock with canned results and immediately calls Continue, modeling a
// synchronous stand-in for the real async index/PBN/write/verify steps.
type fakeCollaborators struct {
	hasDuplicate  bool
	isDuplicate   bool
	verifyMatches bool
	writeErr      error
	written       []*vtypes.DataVIO
	updated       []*vtypes.DataVIO
	released      int
}

func (c *fakeCollaborators) Query(ctx context.Context, lock *Lock, agent *vtypes.DataVIO) {
	lock.hasDuplicate = c.hasDuplicate
	if c.hasDuplicate {
		lock.duplicateLock = pbnlock.New(pbnlock.Read)
		lock.duplicateLock.SetIncrementLimit(10)
		agent.IsDuplicate = c.isDuplicate
	}
	lock.Continue(ctx, agent)
}

func (c *fakeCollaborators) AttemptPBNLock(ctx context.Context, lock *Lock, agent *vtypes.DataVIO) {
	lock.Continue(ctx, agent)
}

func (c *fakeCollaborators) Verify(ctx context.Context, lock *Lock, agent *vtypes.DataVIO) {
	lock.RecordVerification(c.verifyMatches)
	lock.Continue(ctx, agent)
}

func (c *fakeCollaborators) ShareBlock(ctx context.Context, lock *Lock, members []*vtypes.DataVIO) {
	for _, m := range members {
		m.NewMapped.PBN = lock.duplicate.PBN
		lock.Continue(ctx, m)
	}
}

func (c *fakeCollaborators) Write(ctx context.Context, lock *Lock, agent *vtypes.DataVIO) {
	c.written = append(c.written, agent)
	if c.writeErr != nil {
		lock.ContinueOnError(ctx, agent, c.writeErr)
		return
	}
	agent.NewMapped.PBN = 42
	lock.Continue(ctx, agent)
}

func (c *fakeCollaborators) UpdateIndex(ctx context.Context, lock *Lock, agent *vtypes.DataVIO) {
	c.updated = append(c.updated, agent)
	lock.Continue(ctx, agent)
}

func (c *fakeCollaborators) ReleasePBNLock(ctx context.Context, lock *Lock) {
	c.released++
	lock.Continue(ctx, lock.agent)
}

func newVIO(id uint64) *vtypes.DataVIO {
	v := &vtypes.DataVIO{ID: id, HasAllocation: true}
	v.Callback = func(context.Context, *vtypes.DataVIO) {}
	return v
}

func TestNewDataNoAdviceWritesAndDestroys(t *testing.T) {
	zone := &fakeZone{}
	collab := &fakeCollaborators{}
	lock := New(collab, zone)
	lock.Register(0, vtypes.ChunkName{1})
	ctx := context.Background()

	vio := newVIO(1)
	lock.Enter(ctx, vio)

	require.Len(t, collab.written, 1)
	assert.Equal(t, StateDestroying, lock.State())
	assert.NoError(t, vio.Result)
}

func TestValidAdviceDedupesWithoutWriting(t *testing.T) {
	zone := &fakeZone{}
	collab := &fakeCollaborators{hasDuplicate: true, isDuplicate: true, verifyMatches: true}
	lock := New(collab, zone)
	lock.Register(0, vtypes.ChunkName{2})
	ctx := context.Background()

	vio := newVIO(1)
	lock.Enter(ctx, vio)

	assert.Empty(t, collab.written)
	assert.Equal(t, StateDestroying, lock.State())
	assert.Equal(t, 1, zone.valid)
}

func TestStaleAdviceFallsBackToWriting(t *testing.T) {
	zone := &fakeZone{}
	collab := &fakeCollaborators{hasDuplicate: true, isDuplicate: true, verifyMatches: false}
	lock := New(collab, zone)
	lock.Register(0, vtypes.ChunkName{3})
	ctx := context.Background()

	vio := newVIO(1)
	lock.Enter(ctx, vio)

	require.Len(t, collab.written, 1)
	assert.Equal(t, 1, zone.stale)
	assert.Equal(t, 1, collab.released)
}

func TestConcurrentIdenticalWritesShareTheBlock(t *testing.T) {
	zone := &fakeZone{}
	collab := &fakeCollaborators{}
	lock := New(collab, zone)
	lock.Register(0, vtypes.ChunkName{4})
	ctx := context.Background()

	agent := newVIO(1)
	lock.agent = agent
	lock.members.Add(agent)
	agent.LockHolder = lock
	lock.state = StateWriting

	waiter := newVIO(2)
	lock.Enter(ctx, waiter)
	assert.Equal(t, 1, lock.waiters.Len())

	agent.NewMapped.PBN = 42
	lock.Continue(ctx, agent)

	assert.NoError(t, waiter.Result)
	assert.Equal(t, StateDestroying, lock.State())
	assert.Equal(t, agent.NewMapped.PBN, waiter.NewMapped.PBN)
}

// TestEnterDedupingDrainsWaitersOneAtATimeAndForksOnExhaustion exercises
// enterDeduping itself (not Enter's post-transition arrival branch):
// three waiters are already queued when the lock transitions into
// StateDeduping with only one increment left on the duplicate lock, so
// the first waiter shares the block and the remaining two fork off
// together (§8 scenario 5).
func TestEnterDedupingDrainsWaitersOneAtATimeAndForksOnExhaustion(t *testing.T) {
	zone := &fakeZone{}
	collab := &fakeCollaborators{}
	lock := New(collab, zone)
	lock.Register(0, vtypes.ChunkName{8})
	lock.duplicateLock = pbnlock.New(pbnlock.Read)
	lock.duplicateLock.SetIncrementLimit(1)
	ctx := context.Background()

	agent := newVIO(1)
	lock.agent = agent
	lock.members.Add(agent)
	agent.LockHolder = lock
	lock.state = StateWriting

	waiters := []*vtypes.DataVIO{newVIO(2), newVIO(3), newVIO(4)}
	for _, w := range waiters {
		lock.Enter(ctx, w)
	}
	assert.Equal(t, 3, lock.waiters.Len())

	agent.NewMapped.PBN = 42
	lock.verified = true
	lock.duplicate = vtypes.DuplicateLocation{PBN: 42}
	lock.enterState(ctx, StateDeduping)

	assert.NoError(t, waiters[0].Result)
	assert.Equal(t, agent.NewMapped.PBN, waiters[0].NewMapped.PBN)

	require.NotNil(t, zone.replacedNew)
	require.Len(t, collab.written, 1)
	assert.Same(t, waiters[1], collab.written[0])
	assert.NoError(t, waiters[1].Result)
	assert.NoError(t, waiters[2].Result)
}

func TestRegisterMarksLockRegistered(t *testing.T) {
	zone := &fakeZone{}
	collab := &fakeCollaborators{}
	lock := New(collab, zone)
	lock.Register(0, vtypes.ChunkName{5})

	assert.NotSame(t, lock, (*Lock)(nil))
	assert.True(t, lock.IsRegistered())
}

func TestRolloverForksWhenIncrementsExhausted(t *testing.T) {
	zone := &fakeZone{}
	collab := &fakeCollaborators{}
	lock := New(collab, zone)
	lock.Register(0, vtypes.ChunkName{7})
	lock.state = StateDeduping
	lock.duplicateLock = pbnlock.New(pbnlock.Read)
	lock.duplicateLock.SetIncrementLimit(0)
	ctx := context.Background()

	vio := newVIO(1)
	lock.Enter(ctx, vio)

	require.NotNil(t, zone.replacedOld)
	assert.Same(t, lock, zone.replacedOld)
	require.NotNil(t, zone.replacedNew)
	assert.NotSame(t, lock, zone.replacedNew)
	require.Len(t, collab.written, 1)
	assert.Same(t, vio, collab.written[0])
	assert.Equal(t, StateDestroying, zone.replacedNew.State())
	assert.Equal(t, 0, lock.ReferenceCount())
}

func TestEnterInUnsupportedStateFails(t *testing.T) {
	zone := &fakeZone{}
	collab := &fakeCollaborators{}
	lock := New(collab, zone)
	lock.state = StateBypassing
	ctx := context.Background()

	vio := newVIO(9)
	lock.Enter(ctx, vio)

	assert.ErrorIs(t, vio.Result, vdoerr.ErrBogusState)
}

func TestResetClearsStateForReuse(t *testing.T) {
	zone := &fakeZone{}
	collab := &fakeCollaborators{}
	lock := New(collab, zone)
	lock.Register(0, vtypes.ChunkName{6})
	lock.members.Add(newVIO(1))

	lock.Reset()

	assert.False(t, lock.IsRegistered())
	assert.Equal(t, 0, lock.ReferenceCount())
	assert.Equal(t, StateInitializing, lock.State())
}
