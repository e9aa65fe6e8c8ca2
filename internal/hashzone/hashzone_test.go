package hashzone

import (
	"context"
	"testing"

	"github.com/berithfoundation/vdocore/internal/hashlock"
	"github.com/berithfoundation/vdocore/internal/vtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCollaborators struct{ writes int }

func (s *stubCollaborators) Query(ctx context.Context, lock *hashlock.Lock, agent *vtypes.DataVIO) {
	lock.Continue(ctx, agent)
}
func (s *stubCollaborators) AttemptPBNLock(ctx context.Context, lock *hashlock.Lock, agent *vtypes.DataVIO) {
	lock.Continue(ctx, agent)
}
func (s *stubCollaborators) Verify(ctx context.Context, lock *hashlock.Lock, agent *vtypes.DataVIO) {
	lock.Continue(ctx, agent)
}
func (s *stubCollaborators) ShareBlock(ctx context.Context, lock *hashlock.Lock, members []*vtypes.DataVIO) {
	for _, m := range members {
		lock.Continue(ctx, m)
	}
}
func (s *stubCollaborators) Write(ctx context.Context, lock *hashlock.Lock, agent *vtypes.DataVIO) {
	s.writes++
	lock.Continue(ctx, agent)
}
func (s *stubCollaborators) UpdateIndex(ctx context.Context, lock *hashlock.Lock, agent *vtypes.DataVIO) {
	lock.Continue(ctx, agent)
}
func (s *stubCollaborators) ReleasePBNLock(ctx context.Context, lock *hashlock.Lock) {}

type alwaysMatch struct{}

func (alwaysMatch) ContentMatches(existing, candidate *vtypes.DataVIO) bool { return true }

type neverMatch struct{}

func (neverMatch) ContentMatches(existing, candidate *vtypes.DataVIO) bool { return false }

func newVIO(id uint64, hash vtypes.ChunkName) *vtypes.DataVIO {
	v := &vtypes.DataVIO{ID: id, Hash: hash, HasAllocation: true}
	v.Callback = func(context.Context, *vtypes.DataVIO) {}
	return v
}

func TestAcquireAllocatesFreshLockOnFirstSight(t *testing.T) {
	collab := &stubCollaborators{}
	zone := New(0, collab, alwaysMatch{})
	ctx := context.Background()

	vio := newVIO(1, vtypes.ChunkName{9})
	lock := zone.Acquire(ctx, vio, nil)

	require.NotNil(t, lock)
	assert.True(t, lock.IsRegistered())
	assert.Equal(t, vtypes.ChunkName{9}, lock.Hash())
}

func TestAcquireBindsSecondWriterToExistingLockOnMatch(t *testing.T) {
	collab := &stubCollaborators{}
	zone := New(0, collab, alwaysMatch{})
	ctx := context.Background()
	hash := vtypes.ChunkName{10}

	first := newVIO(1, hash)
	lock := zone.Acquire(ctx, first, nil)
	lock.AddMember(first)

	second := newVIO(2, hash)
	acquired := zone.Acquire(ctx, second, nil)

	require.NotNil(t, acquired)
	assert.Same(t, lock, acquired)
	assert.Equal(t, 2, acquired.ReferenceCount())
}

func TestAcquireBumpsCollisionOnContentMismatch(t *testing.T) {
	collab := &stubCollaborators{}
	zone := New(0, collab, neverMatch{})
	ctx := context.Background()
	hash := vtypes.ChunkName{11}

	first := newVIO(1, hash)
	lock := zone.Acquire(ctx, first, nil)
	lock.AddMember(first)

	second := newVIO(2, hash)
	acquired := zone.Acquire(ctx, second, nil)

	assert.Nil(t, acquired)
	assert.Equal(t, uint64(1), zone.Snapshot().Collisions)
}

func TestReleaseReturnsLockToPoolAndClearsRegistry(t *testing.T) {
	collab := &stubCollaborators{}
	zone := New(0, collab, alwaysMatch{})
	ctx := context.Background()
	hash := vtypes.ChunkName{12}

	vio := newVIO(1, hash)
	lock := zone.Acquire(ctx, vio, nil)
	require.Equal(t, 1, zone.Snapshot().RegisteredLocks)

	zone.Release(lock)

	snap := zone.Snapshot()
	assert.Equal(t, 0, snap.RegisteredLocks)
	assert.Equal(t, 1, snap.PooledLocks)

	reused := zone.allocate()
	assert.Same(t, lock, reused)
	assert.False(t, reused.IsRegistered())
}

func TestBumpCountersAccumulate(t *testing.T) {
	collab := &stubCollaborators{}
	zone := New(0, collab, alwaysMatch{})

	zone.BumpValidAdvice()
	zone.BumpStaleAdvice()
	zone.BumpCollision()
	zone.BumpDataMatch()

	snap := zone.Snapshot()
	assert.Equal(t, uint64(1), snap.ValidAdvice)
	assert.Equal(t, uint64(1), snap.StaleAdvice)
	assert.Equal(t, uint64(1), snap.Collisions)
	assert.Equal(t, uint64(1), snap.DataMatches)
}
