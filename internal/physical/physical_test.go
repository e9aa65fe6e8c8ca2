package physical

import (
	"context"
	"testing"

	"github.com/berithfoundation/vdocore/internal/pbnlock"
	"github.com/berithfoundation/vdocore/internal/vtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnappyPackerRoundTrip(t *testing.T) {
	p := NewSnappyPacker()
	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i % 7)
	}
	packed, compressed := p.Compress(data)
	out, err := p.Decompress(packed, compressed)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestSnappyPackerRejectsPoorSavings(t *testing.T) {
	p := NewSnappyPacker()
	random := []byte{0x4e, 0x9a, 0x01, 0xff, 0x7c, 0x33, 0x88, 0x12, 0x5d, 0xa1}
	_, compressed := p.Compress(random)
	assert.False(t, compressed)
}

func TestMemSlabDepotFreshBlockGetsDefaultBudget(t *testing.T) {
	d := NewMemSlabDepot()
	lock, limit, wasUnreferenced, err := d.AttemptLock(context.Background(), vtypes.PBN(10), pbnlock.Write, 0)
	require.NoError(t, err)
	assert.True(t, wasUnreferenced)
	assert.Equal(t, uint32(defaultIncrementLimit), limit)
	assert.Equal(t, int32(1), lock.HolderCount())
}

func TestMemSlabDepotSeededBudget(t *testing.T) {
	d := NewMemSlabDepot()
	d.SeedDuplicate(vtypes.PBN(20), 5)
	_, limit, wasUnreferenced, err := d.AttemptLock(context.Background(), vtypes.PBN(20), pbnlock.Read, 0)
	require.NoError(t, err)
	assert.False(t, wasUnreferenced)
	assert.Equal(t, uint32(5), limit)
}

func TestMemSlabDepotWriteLockBlocksSecondAttempt(t *testing.T) {
	d := NewMemSlabDepot()
	ctx := context.Background()
	_, _, _, err := d.AttemptLock(ctx, vtypes.PBN(30), pbnlock.Write, 0)
	require.NoError(t, err)
	_, _, _, err = d.AttemptLock(ctx, vtypes.PBN(30), pbnlock.Read, 1)
	assert.Error(t, err)
}

func TestMemSlabDepotReleaseFreesEntry(t *testing.T) {
	d := NewMemSlabDepot()
	ctx := context.Background()
	lock, _, _, err := d.AttemptLock(ctx, vtypes.PBN(40), pbnlock.Read, 0)
	require.NoError(t, err)
	require.NoError(t, d.ReleaseLock(ctx, lock, vtypes.PBN(40), 0))

	_, _, wasUnreferenced, err := d.AttemptLock(ctx, vtypes.PBN(40), pbnlock.Read, 0)
	require.NoError(t, err)
	assert.True(t, wasUnreferenced)
}

func TestNoopFlushResourceAlwaysSucceeds(t *testing.T) {
	assert.NoError(t, NoopFlushResource{}.Flush(context.Background()))
}

func TestDiskFlushResourceDelegatesToFlushFunc(t *testing.T) {
	called := false
	f := NewDiskFlushResource("/tmp", 0, func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, f.Flush(context.Background()))
	assert.True(t, called)
}

func TestMemSlabJournalCommitterRecordsRequests(t *testing.T) {
	c := NewMemSlabJournalCommitter()
	require.NoError(t, c.CommitOldestTailBlocks(context.Background(), vtypes.SequenceNumber(7)))
	require.Len(t, c.Requests, 1)
	assert.Equal(t, vtypes.SequenceNumber(7), c.Requests[0])
}

func TestMemBlockMapEraNotifierRecordsEras(t *testing.T) {
	n := NewMemBlockMapEraNotifier()
	n.AdvanceEra(context.Background(), vtypes.SequenceNumber(3))
	require.Len(t, n.Eras, 1)
	assert.Equal(t, vtypes.SequenceNumber(3), n.Eras[0])
}
