package journalblock

import (
	"testing"

	"github.com/berithfoundation/vdocore/internal/vdoerr"
	"github.com/berithfoundation/vdocore/internal/vtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueFillsToCapacity(t *testing.T) {
	b := New(4)
	b.Initialize(vtypes.SequenceNumber(1), 16)
	assert.True(t, b.IsEmpty())

	for i := 0; i < 4; i++ {
		point, err := b.EnqueueEntry(vtypes.DataIncrement, vtypes.Mapping{PBN: vtypes.PBN(i)}, vtypes.PBN(100+i))
		require.NoError(t, err)
		assert.Equal(t, vtypes.SequenceNumber(1), point.SequenceNumber)
		assert.Equal(t, uint16(i), point.EntryCount)
	}
	assert.True(t, b.IsFull())
	assert.True(t, b.IsDirty())

	_, err := b.EnqueueEntry(vtypes.DataIncrement, vtypes.Mapping{}, vtypes.PBN(1))
	assert.ErrorIs(t, err, vdoerr.ErrJournalFull)
}

func TestCommitClearsDirtyOnSuccess(t *testing.T) {
	b := New(4)
	b.Initialize(vtypes.SequenceNumber(2), 16)
	_, err := b.EnqueueEntry(vtypes.DataDecrement, vtypes.Mapping{Unmapped: true}, vtypes.PBN(5))
	require.NoError(t, err)

	require.True(t, b.CanCommit())
	succeeded := false
	b.Commit(func(*Block) { succeeded = true }, nil)
	assert.True(t, b.IsCommitting())
	assert.False(t, b.CanCommit(), "a second commit must be ignored while one is outstanding")

	b.CompleteCommit(nil)
	assert.True(t, succeeded)
	assert.False(t, b.IsCommitting())
	assert.False(t, b.IsDirty())
}

func TestFailCommitInvokesErrorCallback(t *testing.T) {
	b := New(4)
	b.Initialize(vtypes.SequenceNumber(3), 16)
	_, err := b.EnqueueEntry(vtypes.DataIncrement, vtypes.Mapping{}, vtypes.PBN(1))
	require.NoError(t, err)

	var gotErr error
	b.Commit(nil, func(_ *Block, e error) { gotErr = e })
	b.FailCommit(assert.AnError, nil)
	assert.Equal(t, assert.AnError, gotErr)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	b := New(4)
	b.Initialize(vtypes.SequenceNumber(9), 16)
	_, err := b.EnqueueEntry(vtypes.DataIncrement, vtypes.Mapping{PBN: 77, Compressed: true}, vtypes.PBN(55))
	require.NoError(t, err)
	_, err = b.EnqueueEntry(vtypes.DataDecrement, vtypes.Mapping{Unmapped: true}, vtypes.PBN(56))
	require.NoError(t, err)

	raw := b.Encode(5)
	decoded, err := Decode(raw, vtypes.SequenceNumber(9), 16, 4, 5)
	require.NoError(t, err)
	require.Len(t, decoded.entries, 2)
	assert.Equal(t, vtypes.PBN(55), decoded.entries[0].PBN)
	assert.True(t, decoded.entries[0].Mapping.Compressed)
	assert.True(t, decoded.entries[1].Mapping.Unmapped)
}

func TestDecodeRejectsRecoveryCountMismatch(t *testing.T) {
	b := New(4)
	b.Initialize(vtypes.SequenceNumber(1), 16)
	_, err := b.EnqueueEntry(vtypes.DataIncrement, vtypes.Mapping{}, vtypes.PBN(1))
	require.NoError(t, err)
	raw := b.Encode(3)

	_, err = Decode(raw, vtypes.SequenceNumber(1), 16, 4, 4)
	assert.ErrorIs(t, err, vdoerr.ErrRecoveryCountMismatch)
}

func TestInitializeResetsState(t *testing.T) {
	b := New(4)
	b.Initialize(vtypes.SequenceNumber(1), 16)
	_, err := b.EnqueueEntry(vtypes.DataIncrement, vtypes.Mapping{}, vtypes.PBN(1))
	require.NoError(t, err)

	b.Initialize(vtypes.SequenceNumber(17), 16)
	assert.True(t, b.IsEmpty())
	assert.False(t, b.IsDirty())
	assert.Equal(t, uint64(1), b.BlockNumber())
}
