package lockcounter

import (
	"testing"

	"github.com/berithfoundation/vdocore/internal/vtypes"
	"github.com/stretchr/testify/require"
)

func TestInitializeAndDrainToZero(t *testing.T) {
	var zeroed []int
	c := New(4, 2, 2, func(slot int) { zeroed = append(zeroed, slot) })

	c.Initialize(0, 3)
	require.True(t, c.IsLocked(0))

	c.AcquireLock(0, vtypes.LogicalZone, 0)
	c.AcquireLock(0, vtypes.PhysicalZone, 1)

	// total = entriesPerBlock(3) + journal-self(1) + 2 acquires = 6
	for i := 0; i < 5; i++ {
		require.True(t, c.IsLocked(0))
		switch {
		case i == 0:
			c.ReleaseLock(0, vtypes.LogicalZone, 0)
		case i == 1:
			c.ReleaseLock(0, vtypes.PhysicalZone, 1)
		default:
			c.ReleaseJournalLock(0)
		}
	}
	require.True(t, c.IsLocked(0), "one more release outstanding")
	c.ReleaseJournalLock(0)
	require.False(t, c.IsLocked(0))
	require.Equal(t, []int{0}, zeroed)
}

func TestPerZoneIndependence(t *testing.T) {
	c := New(1, 2, 2, nil)
	c.Initialize(0, 0)
	c.ReleaseJournalLock(0) // drop the self-reference so only zone locks remain below

	c.AcquireLock(0, vtypes.LogicalZone, 0)
	c.AcquireLock(0, vtypes.PhysicalZone, 1)

	require.True(t, c.IsLockedByAnyLogicalZone(0))
	require.True(t, c.IsLockedByAnyPhysicalZone(0))

	c.ReleaseLock(0, vtypes.LogicalZone, 0)
	require.False(t, c.IsLockedByAnyLogicalZone(0))
	require.True(t, c.IsLockedByAnyPhysicalZone(0), "physical front must not be collapsed with logical (§9)")

	c.ReleaseLock(0, vtypes.PhysicalZone, 1)
	require.False(t, c.IsLockedByAnyPhysicalZone(0))
}

func TestReleaseUnheldPanics(t *testing.T) {
	c := New(1, 1, 1, nil)
	c.Initialize(0, 0)
	require.Panics(t, func() {
		c.ReleaseLock(0, vtypes.LogicalZone, 0)
	})
}
