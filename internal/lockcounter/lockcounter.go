// Package lockcounter implements the per-journal-block reference counter
// of spec §2 and §4.5: sharded by logical/physical zone, with a
// notify-when-zero callback. A journal block becomes reapable once its
// count reaches zero, it is fully committed, and it sits in the
// head-adjacent region (§4.5).
package lockcounter

import "github.com/berithfoundation/vdocore/internal/vtypes"

// Counter tracks, for each in-flight journal block slot, how many
// logical zones, physical zones, and the journal itself (its
// per-entry references plus the "write committed" one) still hold a
// lock on that block.
type Counter struct {
	numLogicalZones  int
	numPhysicalZones int

	slots []slotCounts

	// onZero fires once total reaches zero after having been non-zero,
	// i.e. the "notify-when-zero" contract. It does not by itself imply
	// the block may be reaped: the journal also requires it fully
	// committed and head-adjacent (§4.5).
	onZero func(slot int)
}

type slotCounts struct {
	logical  []uint16
	physical []uint16
	journal  uint16 // the journal's own references: one per potential entry plus "write committed"
	total    int32
}

// New returns a Counter with the given number of journal block slots
// (equal to the journal's ring size) and zone counts.
func New(slotCount, numLogicalZones, numPhysicalZones int, onZero func(slot int)) *Counter {
	c := &Counter{
		numLogicalZones:  numLogicalZones,
		numPhysicalZones: numPhysicalZones,
		slots:            make([]slotCounts, slotCount),
		onZero:           onZero,
	}
	for i := range c.slots {
		c.slots[i] = slotCounts{
			logical:  make([]uint16, numLogicalZones),
			physical: make([]uint16, numPhysicalZones),
		}
	}
	return c
}

// Initialize resets slot's counts to entriesPerBlock+1 (one per
// potential entry plus the journal's own self-reference), the invariant
// stated in §3 for a freshly recycled journal block.
func (c *Counter) Initialize(slot int, entriesPerBlock uint16) {
	s := &c.slots[slot]
	for i := range s.logical {
		s.logical[i] = 0
	}
	for i := range s.physical {
		s.physical[i] = 0
	}
	s.journal = entriesPerBlock + 1
	s.total = int32(entriesPerBlock) + 1
}

// AcquireLock takes one reference for the given zone type/id on slot,
// e.g. an increment entry taking a lock on its own block (§4.5).
func (c *Counter) AcquireLock(slot int, zoneType vtypes.ZoneType, zoneID int) {
	s := &c.slots[slot]
	if zoneType == vtypes.LogicalZone {
		s.logical[zoneID]++
	} else {
		s.physical[zoneID]++
	}
	s.total++
}

// ReleaseLock releases one reference for the given zone type/id on slot.
// If the slot's total reaches zero, onZero fires.
func (c *Counter) ReleaseLock(slot int, zoneType vtypes.ZoneType, zoneID int) {
	s := &c.slots[slot]
	if zoneType == vtypes.LogicalZone {
		if s.logical[zoneID] == 0 {
			panic("lockcounter: release of an unheld logical zone lock")
		}
		s.logical[zoneID]--
	} else {
		if s.physical[zoneID] == 0 {
			panic("lockcounter: release of an unheld physical zone lock")
		}
		s.physical[zoneID]--
	}
	c.releaseCommon(slot)
}

// ReleaseJournalLock releases one of the journal's own references on
// slot (Initialize takes entriesPerBlock+1 of them).
func (c *Counter) ReleaseJournalLock(slot int) {
	s := &c.slots[slot]
	if s.journal == 0 {
		panic("lockcounter: release of a journal reference with none left")
	}
	s.journal--
	c.releaseCommon(slot)
}

func (c *Counter) releaseCommon(slot int) {
	s := &c.slots[slot]
	s.total--
	if s.total == 0 && c.onZero != nil {
		c.onZero(slot)
	}
}

// IsLockedByAnyLogicalZone reports whether any logical zone still holds
// a reference on slot. The reap loop advances block_map_reap_head only
// while this is false (§4.5), independent from the physical front (§9).
func (c *Counter) IsLockedByAnyLogicalZone(slot int) bool {
	for _, n := range c.slots[slot].logical {
		if n > 0 {
			return true
		}
	}
	return false
}

// IsLockedByAnyPhysicalZone reports whether any physical zone still
// holds a reference on slot.
func (c *Counter) IsLockedByAnyPhysicalZone(slot int) bool {
	for _, n := range c.slots[slot].physical {
		if n > 0 {
			return true
		}
	}
	return false
}

// IsLocked reports whether slot has any outstanding reference at all,
// including the journal's own self-reference.
func (c *Counter) IsLocked(slot int) bool {
	return c.slots[slot].total > 0
}
