package slru

import (
	locking "github.com/tuannm99/slrucache/internal/lock"
	"github.com/tuannm99/slrucache/pkg/relaxtick"
)

// SharedPool is the fixed array of page buffers plus the parallel metadata
// arrays, registered in a shared region so that every worker attaching the
// same cache name sees the same pool. All metadata is guarded by the control
// lock; the one exception is the pair of LRU ticks, which may be touched
// under a shared hold (see recentlyUsed). Without the control lock, buffer
// bytes are only written by the single holder of that slot's i/o lock.
type SharedPool struct {
	numSlots int

	// backing is one allocation; buffers[i] is the i-th page-sized window
	// into it.
	backing []byte
	buffers [][]byte

	state      []SlotState
	dirty      []bool
	pageNumber []uint32
	lruCount   []relaxtick.Tick
	ioLock     []locking.LWLock

	curLruCount      relaxtick.Tick
	latestPageNumber uint32

	// groupLSN has lsnGroups entries per slot, flattened.
	groupLSN []uint64

	control locking.LWLock
}

func newSharedPool(numSlots, lsnGroups, pageSize int) *SharedPool {
	p := &SharedPool{
		numSlots:   numSlots,
		backing:    make([]byte, numSlots*pageSize),
		buffers:    make([][]byte, numSlots),
		state:      make([]SlotState, numSlots),
		dirty:      make([]bool, numSlots),
		pageNumber: make([]uint32, numSlots),
		lruCount:   make([]relaxtick.Tick, numSlots),
		ioLock:     make([]locking.LWLock, numSlots),
		groupLSN:   make([]uint64, numSlots*lsnGroups),
	}
	for i := range p.buffers {
		p.buffers[i] = p.backing[i*pageSize : (i+1)*pageSize : (i+1)*pageSize]
		p.state[i] = SlotEmpty
	}
	return p
}

// recentlyUsed bumps the slot's LRU tick. It may run under a shared control
// lock: each tick operation is atomic but the compare-and-store sequence is
// not, so two racing callers can leave the slot's tick at the older of the
// two values they drew. The victim scan repairs any slot tick found ahead of
// the shared counter before it compares slots.
func (p *SharedPool) recentlyUsed(slot int) {
	if p.curLruCount.Load() != p.lruCount[slot].Load() {
		p.lruCount[slot].Store(p.curLruCount.Inc())
	}
}

// ShmemSize returns the number of bytes one pool occupies in the shared
// region, page buffers and metadata arrays included.
func ShmemSize(numSlots, lsnGroups, pageSize int) int {
	const (
		stateBytes = 1
		dirtyBytes = 1
		pageBytes  = 4
		tickBytes  = 8
		lockBytes  = 24
		lsnBytes   = 8
	)
	perSlot := pageSize + stateBytes + dirtyBytes + pageBytes + tickBytes + lockBytes + lsnGroups*lsnBytes
	return numSlots*perSlot + tickBytes + pageBytes + lockBytes
}
