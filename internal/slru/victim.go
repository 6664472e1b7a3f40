package slru

import "log/slog"

// selectVictim returns a slot that either already holds pageNo (in any
// state; the caller sorts out in-progress i/o) or is free to take it: empty,
// or valid and clean. Control lock must be held exclusively on entry and is
// held exclusively again on return, but it is dropped internally whenever a
// dirty victim has to be written out or an in-flight i/o waited on, so the
// scan restarts from scratch after every such excursion.
func (c *Cache) selectVictim(pageNo uint32) (int, error) {
	p := c.pool
	for {
		for i := 0; i < p.numSlots; i++ {
			if p.state[i] != SlotEmpty && p.pageNumber[i] == pageNo {
				return i, nil
			}
		}

		// Not resident: pick the least recently used slot. The ticks are
		// updated under shared holds, so the scan does not trust them: a
		// slot tick ahead of the shared counter is forced back onto the
		// scale before comparing.
		cur := p.curLruCount.Inc()
		bestSlot := -1
		bestDelta := int64(-1)
		var bestPage uint32
		for i := 0; i < p.numSlots; i++ {
			if p.state[i] == SlotEmpty {
				return i, nil
			}
			delta := int64(cur) - int64(p.lruCount[i].Load())
			if delta < 0 {
				p.lruCount[i].Store(cur)
				delta = 0
			}
			if p.pageNumber[i] == p.latestPageNumber {
				continue
			}
			if delta > bestDelta ||
				(delta == bestDelta && c.precedes(p.pageNumber[i], bestPage)) {
				bestSlot = i
				bestDelta = delta
				bestPage = p.pageNumber[i]
			}
		}
		if bestSlot < 0 {
			// Only possible when every non-empty slot holds the latest
			// page, i.e. a one-slot pool asked to evict its active page.
			panic(ErrLatestNotEvictable)
		}

		if p.state[bestSlot] == SlotValid && !p.dirty[bestSlot] {
			return bestSlot, nil
		}

		// I/O stands between us and the slot: push the dirty page out, or
		// wait for whoever owns the in-flight operation, then rescan.
		if p.state[bestSlot] == SlotValid {
			if fault := c.writePage(bestSlot, nil); fault != nil {
				return -1, fault.intoError(c.name, bestPage, 0)
			}
		} else {
			slog.Debug(logPrefix+"victim busy, waiting",
				"cache", c.name, "slot", bestSlot, "state", p.state[bestSlot])
			c.waitForIO(bestSlot)
		}
	}
}
