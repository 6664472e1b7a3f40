package slru

import (
	"fmt"
	"log/slog"

	locking "github.com/tuannm99/slrucache/internal/lock"
)

// ReadPage returns the slot holding pageNo, reading the page from disk on a
// miss. Control lock must be held exclusively on entry and is held
// exclusively again on exit, success or not. writeOK says the caller intends
// to modify the page, which permits returning a slot whose write-back is
// still in flight; a reader that needs the post-write image passes false and
// waits the write out.
func (c *Cache) ReadPage(pageNo uint32, writeOK bool, tag uint32) (int, error) {
	return c.readPage(pageNo, writeOK, tag)
}

func (c *Cache) readPage(pageNo uint32, writeOK bool, tag uint32) (int, error) {
	p := c.pool
	for {
		slot, err := c.selectVictim(pageNo)
		if err != nil {
			return -1, err
		}

		if p.state[slot] != SlotEmpty && p.pageNumber[slot] == pageNo {
			if p.state[slot] == SlotReadInProgress ||
				(p.state[slot] == SlotWriteInProgress && !writeOK) {
				c.waitForIO(slot)
				continue
			}
			p.recentlyUsed(slot)
			return slot, nil
		}

		// Freeable slot: install the page and stage the read.
		p.pageNumber[slot] = pageNo
		p.state[slot] = SlotReadInProgress
		p.dirty[slot] = false
		p.ioLock[slot].Acquire(locking.Exclusive)

		// Touch now so a victim scan running while we do i/o leaves this
		// slot alone.
		p.recentlyUsed(slot)

		p.control.Release(locking.Exclusive)
		fault := c.physicalReadPage(pageNo, p.buffers[slot])
		p.control.Acquire(locking.Exclusive)

		if p.state[slot] != SlotReadInProgress || p.pageNumber[slot] != pageNo {
			panic(fmt.Sprintf("slru %s: slot %d changed under read of page %d: now %s page %d",
				c.name, slot, pageNo, p.state[slot], p.pageNumber[slot]))
		}
		c.zeroLSNs(slot)
		if fault == nil {
			p.state[slot] = SlotValid
		} else {
			p.state[slot] = SlotEmpty
		}
		p.ioLock[slot].Release(locking.Exclusive)

		if fault != nil {
			return -1, fault.intoError(c.name, pageNo, tag)
		}
		p.recentlyUsed(slot)
		return slot, nil
	}
}

// ReadPageReadOnly is the lock-light variant for callers that only inspect
// the page. It takes the control lock itself: a hit under a shared probe is
// returned while still holding the lock shared; a miss upgrades to exclusive
// and goes through the normal read path. On success the caller owns the
// control lock in the returned mode and must release it when done with the
// buffer; on error the lock has already been released.
func (c *Cache) ReadPageReadOnly(pageNo uint32, tag uint32) (int, locking.Mode, error) {
	p := c.pool

	p.control.Acquire(locking.Shared)
	for i := 0; i < p.numSlots; i++ {
		if p.state[i] != SlotEmpty && p.state[i] != SlotReadInProgress &&
			p.pageNumber[i] == pageNo {
			p.recentlyUsed(i)
			return i, locking.Shared, nil
		}
	}
	p.control.Release(locking.Shared)

	p.control.Acquire(locking.Exclusive)
	slot, err := c.readPage(pageNo, false, tag)
	if err != nil {
		p.control.Release(locking.Exclusive)
		return -1, locking.Exclusive, err
	}
	return slot, locking.Exclusive, nil
}

// TryReadPage is ReadPage except that an i/o failure comes back as ok=false
// instead of an error. Control lock must be held exclusively.
func (c *Cache) TryReadPage(pageNo uint32, tag uint32) (int, bool) {
	slot, err := c.readPage(pageNo, true, tag)
	if err != nil {
		slog.Debug(logPrefix+"try read failed", "cache", c.name, "page", pageNo, "err", err)
		return -1, false
	}
	return slot, true
}

// PageExists probes whether the page can be read, loading it through the
// normal path but swallowing the failure. The buffer contents are not of
// interest to the caller.
func (c *Cache) PageExists(pageNo uint32) bool {
	p := c.pool
	p.control.Acquire(locking.Exclusive)
	defer p.control.Release(locking.Exclusive)
	_, ok := c.TryReadPage(pageNo, 0)
	return ok
}

// ZeroPage takes a slot for a brand-new page: buffer zeroed, dirty, LSN
// groups cleared. The page becomes the latest, reserving it from eviction.
// Control lock must be held exclusively.
func (c *Cache) ZeroPage(pageNo uint32) (int, error) {
	p := c.pool
	for {
		slot, err := c.selectVictim(pageNo)
		if err != nil {
			return -1, err
		}
		if p.state[slot] == SlotReadInProgress || p.state[slot] == SlotWriteInProgress {
			// An old image of this very page is still mid-i/o.
			c.waitForIO(slot)
			continue
		}

		p.pageNumber[slot] = pageNo
		p.state[slot] = SlotValid
		p.dirty[slot] = true
		clear(p.buffers[slot])
		c.zeroLSNs(slot)
		p.recentlyUsed(slot)
		p.latestPageNumber = pageNo
		return slot, nil
	}
}

// waitForIO blocks until the i/o in flight on slot finishes. Control lock is
// held exclusively on entry and exit but dropped in between, so the slot may
// hold a different page afterwards; callers rescan. If the state still reads
// in-progress yet the slot lock can be taken, the previous owner is gone
// without having restored state, and the waiter heals the slot: an abandoned
// read becomes empty, an abandoned write becomes valid and dirty again.
func (c *Cache) waitForIO(slot int) {
	p := c.pool

	p.control.Release(locking.Exclusive)
	p.ioLock[slot].Acquire(locking.Shared)
	p.ioLock[slot].Release(locking.Shared)
	p.control.Acquire(locking.Exclusive)

	if p.state[slot] != SlotReadInProgress && p.state[slot] != SlotWriteInProgress {
		return
	}
	if !p.ioLock[slot].TryShared() {
		// A new i/o owner took over in the window; genuinely in progress.
		return
	}
	p.ioLock[slot].Release(locking.Shared)

	slog.Warn(logPrefix+"healing abandoned i/o",
		"cache", c.name, "slot", slot, "state", p.state[slot], "page", p.pageNumber[slot])
	if p.state[slot] == SlotReadInProgress {
		p.state[slot] = SlotEmpty
		p.dirty[slot] = false
	} else {
		p.state[slot] = SlotValid
		p.dirty[slot] = true
	}
}
