package slru

import (
	"fmt"
	"log/slog"
	"os"

	"go.uber.org/multierr"

	locking "github.com/tuannm99/slrucache/internal/lock"
)

// FlushContext batches segment files opened during one flush so that many
// page writes share the open/fsync/close work. At most limit files stay
// open; once full, pages of segments already open keep using their file and
// pages of any other segment degrade to the plain write-fsync-close path.
type FlushContext struct {
	limit int
	files []*os.File
	segs  []uint32
}

// NewFlushContext returns an empty context honoring the cache's open-file
// cap.
func (c *Cache) NewFlushContext() *FlushContext {
	return &FlushContext{limit: c.fileLimit}
}

func (f *FlushContext) lookup(seg uint32) *os.File {
	for i, s := range f.segs {
		if s == seg {
			return f.files[i]
		}
	}
	return nil
}

func (f *FlushContext) add(seg uint32, file *os.File) bool {
	if len(f.files) >= f.limit {
		return false
	}
	f.files = append(f.files, file)
	f.segs = append(f.segs, seg)
	return true
}

// WritePage pushes the slot's page to disk if it is dirty; a clean slot is a
// no-op. Control lock must be held exclusively on entry and is held
// exclusively again on exit. With a flush context the segment file stays
// open in it for later batched fsync/close; without one the write is fsync'd
// (when enabled) and the file closed before returning.
func (c *Cache) WritePage(slot int, fctx *FlushContext) error {
	pageNo := c.pool.pageNumber[slot]
	return c.writePage(slot, fctx).intoError(c.name, pageNo, 0)
}

func (c *Cache) writePage(slot int, fctx *FlushContext) *ioFault {
	p := c.pool
	pageNo := p.pageNumber[slot]

	// Someone else already writing this very page: wait them out, then
	// re-judge. The slot may hold a different page afterwards.
	for p.state[slot] == SlotWriteInProgress && p.pageNumber[slot] == pageNo {
		c.waitForIO(slot)
	}

	if p.state[slot] != SlotValid || !p.dirty[slot] || p.pageNumber[slot] != pageNo {
		return nil
	}

	p.state[slot] = SlotWriteInProgress
	p.dirty[slot] = false
	p.ioLock[slot].Acquire(locking.Exclusive)

	// Write-ahead rule: the redo log must be durable through the page's
	// highest recorded position before the page itself hits disk. The max
	// is taken under the control lock; the flush call happens after release
	// like any other blocking i/o.
	var maxLSN uint64
	for g := 0; g < c.lsnGroups; g++ {
		if l := p.groupLSN[slot*c.lsnGroups+g]; l > maxLSN {
			maxLSN = l
		}
	}

	p.control.Release(locking.Exclusive)

	if maxLSN > 0 && c.flushLSN != nil {
		if err := c.flushLSN(maxLSN); err != nil {
			// A page must never reach disk ahead of its redo log, and at
			// this point there is no way to back the write out.
			panic(fmt.Sprintf("slru %s: redo-log flush to %d failed: %v", c.name, maxLSN, err))
		}
	}

	fault := c.physicalWritePage(pageNo, p.buffers[slot], fctx)

	p.control.Acquire(locking.Exclusive)

	if p.state[slot] != SlotWriteInProgress || p.pageNumber[slot] != pageNo {
		panic(fmt.Sprintf("slru %s: slot %d changed under write of page %d: now %s page %d",
			c.name, slot, pageNo, p.state[slot], p.pageNumber[slot]))
	}
	if fault != nil {
		// The buffer is still ahead of disk; leave it for a retry.
		p.dirty[slot] = true
	}
	p.state[slot] = SlotValid
	p.ioLock[slot].Release(locking.Exclusive)
	return fault
}

// Flush writes every dirty slot, batching segment files in one flush
// context, then fsyncs (when enabled) and closes them. Write failures are
// reported but the scan continues so the remaining dirty pages still go out;
// fsync and close failures across the accumulated files are combined into
// the returned error, each tagged with its segment's first page. Outside a
// checkpoint every slot ends empty or valid-clean except slots re-dirtied
// concurrently, which are counted and left for the next flush.
func (c *Cache) Flush(checkpoint bool) error {
	p := c.pool
	fctx := c.NewFlushContext()

	var err error
	p.control.Acquire(locking.Exclusive)
	for i := 0; i < p.numSlots; i++ {
		pageNo := p.pageNumber[i]
		if fault := c.writePage(i, fctx); fault != nil {
			err = multierr.Append(err, fault.intoError(c.name, pageNo, 0))
		}
	}
	p.control.Release(locking.Exclusive)

	for i, f := range fctx.files {
		seg := fctx.segs[i]
		firstPage := seg * uint32(c.pagesPerSeg)
		if c.doFsync {
			if serr := f.Sync(); serr != nil {
				fault := &ioFault{cause: CauseFsyncFailed, seg: seg, err: serr}
				err = multierr.Append(err, fault.intoError(c.name, firstPage, 0))
			}
		}
		if cerr := f.Close(); cerr != nil {
			fault := &ioFault{cause: CauseCloseFailed, seg: seg, err: cerr}
			err = multierr.Append(err, fault.intoError(c.name, firstPage, 0))
		}
	}

	if !checkpoint {
		p.control.Acquire(locking.Shared)
		redirtied := 0
		for i := 0; i < p.numSlots; i++ {
			if p.state[i] != SlotEmpty && p.dirty[i] {
				redirtied++
			}
		}
		p.control.Release(locking.Shared)
		if redirtied > 0 {
			slog.Debug(logPrefix+"slots re-dirtied during flush",
				"cache", c.name, "count", redirtied)
		}
	}
	return err
}
