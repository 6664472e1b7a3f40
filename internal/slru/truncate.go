package slru

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"go.uber.org/multierr"

	locking "github.com/tuannm99/slrucache/internal/lock"
)

// Truncate drops all pages strictly preceding cutoff: in-memory slots in
// that range are emptied (dirty ones written out first) and every segment
// file whose first page precedes the cutoff is unlinked. A cutoff that the
// latest page itself precedes looks like wrap-around, so the call refuses
// and logs instead of removing anything. Unlink failures are logged and left
// for the next truncation.
func (c *Cache) Truncate(cutoff uint32) error {
	p := c.pool

	// Whole segments only.
	cutoff -= cutoff % uint32(c.pagesPerSeg)

	p.control.Acquire(locking.Exclusive)
	if c.precedes(p.latestPageNumber, cutoff) {
		latest := p.latestPageNumber
		p.control.Release(locking.Exclusive)
		slog.Error(logPrefix+"refusing truncation, cutoff is ahead of the latest page (apparent wrap-around)",
			"cache", c.name, "cutoff", cutoff, "latest", latest)
		return nil
	}

	var err error
	for {
		again := false
		for i := 0; i < p.numSlots; i++ {
			if p.state[i] == SlotEmpty {
				continue
			}
			if !c.precedes(p.pageNumber[i], cutoff) {
				continue
			}

			if p.state[i] == SlotValid && !p.dirty[i] {
				p.state[i] = SlotEmpty
				continue
			}

			// Dirty or mid-i/o: settle the slot first. Writing a page that
			// is about to be unlinked is wasted work, but discarding dirty
			// bytes outright would lose them if the truncation then fails,
			// so write and let the rescan discard the clean copy. The
			// control lock was dropped meanwhile, so start over.
			pageNo := p.pageNumber[i]
			if p.state[i] == SlotValid {
				if fault := c.writePage(i, nil); fault != nil {
					err = multierr.Append(err, fault.intoError(c.name, pageNo, 0))
				}
			} else {
				c.waitForIO(i)
			}
			again = true
			break
		}
		if !again {
			break
		}
	}
	p.control.Release(locking.Exclusive)

	ents, rerr := os.ReadDir(c.dir)
	if rerr != nil {
		return multierr.Append(err, fmt.Errorf("slru %s: scan directory: %w", c.name, rerr))
	}
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		seg, ok := parseSegmentName(e.Name())
		if !ok {
			continue
		}
		if !c.precedes(seg*uint32(c.pagesPerSeg), cutoff) {
			continue
		}
		if uerr := os.Remove(filepath.Join(c.dir, e.Name())); uerr != nil && !errors.Is(uerr, os.ErrNotExist) {
			slog.Warn(logPrefix+"unlink segment",
				"cache", c.name, "segment", e.Name(), "err", uerr)
			continue
		}
		slog.Debug(logPrefix+"unlinked segment", "cache", c.name, "segment", e.Name())
	}
	return err
}
