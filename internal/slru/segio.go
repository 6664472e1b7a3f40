package slru

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tuannm99/slrucache/internal/alias/util"
)

const (
	FileMode0644 = 0o644
	FileMode0755 = 0o755
)

// SegmentFileName returns the fixed-width uppercase-hex file name of a
// segment, relative to the cache directory.
func SegmentFileName(seg uint32) string {
	return fmt.Sprintf("%04X", seg)
}

// parseSegmentName is the inverse: exactly four uppercase hex digits, or
// nothing. Anything else in the directory is not a segment file.
func parseSegmentName(name string) (uint32, bool) {
	if len(name) != 4 {
		return 0, false
	}
	for _, r := range name {
		if (r < '0' || r > '9') && (r < 'A' || r > 'F') {
			return 0, false
		}
	}
	n, err := strconv.ParseUint(name, 16, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

func (c *Cache) segmentNo(pageNo uint32) uint32 {
	return pageNo / uint32(c.pagesPerSeg)
}

func (c *Cache) segmentPath(seg uint32) string {
	return filepath.Join(c.dir, SegmentFileName(seg))
}

func (c *Cache) pageOffset(pageNo uint32) int64 {
	return int64(pageNo%uint32(c.pagesPerSeg)) * int64(c.pageSize)
}

// physicalReadPage reads one page into buf. A missing segment file counts as
// an all-zero page during crash recovery (the page was never flushed before
// the crash); anything else, short reads included, is a fault.
func (c *Cache) physicalReadPage(pageNo uint32, buf []byte) *ioFault {
	seg := c.segmentNo(pageNo)

	f, err := os.OpenFile(c.segmentPath(seg), os.O_RDWR, FileMode0644)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && c.recovering() {
			slog.Info(logPrefix+"segment missing in recovery, reading page as zeroes",
				"cache", c.name, "segment", SegmentFileName(seg), "page", pageNo)
			clear(buf)
			return nil
		}
		return &ioFault{cause: CauseOpenFailed, seg: seg, err: err}
	}
	defer util.CloseFileFunc(f)

	if _, err := f.Seek(c.pageOffset(pageNo), io.SeekStart); err != nil {
		return &ioFault{cause: CauseSeekFailed, seg: seg, err: err}
	}
	if _, err := io.ReadFull(f, buf); err != nil {
		return &ioFault{cause: CauseReadFailed, seg: seg, err: err}
	}
	return nil
}

// physicalWritePage writes one page from buf. With a flush context the
// segment file is kept open in it for batched fsync/close; without one, or
// when the context is at its open-file limit, the write is fsync'd when
// enabled and the file closed right away.
func (c *Cache) physicalWritePage(pageNo uint32, buf []byte, fctx *FlushContext) *ioFault {
	seg := c.segmentNo(pageNo)

	var f *os.File
	batched := false
	if fctx != nil {
		if f = fctx.lookup(seg); f != nil {
			batched = true
		}
	}
	if f == nil {
		// No O_EXCL and no O_TRUNC: several workers may create the same
		// segment at once and must not clobber each other.
		var err error
		f, err = os.OpenFile(c.segmentPath(seg), os.O_RDWR|os.O_CREATE, FileMode0644)
		if err != nil {
			return &ioFault{cause: CauseOpenFailed, seg: seg, err: err}
		}
		if fctx != nil && fctx.add(seg, f) {
			batched = true
		}
	}

	if _, err := f.Seek(c.pageOffset(pageNo), io.SeekStart); err != nil {
		if !batched {
			util.CloseFileFunc(f)
		}
		return &ioFault{cause: CauseSeekFailed, seg: seg, err: err}
	}

	n, err := f.Write(buf)
	if err == nil && n != len(buf) {
		err = io.ErrShortWrite
	}
	if err != nil {
		if !batched {
			util.CloseFileFunc(f)
		}
		return &ioFault{cause: CauseWriteFailed, seg: seg, err: err}
	}

	if batched {
		return nil
	}
	if c.doFsync {
		if err := f.Sync(); err != nil {
			util.CloseFileFunc(f)
			return &ioFault{cause: CauseFsyncFailed, seg: seg, err: err}
		}
	}
	// A close failure after a successful write and fsync does not fail the
	// write; the close helper logs it.
	util.CloseFileFunc(f)
	return nil
}
