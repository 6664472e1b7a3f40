// Package clog keeps two-bit commit statuses for 32-bit transaction ids in
// an SLRU page cache. It is the reference embedder of one slru.Cache: it
// supplies the wrap-aware page ordering, drives the write-ahead hook through
// the wal manager, and owns the xid arithmetic the cache itself stays out
// of.
package clog

import (
	"fmt"

	"go.uber.org/atomic"

	locking "github.com/tuannm99/slrucache/internal/lock"

	"github.com/tuannm99/slrucache/internal/shmem"
	"github.com/tuannm99/slrucache/internal/slru"
	"github.com/tuannm99/slrucache/internal/wal"
)

type Status uint8

const (
	StatusInProgress   Status = 0
	StatusCommitted    Status = 1
	StatusAborted      Status = 2
	StatusSubCommitted Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusInProgress:
		return "in_progress"
	case StatusCommitted:
		return "committed"
	case StatusAborted:
		return "aborted"
	case StatusSubCommitted:
		return "sub_committed"
	default:
		return "unknown"
	}
}

const (
	BitsPerXact  = 2
	XactsPerByte = 4
	xactBitmask  = (1 << BitsPerXact) - 1

	// One write-ahead position is kept per group of xids, not per xid, to
	// bound the LSN array; the cache flushes through the group max before
	// the page goes out.
	XactsPerLSNGroup = 32
)

type Options struct {
	Name     string // shared-region key, default "clog"
	NumSlots int    // default 8
	DoFsync  bool
	Registry *shmem.Registry
}

// Log is a transaction-status log over one SLRU cache.
type Log struct {
	cache        *slru.Cache
	wal          *wal.Manager
	xactsPerPage uint32
	recovery     atomic.Bool
}

// Open attaches or creates the status log under dir, journaling status
// changes through w.
func Open(dir string, w *wal.Manager, opts Options) (*Log, error) {
	if opts.Name == "" {
		opts.Name = "clog"
	}
	if opts.NumSlots == 0 {
		opts.NumSlots = 8
	}

	l := &Log{
		wal:          w,
		xactsPerPage: uint32(slru.DefaultPageSize * XactsPerByte),
	}

	cache, err := slru.New(slru.Config{
		Name:             opts.Name,
		Dir:              dir,
		NumSlots:         opts.NumSlots,
		LSNGroupsPerPage: int(l.xactsPerPage / XactsPerLSNGroup),
		DoFsync:          opts.DoFsync,
		Precedes:         l.pagePrecedes,
		FlushLSN:         w.Flush,
		InRecovery:       l.recovery.Load,
		Registry:         opts.Registry,
	})
	if err != nil {
		return nil, fmt.Errorf("clog: open cache: %w", err)
	}
	l.cache = cache
	return l, nil
}

func (l *Log) pageFor(xid uint32) uint32  { return xid / l.xactsPerPage }
func (l *Log) byteFor(xid uint32) uint32  { return (xid % l.xactsPerPage) / XactsPerByte }
func (l *Log) shiftFor(xid uint32) uint32 { return (xid % XactsPerByte) * BitsPerXact }
func (l *Log) groupFor(xid uint32) int    { return int((xid % l.xactsPerPage) / XactsPerLSNGroup) }

// xidPrecedes is the wrap-around order on transaction ids: half the id space
// lies before any given xid, half after.
func xidPrecedes(a, b uint32) bool {
	return int32(a-b) < 0
}

// pagePrecedes compares pages by their first xid, inheriting the xid space's
// wrap-around.
func (l *Log) pagePrecedes(p1, p2 uint32) bool {
	return xidPrecedes(p1*l.xactsPerPage, p2*l.xactsPerPage)
}

// Cache exposes the underlying pool, mainly for checkpointing and tests.
func (l *Log) Cache() *slru.Cache { return l.cache }

// Bootstrap creates the first status page and forces it to disk. Call once
// on a brand-new data directory.
func (l *Log) Bootstrap() error {
	ctl := l.cache.ControlLock()
	ctl.Acquire(locking.Exclusive)
	defer ctl.Release(locking.Exclusive)

	slot, err := l.cache.ZeroPage(0)
	if err != nil {
		return fmt.Errorf("clog: bootstrap: %w", err)
	}
	if err := l.cache.WritePage(slot, nil); err != nil {
		return fmt.Errorf("clog: bootstrap: %w", err)
	}
	return nil
}

// Extend makes room for xid. Only the first xid of each page allocates
// anything; for every other xid this is a no-op.
func (l *Log) Extend(xid uint32) error {
	if xid%l.xactsPerPage != 0 {
		return nil
	}
	ctl := l.cache.ControlLock()
	ctl.Acquire(locking.Exclusive)
	defer ctl.Release(locking.Exclusive)

	if _, err := l.cache.ZeroPage(l.pageFor(xid)); err != nil {
		return fmt.Errorf("clog: extend for xid %d: %w", xid, err)
	}
	return nil
}

// SetStatus records st for xid. A non-zero lsn is remembered against the
// xid's LSN group so the redo log reaches disk before the page does.
func (l *Log) SetStatus(xid uint32, st Status, lsn uint64) error {
	ctl := l.cache.ControlLock()
	ctl.Acquire(locking.Exclusive)
	defer ctl.Release(locking.Exclusive)

	slot, err := l.cache.ReadPage(l.pageFor(xid), true, xid)
	if err != nil {
		return err
	}

	buf := l.cache.Buffer(slot)
	b := l.byteFor(xid)
	sh := l.shiftFor(xid)
	buf[b] = (buf[b] &^ (xactBitmask << sh)) | (byte(st) << sh)
	l.cache.MarkDirty(slot)

	if lsn > 0 {
		l.cache.SetGroupLSN(slot, l.groupFor(xid), lsn)
	}
	return nil
}

// Status reads the recorded status of xid.
func (l *Log) Status(xid uint32) (Status, error) {
	slot, mode, err := l.cache.ReadPageReadOnly(l.pageFor(xid), xid)
	if err != nil {
		return StatusInProgress, err
	}
	b := l.cache.Buffer(slot)[l.byteFor(xid)]
	l.cache.ControlLock().Release(mode)
	return Status((b >> l.shiftFor(xid)) & xactBitmask), nil
}

// Commit journals and records a commit for xid.
func (l *Log) Commit(xid uint32) error {
	lsn, err := l.wal.Append(xid, uint8(StatusCommitted))
	if err != nil {
		return fmt.Errorf("clog: journal commit of %d: %w", xid, err)
	}
	return l.SetStatus(xid, StatusCommitted, lsn)
}

// Abort journals and records an abort for xid.
func (l *Log) Abort(xid uint32) error {
	lsn, err := l.wal.Append(xid, uint8(StatusAborted))
	if err != nil {
		return fmt.Errorf("clog: journal abort of %d: %w", xid, err)
	}
	return l.SetStatus(xid, StatusAborted, lsn)
}

// Recover replays the redo log into the status pages. While the replay
// runs, segment files missing from disk read as all zeroes.
func (l *Log) Recover() error {
	l.recovery.Store(true)
	defer l.recovery.Store(false)

	return l.wal.Recover(func(lsn uint64, xid uint32, status uint8) error {
		return l.SetStatus(xid, Status(status), lsn)
	})
}

// Checkpoint flushes every dirty status page and fsyncs the segments.
func (l *Log) Checkpoint() error {
	return l.cache.Flush(true)
}

// Flush is the non-checkpoint variant used on clean shutdown.
func (l *Log) Flush() error {
	return l.cache.Flush(false)
}

// TruncateBefore drops status pages for all xids preceding oldestXid. The
// cutoff rounds down to a segment boundary inside the cache.
func (l *Log) TruncateBefore(oldestXid uint32) error {
	return l.cache.Truncate(l.pageFor(oldestXid))
}

// Close flushes and detaches from the redo log. The shared pool stays
// registered for other attachers.
func (l *Log) Close() error {
	if err := l.Flush(); err != nil {
		return err
	}
	return l.wal.Close()
}
