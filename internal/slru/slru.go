// Package slru implements a simple least-recently-used cache of fixed-size
// pages for numbered, append-oriented logical logs. Pages live in a small
// shared pool of buffers and spill to segment files named by four uppercase
// hex digits under the cache's directory. Several caches can coexist in one
// process, each with its own directory, its own control lock and its own
// page-ordering predicate.
//
// Locking protocol: a single control lock guards all pool metadata; one i/o
// lock per slot is held across disk operations so that the control lock never
// is. Locks are always taken control first, then slot, and a holder of one
// slot lock never takes another.
package slru

import (
	"fmt"
	"log/slog"
	"os"

	locking "github.com/tuannm99/slrucache/internal/lock"
	"github.com/tuannm99/slrucache/internal/shmem"
)

var logPrefix = "slru: "

const (
	DefaultPageSize        = 8192
	DefaultPagesPerSegment = 32
	DefaultFlushFileLimit  = 16
)

// Config carries everything needed to construct or attach one cache.
// Precedes is the caller-supplied strict ordering on page numbers; it must
// respect the embedder's wrap-around rules and is only ever applied to pages
// currently in the pool or on disk.
type Config struct {
	Name             string
	Dir              string
	NumSlots         int
	LSNGroupsPerPage int
	PageSize         int
	PagesPerSegment  int
	DoFsync          bool
	FlushFileLimit   int

	Precedes func(a, b uint32) bool

	// FlushLSN forces the embedder's redo log out through the given
	// position before a page carrying that position is written. A nil hook
	// disables write-ahead ordering even when LSNGroupsPerPage > 0.
	FlushLSN func(lsn uint64) error

	// InRecovery reports whether the embedder is in crash recovery, in
	// which case a missing segment file reads as all zeroes.
	InRecovery func() bool

	// Registry defaults to shmem.Default.
	Registry *shmem.Registry
}

type Cache struct {
	name string
	dir  string

	pageSize    int
	pagesPerSeg int
	lsnGroups   int
	fileLimit   int
	doFsync     bool

	precedes   func(a, b uint32) bool
	flushLSN   func(lsn uint64) error
	inRecovery func() bool

	pool *SharedPool
}

// New constructs a cache, attaching the shared pool registered under the
// cache name or initializing a fresh one on first attach.
func New(cfg Config) (*Cache, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("slru: cache name must not be empty")
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("slru %s: directory must not be empty", cfg.Name)
	}
	if cfg.NumSlots <= 0 {
		return nil, fmt.Errorf("slru %s: num slots must be positive, got %d", cfg.Name, cfg.NumSlots)
	}
	if cfg.LSNGroupsPerPage < 0 {
		return nil, fmt.Errorf("slru %s: lsn groups must not be negative, got %d", cfg.Name, cfg.LSNGroupsPerPage)
	}
	if cfg.Precedes == nil {
		return nil, fmt.Errorf("slru %s: precedes predicate is required", cfg.Name)
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.PagesPerSegment == 0 {
		cfg.PagesPerSegment = DefaultPagesPerSegment
	}
	if cfg.FlushFileLimit == 0 {
		cfg.FlushFileLimit = DefaultFlushFileLimit
	}
	reg := cfg.Registry
	if reg == nil {
		reg = shmem.Default
	}

	if err := os.MkdirAll(cfg.Dir, FileMode0755); err != nil {
		return nil, fmt.Errorf("slru %s: create directory: %w", cfg.Name, err)
	}

	v, found := reg.Attach("slru/"+cfg.Name, func() any {
		return newSharedPool(cfg.NumSlots, cfg.LSNGroupsPerPage, cfg.PageSize)
	})
	pool := v.(*SharedPool)
	if found && pool.numSlots != cfg.NumSlots {
		return nil, fmt.Errorf("slru %s: attached pool has %d slots, config wants %d",
			cfg.Name, pool.numSlots, cfg.NumSlots)
	}
	if !found {
		slog.Debug(logPrefix+"initialized pool",
			"cache", cfg.Name,
			"slots", cfg.NumSlots,
			"lsnGroups", cfg.LSNGroupsPerPage,
			"bytes", ShmemSize(cfg.NumSlots, cfg.LSNGroupsPerPage, cfg.PageSize))
	}

	return &Cache{
		name:        cfg.Name,
		dir:         cfg.Dir,
		pageSize:    cfg.PageSize,
		pagesPerSeg: cfg.PagesPerSegment,
		lsnGroups:   cfg.LSNGroupsPerPage,
		fileLimit:   cfg.FlushFileLimit,
		doFsync:     cfg.DoFsync,
		precedes:    cfg.Precedes,
		flushLSN:    cfg.FlushLSN,
		inRecovery:  cfg.InRecovery,
		pool:        pool,
	}, nil
}

// ControlLock exposes the pool-wide lock. Callers of ZeroPage, ReadPage,
// TryReadPage, WritePage and the metadata accessors must hold it exclusively
// (shared suffices for reading a Valid slot's buffer).
func (c *Cache) ControlLock() *locking.LWLock {
	return &c.pool.control
}

func (c *Cache) NumSlots() int { return c.pool.numSlots }

func (c *Cache) PageSize() int { return c.pageSize }

// Buffer returns the slot's page bytes. The caller must hold the control lock
// and must not retain the slice past releasing it.
func (c *Cache) Buffer(slot int) []byte {
	return c.pool.buffers[slot]
}

// PageNumber reports which page the slot holds; meaningful only while the
// slot is not empty.
func (c *Cache) PageNumber(slot int) uint32 {
	return c.pool.pageNumber[slot]
}

func (c *Cache) State(slot int) SlotState {
	return c.pool.state[slot]
}

func (c *Cache) Dirty(slot int) bool {
	return c.pool.dirty[slot]
}

// MarkDirty flags the slot's bytes as ahead of disk. Control lock must be
// held exclusively. Marking a slot that is mid-write tells the writer's
// completion path to leave the page dirty, so the new bytes get another
// write later.
func (c *Cache) MarkDirty(slot int) {
	c.pool.dirty[slot] = true
}

// LatestPage returns the logically-active page, which is never evicted.
func (c *Cache) LatestPage() uint32 {
	return c.pool.latestPageNumber
}

// SetLatestPage is called by the embedder before first use and whenever the
// active page advances outside ZeroPage. Control lock must be held
// exclusively.
func (c *Cache) SetLatestPage(p uint32) {
	c.pool.latestPageNumber = p
}

// GroupLSN returns the write-ahead position recorded for one LSN sub-group
// of the slot's page.
func (c *Cache) GroupLSN(slot, group int) uint64 {
	return c.pool.groupLSN[slot*c.lsnGroups+group]
}

// SetGroupLSN records the redo-log position that must be durable before the
// slot's page may be written. Positions only ever advance. Control lock must
// be held exclusively.
func (c *Cache) SetGroupLSN(slot, group int, lsn uint64) {
	idx := slot*c.lsnGroups + group
	if lsn > c.pool.groupLSN[idx] {
		c.pool.groupLSN[idx] = lsn
	}
}

func (c *Cache) zeroLSNs(slot int) {
	for g := 0; g < c.lsnGroups; g++ {
		c.pool.groupLSN[slot*c.lsnGroups+g] = 0
	}
}

func (c *Cache) recovering() bool {
	return c.inRecovery != nil && c.inRecovery()
}
