package slru

import (
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	locking "github.com/tuannm99/slrucache/internal/lock"
)

func TestWritePage_DirtyEvictionWritesBack(t *testing.T) {
	c := newTestCache(t, 2)
	writeSegmentFile(t, c, 0, 8, func(p int) byte { return byte(p + 1) })

	withCtl(c, func() {
		_, err := c.ZeroPage(0)
		require.NoError(t, err)
		_, err = c.ZeroPage(1)
		require.NoError(t, err)
	})

	// Page 1 is latest, so reading page 5 evicts the dirty page 0: one write
	// at offset 0, then one read at offset 5 pages.
	var slot int
	withCtl(c, func() {
		s, err := c.ReadPage(5, false, 0)
		require.NoError(t, err)
		slot = s
	})
	require.Equal(t, byte(6), c.Buffer(slot)[0])

	data, err := os.ReadFile(c.segmentPath(0))
	require.NoError(t, err)
	for i := 0; i < c.pageSize; i++ {
		require.Zero(t, data[i], "page 0 not written back as zeroes at byte %d", i)
	}
	// Neighbouring page untouched by the write-back.
	require.Equal(t, byte(2), data[c.pageSize])
}

func TestWritePage_CleanSlotIsNoop(t *testing.T) {
	c := newTestCache(t, 2)

	var slot int
	withCtl(c, func() {
		s, err := c.ZeroPage(0)
		require.NoError(t, err)
		slot = s
		require.NoError(t, c.WritePage(slot, nil))
		require.False(t, c.Dirty(slot))
	})

	// Remove the segment; a clean write must not touch the disk at all.
	require.NoError(t, os.Remove(c.segmentPath(0)))
	withCtl(c, func() {
		require.NoError(t, c.WritePage(slot, nil))
		require.Equal(t, SlotValid, c.State(slot))
		require.False(t, c.Dirty(slot))
	})
	_, err := os.Stat(c.segmentPath(0))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestWritePage_ConcurrentRedirtySurvivesWrite(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	first := true
	var flushMu sync.Mutex

	c := newTestCache(t, 2, func(cfg *Config) {
		cfg.LSNGroupsPerPage = 4
		cfg.FlushLSN = func(lsn uint64) error {
			flushMu.Lock()
			blocking := first
			first = false
			flushMu.Unlock()
			if blocking {
				entered <- struct{}{}
				<-release
			}
			return nil
		}
	})

	var slot int
	withCtl(c, func() {
		s, err := c.ZeroPage(0)
		require.NoError(t, err)
		slot = s
		c.SetGroupLSN(slot, 0, 5)
	})

	done := make(chan error, 1)
	go func() {
		c.ControlLock().Acquire(locking.Exclusive)
		err := c.WritePage(slot, nil)
		c.ControlLock().Release(locking.Exclusive)
		done <- err
	}()

	// The writer is parked inside the redo-log flush with the control lock
	// released; mutate the page under it.
	<-entered
	withCtl(c, func() {
		require.Equal(t, SlotWriteInProgress, c.State(slot))
		c.Buffer(slot)[0] = 0xAB
		c.MarkDirty(slot)
	})
	close(release)

	require.NoError(t, <-done)
	withCtl(c, func() {
		require.Equal(t, SlotValid, c.State(slot))
		require.True(t, c.Dirty(slot), "re-dirty during write must survive completion")
	})

	// A second write pushes the new bytes out and comes back clean.
	withCtl(c, func() {
		require.NoError(t, c.WritePage(slot, nil))
		require.False(t, c.Dirty(slot))
	})
	data, err := os.ReadFile(c.segmentPath(0))
	require.NoError(t, err)
	require.Equal(t, byte(0xAB), data[0])
}

func TestWritePage_WALOrderingFlushesMaxLSN(t *testing.T) {
	var flushed []uint64
	c := newTestCache(t, 2, func(cfg *Config) {
		cfg.LSNGroupsPerPage = 4
		cfg.FlushLSN = func(lsn uint64) error {
			flushed = append(flushed, lsn)
			return nil
		}
	})

	var slot int
	withCtl(c, func() {
		s, err := c.ZeroPage(0)
		require.NoError(t, err)
		slot = s
		c.SetGroupLSN(slot, 0, 11)
		c.SetGroupLSN(slot, 2, 40)
		c.SetGroupLSN(slot, 3, 23)
	})

	withCtl(c, func() {
		require.NoError(t, c.WritePage(slot, nil))
	})
	require.Equal(t, []uint64{40}, flushed)
}

func TestWritePage_NoLSNsMeansNoFlushCall(t *testing.T) {
	calls := 0
	c := newTestCache(t, 2, func(cfg *Config) {
		cfg.LSNGroupsPerPage = 4
		cfg.FlushLSN = func(uint64) error { calls++; return nil }
	})

	withCtl(c, func() {
		slot, err := c.ZeroPage(0)
		require.NoError(t, err)
		require.NoError(t, c.WritePage(slot, nil))
	})
	require.Zero(t, calls)
}

func TestFlush_WritesEveryDirtySlot(t *testing.T) {
	c := newTestCache(t, 4, func(cfg *Config) {
		cfg.FlushFileLimit = 2 // force the overflow fallback for one segment
	})

	// Three dirty pages across three segments.
	pages := []uint32{0, 40, 80}
	withCtl(c, func() {
		for _, p := range pages {
			_, err := c.ZeroPage(p)
			require.NoError(t, err)
		}
	})

	require.NoError(t, c.Flush(false))

	withCtl(c, func() {
		for i := 0; i < c.NumSlots(); i++ {
			if c.State(i) != SlotEmpty {
				require.False(t, c.Dirty(i), "slot %d still dirty after flush", i)
			}
		}
	})
	for _, p := range pages {
		_, err := os.Stat(c.segmentPath(c.segmentNo(p)))
		require.NoError(t, err, "segment for page %d missing after flush", p)
	}
}

func TestFlush_CheckpointAlsoSyncs(t *testing.T) {
	c := newTestCache(t, 2, func(cfg *Config) {
		cfg.DoFsync = true
	})

	withCtl(c, func() {
		_, err := c.ZeroPage(3)
		require.NoError(t, err)
	})
	require.NoError(t, c.Flush(true))

	info, err := os.Stat(c.segmentPath(0))
	require.NoError(t, err)
	require.Equal(t, int64(4*c.pageSize), info.Size())
}
