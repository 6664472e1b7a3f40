package slru

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTruncate_DropsSlotsAndSegments(t *testing.T) {
	c := newTestCache(t, 4)

	// One page in each of three segments; flush so the files exist.
	pages := []uint32{0, 40, 80}
	withCtl(c, func() {
		for _, p := range pages {
			_, err := c.ZeroPage(p)
			require.NoError(t, err)
		}
	})
	require.NoError(t, c.Flush(false))

	// Cutoff inside segment 2 rounds down to its first page (64).
	require.NoError(t, c.Truncate(70))

	withCtl(c, func() {
		for i := 0; i < c.NumSlots(); i++ {
			if c.State(i) == SlotEmpty {
				continue
			}
			require.GreaterOrEqual(t, c.PageNumber(i), uint32(64))
		}
	})

	_, err := os.Stat(c.segmentPath(0))
	require.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Stat(c.segmentPath(1))
	require.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Stat(c.segmentPath(2))
	require.NoError(t, err)
}

func TestTruncate_WritesDirtyPagesBeforeDiscard(t *testing.T) {
	c := newTestCache(t, 4)

	withCtl(c, func() {
		_, err := c.ZeroPage(0)
		require.NoError(t, err)
		_, err = c.ZeroPage(80)
		require.NoError(t, err)
	})

	// Page 0 is dirty and precedes the cutoff: the conservative path writes
	// it out, then discards the clean copy and unlinks the segment.
	require.NoError(t, c.Truncate(64))

	withCtl(c, func() {
		for i := 0; i < c.NumSlots(); i++ {
			if c.State(i) == SlotEmpty {
				continue
			}
			require.Equal(t, uint32(80), c.PageNumber(i))
		}
	})
	_, err := os.Stat(c.segmentPath(0))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestTruncate_WraparoundRefusal(t *testing.T) {
	c := newTestCache(t, 2)

	withCtl(c, func() {
		slot, err := c.ZeroPage(10)
		require.NoError(t, err)
		require.NoError(t, c.WritePage(slot, nil))
	})

	// The latest page precedes the cutoff: apparent wrap-around, refuse and
	// keep everything.
	require.NoError(t, c.Truncate(1_000_000))

	_, err := os.Stat(c.segmentPath(0))
	require.NoError(t, err)
	withCtl(c, func() {
		found := false
		for i := 0; i < c.NumSlots(); i++ {
			if c.State(i) != SlotEmpty && c.PageNumber(i) == 10 {
				found = true
			}
		}
		require.True(t, found, "page 10 must survive the refused truncation")
	})
}

func TestTruncate_IgnoresForeignFiles(t *testing.T) {
	c := newTestCache(t, 2)

	withCtl(c, func() {
		slot, err := c.ZeroPage(100)
		require.NoError(t, err)
		require.NoError(t, c.WritePage(slot, nil))
	})

	// Not segment names: wrong width, lowercase, non-hex.
	for _, name := range []string{"00000", "00a1", "GGGG", "notes.txt"} {
		require.NoError(t, os.WriteFile(c.dir+"/"+name, []byte("x"), 0o644))
	}

	require.NoError(t, c.Truncate(96))

	for _, name := range []string{"00000", "00a1", "GGGG", "notes.txt"} {
		_, err := os.Stat(c.dir + "/" + name)
		require.NoError(t, err, "%s must not be unlinked", name)
	}
}
