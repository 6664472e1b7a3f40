package slrucache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpen_CommitAndReadBack(t *testing.T) {
	l, err := Open(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	require.NoError(t, l.Bootstrap())
	require.NoError(t, l.Commit(1))
	require.NoError(t, l.Abort(2))

	st, err := l.Status(1)
	require.NoError(t, err)
	require.Equal(t, StatusCommitted, st)

	st, err = l.Status(2)
	require.NoError(t, err)
	require.Equal(t, StatusAborted, st)

	st, err = l.Status(3)
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, st)
}
