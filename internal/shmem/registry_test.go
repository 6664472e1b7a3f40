package shmem

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_AttachCreatesOnce(t *testing.T) {
	r := NewRegistry()

	calls := 0
	create := func() any {
		calls++
		return &struct{ n int }{n: 42}
	}

	v1, found := r.Attach("pool/a", create)
	require.False(t, found)
	v2, found := r.Attach("pool/a", create)
	require.True(t, found)
	require.Same(t, v1, v2)
	require.Equal(t, 1, calls)
}

func TestRegistry_DistinctNamesDistinctRegions(t *testing.T) {
	r := NewRegistry()

	v1, _ := r.Attach("pool/a", func() any { return new(int) })
	v2, _ := r.Attach("pool/b", func() any { return new(int) })
	require.NotSame(t, v1, v2)
}

func TestRegistry_DetachForgetsRegion(t *testing.T) {
	r := NewRegistry()

	v1, _ := r.Attach("pool/a", func() any { return new(int) })
	r.Detach("pool/a")
	v2, found := r.Attach("pool/a", func() any { return new(int) })
	require.False(t, found)
	require.NotSame(t, v1, v2)
}
