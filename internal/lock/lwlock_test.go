package locking

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLWLock_TrySharedFailsUnderExclusive(t *testing.T) {
	var l LWLock
	l.Acquire(Exclusive)
	require.False(t, l.TryShared())
	l.Release(Exclusive)
	require.True(t, l.TryShared())
	l.Release(Shared)
}

func TestLWLock_SharedHoldersCoexist(t *testing.T) {
	var l LWLock
	l.Acquire(Shared)
	require.True(t, l.TryShared())
	l.Release(Shared)
	l.Release(Shared)
}

func TestLWLock_ExclusiveWaitsForShared(t *testing.T) {
	var l LWLock
	l.Acquire(Shared)

	var wg sync.WaitGroup
	acquired := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.Acquire(Exclusive)
		close(acquired)
		l.Release(Exclusive)
	}()

	select {
	case <-acquired:
		t.Fatal("exclusive acquire succeeded while shared held")
	default:
	}

	l.Release(Shared)
	wg.Wait()
	<-acquired
}
