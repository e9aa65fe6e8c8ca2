package pbnlock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClaimIncrementExhausts(t *testing.T) {
	l := New(Write)
	l.SetIncrementLimit(4)
	require.True(t, l.IsProvisional())

	for i := 0; i < 4; i++ {
		require.True(t, l.ClaimIncrement(), "claim %d should succeed", i)
	}
	require.False(t, l.ClaimIncrement(), "fifth claim must fail once the budget is exhausted")
	require.EqualValues(t, 0, l.RemainingIncrements())
}

func TestClaimIncrementConcurrentNeverOversubscribes(t *testing.T) {
	l := New(Read)
	l.SetIncrementLimit(100)

	var wg sync.WaitGroup
	var successes int32
	var mu sync.Mutex
	for i := 0; i < 500; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.ClaimIncrement() {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 100, successes)
}

func TestDowngradeWriteToRead(t *testing.T) {
	l := New(Write)
	require.False(t, l.IsReadLock())
	l.DowngradeWriteToRead()
	require.True(t, l.IsReadLock())
}

func TestHolderCount(t *testing.T) {
	l := New(Read)
	require.EqualValues(t, 1, l.AddHolder())
	require.EqualValues(t, 2, l.AddHolder())
	require.EqualValues(t, 1, l.RemoveHolder())
}
