package waiters

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSet_ResolveAll(t *testing.T) {
	s := NewSet()
	a := s.Add()
	b := s.Add()
	require.Equal(t, 2, s.Len())

	assert.Equal(t, 2, s.ResolveAll())
	assert.Equal(t, 0, s.Len())

	require.NoError(t, s.Wait(context.Background(), a, time.Second))
	require.NoError(t, s.Wait(context.Background(), b, time.Second))
	assert.False(t, s.Remove(a), "resolved waiter must not be removable")
}

func TestSet_TimeoutRemovesWaiter(t *testing.T) {
	s := NewSet()
	w := s.Add()

	start := time.Now()
	err := s.Wait(context.Background(), w, 50*time.Millisecond)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 500*time.Millisecond)
	assert.Equal(t, 0, s.Len())

	// a later resolution must not touch the timed-out waiter
	assert.Equal(t, 0, s.ResolveAll())
	select {
	case <-w.Done():
		t.Fatal("timed-out waiter was resolved")
	default:
	}
}

func TestSet_ContextCancel(t *testing.T) {
	s := NewSet()
	w := s.Add()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Wait(ctx, w, time.Second), context.Canceled)
	assert.Equal(t, 0, s.Len())
}

func TestSet_ExclusiveOutcome(t *testing.T) {
	// Race resolution against short timeouts: every waiter ends in exactly one
	// state and none are left behind.
	s := NewSet()
	const n = 200
	results := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		w := s.Add()
		wg.Add(1)
		go func(i int, w *Waiter) {
			defer wg.Done()
			results[i] = s.Wait(context.Background(), w, time.Duration(i%5)*time.Millisecond)
		}(i, w)
	}
	time.Sleep(2 * time.Millisecond)
	resolved := s.ResolveAll()
	wg.Wait()

	timeouts := 0
	for _, err := range results {
		if err != nil {
			require.ErrorIs(t, err, ErrTimeout)
			timeouts++
		}
	}
	assert.Equal(t, n, resolved+timeouts)
	assert.Equal(t, 0, s.Len())
}
