package runstate

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordFailureTripsAbortOnce(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	state := New(3, func(failures int) {
		calls.Add(1)
		require.Equal(t, 3, failures)
	})

	require.False(t, state.RecordFailure())
	require.False(t, state.RecordFailure())
	require.False(t, state.Aborted())
	require.True(t, state.RecordFailure())
	require.True(t, state.Aborted())
	require.False(t, state.RecordFailure())
	require.True(t, state.Aborted())

	require.Equal(t, 4, state.Failures())
	require.Equal(t, int32(1), calls.Load())
}

func TestZeroThresholdNeverAborts(t *testing.T) {
	t.Parallel()

	state := New(0, nil)
	for i := 0; i < 100; i++ {
		state.RecordFailure()
	}
	require.False(t, state.Aborted())
	require.Equal(t, 100, state.Failures())
}

func TestConcurrentUpdates(t *testing.T) {
	t.Parallel()

	var trips atomic.Int32
	state := New(50, nil)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if state.RecordFailure() {
				trips.Add(1)
			}
			state.AddProcessed()
			state.AddSkipped()
			state.AddFailed()
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), trips.Load())
	require.Equal(t, 100, state.Failures())
	require.Equal(t, Counts{Processed: 100, Skipped: 100, Failed: 100}, state.Counts())
	require.Equal(t, 300, state.Counts().Total())
}
