package feed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startLoop(t *testing.T) (*Loop, func()) {
	t.Helper()
	l := NewLoop(0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	return l, func() {
		cancel()
		<-done
	}
}

func TestLoop_RunsTasksInOrder(t *testing.T) {
	l, stop := startLoop(t)
	defer stop()

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		require.True(t, l.Post(func() { got = append(got, i) }))
	}
	require.NoError(t, l.Do(context.Background(), func() {}))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestLoop_GoContinuationRunsOnLoop(t *testing.T) {
	l, stop := startLoop(t)
	defer stop()

	release := make(chan struct{})
	var applied bool
	require.NoError(t, l.Do(context.Background(), func() {
		l.Go(func(ctx context.Context) func() {
			<-release
			return func() { applied = true }
		})
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Settle(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, l.Settle(context.Background()))

	var seen bool
	require.NoError(t, l.Do(context.Background(), func() { seen = applied }))
	assert.True(t, seen)
}

func TestLoop_PostAfterStop(t *testing.T) {
	l, stop := startLoop(t)
	stop()

	assert.False(t, l.Post(func() {}))
	assert.ErrorIs(t, l.Do(context.Background(), func() {}), context.Canceled)
}
