package refresh

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestAwaitSingleFlight(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})

	coord := New(func(ctx context.Context) error {
		calls.Add(1)
		close(started)
		<-release
		return nil
	})

	const n = 16
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			return coord.Await(context.Background())
		})
	}

	// Hold the refresh open until every caller has queued behind it.
	<-started
	for coord.Waiting() < n {
		time.Sleep(time.Millisecond)
	}
	close(release)

	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), calls.Load(), "exactly one refresh call for the whole storm")
	assert.False(t, coord.InFlight())
}

func TestAwaitFailurePropagatesToAllWaiters(t *testing.T) {
	refreshErr := errors.New("refresh endpoint down")
	release := make(chan struct{})
	coord := New(func(ctx context.Context) error {
		<-release
		return refreshErr
	})

	const n = 8
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			results <- coord.Await(context.Background())
		}()
	}

	for coord.Waiting() < n {
		time.Sleep(time.Millisecond)
	}
	close(release)

	for i := 0; i < n; i++ {
		assert.ErrorIs(t, <-results, refreshErr)
	}
}

func TestAwaitResetsAfterResolution(t *testing.T) {
	var calls atomic.Int32
	coord := New(func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})

	require.NoError(t, coord.Await(context.Background()))
	require.NoError(t, coord.Await(context.Background()))

	assert.Equal(t, int32(2), calls.Load(), "a second storm after resolution starts a fresh refresh")
}

func TestAwaitCancellationRemovesOnlyThatWaiter(t *testing.T) {
	release := make(chan struct{})
	coord := New(func(ctx context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancelled := make(chan error, 1)
	go func() { cancelled <- coord.Await(ctx) }()

	survivor := make(chan error, 1)
	go func() { survivor <- coord.Await(context.Background()) }()

	for coord.Waiting() < 2 {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-cancelled:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled waiter never returned")
	}

	close(release)
	select {
	case err := <-survivor:
		assert.NoError(t, err, "remaining waiter must still resolve")
	case <-time.After(time.Second):
		t.Fatal("surviving waiter never resolved")
	}
}

func TestAwaitRefreshOutlivesTriggeringCaller(t *testing.T) {
	finished := make(chan struct{})
	coord := New(func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			t.Error("refresh context must not inherit the trigger's cancellation")
		case <-time.After(100 * time.Millisecond):
		}
		close(finished)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = coord.Await(ctx)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("refresh never finished")
	}
}
