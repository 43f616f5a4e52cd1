package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_IntervalJobFires(t *testing.T) {
	s := New(nil, zerolog.Nop())

	var runs int32
	require.NoError(t, s.Register(Job{
		Name: "tick",
		Trigger: Trigger{
			Kind:  TriggerInterval,
			Every: 20 * time.Millisecond,
		},
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			return nil
		},
	}))

	s.Start()
	time.Sleep(100 * time.Millisecond)
	s.Stop(time.Second)

	assert.GreaterOrEqual(t, atomic.LoadInt32(&runs), int32(2))
}

func TestScheduler_MaxInstancesSuppressesOverlap(t *testing.T) {
	s := New(nil, zerolog.Nop())

	var runs int32
	started := make(chan struct{}, 10)
	release := make(chan struct{})

	require.NoError(t, s.Register(Job{
		Name:         "slow",
		MaxInstances: 1,
		Trigger: Trigger{
			Kind:  TriggerInterval,
			Every: 10 * time.Millisecond,
		},
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			started <- struct{}{}
			<-release
			return nil
		},
	}))

	s.Start()
	<-started // first instance is now running and blocked

	time.Sleep(50 * time.Millisecond) // several ticks pile up behind it
	close(release)
	s.Stop(time.Second)

	assert.LessOrEqual(t, atomic.LoadInt32(&runs), int32(2), "max_instances=1 must suppress overlapping firings")
}

func TestScheduler_StopWaitsForInFlightJob(t *testing.T) {
	s := New(nil, zerolog.Nop())

	done := make(chan struct{})
	require.NoError(t, s.Register(Job{
		Name: "once",
		Trigger: Trigger{
			Kind:  TriggerInterval,
			Every: 5 * time.Millisecond,
		},
		Run: func(ctx context.Context) error {
			close(done)
			return nil
		},
	}))

	s.Start()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job never fired")
	}
	s.Stop(time.Second)
}

func TestScheduler_CooperativeCancellationOnForceStop(t *testing.T) {
	s := New(nil, zerolog.Nop())

	entered := make(chan struct{})
	require.NoError(t, s.Register(Job{
		Name: "slow",
		Trigger: Trigger{
			Kind:  TriggerInterval,
			Every: 5 * time.Millisecond,
		},
		Run: func(ctx context.Context) error {
			close(entered)
			<-ctx.Done()
			return ctx.Err()
		},
	}))

	s.Start()
	<-entered
	s.Stop(20 * time.Millisecond)

	assert.Error(t, s.Context().Err(), "force-stop must cancel the cooperative cancellation token")
}
