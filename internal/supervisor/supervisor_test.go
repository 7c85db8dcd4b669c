package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silentoxygen/kpl/internal/types"
)

func pod(name, uid string) types.PodKey {
	return types.PodKey{Namespace: "ns", Name: name, UID: uid}
}

func TestHandleStartSpawnsOneFollowerPerContainer(t *testing.T) {
	var mu sync.Mutex
	var started []types.StreamKey

	spawn := func(ctx context.Context, p types.PodKey, container string) {
		mu.Lock()
		started = append(started, types.StreamKey{Pod: p, Container: container})
		mu.Unlock()
		<-ctx.Done()
	}

	s := New(context.Background(), spawn)
	s.Handle(types.PodCommand{Kind: types.StartPod, Pod: pod("p1", "u1"), Containers: []string{"app", "sidecar"}})

	require.Eventually(t, func() bool { return s.Count() == 2 }, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, started, 2)

	s.ShutdownAll()
}

func TestHandleStartIsIdempotentForSameStreamKey(t *testing.T) {
	var calls int
	var mu sync.Mutex

	spawn := func(ctx context.Context, p types.PodKey, container string) {
		mu.Lock()
		calls++
		mu.Unlock()
		<-ctx.Done()
	}

	s := New(context.Background(), spawn)
	cmd := types.PodCommand{Kind: types.StartPod, Pod: pod("p1", "u1"), Containers: []string{"app"}}
	s.Handle(cmd)
	s.Handle(cmd)

	require.Eventually(t, func() bool { return s.Count() == 1 }, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls, "a repeated StartPod for an already-running stream must not spawn a second follower")

	s.ShutdownAll()
}

func TestHandleStopCancelsOnlyMatchingPod(t *testing.T) {
	spawn := func(ctx context.Context, p types.PodKey, container string) {
		<-ctx.Done()
	}

	s := New(context.Background(), spawn)
	s.Handle(types.PodCommand{Kind: types.StartPod, Pod: pod("p1", "u1"), Containers: []string{"app"}})
	s.Handle(types.PodCommand{Kind: types.StartPod, Pod: pod("p2", "u2"), Containers: []string{"app"}})
	require.Eventually(t, func() bool { return s.Count() == 2 }, time.Second, time.Millisecond)

	s.Handle(types.PodCommand{Kind: types.StopPod, Pod: pod("p1", "u1")})
	require.Eventually(t, func() bool { return s.Count() == 1 }, time.Second, time.Millisecond)

	s.ShutdownAll()
	assert.Equal(t, 0, s.Count())
}

func TestShutdownAllWaitsForFollowersToExit(t *testing.T) {
	exited := make(chan struct{})
	spawn := func(ctx context.Context, p types.PodKey, container string) {
		<-ctx.Done()
		close(exited)
	}

	s := New(context.Background(), spawn)
	s.Handle(types.PodCommand{Kind: types.StartPod, Pod: pod("p1", "u1"), Containers: []string{"app"}})
	require.Eventually(t, func() bool { return s.Count() == 1 }, time.Second, time.Millisecond)

	s.ShutdownAll()

	select {
	case <-exited:
	default:
		t.Fatal("ShutdownAll returned before the follower goroutine exited")
	}
	assert.Equal(t, 0, s.Count())
}

func TestRunConsumesUntilChannelClosed(t *testing.T) {
	spawn := func(ctx context.Context, p types.PodKey, container string) {
		<-ctx.Done()
	}
	s := New(context.Background(), spawn)

	cmds := make(chan types.PodCommand, 1)
	done := make(chan struct{})
	go func() {
		s.Run(cmds)
		close(done)
	}()

	cmds <- types.PodCommand{Kind: types.StartPod, Pod: pod("p1", "u1"), Containers: []string{"app"}}
	require.Eventually(t, func() bool { return s.Count() == 1 }, time.Second, time.Millisecond)

	close(cmds)
	require.Eventually(t, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	s.ShutdownAll()
}
