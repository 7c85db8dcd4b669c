package watcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silentoxygen/kpl/internal/types"
)

func drain(t *testing.T, out chan types.PodCommand) []types.PodCommand {
	t.Helper()
	close(out)
	var cmds []types.PodCommand
	for cmd := range out {
		cmds = append(cmds, cmd)
	}
	return cmds
}

func TestApplyAppliedNewPodEmitsStart(t *testing.T) {
	out := make(chan types.PodCommand, 8)
	w := New(nil, out)
	ctx := context.Background()

	w.applyOne(ctx, PodInfo{Namespace: "ns", Name: "p1", UID: "u1", Containers: []string{"app"}})

	cmds := drain(t, out)
	require.Len(t, cmds, 1)
	assert.Equal(t, types.StartPod, cmds[0].Kind)
	assert.Equal(t, "u1", cmds[0].Pod.UID)
	assert.Equal(t, []string{"app"}, cmds[0].Containers)
}

func TestApplyAppliedZeroContainersIsSkipped(t *testing.T) {
	out := make(chan types.PodCommand, 8)
	w := New(nil, out)
	ctx := context.Background()

	w.applyOne(ctx, PodInfo{Namespace: "ns", Name: "p1", UID: "u1", Containers: nil})

	assert.Empty(t, drain(t, out))
}

func TestApplySameUidContainerDriftIsLogOnly(t *testing.T) {
	out := make(chan types.PodCommand, 8)
	w := New(nil, out)
	ctx := context.Background()

	w.applyOne(ctx, PodInfo{Namespace: "ns", Name: "p1", UID: "u1", Containers: []string{"app"}})
	w.applyOne(ctx, PodInfo{Namespace: "ns", Name: "p1", UID: "u1", Containers: []string{"app", "sidecar"}})

	cmds := drain(t, out)
	require.Len(t, cmds, 1, "only the initial StartPod; drift is log-only per open question (a)")
	assert.Equal(t, types.StartPod, cmds[0].Kind)
}

func TestApplyDifferentUidStopsOldThenStartsNewInOrder(t *testing.T) {
	out := make(chan types.PodCommand, 8)
	w := New(nil, out)
	ctx := context.Background()

	w.applyOne(ctx, PodInfo{Namespace: "ns", Name: "p1", UID: "u1", Containers: []string{"app"}})
	w.applyOne(ctx, PodInfo{Namespace: "ns", Name: "p1", UID: "u2", Containers: []string{"app"}})

	cmds := drain(t, out)
	require.Len(t, cmds, 3)
	assert.Equal(t, types.StartPod, cmds[0].Kind)
	assert.Equal(t, "u1", cmds[0].Pod.UID)
	assert.Equal(t, types.StopPod, cmds[1].Kind)
	assert.Equal(t, "u1", cmds[1].Pod.UID)
	assert.Equal(t, types.StartPod, cmds[2].Kind)
	assert.Equal(t, "u2", cmds[2].Pod.UID)
}

func TestApplyDeletedUsesStoredUidNotEventUid(t *testing.T) {
	out := make(chan types.PodCommand, 8)
	w := New(nil, out)
	ctx := context.Background()

	w.applyOne(ctx, PodInfo{Namespace: "ns", Name: "p1", UID: "u1", Containers: []string{"app"}})
	// A tombstone Deleted event may arrive with no uid at all.
	w.applyDeleted(ctx, PodInfo{Namespace: "ns", Name: "p1", UID: ""})

	cmds := drain(t, out)
	require.Len(t, cmds, 2)
	assert.Equal(t, types.StopPod, cmds[1].Kind)
	assert.Equal(t, "u1", cmds[1].Pod.UID)
}

func TestApplyDeletedUnknownPodIsNoOp(t *testing.T) {
	out := make(chan types.PodCommand, 8)
	w := New(nil, out)
	ctx := context.Background()

	w.applyDeleted(ctx, PodInfo{Namespace: "ns", Name: "ghost", UID: "u1"})

	assert.Empty(t, drain(t, out))
}

func TestApplyRestartedStopsAllBeforeStartingAny(t *testing.T) {
	out := make(chan types.PodCommand, 16)
	w := New(nil, out)
	ctx := context.Background()

	w.applyOne(ctx, PodInfo{Namespace: "ns", Name: "p1", UID: "u1", Containers: []string{"app"}})
	w.applyOne(ctx, PodInfo{Namespace: "ns", Name: "p2", UID: "u2", Containers: []string{"app"}})
	// Drain the two initial StartPods before exercising the resync.
	require.Len(t, drain(t, out), 2)

	out = make(chan types.PodCommand, 16)
	w.out = out

	// Resync: p1 is gone, p2 kept the same uid, p3 is new.
	w.applyRestarted(ctx, []PodInfo{
		{Namespace: "ns", Name: "p2", UID: "u2", Containers: []string{"app"}},
		{Namespace: "ns", Name: "p3", UID: "u3", Containers: []string{"app"}},
	})

	cmds := drain(t, out)
	require.Len(t, cmds, 2, "p1 stop, p3 start; p2 is unchanged and must emit nothing")

	var sawStop, sawStart bool
	for i, cmd := range cmds {
		if cmd.Kind == types.StopPod {
			sawStop = true
			assert.Equal(t, "p1", cmd.Pod.Name)
		}
		if cmd.Kind == types.StartPod {
			sawStart = true
			assert.Equal(t, "p3", cmd.Pod.Name)
			assert.Greater(t, i, 0, "starts must follow all stops")
		}
	}
	assert.True(t, sawStop)
	assert.True(t, sawStart)
}

func TestApplyRestartedUidChangeStopsOldStartsNew(t *testing.T) {
	out := make(chan types.PodCommand, 16)
	w := New(nil, out)
	ctx := context.Background()

	w.applyOne(ctx, PodInfo{Namespace: "ns", Name: "p1", UID: "u1", Containers: []string{"app"}})
	require.Len(t, drain(t, out), 1)

	out = make(chan types.PodCommand, 16)
	w.out = out

	w.applyRestarted(ctx, []PodInfo{
		{Namespace: "ns", Name: "p1", UID: "u2", Containers: []string{"app"}},
	})

	cmds := drain(t, out)
	require.Len(t, cmds, 2)
	assert.Equal(t, types.StopPod, cmds[0].Kind)
	assert.Equal(t, "u1", cmds[0].Pod.UID)
	assert.Equal(t, types.StartPod, cmds[1].Kind)
	assert.Equal(t, "u2", cmds[1].Pod.UID)
}

func TestFilterContainersRestrictsToAllowListPreservingPodOrder(t *testing.T) {
	got := FilterContainers("p1", []string{"init", "app", "sidecar"}, []string{"sidecar", "app"})
	assert.Equal(t, []string{"app", "sidecar"}, got)
}

func TestFilterContainersEmptyAllowReturnsAll(t *testing.T) {
	got := FilterContainers("p1", []string{"app", "sidecar"}, nil)
	assert.Equal(t, []string{"app", "sidecar"}, got)
}
