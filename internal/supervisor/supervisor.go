// Package supervisor maintains the invariant that exactly one follower
// task exists per live StreamKey, spawning and cancelling followers in
// response to PodCommands. Grounded in the teacher's podStream/podStreams
// table in _examples/kahf-infra-traefik-officer/pkg/k8s.go (a
// context.CancelFunc per running stream, guarded by a mutex) generalized
// from "one pod's single container" to "every container of every pod",
// and in _examples/smxlong-dump/sre/kubestream's StreamRegistry for the
// remove-without-double-cancel pattern.
package supervisor

import (
	"context"
	"sync"

	logger "github.com/sirupsen/logrus"

	"github.com/silentoxygen/kpl/internal/metrics"
	"github.com/silentoxygen/kpl/internal/types"
)

// FollowerFactory builds and runs a Follower for (pod, container). It must
// block until ctx is cancelled or the follower exits permanently.
type FollowerFactory func(ctx context.Context, pod types.PodKey, container string)

// Supervisor owns the active-stream table. Commands are applied by the
// single command-consuming loop (Run); every method takes mu, so Count and
// ShutdownAll may be called from other goroutines while Run is active.
type Supervisor struct {
	mu      sync.Mutex
	streams map[types.StreamKey]context.CancelFunc
	parent  context.Context
	spawn   FollowerFactory
	wg      sync.WaitGroup
}

// New constructs a Supervisor whose followers are children of parent and
// built by spawn.
func New(parent context.Context, spawn FollowerFactory) *Supervisor {
	return &Supervisor{
		streams: make(map[types.StreamKey]context.CancelFunc),
		parent:  parent,
		spawn:   spawn,
	}
}

// Handle applies one PodCommand to the active-stream table.
func (s *Supervisor) Handle(cmd types.PodCommand) {
	switch cmd.Kind {
	case types.StartPod:
		metrics.PodCommands.WithLabelValues("start").Inc()
		s.handleStart(cmd)
	case types.StopPod:
		metrics.PodCommands.WithLabelValues("stop").Inc()
		s.handleStop(cmd)
	}
}

func (s *Supervisor) handleStart(cmd types.PodCommand) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, container := range cmd.Containers {
		key := types.StreamKey{Pod: cmd.Pod, Container: container}
		if _, exists := s.streams[key]; exists {
			continue
		}

		ctx, cancel := context.WithCancel(s.parent)
		s.streams[key] = cancel

		s.wg.Add(1)
		go func(pod types.PodKey, container string) {
			defer s.wg.Done()
			s.spawn(ctx, pod, container)

			// The follower exited on its own (terminal error): drop its
			// entry. If ctx was cancelled, StopPod/ShutdownAll already did.
			s.mu.Lock()
			if ctx.Err() == nil {
				delete(s.streams, key)
				cancel()
			}
			s.mu.Unlock()
		}(cmd.Pod, container)

		logger.WithFields(logger.Fields{
			"namespace": cmd.Pod.Namespace,
			"pod":       cmd.Pod.Name,
			"uid":       cmd.Pod.UID,
			"container": container,
		}).Info("started follower")
	}
}

func (s *Supervisor) handleStop(cmd types.PodCommand) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, cancel := range s.streams {
		if key.Pod != cmd.Pod {
			continue
		}
		cancel()
		delete(s.streams, key)
		logger.WithFields(logger.Fields{
			"namespace": key.Pod.Namespace,
			"pod":       key.Pod.Name,
			"uid":       key.Pod.UID,
			"container": key.Container,
		}).Info("stopped follower")
	}
}

// ShutdownAll signals every active follower and drains the table. Must be
// called on orchestrator teardown.
func (s *Supervisor) ShutdownAll() {
	s.mu.Lock()
	for key, cancel := range s.streams {
		cancel()
		delete(s.streams, key)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Count reports the number of currently active streams (health/metrics use).
func (s *Supervisor) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

// Run consumes cmds until the channel is closed, then returns. Intended to
// run in its own goroutine; ShutdownAll can be called concurrently from
// the orchestrator once Run's channel has been drained or abandoned.
func (s *Supervisor) Run(cmds <-chan types.PodCommand) {
	for cmd := range cmds {
		s.Handle(cmd)
	}
}
