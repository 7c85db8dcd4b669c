// Package devsource is the developer-mode pod simulator: it fulfils the
// PodSource and follower.LogOpener contracts without a cluster, so kpl's
// control and data plane can be exercised end-to-end in CI or locally.
// Grounded verbatim in the event sequence of
// _examples/original_source/src/dev/pods.rs (one StartPod, sleep,
// StopPod, StartPod with a new uid) and the line-generation loop of
// _examples/original_source/src/stream/dev.rs ("log line N" at a
// configurable rate, optionally bounded).
package devsource

import (
	"context"
	"fmt"
	"io"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/silentoxygen/kpl/internal/follower"
	"github.com/silentoxygen/kpl/internal/types"
	"github.com/silentoxygen/kpl/internal/watcher"
)

// Source is the developer-mode PodSource. It emits exactly the sequence
// spec.md §6 describes: "one StartPod for a synthetic pod, sleeping,
// emitting StopPod, then a second StartPod with a different uid."
type Source struct {
	Namespace string
	// Phase is the sleep between the first StartPod and the StopPod/
	// second StartPod transition.
	Phase time.Duration
}

// Events implements watcher.PodSource.
func (s Source) Events(ctx context.Context) (<-chan watcher.Event, <-chan error) {
	out := make(chan watcher.Event, 4)
	errs := make(chan error)

	phase := s.Phase
	if phase <= 0 {
		phase = 5 * time.Second
	}

	go func() {
		defer close(out)
		defer close(errs)

		logger.Info("starting dev-mode pod source")

		pod1 := watcher.PodInfo{
			Namespace:  s.Namespace,
			Name:       "dev-pod-1",
			UID:        "dev-uid-1",
			Containers: []string{"app", "sidecar"},
		}

		if !send(ctx, out, watcher.Event{Kind: watcher.Applied, Pod: pod1}) {
			return
		}

		if !sleepOrDone(ctx, phase) {
			return
		}

		logger.Info("simulating pod restart")

		if !send(ctx, out, watcher.Event{Kind: watcher.Deleted, Pod: pod1}) {
			return
		}

		pod2 := pod1
		pod2.UID = "dev-uid-2"
		if !send(ctx, out, watcher.Event{Kind: watcher.Applied, Pod: pod2}) {
			return
		}

		<-ctx.Done()
	}()

	return out, errs
}

func send(ctx context.Context, out chan<- watcher.Event, ev watcher.Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// LogOpener is the synthetic follower.LogOpener counterpart: it generates
// "log line N" messages at RateMs intervals, stopping after MaxLines (if
// set) or when the reader is closed.
type LogOpener struct {
	RateMs   uint64
	MaxLines uint64 // 0 means unbounded
}

// Open implements follower.LogOpener.
func (o LogOpener) Open(ctx context.Context, pod types.PodKey, container string, _ follower.OpenOptions) (io.ReadCloser, error) {
	rate := time.Duration(o.RateMs) * time.Millisecond
	if rate <= 0 {
		rate = 500 * time.Millisecond
	}

	pr, pw := io.Pipe()

	go func() {
		var counter uint64
		for {
			counter++

			t := time.NewTimer(rate)
			select {
			case <-ctx.Done():
				t.Stop()
				_ = pw.CloseWithError(io.EOF)
				return
			case <-t.C:
			}

			line := fmt.Sprintf("log line %d\n", counter)
			if _, err := pw.Write([]byte(line)); err != nil {
				return
			}

			if o.MaxLines > 0 && counter >= o.MaxLines {
				_ = pw.Close()
				return
			}
		}
	}()

	return pr, nil
}
