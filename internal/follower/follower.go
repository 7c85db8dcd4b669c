// Package follower implements the per-(pod,container) log tailer: open a
// line-oriented stream, read until EOF/error/cancellation, emit LogEvents,
// reconnect with backoff on transient failure. Grounded in the teacher's
// KubernetesLogSource.streamPodLogs/streamPodLogsWithRetry pair in
// _examples/kahf-infra-traefik-officer/pkg/k8s.go, generalized from
// "one source of pod logs" to the pluggable LogOpener below so the same
// loop drives cluster, simulator and replay backends alike.
package follower

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/silentoxygen/kpl/internal/backoff"
	"github.com/silentoxygen/kpl/internal/metrics"
	"github.com/silentoxygen/kpl/internal/types"
)

// OpenOptions constrains the first open of a stream (spec.md §4.3 step 2).
type OpenOptions struct {
	SinceSeconds *int64
	TailLines    *int64
}

// LogOpener is the log source contract (spec.md §6): given a pod and
// container, return a line-oriented reader that yields bytes until the
// server closes it. Open errors must be classifiable by the follower's
// ErrorClassifier (Config.Classify).
type LogOpener interface {
	Open(ctx context.Context, pod types.PodKey, container string, opts OpenOptions) (io.ReadCloser, error)
}

// ErrorClassifier maps an opener's error to one of the taxonomy sentinels
// (types.ErrAuth, types.ErrNotFound, types.ErrRetry). Cluster backends
// classify by HTTP status; non-cluster backends may always return
// types.ErrRetry.
type ErrorClassifier func(err error) error

// Config bundles the tunables a Follower needs beyond its identity.
type Config struct {
	Opener       LogOpener
	Classify     ErrorClassifier
	Sink         chan<- types.LogEvent
	BackoffMin   time.Duration
	BackoffMax   time.Duration
	SinceSeconds *int64
	TailLines    *int64
	// Fatal receives a single terminal error (types.ErrAuth) for this
	// follower. Best-effort: a full/absent receiver does not block Run.
	Fatal chan<- error
}

// Follower tails one container's log stream until ctx is cancelled.
type Follower struct {
	pod       types.PodKey
	container string
	cfg       Config
	bo        *backoff.Backoff
}

// New constructs a Follower for (pod, container).
func New(pod types.PodKey, container string, cfg Config) *Follower {
	min := cfg.BackoffMin
	if min <= 0 {
		min = 200 * time.Millisecond
	}
	max := cfg.BackoffMax
	if max <= 0 {
		max = 5 * time.Second
	}
	return &Follower{
		pod:       pod,
		container: container,
		cfg:       cfg,
		bo:        backoff.New(min, max),
	}
}

// Run blocks until ctx is cancelled or a terminal error (Auth/NotFound)
// ends the follower permanently.
func (f *Follower) Run(ctx context.Context) {
	first := true
	for {
		if ctx.Err() != nil {
			return
		}

		opts := OpenOptions{}
		if first {
			opts.SinceSeconds = f.cfg.SinceSeconds
			opts.TailLines = f.cfg.TailLines
		}

		stream, err := f.cfg.Opener.Open(ctx, f.pod, f.container, opts)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			classified := f.classify(err)
			switch {
			case errors.Is(classified, types.ErrAuth):
				logger.WithFields(logger.Fields{
					"namespace": f.pod.Namespace,
					"pod":       f.pod.Name,
					"container": f.container,
				}).Errorf("auth error opening log stream, giving up: %v", err)
				metrics.FollowersTerminal.WithLabelValues("auth").Inc()
				f.reportFatal(types.ErrAuth)
				return
			case errors.Is(classified, types.ErrNotFound):
				logger.WithFields(logger.Fields{
					"namespace": f.pod.Namespace,
					"pod":       f.pod.Name,
					"container": f.container,
				}).Infof("container not found, exiting and deferring to watcher: %v", err)
				metrics.FollowersTerminal.WithLabelValues("not_found").Inc()
				return
			default:
				logger.WithFields(logger.Fields{
					"namespace": f.pod.Namespace,
					"pod":       f.pod.Name,
					"container": f.container,
				}).Warnf("error opening log stream, retrying: %v", err)
				metrics.FollowerReconnects.Inc()
				if !f.sleepOrCancel(ctx, f.bo.Next()) {
					return
				}
				continue
			}
		}

		first = false
		f.bo.Reset()
		metrics.ActiveFollowers.Inc()
		eof := f.readLoop(ctx, stream)
		_ = stream.Close()
		metrics.ActiveFollowers.Dec()

		if ctx.Err() != nil {
			return
		}
		if !eof {
			metrics.FollowerReconnects.Inc()
		}
		if !f.sleepOrCancel(ctx, f.bo.Next()) {
			return
		}
	}
}

// readLoop reads lines until EOF, a read error, or cancellation. Returns
// true on clean EOF or cancellation and false on a read error; Run counts
// a reconnect in metrics.FollowerReconnects only after a read error.
func (f *Follower) readLoop(ctx context.Context, stream io.ReadCloser) bool {
	type lineOrErr struct {
		line []byte
		err  error
	}

	lines := make(chan lineOrErr, 1)
	done := make(chan struct{})
	defer close(done)

	reader := bufio.NewReaderSize(stream, 64*1024)

	go func() {
		for {
			line, err := reader.ReadBytes('\n')
			select {
			case lines <- lineOrErr{line: line, err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return true
		case le := <-lines:
			if len(le.line) > 0 {
				f.emit(ctx, le.line)
			}
			if le.err != nil {
				return errors.Is(le.err, io.EOF)
			}
		}
	}
}

func (f *Follower) emit(ctx context.Context, raw []byte) {
	msg := trimNewline(raw)
	if len(msg) == 0 {
		return
	}
	ev := types.LogEvent{
		TS:        time.Now(),
		Namespace: f.pod.Namespace,
		Pod:       f.pod.Name,
		Container: f.container,
		Message:   sanitizeUTF8(msg),
	}

	select {
	case f.cfg.Sink <- ev:
		metrics.LinesEmitted.Inc()
	case <-ctx.Done():
	}
}

func (f *Follower) classify(err error) error {
	if f.cfg.Classify == nil {
		return types.ErrRetry
	}
	return f.cfg.Classify(err)
}

func (f *Follower) reportFatal(err error) {
	if f.cfg.Fatal == nil {
		return
	}
	select {
	case f.cfg.Fatal <- err:
	default:
	}
}

// sleepOrCancel waits for d or ctx cancellation, whichever comes first.
// Returns false if ctx was cancelled.
func (f *Follower) sleepOrCancel(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func trimNewline(b []byte) []byte {
	end := len(b)
	for end > 0 && (b[end-1] == '\n' || b[end-1] == '\r') {
		end--
	}
	return b[:end]
}

// sanitizeUTF8 replaces invalid byte sequences with the Unicode
// replacement character, matching spec.md §4.3's message encoding rule.
func sanitizeUTF8(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}
