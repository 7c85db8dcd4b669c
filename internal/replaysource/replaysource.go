// Package replaysource is a supplemental file-backed development source
// (SPEC_FULL.md §2/§4.1): it tails a local text file and treats every
// non-empty line as output from one synthetic pod/container, letting the
// merger and CLI formatting be exercised without a live cluster or the
// in-memory simulator. Grounded in
// _examples/kahf-infra-traefik-officer/pkg/file.go's FileLogSource, which
// wraps github.com/hpcloud/tail the same way: Follow+ReOpen+Poll, a
// goroutine converting tail.Line into the program's own line type.
package replaysource

import (
	"context"
	"io"

	"github.com/hpcloud/tail"
	logger "github.com/sirupsen/logrus"

	"github.com/silentoxygen/kpl/internal/follower"
	"github.com/silentoxygen/kpl/internal/types"
	"github.com/silentoxygen/kpl/internal/watcher"
)

// PodName and Container name the single synthetic stream a replay source
// produces.
const (
	PodName   = "replay-pod"
	Container = "replay"
)

// Source is the replay PodSource: it emits a single StartPod for the
// synthetic replay pod/container and then idles until cancelled.
type Source struct {
	Namespace string
}

// Events implements watcher.PodSource.
func (s Source) Events(ctx context.Context) (<-chan watcher.Event, <-chan error) {
	out := make(chan watcher.Event, 1)
	errs := make(chan error)

	go func() {
		defer close(out)
		defer close(errs)

		pod := watcher.PodInfo{
			Namespace:  s.Namespace,
			Name:       PodName,
			UID:        "replay-uid-1",
			Containers: []string{Container},
		}

		select {
		case out <- watcher.Event{Kind: watcher.Applied, Pod: pod}:
		case <-ctx.Done():
			return
		}

		<-ctx.Done()
	}()

	return out, errs
}

// LogOpener implements follower.LogOpener by tailing Path with
// github.com/hpcloud/tail, the same configuration the teacher's
// NewFileLogSource uses (Follow, ReOpen, Poll) so a rotated or
// still-growing file behaves like a real log.
type LogOpener struct {
	Path string
}

// Open implements follower.LogOpener.
func (o LogOpener) Open(ctx context.Context, pod types.PodKey, container string, _ follower.OpenOptions) (io.ReadCloser, error) {
	t, err := tail.TailFile(o.Path, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: false,
		Poll:      true,
		Location:  &tail.SeekInfo{Whence: io.SeekStart},
	})
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()

	go func() {
		defer func() {
			_ = t.Stop()
		}()
		for {
			select {
			case <-ctx.Done():
				_ = pw.CloseWithError(io.EOF)
				return
			case line, ok := <-t.Lines:
				if !ok {
					_ = pw.Close()
					return
				}
				if line.Err != nil {
					logger.Warnf("replay tail error: %v", line.Err)
					continue
				}
				if _, err := pw.Write([]byte(line.Text + "\n")); err != nil {
					return
				}
			}
		}
	}()

	return &tailReader{PipeReader: pr, tail: t}, nil
}

// tailReader closes both the pipe and the underlying tail.Tail, so the
// tail is stopped even if the follower closes early. Stop may also run a
// second time from the copying goroutine's deferred call.
type tailReader struct {
	*io.PipeReader
	tail *tail.Tail
}

func (r *tailReader) Close() error {
	_ = r.tail.Stop()
	return r.PipeReader.Close()
}
