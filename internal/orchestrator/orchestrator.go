// Package orchestrator wires the pod watcher, stream supervisor, follower
// pool and merger into one running program, and owns startup/teardown
// ordering (spec.md §4.5). Grounded in the teacher's main()
// (_examples/kahf-infra-traefik-officer/cmd/main.go): config load, start
// the HTTP server in a goroutine, then drive the foreground loop until a
// fatal condition or signal ends it.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/silentoxygen/kpl/internal/backoff"
	"github.com/silentoxygen/kpl/internal/config"
	"github.com/silentoxygen/kpl/internal/devsource"
	"github.com/silentoxygen/kpl/internal/follower"
	"github.com/silentoxygen/kpl/internal/httpserver"
	"github.com/silentoxygen/kpl/internal/kubeclient"
	"github.com/silentoxygen/kpl/internal/merge"
	"github.com/silentoxygen/kpl/internal/metrics"
	"github.com/silentoxygen/kpl/internal/replaysource"
	"github.com/silentoxygen/kpl/internal/supervisor"
	"github.com/silentoxygen/kpl/internal/types"
	"github.com/silentoxygen/kpl/internal/watcher"
)

// Run builds every component from cfg and blocks until ctx is cancelled
// (normal shutdown, e.g. SIGINT/SIGTERM) or a fatal error occurs, in
// which case it tears down and returns that error. A clean shutdown or a
// downstream-closed pipe returns nil.
func Run(ctx context.Context, cfg config.Config, out io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	metrics.EventChannelCapacity.Set(float64(cfg.BufferSize))

	events := make(chan types.LogEvent, cfg.BufferSize)
	commands := make(chan types.PodCommand, 64)
	fatal := make(chan error, 1)

	source, opener, classify, err := buildBackend(cfg)
	if err != nil {
		return err
	}

	sup := supervisor.New(ctx, func(ctx context.Context, pod types.PodKey, container string) {
		f := follower.New(pod, container, follower.Config{
			Opener:       opener,
			Classify:     classify,
			Sink:         events,
			BackoffMin:   time.Duration(cfg.ReconnectMinMs) * time.Millisecond,
			BackoffMax:   time.Duration(cfg.ReconnectMaxMs) * time.Millisecond,
			SinceSeconds: cfg.SinceSeconds,
			TailLines:    cfg.TailLines,
			Fatal:        fatal,
		})
		f.Run(ctx)
	})

	go sup.Run(commands)

	httpSrv := httpserver.New(cfg.MetricsAddr, sup.Count)
	if cfg.MetricsAddr != "" {
		go func() {
			if err := httpSrv.Run(ctx); err != nil {
				logger.Warnf("metrics/health server stopped: %v", err)
			}
		}()
	}

	watchErrs := make(chan error, 1)
	go func() {
		watchErrs <- runWatcherWithResync(ctx, source, commands, httpSrv)
	}()

	merger := merge.New(out, cfg.Output)
	mergeErrs := make(chan error, 1)
	go func() {
		mergeErrs <- merger.Run(events)
	}()

	var watchDone, mergeDone bool

	select {
	case <-ctx.Done():
	case err = <-fatal:
		logger.Errorf("fatal follower error, shutting down: %v", err)
	case err = <-watchErrs:
		watchDone = true
		if err != nil {
			logger.Errorf("pod watcher terminated, shutting down: %v", err)
		}
	case err = <-mergeErrs:
		mergeDone = true
		if err != nil && errors.Is(err, types.ErrDownstreamClosed) {
			logger.Info("downstream closed, shutting down")
			err = nil
		} else if err != nil {
			logger.Errorf("output writer failed, shutting down: %v", err)
		}
	}

	// Tear down in dependency order: stop producing commands before
	// closing the command channel, stop producing events (followers via
	// ShutdownAll) before closing the event channel.
	cancel()
	if !watchDone {
		<-watchErrs
	}
	close(commands)
	sup.ShutdownAll()
	close(events)
	if !mergeDone {
		<-mergeErrs
	}

	return err
}

// runWatcherWithResync restarts watcher.Run after a transient watcher
// termination or a benign end of the watch, as ClusterSource's doc
// comment requires (a torn-down watch needs a fresh List+Watch cycle,
// which a new Events call performs and surfaces as a Restarted event).
// One Watcher is reused across resyncs so the Restarted event is diffed
// against the pods already seen. Auth errors are not retried.
func runWatcherWithResync(ctx context.Context, source watcher.PodSource, commands chan<- types.PodCommand, health *httpserver.Server) error {
	bo := backoff.New(200*time.Millisecond, 5*time.Second)
	w := watcher.New(source, commands)

	for {
		err := w.Run(ctx)

		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, types.ErrAuth) {
			health.SetWatcherHealthy(false)
			return err
		}

		if err == nil {
			logger.Info("pod watch closed, resyncing")
		} else {
			logger.Warnf("pod watcher ended, resyncing: %v", err)
		}
		health.SetWatcherHealthy(false)
		d := bo.Next()
		t := time.NewTimer(d)
		select {
		case <-t.C:
			health.SetWatcherHealthy(true)
		case <-ctx.Done():
			t.Stop()
			return nil
		}
	}
}

func buildBackend(cfg config.Config) (watcher.PodSource, follower.LogOpener, follower.ErrorClassifier, error) {
	switch cfg.Backend {
	case config.BackendDev:
		return devsource.Source{Namespace: cfg.Namespace, Phase: time.Duration(cfg.DevPhase) * time.Second},
			devsource.LogOpener{RateMs: cfg.DevRateMs, MaxLines: cfg.DevLines},
			func(err error) error { return types.ErrRetry },
			nil

	case config.BackendReplay:
		return replaysource.Source{Namespace: cfg.Namespace},
			replaysource.LogOpener{Path: cfg.ReplayPath},
			func(err error) error { return types.ErrRetry },
			nil

	default:
		clientset, err := kubeclient.NewClientset(cfg.Kubeconfig)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("%w: %v", types.ErrConfiguration, err)
		}
		return &watcher.ClusterSource{
				Clientset:        clientset,
				Namespace:        cfg.Namespace,
				LabelSelector:    cfg.Selector,
				ContainersFilter: cfg.ContainersFilter,
			},
			kubeclient.LogOpener{Clientset: clientset},
			kubeclient.Classify,
			nil
	}
}
