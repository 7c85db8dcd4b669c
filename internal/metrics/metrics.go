// Package metrics exposes Prometheus instrumentation for kpl, following
// the teacher's promauto-registration style in
// _examples/kahf-infra-traefik-officer/pkg/metrics.go and service.go —
// package-level vars created with promauto so registration happens once
// at import time, updated from the hot path with no extra locking.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveFollowers tracks followers currently holding an open stream.
	ActiveFollowers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kpl_active_followers",
		Help: "Number of followers currently streaming a container's logs",
	})

	// FollowerReconnects counts reconnect attempts across all followers
	// that follow a failed open or a read error; a reconnect after a clean
	// EOF is not counted.
	FollowerReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kpl_follower_reconnects_total",
		Help: "Total number of follower reconnect attempts after a failed open or a read error",
	})

	// FollowersTerminal counts followers that exited permanently, by reason.
	FollowersTerminal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kpl_followers_terminal_total",
		Help: "Total number of followers that exited permanently, labeled by reason",
	}, []string{"reason"})

	// LinesEmitted counts log lines successfully handed to the merger.
	LinesEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kpl_lines_emitted_total",
		Help: "Total number of log lines emitted onto the event channel",
	})

	// LinesWritten counts log lines written to the output sink.
	LinesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kpl_lines_written_total",
		Help: "Total number of log lines written to the output sink",
	})

	// EventChannelDepth reports the current number of buffered LogEvents.
	EventChannelDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kpl_event_channel_depth",
		Help: "Current number of buffered log events awaiting the merger",
	})

	// EventChannelCapacity reports the configured event channel capacity.
	EventChannelCapacity = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kpl_event_channel_capacity",
		Help: "Configured capacity of the log event channel",
	})

	// PodCommands counts StartPod/StopPod commands observed by the supervisor.
	PodCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kpl_pod_commands_total",
		Help: "Total number of pod lifecycle commands handled, labeled by kind",
	}, []string{"kind"})

	// WatcherResyncs counts Restarted (full resync) events seen by the watcher.
	WatcherResyncs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kpl_watcher_resyncs_total",
		Help: "Total number of watch resync (Restarted) events observed",
	})
)
