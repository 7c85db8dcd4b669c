// Package watcher translates a resynchronizing, event-based cluster view
// of pods into idempotent PodCommands keyed by pod identity (spec.md
// §4.1). The translation algorithm is backend-agnostic: it consumes a
// stream of Applied/Deleted/Restarted events from any PodSource (cluster
// watch, in-memory simulator, file replay) and owns the active-pod table
// that detects uid replacement and drives strict stop-before-start
// ordering.
package watcher

import (
	"context"
	"fmt"

	logger "github.com/sirupsen/logrus"

	"github.com/silentoxygen/kpl/internal/metrics"
	"github.com/silentoxygen/kpl/internal/types"
)

// EventKind tags a pod-source Event.
type EventKind int

const (
	// Applied is an add-or-update event for a single pod.
	Applied EventKind = iota
	// Deleted is a removal event for a single pod.
	Deleted
	// Restarted is a full resync: the pod source's entire current view.
	Restarted
)

// PodInfo is the subset of pod state the watcher needs.
type PodInfo struct {
	Namespace string
	Name      string
	UID       string
	// Containers is the ordered sequence of non-init container names from
	// the pod spec, already filtered to any user-provided allow-list.
	Containers []string
}

func (p PodInfo) key() types.PodKey {
	return types.PodKey{Namespace: p.Namespace, Name: p.Name, UID: p.UID}
}

// Event is one item from a PodSource's event stream.
type Event struct {
	Kind EventKind
	Pod  PodInfo   // set for Applied, Deleted
	List []PodInfo // set for Restarted
}

// PodSource produces watch events until the context is cancelled or the
// source ends. A closed Events channel (with err == nil already consumed
// by the caller) signals benign termination; a value on the error channel
// signals a terminal watch failure (spec.md §4.1 "Failure semantics").
type PodSource interface {
	Events(ctx context.Context) (<-chan Event, <-chan error)
}

// activePod is the watcher's private record of a pod it has seen.
type activePod struct {
	uid        string
	containers []string
}

// Watcher applies the Applied/Deleted/Restarted algorithm from spec.md
// §4.1 and emits PodCommands onto an output channel with awaited
// (backpressuring) sends.
type Watcher struct {
	source PodSource
	out    chan<- types.PodCommand
	table  map[namespacedName]activePod
}

type namespacedName struct{ namespace, name string }

// New constructs a Watcher that reads events from source and writes
// commands to out.
func New(source PodSource, out chan<- types.PodCommand) *Watcher {
	return &Watcher{
		source: source,
		out:    out,
		table:  make(map[namespacedName]activePod),
	}
}

// Run drives the translation loop until ctx is cancelled or the source
// reports a terminal error, which is returned wrapped in
// types.ErrWatcherTerminated. A benign source end (Events channel closes
// with no error) returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	events, errs := w.source.Events(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			return fmt.Errorf("%w: %w", types.ErrWatcherTerminated, err)
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			w.apply(ctx, ev)
		}
	}
}

func (w *Watcher) apply(ctx context.Context, ev Event) {
	switch ev.Kind {
	case Applied:
		w.applyOne(ctx, ev.Pod)
	case Deleted:
		w.applyDeleted(ctx, ev.Pod)
	case Restarted:
		metrics.WatcherResyncs.Inc()
		w.applyRestarted(ctx, ev.List)
	}
}

func (w *Watcher) applyOne(ctx context.Context, pod PodInfo) {
	nn := namespacedName{pod.Namespace, pod.Name}
	existing, present := w.table[nn]

	if !present {
		if len(pod.Containers) == 0 {
			return
		}
		w.table[nn] = activePod{uid: pod.UID, containers: pod.Containers}
		w.send(ctx, types.PodCommand{Kind: types.StartPod, Pod: pod.key(), Containers: pod.Containers})
		return
	}

	if existing.uid == pod.UID {
		// Open question (a), spec.md §9: container-set drift on a kept
		// uid is log-only, no command emitted.
		if !equalStrings(existing.containers, pod.Containers) {
			logger.WithFields(logger.Fields{
				"namespace": pod.Namespace,
				"pod":       pod.Name,
			}).Warn("container set changed for existing pod uid; no command emitted")
		}
		return
	}

	// Different uid: pod was replaced. Stop the old identity before
	// starting the new one (spec.md §4.1, strict ordering).
	oldKey := types.PodKey{Namespace: pod.Namespace, Name: pod.Name, UID: existing.uid}
	w.send(ctx, types.PodCommand{Kind: types.StopPod, Pod: oldKey})

	if len(pod.Containers) == 0 {
		delete(w.table, nn)
		return
	}
	w.table[nn] = activePod{uid: pod.UID, containers: pod.Containers}
	w.send(ctx, types.PodCommand{Kind: types.StartPod, Pod: pod.key(), Containers: pod.Containers})
}

func (w *Watcher) applyDeleted(ctx context.Context, pod PodInfo) {
	nn := namespacedName{pod.Namespace, pod.Name}
	existing, present := w.table[nn]
	if !present {
		return
	}
	delete(w.table, nn)
	// Use the stored uid, not the event's (possibly absent/tombstone) uid.
	key := types.PodKey{Namespace: pod.Namespace, Name: pod.Name, UID: existing.uid}
	w.send(ctx, types.PodCommand{Kind: types.StopPod, Pod: key})
}

func (w *Watcher) applyRestarted(ctx context.Context, list []PodInfo) {
	newTable := make(map[namespacedName]activePod, len(list))
	newPods := make(map[namespacedName]PodInfo, len(list))
	for _, pod := range list {
		nn := namespacedName{pod.Namespace, pod.Name}
		newTable[nn] = activePod{uid: pod.UID, containers: pod.Containers}
		newPods[nn] = pod
	}

	// All stops before any starts (spec.md §4.1 Restarted algorithm).
	for nn, old := range w.table {
		if newEntry, ok := newTable[nn]; !ok || newEntry.uid != old.uid {
			key := types.PodKey{Namespace: nn.namespace, Name: nn.name, UID: old.uid}
			w.send(ctx, types.PodCommand{Kind: types.StopPod, Pod: key})
		}
	}

	for nn, cur := range newTable {
		old, ok := w.table[nn]
		if ok && old.uid == cur.uid {
			continue
		}
		if len(cur.containers) == 0 {
			continue
		}
		pod := newPods[nn]
		w.send(ctx, types.PodCommand{Kind: types.StartPod, Pod: pod.key(), Containers: pod.Containers})
	}

	w.table = newTable
}

func (w *Watcher) send(ctx context.Context, cmd types.PodCommand) {
	select {
	case w.out <- cmd:
	case <-ctx.Done():
	}
}

// FilterContainers returns a new slice holding the entries of names that
// appear in the user-provided allow-list, in the pod spec's order (not
// allow's order), and logs a warning for any allow-list entry absent from
// the pod spec (spec.md §4.1 "Container resolution"). An empty allow
// means no filtering: names is returned as is.
func FilterContainers(podName string, names []string, allow []string) []string {
	if len(allow) == 0 {
		return names
	}

	present := make(map[string]bool, len(names))
	for _, n := range names {
		present[n] = true
	}
	for _, want := range allow {
		if !present[want] {
			logger.WithFields(logger.Fields{
				"pod":       podName,
				"container": want,
			}).Warn("requested container not found in pod spec")
		}
	}

	wanted := make(map[string]bool, len(allow))
	for _, w := range allow {
		wanted[w] = true
	}

	filtered := make([]string, 0, len(names))
	for _, n := range names {
		if wanted[n] {
			filtered = append(filtered, n)
		}
	}
	return filtered
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
