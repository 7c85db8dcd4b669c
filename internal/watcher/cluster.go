package watcher

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	kwatch "k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"

	logger "github.com/sirupsen/logrus"

	"github.com/silentoxygen/kpl/internal/types"
)

// ClusterSource is the real-cluster PodSource backend: it lists pods once,
// then opens a client-go Watch, translating Added/Modified to Applied and
// Deleted to Deleted. A watch channel close or watch.Error event ends the
// current watch; the caller (orchestrator) is expected to recreate the
// ClusterSource's Events call, which performs a fresh List and surfaces it
// as Restarted — spec.md §4.1's "full resync after the server tears down
// the watch". Grounded in _examples/smxlong-dump/sre/kubestream.go's
// watch() (raw watch.Interface, event-type switch) and
// _examples/rnjava-gonzo/internal/k8s/watcher.go (namespace/selector
// plumbing, container enumeration from pod.Spec.Containers).
type ClusterSource struct {
	Clientset     kubernetes.Interface
	Namespace     string
	LabelSelector string
	// ContainersFilter, if non-empty, restricts StartPod's containers to
	// this allow-list (spec.md §4.1 "Container resolution").
	ContainersFilter []string
}

// Events implements PodSource. It always begins with a Restarted event
// built from a List call, then streams Applied/Deleted from Watch until
// the watch ends, at which point Events' channels are closed and the
// caller should invoke Events again to resync.
func (c *ClusterSource) Events(ctx context.Context) (<-chan Event, <-chan error) {
	out := make(chan Event, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		pods, err := c.Clientset.CoreV1().Pods(c.Namespace).List(ctx, metav1.ListOptions{
			LabelSelector: c.LabelSelector,
		})
		if err != nil {
			errs <- fmt.Errorf("listing pods: %w", classifyK8sErr(err))
			return
		}

		list := make([]PodInfo, 0, len(pods.Items))
		for i := range pods.Items {
			list = append(list, c.toPodInfo(&pods.Items[i]))
		}

		select {
		case out <- Event{Kind: Restarted, List: list}:
		case <-ctx.Done():
			return
		}

		w, err := c.Clientset.CoreV1().Pods(c.Namespace).Watch(ctx, metav1.ListOptions{
			LabelSelector:   c.LabelSelector,
			ResourceVersion: pods.ResourceVersion,
		})
		if err != nil {
			errs <- fmt.Errorf("watching pods: %w", classifyK8sErr(err))
			return
		}
		defer w.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.ResultChan():
				if !ok {
					// Server tore down the watch; benign end, caller resyncs.
					return
				}
				c.handle(ctx, out, errs, ev)
			}
		}
	}()

	return out, errs
}

func (c *ClusterSource) handle(ctx context.Context, out chan<- Event, errs chan<- error, ev kwatch.Event) {
	switch ev.Type {
	case kwatch.Added, kwatch.Modified:
		pod, ok := ev.Object.(*corev1.Pod)
		if !ok {
			return
		}
		select {
		case out <- Event{Kind: Applied, Pod: c.toPodInfo(pod)}:
		case <-ctx.Done():
		}

	case kwatch.Deleted:
		pod, ok := ev.Object.(*corev1.Pod)
		if !ok {
			return
		}
		select {
		case out <- Event{Kind: Deleted, Pod: c.toPodInfo(pod)}:
		case <-ctx.Done():
		}

	case kwatch.Error:
		if status, ok := ev.Object.(*metav1.Status); ok {
			err := classifyK8sErr(&apierrors.StatusError{ErrStatus: *status})
			select {
			case errs <- fmt.Errorf("watch error: %w", err):
			default:
			}
			logger.Errorf("pod watch error: %s", status.Message)
		}

	case kwatch.Bookmark:
		// No state change; nothing to do.
	}
}

func (c *ClusterSource) toPodInfo(pod *corev1.Pod) PodInfo {
	var names []string
	if pod.Spec.Containers != nil {
		names = make([]string, 0, len(pod.Spec.Containers))
		for _, ctr := range pod.Spec.Containers {
			names = append(names, ctr.Name)
		}
	}
	names = FilterContainers(pod.Name, names, c.ContainersFilter)

	return PodInfo{
		Namespace:  pod.Namespace,
		Name:       pod.Name,
		UID:        string(pod.UID),
		Containers: names,
	}
}

// classifyK8sErr wraps types.ErrAuth around client-go auth failures so
// errors.Is(err, types.ErrAuth) succeeds for callers further up the chain
// (internal/orchestrator's resync loop). Mirrors internal/kubeclient's
// Classify for the same two apierrors checks.
func classifyK8sErr(err error) error {
	if apierrors.IsUnauthorized(err) || apierrors.IsForbidden(err) {
		return fmt.Errorf("%w: %v", types.ErrAuth, err)
	}
	return err
}
