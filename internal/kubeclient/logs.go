package kubeclient

import (
	"context"
	"io"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/client-go/kubernetes"

	"github.com/silentoxygen/kpl/internal/follower"
	"github.com/silentoxygen/kpl/internal/types"
)

// LogOpener implements follower.LogOpener against a live cluster,
// generalizing the teacher's streamPodLogs (k8s.go) — a single
// GetLogs(...).Stream(ctx) call per (pod, container) — to accept the
// spec's optional SinceSeconds/TailLines first-open constraints.
type LogOpener struct {
	Clientset kubernetes.Interface
}

// Open implements follower.LogOpener.
func (o LogOpener) Open(ctx context.Context, pod types.PodKey, container string, opts follower.OpenOptions) (io.ReadCloser, error) {
	logOpts := &corev1.PodLogOptions{
		Container:    container,
		Follow:       true,
		SinceSeconds: opts.SinceSeconds,
		TailLines:    opts.TailLines,
	}

	req := o.Clientset.CoreV1().Pods(pod.Namespace).GetLogs(pod.Name, logOpts)
	return req.Stream(ctx)
}

// Classify implements follower.ErrorClassifier against client-go's
// apimachinery error helpers, the idiomatic Go replacement for
// inspecting raw HTTP status codes by hand.
func Classify(err error) error {
	switch {
	case apierrors.IsUnauthorized(err), apierrors.IsForbidden(err):
		return types.ErrAuth
	case apierrors.IsNotFound(err):
		return types.ErrNotFound
	default:
		return types.ErrRetry
	}
}
