// Package kubeclient builds a Kubernetes clientset and implements the log
// source contract (spec.md §6) against a live cluster. Grounded in
// _examples/kahf-infra-traefik-officer/pkg/k8s.go's
// NewKubernetesLogSource (in-cluster config, falling back to an explicit
// kubeconfig) and _examples/smxlong-dump/sre/kubestream.go's
// clientcmd.BuildConfigFromFlags + homedir out-of-cluster path, which the
// teacher's in-cluster-only constructor lacked.
package kubeclient

import (
	"fmt"
	"path/filepath"

	logger "github.com/sirupsen/logrus"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
)

// NewClientset builds a clientset, preferring in-cluster config and
// falling back to kubeconfigPath (or ~/.kube/config when empty).
func NewClientset(kubeconfigPath string) (kubernetes.Interface, error) {
	if cfg, err := rest.InClusterConfig(); err == nil {
		logger.Debug("using in-cluster Kubernetes config")
		return kubernetes.NewForConfig(cfg)
	}

	if kubeconfigPath == "" {
		if home := homedir.HomeDir(); home != "" {
			kubeconfigPath = filepath.Join(home, ".kube", "config")
		}
	}

	logger.WithField("kubeconfig", kubeconfigPath).Debug("not in cluster, using kubeconfig")
	cfg, err := clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("building kubeconfig: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("building clientset: %w", err)
	}
	return clientset, nil
}
