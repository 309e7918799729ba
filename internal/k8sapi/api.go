// Package k8sapi is the "downward" interface spec.md §6 defines: the
// minimal cluster-client surface the cache/fetcher/watch-manager depend
// on, plus a concrete implementation over k8s.io/client-go so the rest
// of the module never imports client-go directly.
package k8sapi

import (
	"context"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
)

// EventKind tags a watch.Event translated to our own vocabulary, keeping
// callers decoupled from apimachinery's watch.EventType spelling.
type EventKind int

const (
	Added EventKind = iota
	Modified
	Deleted
	Bookmark
	WatchError
)

// WatchEvent is one change-feed event for a single watched kind.
type WatchEvent struct {
	Kind EventKind
	Pod  *corev1.Pod
	RS   *appsv1.ReplicaSet
	Ev   *corev1.Event
	Err  error
}

// ClusterClient is the downward interface: list, watch, get against the
// control plane. It is a single concrete wrapper over the typed client-go
// clientset, with one method per list/get/watch call the fetcher and
// watch manager make for each kind they handle.
type ClusterClient struct {
	Clientset kubernetes.Interface
}

func New(clientset kubernetes.Interface) *ClusterClient {
	return &ClusterClient{Clientset: clientset}
}

func (c *ClusterClient) ListReplicaSets(ctx context.Context, namespace, labelSelector string) ([]appsv1.ReplicaSet, error) {
	list, err := c.Clientset.AppsV1().ReplicaSets(namespace).List(ctx, metav1.ListOptions{LabelSelector: labelSelector})
	if err != nil {
		return nil, err
	}
	return list.Items, nil
}

func (c *ClusterClient) ListPods(ctx context.Context, namespace, labelSelector, fieldSelector string) ([]corev1.Pod, error) {
	list, err := c.Clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: labelSelector,
		FieldSelector: fieldSelector,
	})
	if err != nil {
		return nil, err
	}
	return list.Items, nil
}

func (c *ClusterClient) GetPod(ctx context.Context, namespace, name string) (*corev1.Pod, error) {
	return c.Clientset.CoreV1().Pods(namespace).Get(ctx, name, metav1.GetOptions{})
}

func (c *ClusterClient) ListEvents(ctx context.Context, namespace string, limit int64) ([]corev1.Event, error) {
	list, err := c.Clientset.CoreV1().Events(namespace).List(ctx, metav1.ListOptions{Limit: limit})
	if err != nil {
		return nil, err
	}
	return list.Items, nil
}

func (c *ClusterClient) ListIngresses(ctx context.Context, namespace, labelSelector string) ([]networkingv1.Ingress, error) {
	list, err := c.Clientset.NetworkingV1().Ingresses(namespace).List(ctx, metav1.ListOptions{LabelSelector: labelSelector})
	if err != nil {
		return nil, err
	}
	return list.Items, nil
}

// WatchPods opens a server-timeout-bounded watch on pods in namespace.
func (c *ClusterClient) WatchPods(ctx context.Context, namespace string, timeoutSeconds int64) (watch.Interface, error) {
	return c.Clientset.CoreV1().Pods(namespace).Watch(ctx, metav1.ListOptions{TimeoutSeconds: &timeoutSeconds})
}

// WatchReplicaSets opens a server-timeout-bounded watch on replicasets
// in namespace ("" watches cluster-wide).
func (c *ClusterClient) WatchReplicaSets(ctx context.Context, namespace string, timeoutSeconds int64) (watch.Interface, error) {
	return c.Clientset.AppsV1().ReplicaSets(namespace).Watch(ctx, metav1.ListOptions{TimeoutSeconds: &timeoutSeconds})
}

// WatchEvents opens a server-timeout-bounded watch on events,
// cluster-wide: spec.md's watch manager treats the events pattern as
// global ("events:*"), unlike the namespaced pods/replicasets patterns.
func (c *ClusterClient) WatchEvents(ctx context.Context, timeoutSeconds int64) (watch.Interface, error) {
	return c.Clientset.CoreV1().Events(metav1.NamespaceAll).Watch(ctx, metav1.ListOptions{TimeoutSeconds: &timeoutSeconds})
}

// Translate converts an apimachinery watch.Event of a known object type
// into our own WatchEvent vocabulary.
func Translate(ev watch.Event) WatchEvent {
	var kind EventKind
	switch ev.Type {
	case watch.Added:
		kind = Added
	case watch.Modified:
		kind = Modified
	case watch.Deleted:
		kind = Deleted
	case watch.Bookmark:
		kind = Bookmark
	default:
		kind = WatchError
	}

	we := WatchEvent{Kind: kind}
	switch obj := ev.Object.(type) {
	case *corev1.Pod:
		we.Pod = obj
	case *appsv1.ReplicaSet:
		we.RS = obj
	case *corev1.Event:
		we.Ev = obj
	}
	return we
}
