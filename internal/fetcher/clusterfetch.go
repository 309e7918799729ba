package fetcher

import (
	"context"
	"fmt"
	"strings"

	corev1 "k8s.io/api/core/v1"

	"github.com/navicore/navicache/internal/k8sapi"
	"github.com/navicore/navicache/internal/request"
)

// NewClusterFetchFunc builds the FetchFunc that serves every non-Custom
// request kind against a real cluster, dispatching on req.Kind. It
// corrects three gaps the Rust original left as stubs: pod selectors
// other than ByLabels degraded to list-everything, container fetches
// never resolved the owning pod's labels, and event fetches ignored the
// ResourceRef filter entirely.
func NewClusterFetchFunc(client *k8sapi.ClusterClient) FetchFunc {
	return func(ctx context.Context, req request.Request) (request.Result, error) {
		switch req.Kind {
		case request.Workloads:
			return fetchWorkloads(ctx, client, req)
		case request.Pods:
			return fetchPods(ctx, client, req)
		case request.Containers:
			return fetchContainers(ctx, client, req)
		case request.Events:
			return fetchEvents(ctx, client, req)
		case request.Ingresses:
			return fetchIngresses(ctx, client, req)
		default:
			return request.Result{}, fmt.Errorf("unsupported request kind %s", req.Kind)
		}
	}
}

func labelSelectorString(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	parts := make([]string, 0, len(labels))
	for k, v := range labels {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func fetchWorkloads(ctx context.Context, client *k8sapi.ClusterClient, req request.Request) (request.Result, error) {
	ns := req.Namespace
	rsList, err := client.ListReplicaSets(ctx, ns, labelSelectorString(req.Labels))
	if err != nil {
		return request.Result{}, err
	}
	out := make([]request.WorkloadView, 0, len(rsList))
	for _, rs := range rsList {
		var ready int32
		if rs.Status.ReadyReplicas > 0 {
			ready = rs.Status.ReadyReplicas
		}
		out = append(out, request.WorkloadView{
			Namespace: rs.Namespace,
			Name:      rs.Name,
			Replicas:  rs.Status.Replicas,
			Ready:     ready,
			Labels:    rs.Spec.Selector.MatchLabels,
		})
	}
	return request.Result{Kind: request.Workloads, Workloads: out}, nil
}

// fetchPods honors all three PodSelector variants, unlike the original
// which only implemented ByLabels.
func fetchPods(ctx context.Context, client *k8sapi.ClusterClient, req request.Request) (request.Result, error) {
	var pods []corev1.Pod
	switch req.PodSel.Kind {
	case request.SelectAll:
		list, err := client.ListPods(ctx, req.Namespace, "", "")
		if err != nil {
			return request.Result{}, err
		}
		pods = list
	case request.SelectByLabels:
		list, err := client.ListPods(ctx, req.Namespace, labelSelectorString(req.PodSel.Labels), "")
		if err != nil {
			return request.Result{}, err
		}
		pods = list
	case request.SelectByName:
		list, err := client.ListPods(ctx, req.Namespace, "", "metadata.name="+req.PodSel.Name)
		if err != nil {
			return request.Result{}, err
		}
		pods = list
	default:
		return request.Result{}, fmt.Errorf("unrecognised pod selector kind %d", req.PodSel.Kind)
	}

	out := make([]request.PodView, 0, len(pods))
	for _, p := range pods {
		out = append(out, toPodView(p))
	}
	return request.Result{Kind: request.Pods, Pods: out}, nil
}

func toPodView(p corev1.Pod) request.PodView {
	return request.PodView{
		Namespace: p.Namespace,
		Name:      p.Name,
		Phase:     string(p.Status.Phase),
		Labels:    p.Labels,
		NodeName:  p.Spec.NodeName,
	}
}

// fetchContainers resolves the owning pod's labels onto each container
// view; the original left this as a hardcoded empty map.
func fetchContainers(ctx context.Context, client *k8sapi.ClusterClient, req request.Request) (request.Result, error) {
	pod, err := client.GetPod(ctx, req.Namespace, req.PodSel.Name)
	if err != nil {
		return request.Result{}, err
	}

	statuses := make(map[string]corev1.ContainerStatus, len(pod.Status.ContainerStatuses))
	for _, cs := range pod.Status.ContainerStatuses {
		statuses[cs.Name] = cs
	}

	out := make([]request.ContainerView, 0, len(pod.Spec.Containers))
	for _, c := range pod.Spec.Containers {
		cv := request.ContainerView{
			PodNamespace: pod.Namespace,
			PodName:      pod.Name,
			Name:         c.Name,
			Image:        c.Image,
			PodLabels:    pod.Labels,
		}
		if st, ok := statuses[c.Name]; ok {
			cv.Ready = st.Ready
			cv.RestartCount = st.RestartCount
		}
		out = append(out, cv)
	}
	return request.Result{Kind: request.Containers, Containers: out}, nil
}

// fetchEvents applies the ResourceRef filter the original ignored (it
// only ever did a naive .take(limit)).
func fetchEvents(ctx context.Context, client *k8sapi.ClusterClient, req request.Request) (request.Result, error) {
	events, err := client.ListEvents(ctx, "", int64(req.EventLimit)*4) // overfetch, then filter
	if err != nil {
		return request.Result{}, err
	}

	out := make([]request.EventView, 0, req.EventLimit)
	for _, ev := range events {
		if len(out) >= req.EventLimit {
			break
		}
		if !matchesResourceRef(req.EventRef, ev) {
			continue
		}
		out = append(out, request.EventView{
			Namespace:      ev.Namespace,
			Reason:         ev.Reason,
			Message:        ev.Message,
			InvolvedObject: ev.InvolvedObject.Kind + "/" + ev.InvolvedObject.Name,
		})
	}
	return request.Result{Kind: request.Events, Events: out}, nil
}

func matchesResourceRef(ref request.ResourceRef, ev corev1.Event) bool {
	switch ref.Kind {
	case request.RefAll:
		return true
	case request.RefPod:
		return ev.InvolvedObject.Kind == "Pod" && ev.InvolvedObject.Name == ref.Name
	case request.RefReplicaSet:
		return ev.InvolvedObject.Kind == "ReplicaSet" && ev.InvolvedObject.Name == ref.Name
	case request.RefDeployment:
		return ev.InvolvedObject.Kind == "Deployment" && ev.InvolvedObject.Name == ref.Name
	case request.RefService:
		return ev.InvolvedObject.Kind == "Service" && ev.InvolvedObject.Name == ref.Name
	default:
		return false
	}
}

func fetchIngresses(ctx context.Context, client *k8sapi.ClusterClient, req request.Request) (request.Result, error) {
	list, err := client.ListIngresses(ctx, req.Namespace, labelSelectorString(req.Labels))
	if err != nil {
		return request.Result{}, err
	}
	out := make([]request.IngressView, 0, len(list))
	for _, ing := range list {
		host := ""
		if len(ing.Spec.Rules) > 0 {
			host = ing.Spec.Rules[0].Host
		}
		out = append(out, request.IngressView{
			Namespace: ing.Namespace,
			Name:      ing.Name,
			Host:      host,
			Labels:    ing.Labels,
		})
	}
	return request.Result{Kind: request.Ingresses, Ingresses: out}, nil
}
