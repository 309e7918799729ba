// Package request defines the typed request model (C1): the tagged union
// of resource queries the cache and fetcher operate on, plus the pure
// functions that derive a cache key, default TTL, and priority for each
// variant.
package request

import (
	"fmt"
	"sort"
	"strings"
)

// Kind tags a Request variant.
type Kind int

const (
	Workloads Kind = iota
	Pods
	Containers
	Events
	Ingresses
	Custom
)

func (k Kind) String() string {
	switch k {
	case Workloads:
		return "workloads"
	case Pods:
		return "pods"
	case Containers:
		return "containers"
	case Events:
		return "events"
	case Ingresses:
		return "ingresses"
	case Custom:
		return "custom"
	default:
		return "unknown"
	}
}

// PodSelectorKind distinguishes the three ways a Pods request can scope
// its result.
type PodSelectorKind int

const (
	SelectAll PodSelectorKind = iota
	SelectByLabels
	SelectByName
)

// PodSelector mirrors the original PodSelector{All,ByLabels,ByName} enum.
type PodSelector struct {
	Kind   PodSelectorKind
	Labels map[string]string
	Name   string
}

// ResourceRefKind distinguishes the targets an Events request can scope to.
type ResourceRefKind int

const (
	RefPod ResourceRefKind = iota
	RefReplicaSet
	RefDeployment
	RefService
	RefAll
)

// ResourceRef names the owning resource an Events request filters on.
type ResourceRef struct {
	Kind ResourceRefKind
	Name string
}

// Request is the closed sum type over every supported resource query.
// Exactly one of the Kind-tagged field groups is meaningful for a given
// Kind; callers build Requests through the constructor functions below
// rather than populating the struct directly.
type Request struct {
	Kind Kind

	Namespace    string // "" means unscoped/all, per-Kind semantics below
	HasNamespace bool
	Labels       map[string]string

	PodSel PodSelector

	EventRef   ResourceRef
	EventLimit int

	CustomFetcherID string
	CustomParams    map[string]string
}

func NewWorkloads(namespace string, labels map[string]string) Request {
	return Request{Kind: Workloads, Namespace: namespace, HasNamespace: namespace != "", Labels: labels}
}

func NewPods(namespace string, sel PodSelector) Request {
	return Request{Kind: Pods, Namespace: namespace, HasNamespace: true, PodSel: sel}
}

func NewContainers(namespace, podName string) Request {
	return Request{Kind: Containers, Namespace: namespace, HasNamespace: true, PodSel: PodSelector{Kind: SelectByName, Name: podName}}
}

func NewEvents(ref ResourceRef, limit int) Request {
	return Request{Kind: Events, EventRef: ref, EventLimit: limit}
}

func NewIngresses(namespace string, labels map[string]string) Request {
	return Request{Kind: Ingresses, Namespace: namespace, HasNamespace: namespace != "", Labels: labels}
}

func NewCustom(fetcherID string, params map[string]string) Request {
	return Request{Kind: Custom, CustomFetcherID: fetcherID, CustomParams: params}
}

// sortedLabels renders a label map in sorted-key order so that Key is
// deterministic regardless of map iteration order.
func sortedLabels(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+m[k])
	}
	return strings.Join(parts, ",")
}

func nsOrAll(ns string, has bool) string {
	if !has || ns == "" {
		return "all"
	}
	return ns
}

func (s PodSelector) canonical() string {
	switch s.Kind {
	case SelectAll:
		return "all"
	case SelectByName:
		return "name=" + s.Name
	case SelectByLabels:
		return "labels:" + sortedLabels(s.Labels)
	default:
		return "all"
	}
}

func (r ResourceRef) canonical() string {
	switch r.Kind {
	case RefPod:
		return "pod/" + r.Name
	case RefReplicaSet:
		return "replicaset/" + r.Name
	case RefDeployment:
		return "deployment/" + r.Name
	case RefService:
		return "service/" + r.Name
	default:
		return "all"
	}
}

// Key returns the deterministic, injective-modulo-semantic-equivalence
// cache key for req: "<kind>:<ns-or-all>:<selector-canonical-form>".
func (r Request) Key() string {
	switch r.Kind {
	case Workloads, Ingresses:
		return fmt.Sprintf("%s:%s:labels:%s", r.Kind, nsOrAll(r.Namespace, r.HasNamespace), sortedLabels(r.Labels))
	case Pods, Containers:
		return fmt.Sprintf("%s:%s:%s", r.Kind, nsOrAll(r.Namespace, r.HasNamespace), r.PodSel.canonical())
	case Events:
		return fmt.Sprintf("%s:all:%s:limit=%d", r.Kind, r.EventRef.canonical(), r.EventLimit)
	case Custom:
		return fmt.Sprintf("%s:all:%s:%s", r.Kind, r.CustomFetcherID, sortedLabels(r.CustomParams))
	default:
		return fmt.Sprintf("%s:all:", r.Kind)
	}
}

// DefaultTTLSeconds returns the per-kind default TTL in seconds.
func (r Request) DefaultTTLSeconds() int {
	switch r.Kind {
	case Workloads, Custom:
		return 300
	case Pods, Containers:
		return 120
	case Events, Ingresses:
		return 180
	default:
		return 120
	}
}

// Priority is the request's automatic scheduling priority.
type Priority int

const (
	Low Priority = iota
	Medium
	High
	Critical
)

func (p Priority) String() string {
	switch p {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// DefaultPriority returns the automatic (non-manual-refresh) priority for
// this request's kind.
func (r Request) DefaultPriority() Priority {
	switch r.Kind {
	case Pods, Containers:
		return High
	case Workloads, Custom:
		return Medium
	case Events, Ingresses:
		return Low
	default:
		return Low
	}
}

// ParseKey attempts to reconstruct a Request from a cache key produced by
// Key. Only the two hottest kinds (workloads, pods) round-trip; callers
// must treat a false ok as "unrecognised, skip" per spec.
func ParseKey(key string) (Request, bool) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 2 {
		return Request{}, false
	}
	kind, ns := parts[0], parts[1]
	rest := ""
	if len(parts) == 3 {
		rest = parts[2]
	}

	switch kind {
	case "workloads":
		labels := parseLabelSuffix(rest)
		if ns == "all" {
			return NewWorkloads("", labels), true
		}
		return NewWorkloads(ns, labels), true
	case "pods":
		sel, ok := parsePodSelectorSuffix(rest)
		if !ok {
			return Request{}, false
		}
		if ns == "all" {
			ns = ""
		}
		return NewPods(ns, sel), true
	default:
		return Request{}, false
	}
}

func parseLabelSuffix(rest string) map[string]string {
	rest = strings.TrimPrefix(rest, "labels:")
	return parseLabelPairs(rest)
}

func parsePodSelectorSuffix(rest string) (PodSelector, bool) {
	switch {
	case rest == "all":
		return PodSelector{Kind: SelectAll}, true
	case strings.HasPrefix(rest, "name="):
		return PodSelector{Kind: SelectByName, Name: strings.TrimPrefix(rest, "name=")}, true
	case strings.HasPrefix(rest, "labels:"):
		return PodSelector{Kind: SelectByLabels, Labels: parseLabelPairs(strings.TrimPrefix(rest, "labels:"))}, true
	default:
		return PodSelector{}, false
	}
}

func parseLabelPairs(s string) map[string]string {
	if s == "" {
		return map[string]string{}
	}
	out := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 {
			out[kv[0]] = kv[1]
		}
	}
	return out
}
