package cacheerr

import (
	"errors"
	"testing"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

func gvr() schema.GroupResource { return schema.GroupResource{Group: "", Resource: "pods"} }

func TestClassifyTypedAPIErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"not found", apierrors.NewNotFound(gvr(), "x"), NotFound},
		{"unauthorized", apierrors.NewUnauthorized("nope"), Auth},
		{"forbidden", apierrors.NewForbidden(gvr(), "x", errors.New("denied")), Auth},
		{"conflict", apierrors.NewConflict(gvr(), "x", errors.New("conflict")), Precondition},
		{"server timeout", apierrors.NewServerTimeout(gvr(), "get", 1), Transient},
		{"internal error", apierrors.NewInternalError(errors.New("boom")), Transient},
	}
	for _, c := range cases {
		if got := Classify(c.err); got != c.want {
			t.Errorf("%s: Classify = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestShouldRefreshClient(t *testing.T) {
	if !ShouldRefreshClient(apierrors.NewUnauthorized("x")) {
		t.Fatalf("expected 401-equivalent to trigger refresh")
	}
	if !ShouldRefreshClient(apierrors.NewForbidden(gvr(), "x", errors.New("no"))) {
		t.Fatalf("expected 403-equivalent to trigger refresh")
	}
	if ShouldRefreshClient(apierrors.NewNotFound(gvr(), "x")) {
		t.Fatalf("expected not-found to not trigger refresh")
	}
}

func TestIsRetriable(t *testing.T) {
	if !IsRetriable(apierrors.NewServiceUnavailable("down")) {
		t.Fatalf("expected transient error to be retriable")
	}
	if IsRetriable(apierrors.NewNotFound(gvr(), "x")) {
		t.Fatalf("expected not-found to not be retriable")
	}
}

func TestClassifyStringFallbacks(t *testing.T) {
	if Classify(errors.New("dial tcp: no such host")) != Transient {
		t.Fatalf("expected network errors to classify as transient")
	}
	if Classify(errors.New("cache already initialized")) != Configuration {
		t.Fatalf("expected already-initialized to classify as configuration")
	}
}
