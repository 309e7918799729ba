// Package cacheerr gives the error kinds spec.md §7 names (transient,
// auth, not-found, precondition/conflict, configuration, fatal) concrete
// types with a single Classify entry point, in the style of
// kcli/internal/k8sclient/client.go's wrapConfigErr/wrapConnErr string-
// and type-based classifiers, extended with apimachinery's typed
// apierrors checks instead of re-deriving them from status text alone.
package cacheerr

import (
	"errors"
	"net"
	"net/url"
	"strings"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// Sentinel errors for kinds that do not originate from the control-plane
// client and so have no apierrors/status-text signal to classify from.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrFatal         = errors.New("fatal error")
)

// Kind is the error taxonomy spec.md §7 names, as a classification tag
// rather than a distinct Go type per kind (errors keep their original
// type; Kind is derived on demand via Classify).
type Kind int

const (
	Unknown Kind = iota
	Transient
	Auth
	NotFound
	Precondition
	Configuration
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Auth:
		return "auth"
	case NotFound:
		return "not-found"
	case Precondition:
		return "precondition"
	case Configuration:
		return "configuration"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classify maps err onto the spec.md §7 taxonomy. Retried/cached callers
// branch on this instead of on the concrete error type.
func Classify(err error) Kind {
	if err == nil {
		return Unknown
	}
	if errors.Is(err, ErrConfiguration) {
		return Configuration
	}
	if errors.Is(err, ErrFatal) {
		return Fatal
	}

	switch {
	case apierrors.IsNotFound(err):
		return NotFound
	case apierrors.IsUnauthorized(err), apierrors.IsForbidden(err):
		return Auth
	case apierrors.IsConflict(err), apierrors.IsAlreadyExists(err):
		return Precondition
	case apierrors.IsTimeout(err), apierrors.IsServerTimeout(err),
		apierrors.IsTooManyRequests(err), apierrors.IsServiceUnavailable(err),
		apierrors.IsInternalError(err):
		return Transient
	}

	var uerr *url.Error
	if errors.As(err, &uerr) {
		if ne, ok := uerr.Err.(net.Error); ok && ne.Timeout() {
			return Transient
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "forbidden"):
		return Auth
	case strings.Contains(msg, "not found"):
		return NotFound
	case strings.Contains(msg, "no such host"), strings.Contains(msg, "dial tcp"),
		strings.Contains(msg, "connection reset"), strings.Contains(msg, "timeout"):
		return Transient
	case strings.Contains(msg, "already initialized"), strings.Contains(msg, "already installed"):
		return Configuration
	case strings.Contains(msg, "lock poisoned"), strings.Contains(msg, "inconsistent state"):
		return Fatal
	default:
		return Unknown
	}
}

// ShouldRefreshClient reports whether err indicates the client manager
// should discard its cached client and rebuild, per C7's contract.
func ShouldRefreshClient(err error) bool {
	return Classify(err) == Auth
}

// IsRetriable reports whether err is of a retriable kind (transient or
// precondition). The fetcher's failure path does not consult it: it
// retries every failed fetch up to its configured retry cap.
func IsRetriable(err error) bool {
	switch Classify(err) {
	case Transient, Precondition:
		return true
	default:
		return false
	}
}
