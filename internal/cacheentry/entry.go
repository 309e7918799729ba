// Package cacheentry implements C2: a pure, I/O-free state container
// wrapping one fetched value with its freshness bookkeeping.
package cacheentry

import (
	"time"

	"github.com/navicore/navicache/internal/request"
)

// FetchStatus is the entry's fetch-state machine, mirroring spec.md's
// {Fresh, Stale, Fetching, Error(msg)}.
type FetchStatus int

const (
	Fresh FetchStatus = iota
	Stale
	Fetching
	Error
)

func (s FetchStatus) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	case Fetching:
		return "fetching"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Entry holds a fetched value plus its age, TTL, fetch-state, version
// counter, and size estimate. now is injectable for tests; production
// callers use Now.
type Entry struct {
	Value       request.Result
	LastUpdated time.Time
	TTL         time.Duration
	Status      FetchStatus
	ErrMsg      string
	Version     uint64
	SizeBytes   int

	Now func() time.Time
}

func realNow() time.Time { return time.Now() }

// New creates a freshly-populated entry in the Fresh state.
func New(value request.Result, ttl time.Duration) *Entry {
	e := &Entry{Value: value, TTL: ttl, Status: Fresh, SizeBytes: value.EstimateSize(), Now: realNow}
	e.LastUpdated = e.now()
	return e
}

func (e *Entry) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Age returns the time elapsed since the entry was last updated.
func (e *Entry) Age() time.Duration {
	return e.now().Sub(e.LastUpdated)
}

// IsExpired ⇔ now - last_updated > ttl, regardless of Status.
func (e *Entry) IsExpired() bool {
	return e.Age() > e.TTL
}

// IsFresh ⇔ Status == Fresh ∧ Age ≤ TTL.
func (e *Entry) IsFresh() bool {
	return e.Status == Fresh && !e.IsExpired()
}

// TimeUntilExpiry returns the remaining TTL, or false if already expired.
func (e *Entry) TimeUntilExpiry() (time.Duration, bool) {
	age := e.Age()
	if age >= e.TTL {
		return 0, false
	}
	return e.TTL - age, true
}

// Update replaces the value, sets Status=Fresh, bumps Version, and
// refreshes the timestamp. Version increments monotonically: it is never
// reset by any other transition.
func (e *Entry) Update(value request.Result) {
	e.Value = value
	e.SizeBytes = value.EstimateSize()
	e.LastUpdated = e.now()
	e.Status = Fresh
	e.ErrMsg = ""
	e.Version++
}

func (e *Entry) MarkStale() {
	e.Status = Stale
}

func (e *Entry) MarkFetching() {
	e.Status = Fetching
}

func (e *Entry) MarkError(msg string) {
	e.Status = Error
	e.ErrMsg = msg
}
