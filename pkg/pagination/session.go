package pagination

import (
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/doctor-search-proxy/pkg/types"
	"github.com/Sternrassler/doctor-search-proxy/pkg/upstream"
)

// State is a fetch session state.
type State int

const (
	StateFetching State = iota
	StateAwaitingDelay
	StateWriting
	StateDone
	StateFailed
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case StateFetching:
		return "fetching"
	case StateAwaitingDelay:
		return "awaiting_delay"
	case StateWriting:
		return "writing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions happen from s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Session is the state of one fetch-and-cache operation.
type Session struct {
	Name       string
	Records    []types.Record
	NextOffset int
	State      State
	Delay      time.Duration
	Pages      int
	Total      int
	Written    bool
	Err        error
	StartedAt  time.Time
}

func newSession(name string, now time.Time) *Session {
	return &Session{
		Name:      name,
		Records:   []types.Record{},
		State:     StateFetching,
		StartedAt: now,
	}
}

func (s *Session) fail(err error) {
	s.Err = err
	s.State = StateFailed
}

// FailureKind classifies a failed session.
type FailureKind string

const (
	// FailureTransport means the provider could not be reached or its
	// response could not be read.
	FailureTransport FailureKind = "transport"

	// FailureUpstreamStatus means the provider answered with a non-200 status.
	FailureUpstreamStatus FailureKind = "upstream_status"
)

// FetchError is returned by FetchAndCache when a session fails.
type FetchError struct {
	Kind   FailureKind
	Status int
	Name   string
	Offset int
	Err    error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Kind == FailureUpstreamStatus {
		return fmt.Sprintf("fetch %q at offset %d: provider returned status %d", e.Name, e.Offset, e.Status)
	}
	return fmt.Sprintf("fetch %q at offset %d: %v", e.Name, e.Offset, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool {
	var ferr *FetchError
	return errors.As(err, &ferr) && ferr.Kind == FailureTransport
}

// IsUpstreamStatus reports whether err is a provider status failure.
func IsUpstreamStatus(err error) bool {
	var ferr *FetchError
	return errors.As(err, &ferr) && ferr.Kind == FailureUpstreamStatus
}

// classify wraps a page fetch error into a FetchError.
func classify(name string, offset int, err error) *FetchError {
	ferr := &FetchError{Kind: FailureTransport, Name: name, Offset: offset, Err: err}

	var perr *upstream.ProviderError
	if errors.As(err, &perr) && !perr.IsTransport() {
		ferr.Kind = FailureUpstreamStatus
		ferr.Status = perr.StatusCode
	}
	return ferr
}
