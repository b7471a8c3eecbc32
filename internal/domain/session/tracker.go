// Package session tracks per-session MCP identity and in-flight request
// timing for the capture pipeline.
package session

import (
	"sync"
	"time"
)

type pendingRequest struct {
	method      string
	startMillis int64
}

// RequestTracker maps in-flight JSON-RPC ids to their method and start
// time so response records can carry a duration. Ids are the canonical
// JSON text of the wire id, which keeps 1 and "1" distinct.
type RequestTracker struct {
	mu      sync.Mutex
	pending map[string]pendingRequest
	now     func() time.Time
}

// TrackerOption configures a RequestTracker.
type TrackerOption func(*RequestTracker)

// WithTrackerClock overrides the time source, for tests.
func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(t *RequestTracker) {
		t.now = now
	}
}

// NewRequestTracker returns an empty tracker.
func NewRequestTracker(opts ...TrackerOption) *RequestTracker {
	t := &RequestTracker{
		pending: make(map[string]pendingRequest),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Track records the start time for a request id. Notifications have no id
// and are ignored. A second request reusing a live id overwrites the first.
func (t *RequestTracker) Track(id, method string) {
	if id == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[id] = pendingRequest{method: method, startMillis: t.now().UnixMilli()}
}

// CalculateDuration returns elapsed milliseconds since Track(id) and
// removes the entry. Unknown ids return 0. Single-shot: a second response
// for the same id measures nothing.
func (t *RequestTracker) CalculateDuration(id string) int64 {
	if id == "" {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[id]
	if !ok {
		return 0
	}
	delete(t.pending, id)
	elapsed := t.now().UnixMilli() - p.startMillis
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// Method returns the method recorded for a live id.
func (t *RequestTracker) Method(id string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[id]
	return p.method, ok
}

// Has reports whether the id is still awaiting its response.
func (t *RequestTracker) Has(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[id]
	return ok
}

// Len returns the number of in-flight requests.
func (t *RequestTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
