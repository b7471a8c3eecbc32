// Package health contains domain types for upstream server health
// tracking.
package health

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"
)

// Health is the probe-derived state of one upstream.
type Health string

// Health states.
const (
	HealthUp      Health = "up"
	HealthDown    Health = "down"
	HealthUnknown Health = "unknown"
)

// Error codes recorded alongside a down state.
const (
	CodeConnRefused = "ECONNREFUSED"
	CodeTimedOut    = "ETIMEDOUT"
	CodeNotFound    = "ENOTFOUND"
	CodeConnReset   = "ECONNRESET"
	CodeTimeout     = "TIMEOUT"
	CodeHTTPError   = "HTTP_ERROR"
	CodeUnknown     = "UNKNOWN"
)

// Status is one server's persisted health row. LastHealthyTime only
// advances on an up probe and LastErrorTime only on a down probe; nil
// means "preserve the stored value" on upsert.
type Status struct {
	Name            string     `json:"name"`
	Health          Health     `json:"health"`
	LastCheckTime   time.Time  `json:"lastCheckTime"`
	LastHealthyTime *time.Time `json:"lastHealthyTime,omitempty"`
	LastErrorTime   *time.Time `json:"lastErrorTime,omitempty"`
	ErrorCode       string     `json:"errorCode,omitempty"`
	ErrorMessage    string     `json:"errorMessage,omitempty"`
	ResponseTimeMs  int64      `json:"responseTimeMs,omitempty"`
}

// ErrStatusNotFound is returned when no probe has ever run for a name.
var ErrStatusNotFound = errors.New("health status not found")

// Store persists health rows.
type Store interface {
	// Upsert writes one probe result. Nil timestamps preserve the values
	// already stored for the name.
	Upsert(ctx context.Context, st Status) error

	// Get returns the health row for one server.
	Get(ctx context.Context, name string) (Status, error)

	// List returns all health rows ordered by name.
	List(ctx context.Context) ([]Status, error)

	// Remove drops the row when its server is unregistered.
	Remove(ctx context.Context, name string) error
}

// Classify maps a probe transport error to the stable error code recorded
// in storage.
func Classify(err error) string {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return CodeConnRefused
	case errors.Is(err, syscall.ECONNRESET):
		return CodeConnReset
	case errors.Is(err, syscall.ETIMEDOUT):
		return CodeTimedOut
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return CodeNotFound
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CodeTimeout
	}
	return CodeUnknown
}
