package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"refused", syscall.ECONNREFUSED, CodeConnRefused},
		{"wrapped refused", fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED), CodeConnRefused},
		{"reset", syscall.ECONNRESET, CodeConnReset},
		{"os timeout", syscall.ETIMEDOUT, CodeTimedOut},
		{"context deadline", context.DeadlineExceeded, CodeTimeout},
		{"dns", &net.DNSError{Err: "no such host", Name: "nope.invalid", IsNotFound: true}, CodeNotFound},
		{"net timeout", &net.OpError{Op: "dial", Err: timeoutErr{}}, CodeTimeout},
		{"unknown", errors.New("weird"), CodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestStatusTimestampPointers(t *testing.T) {
	now := time.Now()
	up := Status{Name: "a", Health: HealthUp, LastCheckTime: now, LastHealthyTime: &now}
	if up.LastErrorTime != nil {
		t.Error("up probe should leave LastErrorTime nil")
	}
	down := Status{Name: "a", Health: HealthDown, LastCheckTime: now, LastErrorTime: &now}
	if down.LastHealthyTime != nil {
		t.Error("down probe should leave LastHealthyTime nil")
	}
}
