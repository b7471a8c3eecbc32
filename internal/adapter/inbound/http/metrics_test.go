package http

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mcpgateway/mcpgateway/internal/domain/health"
)

// fakeCaptureStats feeds fixed counter values to the pull-model metrics.
type fakeCaptureStats struct {
	written  int64
	dropped  int64
	depth    int
	capacity int
}

func (f *fakeCaptureStats) WrittenRecords() int64 { return f.written }
func (f *fakeCaptureStats) DroppedRecords() int64 { return f.dropped }
func (f *fakeCaptureStats) ChannelDepth() int     { return f.depth }
func (f *fakeCaptureStats) ChannelCapacity() int  { return f.capacity }

type fakeSessionCounter struct {
	sessions []string
}

func (f *fakeSessionCounter) ActiveSessions() []string { return f.sessions }

// scrape renders the exposition body for assertions.
func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status = %d, want 200", rec.Code)
	}
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read scrape body: %v", err)
	}
	return string(body)
}

func TestMetricsProxySeries(t *testing.T) {
	m := NewMetrics()

	m.ProxyRequest("weather", "tools/list", 200)
	m.ProxyRequest("weather", "tools/list", 200)
	m.ProxyRequest("weather", "tools/call", 502)
	m.ProxyDuration("weather", 0.125)
	m.SSEEvent("weather", "jsonrpc")
	m.SSEEvent("weather", "event")

	body := scrape(t, m)
	for _, want := range []string{
		`mcpgateway_proxy_requests_total{code="200",method="tools/list",server="weather"} 2`,
		`mcpgateway_proxy_requests_total{code="502",method="tools/call",server="weather"} 1`,
		`mcpgateway_proxy_request_duration_seconds_count{server="weather"} 1`,
		`mcpgateway_sse_events_total{kind="jsonrpc",server="weather"} 1`,
		`mcpgateway_sse_events_total{kind="event",server="weather"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestMetricsHealthProbeSeries(t *testing.T) {
	m := NewMetrics()

	m.HealthProbe("weather", health.HealthUp)
	m.HealthProbe("weather", health.HealthUp)
	m.HealthProbe("weather", health.HealthDown)

	body := scrape(t, m)
	if !strings.Contains(body, `mcpgateway_health_probes_total{result="up",server="weather"} 2`) {
		t.Errorf("exposition missing up probes:\n%s", grepLines(body, "health_probes"))
	}
	if !strings.Contains(body, `mcpgateway_health_probes_total{result="down",server="weather"} 1`) {
		t.Errorf("exposition missing down probe:\n%s", grepLines(body, "health_probes"))
	}
}

func TestMetricsCaptureAndSessionGauges(t *testing.T) {
	m := NewMetrics()
	stats := &fakeCaptureStats{written: 41, dropped: 3, depth: 17, capacity: 1024}
	sessions := &fakeSessionCounter{sessions: []string{"a", "b", "c"}}

	m.ObserveCapture(stats)
	m.ObserveSessions(sessions)

	body := scrape(t, m)
	for _, want := range []string{
		"mcpgateway_capture_writes_total 41",
		"mcpgateway_capture_drops_total 3",
		"mcpgateway_capture_queue_depth 17",
		"mcpgateway_active_sessions 3",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}

	// Pull model: the next scrape reflects the new values without any
	// push from the pipeline.
	stats.written = 42
	sessions.sessions = sessions.sessions[:1]
	body = scrape(t, m)
	if !strings.Contains(body, "mcpgateway_capture_writes_total 42") {
		t.Error("capture_writes_total did not follow the stats source")
	}
	if !strings.Contains(body, "mcpgateway_active_sessions 1") {
		t.Error("active_sessions did not follow the session store")
	}
}

func TestMetricsIncludesRuntimeCollectors(t *testing.T) {
	body := scrape(t, NewMetrics())
	if !strings.Contains(body, "go_goroutines") {
		t.Error("exposition missing go collector series")
	}
}

// grepLines keeps failure output readable on large expositions.
func grepLines(body, substr string) string {
	var out []string
	for _, line := range strings.Split(body, "\n") {
		if strings.Contains(line, substr) {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
