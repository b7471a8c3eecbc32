package http

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mcpgateway/mcpgateway/internal/ctxkey"
)

func TestRequestIDMiddleware_GeneratesID(t *testing.T) {
	var seenID string
	var seenLogger *slog.Logger
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID, _ = r.Context().Value(ctxkey.RequestIDKey{}).(string)
		seenLogger, _ = r.Context().Value(ctxkey.LoggerKey{}).(*slog.Logger)
	})

	rec := httptest.NewRecorder()
	RequestIDMiddleware(slog.Default())(inner).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/logs", nil))

	if seenID == "" {
		t.Fatal("no request id in context")
	}
	if seenLogger == nil {
		t.Fatal("no enriched logger in context")
	}
	if got := rec.Header().Get("X-Request-ID"); got != seenID {
		t.Errorf("response header X-Request-ID = %q, want %q", got, seenID)
	}
}

func TestRequestIDMiddleware_PropagatesCallerID(t *testing.T) {
	var seenID string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID, _ = r.Context().Value(ctxkey.RequestIDKey{}).(string)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/logs", nil)
	req.Header.Set("X-Request-ID", "caller-supplied-42")
	rec := httptest.NewRecorder()
	RequestIDMiddleware(slog.Default())(inner).ServeHTTP(rec, req)

	if seenID != "caller-supplied-42" {
		t.Errorf("request id = %q, want caller-supplied-42", seenID)
	}
}

func TestLoggerFromContext_FallsBackToDefault(t *testing.T) {
	if LoggerFromContext(context.Background()) == nil {
		t.Fatal("LoggerFromContext returned nil")
	}
}

func TestRealIPMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "remote addr only",
			remoteAddr: "192.0.2.7:51234",
			want:       "192.0.2.7",
		},
		{
			name:       "x-forwarded-for wins",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"},
			want:       "203.0.113.9",
		},
		{
			name:       "x-real-ip when no xff",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Real-IP": "198.51.100.2"},
			want:       "198.51.100.2",
		},
		{
			name:       "blank xff entry ignored",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Forwarded-For": " , 10.0.0.1"},
			want:       "10.0.0.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got, _ = r.Context().Value(ctxkey.ClientIPKey{}).(string)
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			RealIPMiddleware(inner).ServeHTTP(httptest.NewRecorder(), req)

			if got != tt.want {
				t.Errorf("client ip = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAccessLogMiddleware_LogsCompletedRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	chain := RequestIDMiddleware(logger)(RealIPMiddleware(AccessLogMiddleware()(inner)))

	req := httptest.NewRequest(http.MethodPost, "/s/weather/mcp", nil)
	req.RemoteAddr = "192.0.2.7:51234"
	chain.ServeHTTP(httptest.NewRecorder(), req)

	line := buf.String()
	for _, want := range []string{"http request", "method=POST", "path=/s/weather/mcp", "status=418", "client_ip=192.0.2.7", "request_id="} {
		if !strings.Contains(line, want) {
			t.Errorf("access log missing %q in %q", want, line)
		}
	}
}

func TestAccessLogMiddleware_SkipsScrapeEndpoints(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	chain := RequestIDMiddleware(logger)(AccessLogMiddleware()(inner))

	for _, path := range []string{"/metrics", "/health"} {
		chain.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := buf.String(); strings.Contains(got, "http request") {
		t.Errorf("scrape endpoints must not be access-logged, got %q", got)
	}
}

func TestStatusRecorder_DefaultsTo200(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("implicit 200"))
	})
	chain := RequestIDMiddleware(logger)(AccessLogMiddleware()(inner))
	chain.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/servers", nil))

	if !strings.Contains(buf.String(), "status=200") {
		t.Errorf("implicit WriteHeader not recorded as 200: %q", buf.String())
	}
}
