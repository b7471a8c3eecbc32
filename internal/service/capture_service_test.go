package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/mcpgateway/mcpgateway/internal/adapter/outbound/cel"
	"github.com/mcpgateway/mcpgateway/internal/domain/capture"
	"github.com/mcpgateway/mcpgateway/internal/domain/session"
	"github.com/mcpgateway/mcpgateway/internal/domain/sse"
	"github.com/mcpgateway/mcpgateway/pkg/mcp"
)

// backfillCall records one UpdateServerInfoForInitializeRequest invocation.
type backfillCall struct {
	serverName string
	sessionID  string
	requestID  string
	info       *mcp.PeerInfo
}

// mockCaptureStore collects written records for assertions.
type mockCaptureStore struct {
	mu        sync.Mutex
	records   []*capture.Record
	backfills []backfillCall
	delay     time.Duration
}

func (m *mockCaptureStore) Write(ctx context.Context, rec *capture.Record) error {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *mockCaptureStore) UpdateServerInfoForInitializeRequest(ctx context.Context, serverName, sessionID string, requestID json.RawMessage, info *mcp.PeerInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backfills = append(m.backfills, backfillCall{
		serverName: serverName,
		sessionID:  sessionID,
		requestID:  string(requestID),
		info:       info,
	})
	return nil
}

func (m *mockCaptureStore) written() []*capture.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*capture.Record(nil), m.records...)
}

var _ capture.Store = (*mockCaptureStore)(nil)

// captureHarness bundles a capture service with its collaborators.
type captureHarness struct {
	svc     *CaptureService
	store   *mockCaptureStore
	tracker *session.RequestTracker
	clients *session.InfoStore
	servers *session.InfoStore
	clock   *fakeClock
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newCaptureHarness(t *testing.T, opts ...CaptureOption) *captureHarness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := &fakeClock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	tracker := session.NewRequestTracker(session.WithTrackerClock(clock.Now))
	clients := session.NewClientInfoStore(nil, logger)
	servers := session.NewServerInfoStore(nil, logger)
	store := &mockCaptureStore{}

	opts = append([]CaptureOption{WithCaptureClock(clock.Now)}, opts...)
	svc := NewCaptureService(store, tracker, clients, servers, logger, opts...)
	return &captureHarness{
		svc:     svc,
		store:   store,
		tracker: tracker,
		clients: clients,
		servers: servers,
		clock:   clock,
	}
}

func mustMessage(t *testing.T, raw string) *mcp.Message {
	t.Helper()
	msg, err := mcp.Wrap([]byte(raw))
	if err != nil {
		t.Fatalf("wrap message: %v", err)
	}
	return msg
}

func testExchange() Exchange {
	return Exchange{
		ServerName: "weather",
		SessionID:  "sess-1",
		HTTP: capture.HTTPContext{
			UserAgent: "inspector/0.5",
			ClientIP:  "127.0.0.1",
		},
	}
}

func TestCaptureService_RequestRecord(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newCaptureHarness(t)
	h.svc.Start(context.Background())

	msg := mustMessage(t, `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"get_forecast"}}`)
	h.svc.CaptureRequest(testExchange(), msg)
	h.svc.Stop()

	records := h.store.written()
	if len(records) != 1 {
		t.Fatalf("wrote %d records, want 1", len(records))
	}
	rec := records[0]
	if rec.Direction != capture.DirectionRequest {
		t.Errorf("direction = %q", rec.Direction)
	}
	if rec.Method != "tools/call" || string(rec.ID) != "7" {
		t.Errorf("method = %q, id = %s", rec.Method, rec.ID)
	}
	if rec.Metadata.HTTPStatus != 200 || rec.Metadata.DurationMs != 0 {
		t.Errorf("httpStatus = %d, durationMs = %d", rec.Metadata.HTTPStatus, rec.Metadata.DurationMs)
	}
	if rec.Metadata.MethodDetail != "get_forecast" {
		t.Errorf("methodDetail = %q", rec.Metadata.MethodDetail)
	}
	if rec.Metadata.UserAgent != "inspector/0.5" || rec.Metadata.ClientIP != "127.0.0.1" {
		t.Errorf("http context = %+v", rec.Metadata)
	}
	if len(rec.Request) == 0 || len(rec.Response) != 0 {
		t.Errorf("payloads: request %d bytes, response %d bytes", len(rec.Request), len(rec.Response))
	}
	if !h.tracker.Has("7") {
		t.Error("request id not tracked")
	}
}

func TestCaptureService_ResponseDuration(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newCaptureHarness(t)
	h.svc.Start(context.Background())
	ex := testExchange()

	h.svc.CaptureRequest(ex, mustMessage(t, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	h.clock.Advance(25 * time.Millisecond)
	h.svc.CaptureResponse(ex, mustMessage(t, `{"jsonrpc":"2.0","id":1,"result":{"tools":[]}}`), 200)

	// A response with an untracked id records zero duration and no method.
	h.svc.CaptureResponse(ex, mustMessage(t, `{"jsonrpc":"2.0","id":99,"result":{}}`), 200)
	h.svc.Stop()

	records := h.store.written()
	if len(records) != 3 {
		t.Fatalf("wrote %d records, want 3", len(records))
	}
	resp := records[1]
	if resp.Method != "tools/list" || resp.Metadata.DurationMs != 25 {
		t.Errorf("method = %q, durationMs = %d", resp.Method, resp.Metadata.DurationMs)
	}
	unknown := records[2]
	if unknown.Method != "" || unknown.Metadata.DurationMs != 0 {
		t.Errorf("unknown id: method = %q, durationMs = %d", unknown.Method, unknown.Metadata.DurationMs)
	}
	if h.tracker.Has("1") {
		t.Error("tracker entry survived duration calculation")
	}
}

func TestCaptureService_InitializeHandshake(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newCaptureHarness(t)
	h.svc.Start(context.Background())
	ex := testExchange()
	ctx := context.Background()

	h.svc.CaptureRequest(ex, mustMessage(t,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","clientInfo":{"name":"inspector","version":"0.5.1"}}}`))
	h.svc.CaptureResponse(ex, mustMessage(t,
		`{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2025-03-26","serverInfo":{"name":"weather-mcp","version":"2.0.0"}}}`), 200)
	h.svc.Stop()

	if info := h.clients.Get(ctx, "sess-1"); info == nil || info.Name != "inspector" {
		t.Errorf("client info = %+v", info)
	}
	if info := h.servers.Get(ctx, "sess-1"); info == nil || info.Name != "weather-mcp" {
		t.Errorf("server info = %+v", info)
	}

	h.store.mu.Lock()
	backfills := append([]backfillCall(nil), h.store.backfills...)
	h.store.mu.Unlock()
	if len(backfills) != 1 {
		t.Fatalf("backfills = %d, want 1", len(backfills))
	}
	b := backfills[0]
	if b.serverName != "weather" || b.sessionID != "sess-1" || b.requestID != "1" {
		t.Errorf("backfill = %+v", b)
	}
	if b.info == nil || b.info.Name != "weather-mcp" {
		t.Errorf("backfill info = %+v", b.info)
	}

	// The backfill runs after both handshake records are durable.
	records := h.store.written()
	if len(records) != 2 {
		t.Fatalf("wrote %d records, want 2", len(records))
	}
}

func TestCaptureService_ErrorSynthesizesResponse(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newCaptureHarness(t)
	h.svc.Start(context.Background())
	ex := testExchange()

	req := mustMessage(t, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"x"}}`)
	h.svc.CaptureRequest(ex, req)
	h.svc.CaptureError(ex, req, fmt.Errorf("dial tcp: connection refused"), 502, 12)
	h.svc.Stop()

	records := h.store.written()
	if len(records) != 2 {
		t.Fatalf("wrote %d records, want 2", len(records))
	}
	rec := records[1]
	if rec.Direction != capture.DirectionResponse || rec.Metadata.HTTPStatus != 502 {
		t.Errorf("direction = %q, httpStatus = %d", rec.Direction, rec.Metadata.HTTPStatus)
	}
	if rec.Metadata.DurationMs != 12 {
		t.Errorf("durationMs = %d", rec.Metadata.DurationMs)
	}

	var envelope struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Data    struct {
				Details string `json:"details"`
			} `json:"data"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Response, &envelope); err != nil {
		t.Fatalf("unmarshal synthesized response: %v", err)
	}
	if envelope.Error.Code != capture.UpstreamErrorCode || envelope.Error.Message != capture.UpstreamErrorMessage {
		t.Errorf("error = %+v", envelope.Error)
	}
	if envelope.Error.Data.Details != "dial tcp: connection refused" {
		t.Errorf("details = %q", envelope.Error.Data.Details)
	}
	if h.tracker.Has("3") {
		t.Error("tracker entry survived error capture")
	}
}

func TestCaptureService_ErrorSkipsNotifications(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newCaptureHarness(t)
	h.svc.Start(context.Background())

	notif := mustMessage(t, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	h.svc.CaptureError(testExchange(), notif, fmt.Errorf("boom"), 502, 0)
	h.svc.Stop()

	if records := h.store.written(); len(records) != 0 {
		t.Errorf("wrote %d records for a notification error, want 0", len(records))
	}
}

func TestCaptureService_SSECapture(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newCaptureHarness(t)
	h.svc.Start(context.Background())
	ex := testExchange()

	h.svc.CaptureRequest(ex, mustMessage(t, `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"slow"}}`))
	h.clock.Advance(40 * time.Millisecond)

	frame := &sse.Event{ID: "evt-1", Type: "message", Data: `{"jsonrpc":"2.0","id":5,"result":{"ok":true}}`}
	h.svc.CaptureSSEJsonRpc(ex, frame, mustMessage(t, frame.Data))

	raw := &sse.Event{Type: "heartbeat", Data: "ping"}
	h.svc.CaptureSSEEvent(ex, raw)
	h.svc.Stop()

	records := h.store.written()
	if len(records) != 3 {
		t.Fatalf("wrote %d records, want 3", len(records))
	}

	rpc := records[1]
	if rpc.Direction != capture.DirectionSSEJsonRpc {
		t.Errorf("direction = %q", rpc.Direction)
	}
	if rpc.Method != "tools/call" || rpc.Metadata.DurationMs != 40 {
		t.Errorf("method = %q, durationMs = %d", rpc.Method, rpc.Metadata.DurationMs)
	}
	if rpc.SSEEvent == nil || rpc.SSEEvent.ID != "evt-1" {
		t.Errorf("sse event = %+v", rpc.SSEEvent)
	}
	if len(rpc.Response) == 0 {
		t.Error("response payload missing on sse-jsonrpc response frame")
	}

	ev := records[2]
	if ev.Direction != capture.DirectionSSEEvent || ev.SSEEvent == nil || ev.SSEEvent.Type != "heartbeat" {
		t.Errorf("raw event record = %+v", ev)
	}
}

func TestCaptureService_ExcludeFilter(t *testing.T) {
	defer goleak.VerifyNone(t)

	filter, err := cel.NewFilter(`method == "ping"`)
	if err != nil {
		t.Fatalf("compile filter: %v", err)
	}
	h := newCaptureHarness(t, WithExcludeFilter(filter))
	h.svc.Start(context.Background())
	ex := testExchange()

	h.svc.CaptureRequest(ex, mustMessage(t, `{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	h.svc.CaptureRequest(ex, mustMessage(t, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`))
	h.svc.Stop()

	records := h.store.written()
	if len(records) != 1 {
		t.Fatalf("wrote %d records, want 1", len(records))
	}
	if records[0].Method != "tools/list" {
		t.Errorf("surviving method = %q", records[0].Method)
	}
	if got := h.svc.FilteredRecords(); got != 1 {
		t.Errorf("FilteredRecords() = %d, want 1", got)
	}
}

func TestCaptureService_FilteredInitializeStillBackfills(t *testing.T) {
	defer goleak.VerifyNone(t)

	filter, err := cel.NewFilter(`method == "initialize"`)
	if err != nil {
		t.Fatalf("compile filter: %v", err)
	}
	h := newCaptureHarness(t, WithExcludeFilter(filter))
	h.svc.Start(context.Background())
	ex := testExchange()

	h.svc.CaptureRequest(ex, mustMessage(t,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"clientInfo":{"name":"inspector","version":"1.0"}}}`))
	h.svc.CaptureResponse(ex, mustMessage(t,
		`{"jsonrpc":"2.0","id":1,"result":{"serverInfo":{"name":"weather-mcp","version":"2.0"}}}`), 200)
	h.svc.Stop()

	if records := h.store.written(); len(records) != 0 {
		t.Errorf("wrote %d records despite filter, want 0", len(records))
	}
	// Identity observation is independent of record persistence.
	if info := h.clients.Get(context.Background(), "sess-1"); info == nil || info.Name != "inspector" {
		t.Errorf("client info = %+v", info)
	}
	if info := h.servers.Get(context.Background(), "sess-1"); info == nil || info.Name != "weather-mcp" {
		t.Errorf("server info = %+v", info)
	}
}

func TestCaptureService_OverflowWithTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	// Slow store to cause backpressure
	store := &mockCaptureStore{delay: 50 * time.Millisecond}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tracker := session.NewRequestTracker()
	svc := NewCaptureService(store, tracker,
		session.NewClientInfoStore(nil, logger), session.NewServerInfoStore(nil, logger), logger,
		WithChannelSize(2),
		WithSendTimeout(10*time.Millisecond),
		WithBatchSize(1),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	ex := testExchange()
	for i := 0; i < 10; i++ {
		msg := mustMessage(t, fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"tools/list"}`, i))
		svc.CaptureRequest(ex, msg)
	}

	time.Sleep(150 * time.Millisecond)

	if drops := svc.DroppedRecords(); drops == 0 {
		t.Error("expected some records to be dropped due to timeout")
	}
	if capacity := svc.ChannelCapacity(); capacity != 2 {
		t.Errorf("expected capacity=2, got %d", capacity)
	}

	cancel()
	svc.Stop()
}

func TestCaptureService_StopIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newCaptureHarness(t)
	h.svc.Start(context.Background())
	h.svc.CaptureRequest(testExchange(), mustMessage(t, `{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	h.svc.Stop()
	h.svc.Stop()

	if records := h.store.written(); len(records) != 1 {
		t.Errorf("wrote %d records, want 1", len(records))
	}
}
