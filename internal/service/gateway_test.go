package service

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/mcpgateway/mcpgateway/internal/domain/capture"
)

func newTestGateway(t *testing.T, dir string, opts Options) *Gateway {
	t.Helper()
	opts.StorageDir = dir
	opts.Logger = discardLogger()
	if opts.HealthInterval == 0 {
		opts.HealthInterval = time.Hour
	}
	g, err := NewGateway(context.Background(), opts)
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	return g
}

func TestGatewayLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)
	dir := t.TempDir()
	ctx := context.Background()

	g := newTestGateway(t, dir, Options{})

	if _, err := g.Registry().Add(ctx, "weather", "http://upstream:9000/mcp", nil); err != nil {
		t.Fatalf("register server: %v", err)
	}

	ex := testExchange()
	g.Capture().CaptureRequest(ex, mustMessage(t, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	g.Capture().CaptureResponse(ex, mustMessage(t, `{"jsonrpc":"2.0","id":1,"result":{"tools":[]}}`), 200)

	if err := g.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := g.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	// A fresh gateway on the same directory sees everything the first one
	// persisted.
	g2 := newTestGateway(t, dir, Options{})
	defer g2.Close()

	servers, err := g2.Registry().List(ctx)
	if err != nil {
		t.Fatalf("list servers: %v", err)
	}
	if len(servers) != 1 || servers[0].Name != "weather" {
		t.Fatalf("servers = %+v", servers)
	}

	page, err := g2.Storage().QueryLogs(ctx, capture.QueryOptions{Limit: 10})
	if err != nil {
		t.Fatalf("query logs: %v", err)
	}
	if len(page.Data) != 2 {
		t.Fatalf("got %d logs, want 2", len(page.Data))
	}
}

func TestGatewayRejectsBadFilter(t *testing.T) {
	defer goleak.VerifyNone(t)
	dir := t.TempDir()

	_, err := NewGateway(context.Background(), Options{
		StorageDir:    dir,
		Logger:        discardLogger(),
		ExcludeFilter: `method ==`,
	})
	if err == nil {
		t.Fatal("expected a compile error")
	}

	// The failed constructor must not leave the storage dir locked.
	g := newTestGateway(t, dir, Options{})
	if err := g.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestGatewayFilterWired(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	g := newTestGateway(t, t.TempDir(), Options{ExcludeFilter: `method == "ping"`})
	defer g.Close()

	ex := testExchange()
	g.Capture().CaptureRequest(ex, mustMessage(t, `{"jsonrpc":"2.0","id":7,"method":"ping"}`))
	g.Capture().CaptureRequest(ex, mustMessage(t, `{"jsonrpc":"2.0","id":8,"method":"tools/list"}`))

	if err := g.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := g.Capture().FilteredRecords(); got != 1 {
		t.Errorf("FilteredRecords = %d, want 1", got)
	}

	g2 := newTestGateway(t, g.Storage().Dir(), Options{})
	defer g2.Close()
	page, err := g2.Storage().QueryLogs(ctx, capture.QueryOptions{Limit: 10})
	if err != nil {
		t.Fatalf("query logs: %v", err)
	}
	if len(page.Data) != 1 || page.Data[0].Method != "tools/list" {
		t.Fatalf("logs = %+v", page.Data)
	}
}

func TestGatewaySecondProcessLockedOut(t *testing.T) {
	defer goleak.VerifyNone(t)
	dir := t.TempDir()

	g := newTestGateway(t, dir, Options{})
	defer g.Close()

	if _, err := NewGateway(context.Background(), Options{
		StorageDir:     dir,
		Logger:         discardLogger(),
		HealthInterval: time.Hour,
	}); err == nil {
		t.Fatal("expected the storage lock to reject a second gateway")
	}
}
