package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mcpgateway/mcpgateway/internal/adapter/outbound/cel"
	"github.com/mcpgateway/mcpgateway/internal/adapter/outbound/sqlite"
	"github.com/mcpgateway/mcpgateway/internal/domain/session"
)

// Options configures a Gateway.
type Options struct {
	// StorageDir is the directory holding the SQLite database, the lock
	// file, and any legacy JSONL shards. Required.
	StorageDir string

	// Logger receives structured logs from every component. Defaults to
	// slog.Default().
	Logger *slog.Logger

	// ExcludeFilter is an optional CEL expression; records it matches are
	// never persisted. Empty disables filtering.
	ExcludeFilter string

	// HealthInterval overrides the probe sweep interval (default 30s).
	HealthInterval time.Duration

	// ProbeTimeout overrides the per-probe timeout (default 5s).
	ProbeTimeout time.Duration

	// CaptureOptions tune the async capture pipeline (channel size, batch
	// size, flush interval).
	CaptureOptions []CaptureOption

	// HealthOptions are passed to the health scheduler on top of the
	// interval and timeout above (probe hook, custom client).
	HealthOptions []HealthOption
}

// Gateway owns every long-lived component of the proxy: the SQLite store,
// the session caches, the capture pipeline, the health scheduler, and the
// registry service. Nothing here is a process-wide singleton; tests run
// several gateways side by side.
type Gateway struct {
	storage    *sqlite.Store
	tracker    *session.RequestTracker
	clientInfo *session.InfoStore
	serverInfo *session.InfoStore
	capture    *CaptureService
	health     *HealthService
	registry   *RegistryService
	logger     *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewGateway assembles and starts the gateway components. The capture
// worker and the health scheduler run until Close or until ctx is
// cancelled, whichever comes first.
func NewGateway(ctx context.Context, opts Options) (*Gateway, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Compile the exclude filter before touching disk so a config typo
	// fails fast.
	filter, err := cel.NewFilter(opts.ExcludeFilter)
	if err != nil {
		return nil, fmt.Errorf("compile capture exclude filter: %w", err)
	}

	store, err := sqlite.Open(opts.StorageDir, sqlite.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	tracker := session.NewRequestTracker()
	clientInfo := session.NewClientInfoStore(store, logger)
	serverInfo := session.NewServerInfoStore(store, logger)

	captureOpts := make([]CaptureOption, 0, len(opts.CaptureOptions)+1)
	if filter != nil {
		captureOpts = append(captureOpts, WithExcludeFilter(filter))
	}
	captureOpts = append(captureOpts, opts.CaptureOptions...)
	captureSvc := NewCaptureService(store, tracker, clientInfo, serverInfo, logger, captureOpts...)

	var healthOpts []HealthOption
	if opts.HealthInterval > 0 {
		healthOpts = append(healthOpts, WithHealthInterval(opts.HealthInterval))
	}
	if opts.ProbeTimeout > 0 {
		healthOpts = append(healthOpts, WithProbeTimeout(opts.ProbeTimeout))
	}
	healthOpts = append(healthOpts, opts.HealthOptions...)
	healthSvc := NewHealthService(store.Registry(), store.Health(), logger, healthOpts...)

	registrySvc := NewRegistryService(store.Registry(), store, clientInfo, serverInfo, healthSvc, logger)

	g := &Gateway{
		storage:    store,
		tracker:    tracker,
		clientInfo: clientInfo,
		serverInfo: serverInfo,
		capture:    captureSvc,
		health:     healthSvc,
		registry:   registrySvc,
		logger:     logger,
	}

	captureSvc.Start(ctx)
	healthSvc.Start(ctx)

	return g, nil
}

// Storage exposes the SQLite store, which doubles as the query side of the
// management API.
func (g *Gateway) Storage() *sqlite.Store { return g.storage }

// Capture exposes the async capture pipeline.
func (g *Gateway) Capture() *CaptureService { return g.capture }

// Health exposes the upstream health scheduler.
func (g *Gateway) Health() *HealthService { return g.health }

// Registry exposes server registration CRUD.
func (g *Gateway) Registry() *RegistryService { return g.registry }

// Tracker exposes the pending-request correlator.
func (g *Gateway) Tracker() *session.RequestTracker { return g.tracker }

// ClientInfo exposes the per-session client identity cache.
func (g *Gateway) ClientInfo() *session.InfoStore { return g.clientInfo }

// ServerInfo exposes the per-session server identity cache.
func (g *Gateway) ServerInfo() *session.InfoStore { return g.serverInfo }

// Close shuts the gateway down in dependency order: the scheduler stops
// probing, the capture pipeline drains its queue, then storage closes.
// Callers must stop feeding captures (shut the HTTP listener) before
// calling Close. Safe to call more than once.
func (g *Gateway) Close() error {
	g.closeOnce.Do(func() {
		g.health.Stop()
		g.capture.Stop()
		g.closeErr = g.storage.Close()
	})
	return g.closeErr
}
