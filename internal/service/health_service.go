package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mcpgateway/mcpgateway/internal/domain/health"
	"github.com/mcpgateway/mcpgateway/internal/domain/registry"
)

// HealthService periodically probes every registered server with an
// OPTIONS request and persists the outcome. Probes for different servers
// run concurrently; a single server is probed at most once at a time.
type HealthService struct {
	servers  registry.Store
	statuses health.Store
	client   *http.Client
	logger   *slog.Logger

	interval     time.Duration
	probeTimeout time.Duration
	now          func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
	lastSeen map[string]health.Health
	onUpdate func(health.Status)
	onProbe  func(server string, result health.Health)

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// HealthOption configures HealthService.
type HealthOption func(*HealthService)

// WithHealthInterval sets the sweep interval between probe cycles.
func WithHealthInterval(interval time.Duration) HealthOption {
	return func(s *HealthService) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithProbeTimeout bounds a single OPTIONS probe.
func WithProbeTimeout(timeout time.Duration) HealthOption {
	return func(s *HealthService) {
		if timeout > 0 {
			s.probeTimeout = timeout
		}
	}
}

// WithProbeClient overrides the HTTP client used for probes.
func WithProbeClient(client *http.Client) HealthOption {
	return func(s *HealthService) {
		s.client = client
	}
}

// WithProbeHook registers a callback fired after every probe, scheduled or
// on demand. The metrics layer counts probes through it.
func WithProbeHook(fn func(server string, result health.Health)) HealthOption {
	return func(s *HealthService) {
		s.onProbe = fn
	}
}

// WithHealthClock overrides the time source for tests.
func WithHealthClock(now func() time.Time) HealthOption {
	return func(s *HealthService) {
		s.now = now
	}
}

// NewHealthService creates a scheduler probing the servers registered in
// servers and recording outcomes in statuses.
func NewHealthService(servers registry.Store, statuses health.Store, logger *slog.Logger, opts ...HealthOption) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &HealthService{
		servers:      servers,
		statuses:     statuses,
		client:       &http.Client{},
		logger:       logger,
		interval:     30 * time.Second,
		probeTimeout: 5 * time.Second,
		now:          time.Now,
		inflight:     make(map[string]struct{}),
		lastSeen:     make(map[string]health.Health),
		stop:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnUpdate registers a callback fired when a server transitions between up
// and down. Must be set before Start.
func (s *HealthService) OnUpdate(fn func(health.Status)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUpdate = fn
}

// Start seeds transition state from persisted rows, runs one immediate
// sweep, then probes on the configured interval until Stop or ctx
// cancellation.
func (s *HealthService) Start(ctx context.Context) {
	s.seed(ctx)
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop halts the probe loop and waits for it to exit. In-flight probes
// finish on their own timeout. Safe to call more than once.
func (s *HealthService) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	s.wg.Wait()
}

func (s *HealthService) run(ctx context.Context) {
	defer s.wg.Done()

	// First sweep runs immediately so a fresh gateway has status rows
	// before the first interval elapses.
	s.CheckAll(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.CheckAll(ctx)
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// CheckAll probes every registered server, one goroutine per server,
// joined before returning.
func (s *HealthService) CheckAll(ctx context.Context) {
	servers, err := s.servers.List(ctx)
	if err != nil {
		s.logger.Error("health sweep failed to list servers", "error", err)
		return
	}

	var wg sync.WaitGroup
	for _, srv := range servers {
		wg.Add(1)
		go func(srv registry.Server) {
			defer wg.Done()
			s.probeAndPersist(ctx, srv)
		}(srv)
	}
	wg.Wait()
}

// CheckOne probes a single server on demand and returns the fresh status.
// Unknown names return the registry's not-found error.
func (s *HealthService) CheckOne(ctx context.Context, name string) (health.Status, error) {
	srv, err := s.servers.Get(ctx, name)
	if err != nil {
		return health.Status{}, err
	}
	return s.probeAndPersist(ctx, srv), nil
}

// Forget drops in-memory probe state and the stored health row for a
// removed server.
func (s *HealthService) Forget(ctx context.Context, name string) error {
	s.mu.Lock()
	delete(s.lastSeen, name)
	s.mu.Unlock()
	return s.statuses.Remove(ctx, name)
}

// probeAndPersist runs one guarded probe. If the server is already being
// probed, the stored row is returned instead of starting a second probe.
func (s *HealthService) probeAndPersist(ctx context.Context, srv registry.Server) health.Status {
	if !s.acquire(srv.Name) {
		if st, err := s.statuses.Get(ctx, srv.Name); err == nil {
			return st
		}
		return health.Status{Name: srv.Name, Health: health.HealthUnknown}
	}
	defer s.release(srv.Name)

	st := s.probe(ctx, srv)
	if s.onProbe != nil {
		s.onProbe(srv.Name, st.Health)
	}
	if err := s.statuses.Upsert(ctx, st); err != nil {
		s.logger.Error("failed to persist health status",
			"server", srv.Name,
			"error", err)
	}
	s.notifyTransition(st)
	return st
}

// probe issues one OPTIONS request and classifies the outcome. Any status
// below 500 counts as up: auth challenges and method rejections still
// prove the server is answering.
func (s *HealthService) probe(ctx context.Context, srv registry.Server) health.Status {
	probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	probeCtx, span := otel.Tracer("mcpgateway/health").Start(probeCtx, "health.probe",
		trace.WithAttributes(attribute.String("server", srv.Name)))
	defer span.End()

	start := s.now()
	st := health.Status{Name: srv.Name}

	req, err := http.NewRequestWithContext(probeCtx, http.MethodOptions, srv.URL, nil)
	if err != nil {
		checked := s.now()
		st.Health = health.HealthDown
		st.LastCheckTime = checked
		st.LastErrorTime = &checked
		st.ErrorCode = health.CodeUnknown
		st.ErrorMessage = err.Error()
		span.SetStatus(codes.Error, st.ErrorMessage)
		return st
	}

	resp, err := s.client.Do(req)
	checked := s.now()
	st.LastCheckTime = checked

	if err != nil {
		st.Health = health.HealthDown
		st.LastErrorTime = &checked
		st.ErrorCode = health.Classify(err)
		st.ErrorMessage = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, st.ErrorCode)
		return st
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 500 {
		st.Health = health.HealthUp
		st.LastHealthyTime = &checked
		st.ResponseTimeMs = checked.Sub(start).Milliseconds()
		return st
	}

	st.Health = health.HealthDown
	st.LastErrorTime = &checked
	st.ErrorCode = health.CodeHTTPError
	st.ErrorMessage = fmt.Sprintf("HTTP %d", resp.StatusCode)
	span.SetStatus(codes.Error, st.ErrorMessage)
	return st
}

// acquire claims the per-server probe slot.
func (s *HealthService) acquire(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[name]; busy {
		return false
	}
	s.inflight[name] = struct{}{}
	return true
}

func (s *HealthService) release(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, name)
}

// notifyTransition fires the update callback on up->down and down->up
// transitions. The first observation of a server never fires.
func (s *HealthService) notifyTransition(st health.Status) {
	s.mu.Lock()
	prev, seen := s.lastSeen[st.Name]
	s.lastSeen[st.Name] = st.Health
	cb := s.onUpdate
	s.mu.Unlock()

	if cb == nil || !seen {
		return
	}
	upDown := prev == health.HealthUp && st.Health == health.HealthDown
	downUp := prev == health.HealthDown && st.Health == health.HealthUp
	if upDown || downUp {
		cb(st)
	}
}

// seed loads persisted health rows so a restart detects transitions
// against the last stored state instead of reporting them all as new.
func (s *HealthService) seed(ctx context.Context) {
	stored, err := s.statuses.List(ctx)
	if err != nil {
		s.logger.Warn("failed to seed health state", "error", err)
		return
	}
	s.mu.Lock()
	for _, st := range stored {
		s.lastSeen[st.Name] = st.Health
	}
	s.mu.Unlock()
}
