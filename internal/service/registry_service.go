package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mcpgateway/mcpgateway/internal/domain/capture"
	"github.com/mcpgateway/mcpgateway/internal/domain/registry"
	"github.com/mcpgateway/mcpgateway/internal/domain/session"
)

// RegistryService provides CRUD over server registrations plus the cleanup
// a removal implies: session identity caches, probe state, and any
// per-server resources registered through OnRemove hooks. Capture history
// for removed servers is always preserved.
//
// Writes are serialized per server name, so two concurrent updates of the
// same name cannot interleave their read-modify-write cycles.
type RegistryService struct {
	store      registry.Store
	history    capture.QueryStore
	clientInfo *session.InfoStore
	serverInfo *session.InfoStore
	health     *HealthService
	logger     *slog.Logger

	mu        sync.Mutex
	nameLocks map[string]*sync.Mutex
	onRemove  []func(name string)
}

// NewRegistryService wires the registry over its collaborators. health may
// be nil when no scheduler runs (tests, read-only tooling).
func NewRegistryService(store registry.Store, history capture.QueryStore, clientInfo, serverInfo *session.InfoStore, health *HealthService, logger *slog.Logger) *RegistryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RegistryService{
		store:      store,
		history:    history,
		clientInfo: clientInfo,
		serverInfo: serverInfo,
		health:     health,
		logger:     logger,
		nameLocks:  make(map[string]*sync.Mutex),
	}
}

// OnRemove registers a hook fired after a server is removed. The proxy
// uses this to close the server's pooled HTTP client.
func (s *RegistryService) OnRemove(fn func(name string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRemove = append(s.onRemove, fn)
}

// Add validates, normalizes, and registers a new server.
func (s *RegistryService) Add(ctx context.Context, name, rawURL string, headers map[string]string) (registry.Server, error) {
	srv, err := registry.New(name, rawURL, headers)
	if err != nil {
		return registry.Server{}, err
	}

	unlock := s.lockName(srv.Name)
	defer unlock()

	if err := s.store.Add(ctx, srv); err != nil {
		return registry.Server{}, err
	}
	s.logger.Info("server registered", "name", srv.Name, "url", srv.URL)
	return srv, nil
}

// Update applies a partial update to the named server and returns the
// resulting registration.
func (s *RegistryService) Update(ctx context.Context, name string, u registry.Update) (registry.Server, error) {
	normalized, err := registry.NormalizeName(name)
	if err != nil {
		return registry.Server{}, err
	}

	unlock := s.lockName(normalized)
	defer unlock()

	srv, err := s.store.Update(ctx, normalized, u)
	if err != nil {
		return registry.Server{}, err
	}
	s.logger.Info("server updated", "name", srv.Name, "url", srv.URL)
	return srv, nil
}

// Remove unregisters a server, forgets its probe state, clears cached
// session identity for its sessions, and fires removal hooks. Logs and
// session rows stay in storage.
func (s *RegistryService) Remove(ctx context.Context, name string) error {
	normalized, err := registry.NormalizeName(name)
	if err != nil {
		return err
	}

	unlock := s.lockName(normalized)
	defer unlock()

	if err := s.store.Remove(ctx, normalized); err != nil {
		return err
	}

	if sessions, err := s.history.GetSessions(ctx, normalized); err != nil {
		s.logger.Warn("failed to enumerate sessions for cache clear",
			"server", normalized,
			"error", err)
	} else {
		for _, sess := range sessions {
			s.clientInfo.Clear(sess.SessionID)
			s.serverInfo.Clear(sess.SessionID)
		}
	}

	if s.health != nil {
		if err := s.health.Forget(ctx, normalized); err != nil {
			s.logger.Warn("failed to drop health state",
				"server", normalized,
				"error", err)
		}
	}

	s.mu.Lock()
	hooks := append(([]func(string))(nil), s.onRemove...)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(normalized)
	}

	s.logger.Info("server removed", "name", normalized)
	return nil
}

// Get returns one registration by (normalized) name.
func (s *RegistryService) Get(ctx context.Context, name string) (registry.Server, error) {
	normalized, err := registry.NormalizeName(name)
	if err != nil {
		return registry.Server{}, err
	}
	return s.store.Get(ctx, normalized)
}

// List returns all registrations ordered by name.
func (s *RegistryService) List(ctx context.Context) ([]registry.Server, error) {
	return s.store.List(ctx)
}

// lockName serializes writes per server name. Lock entries are retained
// for the process lifetime; the set of names stays small.
func (s *RegistryService) lockName(name string) func() {
	s.mu.Lock()
	m, ok := s.nameLocks[name]
	if !ok {
		m = &sync.Mutex{}
		s.nameLocks[name] = m
	}
	s.mu.Unlock()

	m.Lock()
	return m.Unlock
}
