package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/mcpgateway/mcpgateway/internal/domain/capture"
	"github.com/mcpgateway/mcpgateway/pkg/mcp"
)

// InfoKind selects which half of the session identity a store caches.
type InfoKind string

// Identity kinds.
const (
	KindClient InfoKind = "client"
	KindServer InfoKind = "server"
)

// MetadataSource resolves identity for sessions not present in memory,
// typically backed by the persisted sessions table.
type MetadataSource interface {
	GetSessionMetadata(ctx context.Context, sessionID string) (*capture.SessionMetadata, error)
}

// InfoStore caches MCP peer identity per session id. Lookups fall back to
// the metadata source and then to the "stateless" session, because the
// initialize handshake often runs before the upstream assigns a real id.
type InfoStore struct {
	kind     InfoKind
	source   MetadataSource
	validate *validator.Validate
	logger   *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*mcp.PeerInfo
}

// NewClientInfoStore returns a cache for client identity.
func NewClientInfoStore(source MetadataSource, logger *slog.Logger) *InfoStore {
	return newInfoStore(KindClient, source, logger)
}

// NewServerInfoStore returns a cache for server identity.
func NewServerInfoStore(source MetadataSource, logger *slog.Logger) *InfoStore {
	return newInfoStore(KindServer, source, logger)
}

func newInfoStore(kind InfoKind, source MetadataSource, logger *slog.Logger) *InfoStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &InfoStore{
		kind:     kind,
		source:   source,
		validate: validator.New(),
		logger:   logger,
		sessions: make(map[string]*mcp.PeerInfo),
	}
}

// Store caches identity for a session. Values that fail schema validation
// are discarded; peers are not trusted to describe themselves correctly.
func (s *InfoStore) Store(sessionID string, info *mcp.PeerInfo) {
	if info == nil {
		return
	}
	if sessionID == "" {
		sessionID = capture.StatelessSessionID
	}
	if err := s.validate.Struct(info); err != nil {
		s.logger.Debug("discarding malformed peer info",
			"kind", string(s.kind),
			"session_id", sessionID,
			"error", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = info
}

// Get resolves identity for a session. Lookup order: memory, metadata
// source, then both again under the "stateless" id. Returns nil when the
// session never completed a handshake anywhere.
func (s *InfoStore) Get(ctx context.Context, sessionID string) *mcp.PeerInfo {
	if sessionID == "" {
		sessionID = capture.StatelessSessionID
	}
	if info := s.lookup(ctx, sessionID); info != nil {
		return info
	}
	if sessionID == capture.StatelessSessionID {
		return nil
	}
	info := s.lookup(ctx, capture.StatelessSessionID)
	if info == nil {
		return nil
	}
	// Pin the fallback identity to the real id so later lookups are local.
	s.mu.Lock()
	s.sessions[sessionID] = info
	s.mu.Unlock()
	return info
}

func (s *InfoStore) lookup(ctx context.Context, sessionID string) *mcp.PeerInfo {
	s.mu.RLock()
	info, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if ok {
		return info
	}
	if s.source == nil {
		return nil
	}
	meta, err := s.source.GetSessionMetadata(ctx, sessionID)
	if err != nil {
		s.logger.Debug("session metadata lookup failed",
			"kind", string(s.kind),
			"session_id", sessionID,
			"error", err)
		return nil
	}
	if meta == nil {
		return nil
	}
	var found *mcp.PeerInfo
	switch s.kind {
	case KindClient:
		found = meta.Client
	case KindServer:
		found = meta.Server
	}
	if found == nil {
		return nil
	}
	if err := s.validate.Struct(found); err != nil {
		s.logger.Debug("discarding malformed persisted peer info",
			"kind", string(s.kind),
			"session_id", sessionID,
			"error", err)
		return nil
	}
	s.mu.Lock()
	s.sessions[sessionID] = found
	s.mu.Unlock()
	return found
}

// Clear drops the cached identity for one session.
func (s *InfoStore) Clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// ClearAll drops every cached identity.
func (s *InfoStore) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]*mcp.PeerInfo)
}

// ActiveSessions returns the session ids currently cached, sorted.
func (s *InfoStore) ActiveSessions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
