package capture

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mcpgateway/mcpgateway/pkg/mcp"
)

// Query result limits.
const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// Sort orders accepted by QueryOptions.
const (
	OrderAsc  = "asc"
	OrderDesc = "desc"
)

// Store persists capture records.
// Interface owned by domain per hexagonal architecture.
type Store interface {
	// Write appends one capture row and upserts the owning session.
	Write(ctx context.Context, rec *Record) error

	// UpdateServerInfoForInitializeRequest backfills server identity onto
	// the previously written initialize request row, once the response has
	// revealed who the server is.
	UpdateServerInfoForInitializeRequest(ctx context.Context, serverName, sessionID string, requestID json.RawMessage, info *mcp.PeerInfo) error
}

// QueryOptions filters and pages a log query. Zero values mean "no filter".
type QueryOptions struct {
	// ServerName filters by registered server name.
	ServerName string
	// SessionID filters by MCP session id.
	SessionID string
	// Method filters by JSON-RPC method.
	Method string
	// ClientName filters by the client identity captured at initialize.
	ClientName string
	// ClientVersion filters by client version.
	ClientVersion string
	// ClientIP filters by the remote address the request arrived from.
	ClientIP string
	// After selects rows strictly newer than this instant.
	After time.Time
	// Before selects rows strictly older than this instant.
	Before time.Time
	// Limit caps the page size (1..1000, default 100).
	Limit int
	// Order is "asc" or "desc" by timestamp (default "desc").
	Order string
}

// Normalize clamps Limit into range and defaults Order to newest-first.
func (o QueryOptions) Normalize() QueryOptions {
	if o.Limit < 1 {
		o.Limit = DefaultQueryLimit
	}
	if o.Limit > MaxQueryLimit {
		o.Limit = MaxQueryLimit
	}
	if o.Order != OrderAsc {
		o.Order = OrderDesc
	}
	return o
}

// Pagination describes the page returned by QueryLogs. Oldest and Newest
// bound the rows in this page and feed the Before/After options of the
// next one.
type Pagination struct {
	Count           int        `json:"count"`
	Limit           int        `json:"limit"`
	HasMore         bool       `json:"hasMore"`
	OldestTimestamp *time.Time `json:"oldestTimestamp,omitempty"`
	NewestTimestamp *time.Time `json:"newestTimestamp,omitempty"`
}

// LogPage is one page of capture records plus its pagination envelope.
type LogPage struct {
	Data       []*Record  `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// ServerActivity summarizes traffic observed for one server name.
type ServerActivity struct {
	Name          string     `json:"name"`
	ExchangeCount int64      `json:"exchangeCount"`
	SessionCount  int64      `json:"sessionCount"`
	FirstActivity *time.Time `json:"firstActivity,omitempty"`
	LastActivity  *time.Time `json:"lastActivity,omitempty"`
}

// SessionSummary is one session row joined with its traffic counts.
type SessionSummary struct {
	SessionID     string        `json:"sessionId"`
	ServerName    string        `json:"serverName"`
	Client        *mcp.PeerInfo `json:"client,omitempty"`
	Server        *mcp.PeerInfo `json:"server,omitempty"`
	FirstSeen     time.Time     `json:"firstSeen"`
	LastSeen      time.Time     `json:"lastSeen"`
	ExchangeCount int64         `json:"exchangeCount"`
}

// ClientSummary aggregates traffic per client identity.
type ClientSummary struct {
	Name          string     `json:"name"`
	Version       string     `json:"version"`
	SessionCount  int64      `json:"sessionCount"`
	ExchangeCount int64      `json:"exchangeCount"`
	LastActivity  *time.Time `json:"lastActivity,omitempty"`
}

// MethodSummary aggregates traffic per JSON-RPC method.
type MethodSummary struct {
	Method        string     `json:"method"`
	Count         int64      `json:"count"`
	AvgDurationMs float64    `json:"avgDurationMs"`
	LastUsed      *time.Time `json:"lastUsed,omitempty"`
}

// ServerMetrics is the per-server activity snapshot used by dashboards.
type ServerMetrics struct {
	LastActivity  *time.Time `json:"lastActivity,omitempty"`
	ExchangeCount int64      `json:"exchangeCount"`
}

// SessionMetadata is the persisted identity pair for one session.
type SessionMetadata struct {
	Client *mcp.PeerInfo `json:"client,omitempty"`
	Server *mcp.PeerInfo `json:"server,omitempty"`
}

// QueryStore provides read access to capture history for the management
// API. Separate from Store, which handles writes.
type QueryStore interface {
	// QueryLogs retrieves one page of capture records matching the options.
	QueryLogs(ctx context.Context, opts QueryOptions) (*LogPage, error)

	// GetServers aggregates traffic per server name from logs.
	GetServers(ctx context.Context) ([]ServerActivity, error)

	// GetSessions lists sessions, optionally scoped to one server.
	GetSessions(ctx context.Context, serverName string) ([]SessionSummary, error)

	// GetClients aggregates traffic per client identity.
	GetClients(ctx context.Context) ([]ClientSummary, error)

	// GetMethods aggregates traffic per method, optionally per server.
	GetMethods(ctx context.Context, serverName string) ([]MethodSummary, error)

	// GetServerMetrics returns the activity snapshot for one server.
	GetServerMetrics(ctx context.Context, serverName string) (*ServerMetrics, error)

	// GetSessionMetadata returns stored identity for a session, falling
	// back to the "stateless" row when the id itself is unknown.
	GetSessionMetadata(ctx context.Context, sessionID string) (*SessionMetadata, error)

	// ClearAll truncates logs and sessions. Server registrations and
	// health rows survive.
	ClearAll(ctx context.Context) error
}
