package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mcpgateway/mcpgateway/internal/domain/capture"
	"github.com/mcpgateway/mcpgateway/internal/domain/sse"
	"github.com/mcpgateway/mcpgateway/pkg/mcp"
)

const logColumns = `l.timestamp, l.server_name, l.session_id, l.method, l.direction, l.id,
	l.client_name, l.client_version, l.user_agent, l.client_ip,
	l.http_status, l.duration_ms, l.input_tokens, l.output_tokens, l.method_detail,
	l.request_json, l.response_json, l.sse_event_json,
	s.client_json, s.server_json`

// Write appends one capture row and upserts the owning session in the
// same transaction, so a crash never leaves a log row without its session.
func (s *Store) Write(ctx context.Context, rec *capture.Record) error {
	if rec == nil {
		return fmt.Errorf("record is required")
	}
	sessionID := rec.Metadata.SessionID
	if sessionID == "" {
		sessionID = capture.StatelessSessionID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var sseEventJSON any
	if rec.SSEEvent != nil {
		payload, err := json.Marshal(rec.SSEEvent)
		if err != nil {
			return fmt.Errorf("marshal sse event: %w", err)
		}
		sseEventJSON = string(payload)
	}

	var clientName, clientVersion any
	if rec.Metadata.Client != nil {
		clientName = rec.Metadata.Client.Name
		clientVersion = rec.Metadata.Client.Version
	}

	millis := toMillis(rec.Timestamp)
	_, err = tx.ExecContext(ctx, `
INSERT INTO logs (
    timestamp, server_name, session_id, method, direction, id,
    client_name, client_version, user_agent, client_ip,
    http_status, duration_ms, input_tokens, output_tokens, method_detail,
    request_json, response_json, sse_event_json
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		millis,
		rec.Metadata.ServerName,
		sessionID,
		nullableString(rec.Method),
		string(rec.Direction),
		nullableString(string(rec.ID)),
		clientName,
		clientVersion,
		nullableString(rec.Metadata.UserAgent),
		nullableString(rec.Metadata.ClientIP),
		rec.Metadata.HTTPStatus,
		rec.Metadata.DurationMs,
		rec.Metadata.InputTokens,
		rec.Metadata.OutputTokens,
		nullableString(rec.Metadata.MethodDetail),
		nullableString(string(rec.Request)),
		nullableString(string(rec.Response)),
		sseEventJSON,
	)
	if err != nil {
		return fmt.Errorf("insert log: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO sessions (session_id, server_name, client_json, server_json, first_seen, last_seen)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET
  server_name = excluded.server_name,
  client_json = COALESCE(excluded.client_json, sessions.client_json),
  server_json = COALESCE(excluded.server_json, sessions.server_json),
  last_seen   = excluded.last_seen`,
		sessionID,
		rec.Metadata.ServerName,
		marshalPeerInfo(rec.Metadata.Client),
		marshalPeerInfo(rec.Metadata.Server),
		millis,
		millis,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit write: %w", err)
	}
	return nil
}

// UpdateServerInfoForInitializeRequest stores server identity for the
// session whose initialize request was already captured. Earlier rows pick
// the identity up at read time through the sessions join.
func (s *Store) UpdateServerInfoForInitializeRequest(ctx context.Context, serverName, sessionID string, requestID json.RawMessage, info *mcp.PeerInfo) error {
	if info == nil || len(requestID) == 0 {
		return nil
	}
	if sessionID == "" {
		sessionID = capture.StatelessSessionID
	}
	payload, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal server info: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
UPDATE sessions SET server_json = ?
WHERE session_id = ?
  AND EXISTS (
    SELECT 1 FROM logs
    WHERE logs.session_id = sessions.session_id
      AND logs.server_name = ?
      AND logs.method = ?
      AND logs.direction = ?
      AND logs.id = ?
  )`,
		string(payload),
		sessionID,
		serverName,
		mcp.MethodInitialize,
		string(capture.DirectionRequest),
		string(requestID),
	)
	if err != nil {
		return fmt.Errorf("backfill server info: %w", err)
	}
	return nil
}

// QueryLogs returns one page of capture records matching the options,
// newest first unless asked otherwise.
func (s *Store) QueryLogs(ctx context.Context, opts capture.QueryOptions) (*capture.LogPage, error) {
	opts = opts.Normalize()

	var conds []string
	var args []any
	addFilter := func(column, value string) {
		if value != "" {
			conds = append(conds, column+" = ?")
			args = append(args, value)
		}
	}
	addFilter("l.server_name", opts.ServerName)
	addFilter("l.session_id", opts.SessionID)
	addFilter("l.method", opts.Method)
	addFilter("l.client_name", opts.ClientName)
	addFilter("l.client_version", opts.ClientVersion)
	addFilter("l.client_ip", opts.ClientIP)
	if !opts.After.IsZero() {
		conds = append(conds, "l.timestamp > ?")
		args = append(args, toMillis(opts.After))
	}
	if !opts.Before.IsZero() {
		conds = append(conds, "l.timestamp < ?")
		args = append(args, toMillis(opts.Before))
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	dir := "DESC"
	if opts.Order == capture.OrderAsc {
		dir = "ASC"
	}

	query := fmt.Sprintf(`
SELECT %s
FROM logs l
LEFT JOIN sessions s ON s.session_id = l.session_id
%s
ORDER BY l.timestamp %s, l.rowid %s
LIMIT ?`, logColumns, where, dir, dir)
	args = append(args, opts.Limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	defer rows.Close()

	var records []*capture.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("query logs: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}

	page := &capture.LogPage{
		Pagination: capture.Pagination{Limit: opts.Limit},
	}
	if len(records) > opts.Limit {
		page.Pagination.HasMore = true
		records = records[:opts.Limit]
	}
	page.Data = records
	page.Pagination.Count = len(records)
	for _, rec := range records {
		ts := rec.Timestamp
		if page.Pagination.OldestTimestamp == nil || ts.Before(*page.Pagination.OldestTimestamp) {
			t := ts
			page.Pagination.OldestTimestamp = &t
		}
		if page.Pagination.NewestTimestamp == nil || ts.After(*page.Pagination.NewestTimestamp) {
			t := ts
			page.Pagination.NewestTimestamp = &t
		}
	}
	return page, nil
}

// GetServers aggregates traffic per server name from logs.
func (s *Store) GetServers(ctx context.Context) ([]capture.ServerActivity, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT server_name, COUNT(*), COUNT(DISTINCT session_id), MIN(timestamp), MAX(timestamp)
FROM logs
GROUP BY server_name
ORDER BY server_name`)
	if err != nil {
		return nil, fmt.Errorf("get servers: %w", err)
	}
	defer rows.Close()

	var out []capture.ServerActivity
	for rows.Next() {
		var a capture.ServerActivity
		var first, last int64
		if err := rows.Scan(&a.Name, &a.ExchangeCount, &a.SessionCount, &first, &last); err != nil {
			return nil, fmt.Errorf("get servers: %w", err)
		}
		firstAt, lastAt := fromMillis(first), fromMillis(last)
		a.FirstActivity, a.LastActivity = &firstAt, &lastAt
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get servers: %w", err)
	}
	return out, nil
}

// GetSessions lists sessions with their traffic counts, optionally scoped
// to one server.
func (s *Store) GetSessions(ctx context.Context, serverName string) ([]capture.SessionSummary, error) {
	query := `
SELECT s.session_id, s.server_name, s.client_json, s.server_json, s.first_seen, s.last_seen,
       (SELECT COUNT(*) FROM logs l WHERE l.session_id = s.session_id) AS exchange_count
FROM sessions s`
	var args []any
	if serverName != "" {
		query += " WHERE s.server_name = ?"
		args = append(args, serverName)
	}
	query += " ORDER BY s.last_seen DESC, s.session_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get sessions: %w", err)
	}
	defer rows.Close()

	var out []capture.SessionSummary
	for rows.Next() {
		var sum capture.SessionSummary
		var clientJSON, serverJSON sql.NullString
		var firstSeen, lastSeen int64
		if err := rows.Scan(&sum.SessionID, &sum.ServerName, &clientJSON, &serverJSON, &firstSeen, &lastSeen, &sum.ExchangeCount); err != nil {
			return nil, fmt.Errorf("get sessions: %w", err)
		}
		sum.Client = parsePeerInfo(clientJSON)
		sum.Server = parsePeerInfo(serverJSON)
		sum.FirstSeen = fromMillis(firstSeen)
		sum.LastSeen = fromMillis(lastSeen)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get sessions: %w", err)
	}
	return out, nil
}

// GetClients aggregates traffic per client identity from logs.
func (s *Store) GetClients(ctx context.Context) ([]capture.ClientSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT client_name, COALESCE(client_version, ''), COUNT(DISTINCT session_id), COUNT(*), MAX(timestamp)
FROM logs
WHERE client_name IS NOT NULL AND client_name != ''
GROUP BY client_name, client_version
ORDER BY client_name, client_version`)
	if err != nil {
		return nil, fmt.Errorf("get clients: %w", err)
	}
	defer rows.Close()

	var out []capture.ClientSummary
	for rows.Next() {
		var c capture.ClientSummary
		var last int64
		if err := rows.Scan(&c.Name, &c.Version, &c.SessionCount, &c.ExchangeCount, &last); err != nil {
			return nil, fmt.Errorf("get clients: %w", err)
		}
		lastAt := fromMillis(last)
		c.LastActivity = &lastAt
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get clients: %w", err)
	}
	return out, nil
}

// GetMethods aggregates traffic per JSON-RPC method, optionally scoped to
// one server. Averages only cover rows that measured a duration.
func (s *Store) GetMethods(ctx context.Context, serverName string) ([]capture.MethodSummary, error) {
	query := `
SELECT method, COUNT(*), COALESCE(AVG(CASE WHEN duration_ms > 0 THEN duration_ms END), 0), MAX(timestamp)
FROM logs
WHERE method IS NOT NULL`
	var args []any
	if serverName != "" {
		query += " AND server_name = ?"
		args = append(args, serverName)
	}
	query += " GROUP BY method ORDER BY COUNT(*) DESC, method"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get methods: %w", err)
	}
	defer rows.Close()

	var out []capture.MethodSummary
	for rows.Next() {
		var m capture.MethodSummary
		var last int64
		if err := rows.Scan(&m.Method, &m.Count, &m.AvgDurationMs, &last); err != nil {
			return nil, fmt.Errorf("get methods: %w", err)
		}
		lastAt := fromMillis(last)
		m.LastUsed = &lastAt
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get methods: %w", err)
	}
	return out, nil
}

// GetServerMetrics returns the activity snapshot for one server name.
func (s *Store) GetServerMetrics(ctx context.Context, serverName string) (*capture.ServerMetrics, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(MAX(timestamp), 0) FROM logs WHERE server_name = ?`,
		serverName)
	var m capture.ServerMetrics
	var last int64
	if err := row.Scan(&m.ExchangeCount, &last); err != nil {
		return nil, fmt.Errorf("get server metrics: %w", err)
	}
	if m.ExchangeCount > 0 {
		lastAt := fromMillis(last)
		m.LastActivity = &lastAt
	}
	return &m, nil
}

// GetSessionMetadata returns identity stored for a session, falling back
// to the "stateless" row. Returns nil when neither exists.
func (s *Store) GetSessionMetadata(ctx context.Context, sessionID string) (*capture.SessionMetadata, error) {
	if sessionID == "" {
		sessionID = capture.StatelessSessionID
	}
	meta, err := s.getSessionMetadata(ctx, sessionID)
	if err != nil || meta != nil {
		return meta, err
	}
	if sessionID == capture.StatelessSessionID {
		return nil, nil
	}
	return s.getSessionMetadata(ctx, capture.StatelessSessionID)
}

func (s *Store) getSessionMetadata(ctx context.Context, sessionID string) (*capture.SessionMetadata, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT client_json, server_json FROM sessions WHERE session_id = ?`,
		sessionID)
	var clientJSON, serverJSON sql.NullString
	if err := row.Scan(&clientJSON, &serverJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get session metadata: %w", err)
	}
	return &capture.SessionMetadata{
		Client: parsePeerInfo(clientJSON),
		Server: parsePeerInfo(serverJSON),
	}, nil
}

// ClearAll truncates logs and sessions. Server registrations and health
// rows survive.
func (s *Store) ClearAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin clear: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	if _, err := tx.ExecContext(ctx, "DELETE FROM logs"); err != nil {
		return fmt.Errorf("clear logs: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM sessions"); err != nil {
		return fmt.Errorf("clear sessions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit clear: %w", err)
	}
	return nil
}

func scanRecord(rows *sql.Rows) (*capture.Record, error) {
	var rec capture.Record
	var millis int64
	var direction string
	var method, id, clientName, clientVer, userAgent, clientIP sql.NullString
	var methodDetail, reqJSON, respJSON, sseJSON sql.NullString
	var sessClient, sessServer sql.NullString
	if err := rows.Scan(
		&millis,
		&rec.Metadata.ServerName,
		&rec.Metadata.SessionID,
		&method,
		&direction,
		&id,
		&clientName,
		&clientVer,
		&userAgent,
		&clientIP,
		&rec.Metadata.HTTPStatus,
		&rec.Metadata.DurationMs,
		&rec.Metadata.InputTokens,
		&rec.Metadata.OutputTokens,
		&methodDetail,
		&reqJSON,
		&respJSON,
		&sseJSON,
		&sessClient,
		&sessServer,
	); err != nil {
		return nil, err
	}

	rec.Timestamp = fromMillis(millis)
	rec.Method = method.String
	rec.Direction = capture.Direction(direction)
	if id.Valid && id.String != "" {
		rec.ID = json.RawMessage(id.String)
	}
	rec.Metadata.UserAgent = userAgent.String
	rec.Metadata.ClientIP = clientIP.String
	rec.Metadata.MethodDetail = methodDetail.String
	if reqJSON.Valid {
		rec.Request = json.RawMessage(reqJSON.String)
	}
	if respJSON.Valid {
		rec.Response = json.RawMessage(respJSON.String)
	}
	if sseJSON.Valid {
		var ev sse.Event
		if err := json.Unmarshal([]byte(sseJSON.String), &ev); err == nil {
			rec.SSEEvent = &ev
			rec.Metadata.SSEEventID = ev.ID
			rec.Metadata.SSEEventType = ev.Type
		}
	}

	// Session identity wins over the denormalized columns because it is
	// backfilled after the handshake completes.
	rec.Metadata.Client = parsePeerInfo(sessClient)
	if rec.Metadata.Client == nil && clientName.Valid && clientName.String != "" {
		rec.Metadata.Client = &mcp.PeerInfo{Name: clientName.String, Version: clientVer.String}
	}
	rec.Metadata.Server = parsePeerInfo(sessServer)

	return &rec, nil
}

func parsePeerInfo(ns sql.NullString) *mcp.PeerInfo {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var info mcp.PeerInfo
	if err := json.Unmarshal([]byte(ns.String), &info); err != nil {
		return nil
	}
	if info.Name == "" {
		return nil
	}
	return &info
}

func marshalPeerInfo(info *mcp.PeerInfo) any {
	if info == nil {
		return nil
	}
	payload, err := json.Marshal(info)
	if err != nil {
		return nil
	}
	return string(payload)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var (
	_ capture.Store      = (*Store)(nil)
	_ capture.QueryStore = (*Store)(nil)
)
