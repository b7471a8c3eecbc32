package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mcpgateway/mcpgateway/internal/domain/health"
)

// HealthStore exposes the server_health table of a Store.
type HealthStore struct {
	store *Store
}

// Health returns the server health view of the store.
func (s *Store) Health() *HealthStore {
	return &HealthStore{store: s}
}

// Upsert writes one probe result. Nil healthy/error timestamps preserve
// the stored values, which keeps lastHealthyTime monotonic across down
// probes and vice versa.
func (h *HealthStore) Upsert(ctx context.Context, st health.Status) error {
	_, err := h.store.db.ExecContext(ctx, `
INSERT INTO server_health (
    name, health, last_check_time, last_healthy_time, last_error_time,
    error_code, error_message, response_time_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
  health            = excluded.health,
  last_check_time   = excluded.last_check_time,
  last_healthy_time = COALESCE(excluded.last_healthy_time, server_health.last_healthy_time),
  last_error_time   = COALESCE(excluded.last_error_time, server_health.last_error_time),
  error_code        = excluded.error_code,
  error_message     = excluded.error_message,
  response_time_ms  = excluded.response_time_ms`,
		st.Name,
		string(st.Health),
		toMillis(st.LastCheckTime),
		millisOrNil(st.LastHealthyTime),
		millisOrNil(st.LastErrorTime),
		nullableString(st.ErrorCode),
		nullableString(st.ErrorMessage),
		st.ResponseTimeMs,
	)
	if err != nil {
		return fmt.Errorf("upsert health %q: %w", st.Name, err)
	}
	return nil
}

// Get returns the health row for one server.
func (h *HealthStore) Get(ctx context.Context, name string) (health.Status, error) {
	st, err := scanHealth(h.store.db.QueryRowContext(ctx, `
SELECT name, health, last_check_time, last_healthy_time, last_error_time,
       error_code, error_message, response_time_ms
FROM server_health WHERE name = ?`, name))
	if err != nil {
		if err == sql.ErrNoRows {
			return health.Status{}, fmt.Errorf("get health %q: %w", name, health.ErrStatusNotFound)
		}
		return health.Status{}, fmt.Errorf("get health %q: %w", name, err)
	}
	return st, nil
}

// List returns all health rows ordered by name.
func (h *HealthStore) List(ctx context.Context) ([]health.Status, error) {
	rows, err := h.store.db.QueryContext(ctx, `
SELECT name, health, last_check_time, last_healthy_time, last_error_time,
       error_code, error_message, response_time_ms
FROM server_health ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list health: %w", err)
	}
	defer rows.Close()

	var out []health.Status
	for rows.Next() {
		st, err := scanHealth(rows)
		if err != nil {
			return nil, fmt.Errorf("list health: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list health: %w", err)
	}
	return out, nil
}

// Remove drops the health row when its server is unregistered.
func (h *HealthStore) Remove(ctx context.Context, name string) error {
	if _, err := h.store.db.ExecContext(ctx, `DELETE FROM server_health WHERE name = ?`, name); err != nil {
		return fmt.Errorf("remove health %q: %w", name, err)
	}
	return nil
}

func scanHealth(row rowScanner) (health.Status, error) {
	var st health.Status
	var healthValue string
	var lastCheck sql.NullInt64
	var lastHealthy, lastError sql.NullInt64
	var errorCode, errorMessage sql.NullString
	if err := row.Scan(&st.Name, &healthValue, &lastCheck, &lastHealthy, &lastError,
		&errorCode, &errorMessage, &st.ResponseTimeMs); err != nil {
		return health.Status{}, err
	}
	st.Health = health.Health(healthValue)
	if lastCheck.Valid {
		st.LastCheckTime = fromMillis(lastCheck.Int64)
	}
	st.LastHealthyTime = timeOrNil(lastHealthy)
	st.LastErrorTime = timeOrNil(lastError)
	st.ErrorCode = errorCode.String
	st.ErrorMessage = errorMessage.String
	return st, nil
}

func millisOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toMillis(*t)
}

func timeOrNil(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

var _ health.Store = (*HealthStore)(nil)
