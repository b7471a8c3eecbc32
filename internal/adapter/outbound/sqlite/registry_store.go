package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mcpgateway/mcpgateway/internal/domain/registry"
)

// RegistryStore exposes the servers table of a Store.
type RegistryStore struct {
	store *Store
}

// Registry returns the server registration view of the store.
func (s *Store) Registry() *RegistryStore {
	return &RegistryStore{store: s}
}

// Add inserts a new server registration.
func (r *RegistryStore) Add(ctx context.Context, srv registry.Server) error {
	headers, err := marshalHeaders(srv.Headers)
	if err != nil {
		return err
	}
	_, err = r.store.db.ExecContext(ctx,
		`INSERT INTO servers (name, url, headers_json, type) VALUES (?, ?, ?, ?)`,
		srv.Name, srv.URL, headers, srv.Type)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("add server %q: %w", srv.Name, registry.ErrServerExists)
		}
		return fmt.Errorf("add server %q: %w", srv.Name, err)
	}
	return nil
}

// Update applies the non-nil fields of u to the named server and returns
// the result. Runs read-modify-write in one transaction so concurrent
// updates serialize at the database.
func (r *RegistryStore) Update(ctx context.Context, name string, u registry.Update) (registry.Server, error) {
	tx, err := r.store.db.BeginTx(ctx, nil)
	if err != nil {
		return registry.Server{}, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	srv, err := scanServer(tx.QueryRowContext(ctx,
		`SELECT name, url, headers_json, type FROM servers WHERE name = ?`, name))
	if err != nil {
		if err == sql.ErrNoRows {
			return registry.Server{}, fmt.Errorf("update server %q: %w", name, registry.ErrServerNotFound)
		}
		return registry.Server{}, fmt.Errorf("update server %q: %w", name, err)
	}

	if u.URL != nil {
		normalized, err := registry.NormalizeURL(*u.URL)
		if err != nil {
			return registry.Server{}, err
		}
		srv.URL = normalized
	}
	if u.Headers != nil {
		srv.Headers = u.Headers
	}

	headers, err := marshalHeaders(srv.Headers)
	if err != nil {
		return registry.Server{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE servers SET url = ?, headers_json = ? WHERE name = ?`,
		srv.URL, headers, name); err != nil {
		return registry.Server{}, fmt.Errorf("update server %q: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return registry.Server{}, fmt.Errorf("commit update: %w", err)
	}
	return srv, nil
}

// Remove deletes a server registration. Logs for the name are preserved.
func (r *RegistryStore) Remove(ctx context.Context, name string) error {
	res, err := r.store.db.ExecContext(ctx, `DELETE FROM servers WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("remove server %q: %w", name, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove server %q: %w", name, err)
	}
	if affected == 0 {
		return fmt.Errorf("remove server %q: %w", name, registry.ErrServerNotFound)
	}
	return nil
}

// Get returns one server registration by name.
func (r *RegistryStore) Get(ctx context.Context, name string) (registry.Server, error) {
	srv, err := scanServer(r.store.db.QueryRowContext(ctx,
		`SELECT name, url, headers_json, type FROM servers WHERE name = ?`, name))
	if err != nil {
		if err == sql.ErrNoRows {
			return registry.Server{}, fmt.Errorf("get server %q: %w", name, registry.ErrServerNotFound)
		}
		return registry.Server{}, fmt.Errorf("get server %q: %w", name, err)
	}
	return srv, nil
}

// List returns all registrations ordered by name.
func (r *RegistryStore) List(ctx context.Context) ([]registry.Server, error) {
	rows, err := r.store.db.QueryContext(ctx,
		`SELECT name, url, headers_json, type FROM servers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	defer rows.Close()

	var out []registry.Server
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("list servers: %w", err)
		}
		out = append(out, srv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanServer(row rowScanner) (registry.Server, error) {
	var srv registry.Server
	var headers sql.NullString
	if err := row.Scan(&srv.Name, &srv.URL, &headers, &srv.Type); err != nil {
		return registry.Server{}, err
	}
	if headers.Valid && headers.String != "" {
		if err := json.Unmarshal([]byte(headers.String), &srv.Headers); err != nil {
			return registry.Server{}, fmt.Errorf("parse headers: %w", err)
		}
	}
	return srv, nil
}

func marshalHeaders(headers map[string]string) (any, error) {
	if len(headers) == 0 {
		return nil, nil
	}
	payload, err := json.Marshal(headers)
	if err != nil {
		return nil, fmt.Errorf("marshal headers: %w", err)
	}
	return string(payload), nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ registry.Store = (*RegistryStore)(nil)
