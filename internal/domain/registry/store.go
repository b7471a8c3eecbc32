package registry

import "context"

// Store persists server registrations.
// Interface owned by domain per hexagonal architecture.
type Store interface {
	// Add inserts a new server. Returns ErrServerExists if the name is
	// already registered.
	Add(ctx context.Context, s Server) error

	// Update applies the non-nil fields of u to the named server. A new
	// URL is normalized before it is stored. Returns ErrServerNotFound if
	// the name is not registered.
	Update(ctx context.Context, name string, u Update) (Server, error)

	// Remove deletes the registration. Capture history for the name is
	// preserved. Returns ErrServerNotFound if the name is not registered.
	Remove(ctx context.Context, name string) error

	// Get returns one registration by name.
	Get(ctx context.Context, name string) (Server, error)

	// List returns all registrations ordered by name.
	List(ctx context.Context) ([]Server, error)
}
