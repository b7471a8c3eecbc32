// Package migrations contains embedded SQL migrations for the SQLite
// capture store.
package migrations

import "embed"

// FS contains the embedded migration scripts, applied in filename order.
//
//go:embed *.sql
var FS embed.FS
