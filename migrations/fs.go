package migrations

import "embed"

// FS holds the SQL migration files applied by internal/db.
//
//go:embed *.sql
var FS embed.FS
