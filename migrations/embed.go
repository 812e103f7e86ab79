// Package migrations embeds the SQL schema for bots, runtime state,
// command definitions, plugins and permissions.
package migrations

import "embed"

// FS holds the embedded SQL migration files, applied in version order by golang-migrate.
//
//go:embed *.sql
var FS embed.FS
