// Package migrations embeds the PostgreSQL schema, applied in file-name order.
package migrations

import "embed"

// FS holds the {version}_{name}.sql files.
//
//go:embed *.sql
var FS embed.FS
