// Package migrations embeds the state history schema into the binary.
//
//	db.Migrate(ctx, migrations.FS)
package migrations

import "embed"

// FS holds the .sql migration files at its root.
//
//go:embed *.sql
var FS embed.FS
