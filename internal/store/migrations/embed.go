// Package migrations embeds the SQL migrations applied by store.DB.Migrate.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
