// Package migrations embeds the hub's SQL migration files.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
