// Package migrations embeds the SQL schema shared by the Postgres and SQLite backends
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
