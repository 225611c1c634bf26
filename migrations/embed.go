// Package migrations embeds the PostgreSQL schema so the API and the migrate
// command can apply it without the SQL files on disk.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
