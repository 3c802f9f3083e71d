// Package migrations embeds SQL migration files for the server, CLI and tests.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
