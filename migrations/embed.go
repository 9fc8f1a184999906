// Package migrations embeds the SQL schema so the server binary can migrate
// itself without shipping the files alongside it.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
