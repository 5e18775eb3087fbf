// Package migrations embeds the SQL schema migrations for the metadata
// store. Files are named NNN_description.up.sql and applied in order.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
