// Package migrations embeds the Index Store schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
