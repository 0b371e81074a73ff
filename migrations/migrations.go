// Package migrations embeds the goose SQL migrations of the reference API.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
