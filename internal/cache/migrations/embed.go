// Package migrations holds the schema of the durable cache database.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
