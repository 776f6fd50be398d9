// Package migrations embeds the catalog-service schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
