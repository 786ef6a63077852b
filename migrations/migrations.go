// Package migrations embeds the SQL schema files so the binaries can run
// them without a migrations directory on disk.
package migrations

import "embed"

//go:embed *.up.sql
var FS embed.FS
