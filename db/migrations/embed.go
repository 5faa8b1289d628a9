// Package dbmigrations embeds the SQL migrations so binaries can apply them
// without a migrations directory on disk.
package dbmigrations

import "embed"

// Files holds the *.sql migrations.
//
//go:embed *.sql
var Files embed.FS
