// Package migrations embeds the SQL schema of the device's local database.
//
// The files are compiled into the binary, so scannerd needs nothing on disk
// besides the database file itself.
package migrations

import "embed"

// FS holds every migration file at its root. Pass it to database.DB.Migrate.
//
//go:embed *.sql
var FS embed.FS
