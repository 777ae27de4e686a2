// Package migrations embeds the SQL schema for each supported database.
package migrations

import "embed"

// PostgresFS contiene las migraciones de Postgres.
//
//go:embed postgres/*.sql
var PostgresFS embed.FS

// SQLiteFS contiene las migraciones de SQLite.
//
//go:embed sqlite/*.sql
var SQLiteFS embed.FS

const (
	PostgresDir = "postgres"
	SQLiteDir   = "sqlite"
)
