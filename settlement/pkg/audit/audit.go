// Package audit mirrors settlement events into ClickHouse for analytics and
// serves the rewards dashboard aggregates.
package audit

import (
	"embed"
	"io/fs"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Migrations returns the ClickHouse schema migrations.
func Migrations() fs.FS {
	sub, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}
