package migrations

import "github.com/uptrace/bun/migrate"

// Migrations collects every schema and seed step in file-name order.
var Migrations = migrate.NewMigrations()
