// Package db provides the embedded goose migrations.
package db

import "embed"

// Migrations holds the SQL migration files under migrations/.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory of Migrations that goose reads from.
const MigrationsDir = "migrations"
