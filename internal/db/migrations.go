// Package db embeds the schema migrations so the migrate binary carries
// them and runs from any working directory.
package db

import "embed"

//go:embed migrations/*.sql
var Migrations embed.FS
