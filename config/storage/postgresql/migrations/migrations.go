package migrations

import "embed"

// MigrationsFS embeds the schema for plans, subtask status, checkpoints and recoveries
//
//go:embed *.sql
var MigrationsFS embed.FS
