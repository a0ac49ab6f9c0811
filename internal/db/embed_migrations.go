package db

import "embed"

// MigrationFS embeds the SQL migrations for action_tokens, mfa_methods, audit_logs, and users.
// cmd/migrate applies them through internal/db/migrate.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
