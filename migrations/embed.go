// Copyright 2024-2026 Aiku AI

// Package migrations embeds the SQL migration files for the bridge database.
package migrations

import "embed"

// FS holds the embedded SQL migration files.
//
//go:embed *.sql
var FS embed.FS
