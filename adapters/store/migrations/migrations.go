// Package migrations embeds the PostgreSQL schema applied with goose.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
