// Package migrations embeds the SQLite schema migrations for ember.db.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
