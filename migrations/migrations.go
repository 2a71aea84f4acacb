// Package migrations embeds the activity table DDL for golang-migrate.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
