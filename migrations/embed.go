// Package migrations holds the Postgres schema applied by
// "triage-server migrate up".
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
