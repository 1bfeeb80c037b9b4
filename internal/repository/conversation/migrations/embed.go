// Package migrations holds the embedded SQL schema for the conversation store.
package migrations

import "embed"

// FS contains the *.up.sql files, applied in version order.
//
//go:embed *.sql
var FS embed.FS
