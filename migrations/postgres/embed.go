// Package migrations embebe los scripts SQL del schema.
package migrations

import "embed"

// FS contiene los *.sql; se aplican en orden lexicográfico.
//
//go:embed *.sql
var FS embed.FS
