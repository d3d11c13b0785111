// Package db provides the embedded order ledger schema.
package db

import _ "embed"

// Schema contains the DDL statements for the ledger tables. Every statement
// is idempotent so it can run on each start.
//
//go:embed migrations/001_schema.sql
var Schema string
