//go:build cgo && duckdb && (linux || darwin) && (amd64 || arm64)

// DuckDB needs CGO, so the driver is only registered with -tags duckdb.
// Default builds stay CGO-free.
//
//	CGO_ENABLED=1 go build -tags duckdb
package drivers

import (
	_ "github.com/marcboeker/go-duckdb"
)
