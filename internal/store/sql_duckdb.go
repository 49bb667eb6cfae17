//go:build cgo

package store

// The duckdb driver requires cgo; without it the "duckdb" dialect is not registered.
import _ "github.com/marcboeker/go-duckdb/v2"
