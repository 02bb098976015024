// Package storage provides the key-value persistence layer behind the daemon.
//
// Values are raw JSON documents keyed by string, the same model the extension
// uses for its local storage area. Drivers:
//   - "memory": process-local map (tests, ephemeral runs)
//   - "file":   one JSON document on disk, replaced atomically on every write
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
package storage
