// Package storage keeps the publication journal: an append-only record of
// every publication attempt made by postwatch.
//
// Drivers:
//   - "file": JSON Lines file, no dependencies
//   - "sqlite": SQLite database (modernc.org/sqlite, pure Go)
//
// The journal is an audit trail only. The schedule index is never rebuilt
// from it.
package storage
