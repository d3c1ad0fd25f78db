// Package storage persists campaign records.
//
// A Store is a durable key-value map from campaign code to an opaque JSON
// document; the campaign package owns the document schema. Drivers:
//   - file: one <code>.json per campaign in a directory
//   - sqlite: modernc.org/sqlite (pure Go)
//   - postgres: lib/pq
//   - memory: process-local, for tests and dry runs
package storage
